// Package s3step implements the s3 step with the MinIO client, which works
// with AWS S3 and S3-compatible services.
package s3step

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

// Info describes the s3 step.
var Info = step.Info{
	Name:    "s3",
	Summary: "Put, get, list or delete S3 objects",
	Doc: "# s3\n\n" +
		"One operation key (`put`, `get`, `list`, `delete`) with `config` (`url`,\n" +
		"`key_id`, `secret_key`, `region`) and `path` as `bucket/key`. `put` takes\n" +
		"`content` or `content_resource` (relative to `RESOURCES_DIR`) and creates the\n" +
		"bucket when missing. `get` outputs the object content, `list` the keys under\n" +
		"the prefix.\n\n" +
		"```yaml\n" +
		"- s3:\n" +
		"    put:\n" +
		"      config: '{{ s3_config }}'\n" +
		"      path: reports/2024/out.csv\n" +
		"      content: '{{ report }}'\n" +
		"- s3:\n" +
		"    list: {config: '{{ s3_config }}', path: reports/2024}\n" +
		"    register: {files: '{{ OUTPUT }}'}\n" +
		"```\n",
}

const (
	opPut    = "put"
	opGet    = "get"
	opList   = "list"
	opDelete = "delete"
)

var operations = []string{opPut, opGet, opList, opDelete}

type connection struct {
	URL       string `mapstructure:"url"`
	KeyID     string `mapstructure:"key_id"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
}

type config struct {
	Config          any    `mapstructure:"config"`
	Path            string `mapstructure:"path"`
	Content         any    `mapstructure:"content"`
	ContentResource string `mapstructure:"content_resource"`
}

type operation struct {
	op  string
	cfg config
}

// New is the s3 step factory.
func New(spec step.Spec, _ *step.Registry) (step.Step, error) {
	body, ok := spec.Body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a map with one of %v", operations)
	}
	o := &operation{}
	for _, name := range operations {
		raw, ok := body[name]
		if !ok {
			continue
		}
		if o.op != "" {
			return nil, fmt.Errorf("expected exactly one of %v", operations)
		}
		o.op = name
		if err := step.Decode(raw, &o.cfg); err != nil {
			return nil, err
		}
	}
	if o.op == "" {
		return nil, fmt.Errorf("expected one of %v", operations)
	}
	if o.cfg.Config == nil {
		return nil, fmt.Errorf("%s: missing 'config'", o.op)
	}
	if o.cfg.Path == "" {
		return nil, fmt.Errorf("%s: missing 'path'", o.op)
	}
	if o.op == opPut && o.cfg.Content == nil && o.cfg.ContentResource == "" {
		return nil, fmt.Errorf("put: missing 'content' or 'content_resource'")
	}
	return o, nil
}

// Action runs the operation.
func (o *operation) Action(ctx context.Context, _ *step.Env, b vars.Bindings) (step.Result, error) {
	client, err := o.client(b)
	if err != nil {
		return step.Result{}, err
	}
	bucket, key := splitPath(eval.Render(o.cfg.Path, b))
	logging.FromContext(ctx).Debug("s3", "operation", o.op, "bucket", bucket, "key", key)

	switch o.op {
	case opPut:
		return step.Result{}, o.put(ctx, client, b, bucket, key)
	case opGet:
		obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return step.Result{}, fmt.Errorf("get %s/%s: %w", bucket, key, err)
		}
		defer func() { _ = obj.Close() }()
		data, err := io.ReadAll(obj)
		if err != nil {
			return step.Result{}, fmt.Errorf("get %s/%s: %w", bucket, key, err)
		}
		return step.Result{Output: string(data)}, nil
	case opList:
		var keys []any
		for info := range client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: key, Recursive: true}) {
			if info.Err != nil {
				return step.Result{}, fmt.Errorf("list %s/%s: %w", bucket, key, info.Err)
			}
			keys = append(keys, info.Key)
		}
		if keys == nil {
			keys = []any{}
		}
		return step.Result{Output: keys}, nil
	default:
		if err := client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return step.Result{}, fmt.Errorf("delete %s/%s: %w", bucket, key, err)
		}
		return step.Result{}, nil
	}
}

func (o *operation) put(ctx context.Context, client *minio.Client, b vars.Bindings, bucket, key string) error {
	content, err := o.content(b)
	if err != nil {
		return err
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	_, err = client.PutObject(ctx, bucket, key, strings.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (o *operation) content(b vars.Bindings) (string, error) {
	if o.cfg.ContentResource == "" {
		return eval.Stringify(eval.Fill(o.cfg.Content, b)), nil
	}
	path := eval.Render(o.cfg.ContentResource, b)
	if !filepath.IsAbs(path) {
		if dir, ok := b[vars.ResourcesDir].(string); ok {
			path = filepath.Join(dir, path)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("content_resource: %w", err)
	}
	return eval.Render(string(data), b), nil
}

func (o *operation) client(b vars.Bindings) (*minio.Client, error) {
	var conn connection
	raw := eval.Fill(o.cfg.Config, b)
	if m, ok := raw.(map[string]any); ok {
		raw = eval.FillMap(m, b)
	}
	if err := step.Decode(raw, &conn); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if conn.URL == "" {
		return nil, fmt.Errorf("config: missing 'url'")
	}
	endpoint, secure, err := parseEndpoint(conn.URL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conn.KeyID, conn.SecretKey, ""),
		Secure: secure,
		Region: conn.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return client, nil
}

// parseEndpoint turns http(s)://host:port into the host and the TLS flag.
func parseEndpoint(raw string) (string, bool, error) {
	if !strings.Contains(raw, "://") {
		return raw, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("config url: %w", err)
	}
	return u.Host, u.Scheme == "https", nil
}

// splitPath splits bucket/key, tolerating a leading slash.
func splitPath(path string) (string, string) {
	path = strings.TrimPrefix(path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	return bucket, key
}
