// Package httpstep implements the http step on top of resty.
package httpstep

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

// Info describes the http step.
var Info = step.Info{
	Name:    "http",
	Summary: "Send an HTTP request and check the response code",
	Doc: "# http\n\n" +
		"One method key (`get`, `post`, `put`, `patch`, `delete`, `head`) with `url`,\n" +
		"`headers`, `query`, `body` or `body_from_file` (relative to `RESOURCES_DIR`),\n" +
		"`response_code` (default 200, `2xx` style patterns allowed), `timeout` in\n" +
		"seconds and `verify` (TLS verification, default true). The output is the\n" +
		"response body, decoded when it is JSON.\n\n" +
		"```yaml\n" +
		"- http:\n" +
		"    post:\n" +
		"      url: '{{ api }}/users'\n" +
		"      headers: {Content-Type: application/json}\n" +
		"      body: {name: '{{ user }}'}\n" +
		"      response_code: 201\n" +
		"    register: {id: '{{ OUTPUT.id }}'}\n" +
		"```\n",
}

var methods = []string{"get", "post", "put", "patch", "delete", "head"}

type config struct {
	URL          string            `mapstructure:"url"`
	Headers      map[string]string `mapstructure:"headers"`
	Query        map[string]string `mapstructure:"query"`
	Body         any               `mapstructure:"body"`
	BodyFromFile string            `mapstructure:"body_from_file"`
	ResponseCode any               `mapstructure:"response_code"`
	Timeout      float64           `mapstructure:"timeout"`
	Verify       *bool             `mapstructure:"verify"`
}

type request struct {
	method string
	cfg    config
}

// New is the http step factory.
func New(spec step.Spec, _ *step.Registry) (step.Step, error) {
	body, ok := spec.Body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a map with one of %v", methods)
	}
	var found []string
	for _, m := range methods {
		if _, ok := body[m]; ok {
			found = append(found, m)
		}
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("expected exactly one of %v, got %v", methods, found)
	}
	r := &request{method: found[0]}
	if err := step.Decode(body[r.method], &r.cfg); err != nil {
		return nil, err
	}
	if r.cfg.URL == "" {
		return nil, fmt.Errorf("%s: missing 'url'", r.method)
	}
	if r.cfg.Body != nil && r.cfg.BodyFromFile != "" {
		return nil, fmt.Errorf("%s: body and body_from_file are exclusive", r.method)
	}
	return r, nil
}

// Action sends the request.
func (r *request) Action(ctx context.Context, _ *step.Env, b vars.Bindings) (step.Result, error) {
	client := resty.New()
	if r.cfg.Timeout > 0 {
		client.SetTimeout(time.Duration(r.cfg.Timeout * float64(time.Second)))
	}
	if r.cfg.Verify != nil && !*r.cfg.Verify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //#nosec G402 -- opt-in per step
	}

	req := client.R().SetContext(ctx)
	for k, v := range r.cfg.Headers {
		req.SetHeader(k, eval.Render(v, b))
	}
	for k, v := range r.cfg.Query {
		req.SetQueryParam(k, eval.Render(v, b))
	}
	body, err := r.body(b)
	if err != nil {
		return step.Result{}, err
	}
	if body != nil {
		req.SetBody(body)
	}

	url := eval.Render(r.cfg.URL, b)
	rsp, err := req.Execute(strings.ToUpper(r.method), url)
	if err != nil {
		return step.Result{}, fmt.Errorf("%s %s: %w", strings.ToUpper(r.method), url, err)
	}

	expected := "200"
	if r.cfg.ResponseCode != nil {
		expected = eval.Stringify(eval.Fill(r.cfg.ResponseCode, b))
	}
	if !codeMatches(expected, rsp.StatusCode()) {
		return step.Result{}, fmt.Errorf("code mismatch: %d vs %s: %s", rsp.StatusCode(), expected, strings.TrimSpace(rsp.String()))
	}
	return step.Result{Output: decode(rsp.Body())}, nil
}

func (r *request) body(b vars.Bindings) ([]byte, error) {
	if r.cfg.BodyFromFile != "" {
		path := eval.Render(r.cfg.BodyFromFile, b)
		if !filepath.IsAbs(path) {
			if dir, ok := b[vars.ResourcesDir].(string); ok {
				path = filepath.Join(dir, path)
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("body_from_file: %w", err)
		}
		return []byte(eval.Render(string(data), b)), nil
	}
	switch v := r.cfg.Body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(eval.Render(v, b)), nil
	default:
		data, err := json.Marshal(eval.RenderDeep(v, b))
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		return data, nil
	}
}

// codeMatches compares a status code against a pattern where x matches any
// digit, e.g. 2xx.
func codeMatches(pattern string, code int) bool {
	actual := fmt.Sprint(code)
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if len(pattern) != len(actual) {
		return false
	}
	for i := range pattern {
		if pattern[i] != 'x' && pattern[i] != actual[i] {
			return false
		}
	}
	return true
}

func decode(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}
