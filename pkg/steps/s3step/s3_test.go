package s3step

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/comtihon/catcher/pkg/step"
)

func TestNew(t *testing.T) {
	conf := map[string]any{"url": "http://localhost:9000", "key_id": "minio", "secret_key": "minio123"}

	st, err := New(step.Spec{Body: map[string]any{"get": map[string]any{"config": conf, "path": "bucket/key"}}}, nil)
	assert.NoError(t, err)
	assert.Equal(t, "get", st.(*operation).op)

	_, err = New(step.Spec{Body: map[string]any{
		"get":    map[string]any{"config": conf, "path": "a/b"},
		"delete": map[string]any{"config": conf, "path": "a/b"},
	}}, nil)
	assert.ErrorContains(t, err, "exactly one")

	_, err = New(step.Spec{Body: map[string]any{"put": map[string]any{"config": conf, "path": "a/b"}}}, nil)
	assert.ErrorContains(t, err, "missing 'content'")

	_, err = New(step.Spec{Body: map[string]any{"list": map[string]any{"config": conf}}}, nil)
	assert.ErrorContains(t, err, "missing 'path'")

	_, err = New(step.Spec{Body: map[string]any{"list": map[string]any{"path": "a"}}}, nil)
	assert.ErrorContains(t, err, "missing 'config'")

	_, err = New(step.Spec{Body: map[string]any{"copy": map[string]any{}}}, nil)
	assert.Error(t, err)
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("http://localhost:9000")
	assert.NoError(t, err)
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)

	host, secure, err = parseEndpoint("https://s3.amazonaws.com")
	assert.NoError(t, err)
	assert.Equal(t, "s3.amazonaws.com", host)
	assert.True(t, secure)

	host, secure, err = parseEndpoint("minio:9000")
	assert.NoError(t, err)
	assert.Equal(t, "minio:9000", host)
	assert.True(t, secure)
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path, bucket, key string
	}{
		{"bucket/key", "bucket", "key"},
		{"/bucket/dir/key.txt", "bucket", "dir/key.txt"},
		{"bucket", "bucket", ""},
	}
	for _, tt := range tests {
		bucket, key := splitPath(tt.path)
		assert.Equal(t, tt.bucket, bucket, tt.path)
		assert.Equal(t, tt.key, key, tt.path)
	}
}
