package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comtihon/catcher/pkg/config"
)

func testHandlers(t *testing.T) (*Handlers, string) {
	t.Helper()
	dir := t.TempDir()
	opts := config.Defaults()
	opts.Dir = dir
	opts.Output = "final"
	return &Handlers{Options: opts}, dir
}

func writeTest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func text(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	if tc, ok := result.Content[0].(mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func TestHandleValidate_MissingPath(t *testing.T) {
	h, _ := testHandlers(t)
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{}

	result, err := h.HandleValidate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for missing path")
	}
}

func TestHandleValidate_UnknownAction(t *testing.T) {
	h, dir := testHandlers(t)
	path := writeTest(t, dir, "bad.yaml", "steps:\n  - teleport: {to: mars}\n")
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"path": path}

	result, err := h.HandleValidate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("expected error for unknown action")
	}
	if !strings.Contains(text(result), "teleport") {
		t.Errorf("error should name the action, got %q", text(result))
	}
}

func TestHandleSchema(t *testing.T) {
	h, _ := testHandlers(t)
	result, err := h.HandleSchema(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Error("expected success for schema export")
	}
	if !strings.Contains(text(result), "steps") {
		t.Error("expected schema content")
	}
}

func TestHandleSteps(t *testing.T) {
	h, _ := testHandlers(t)
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{}
	result, err := h.HandleSteps(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"echo", "http", "loop", "postgres", "s3"} {
		if !strings.Contains(text(result), name+":") {
			t.Errorf("catalog misses %s", name)
		}
	}

	req.Params.Arguments = map[string]any{"name": "nope"}
	result, err = h.HandleSteps(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for unknown step")
	}
}

func TestHandleRun(t *testing.T) {
	h, dir := testHandlers(t)
	writeTest(t, dir, "pass.yaml", `
steps:
  - echo: {from: '{{ 1 + 1 }}', register: {two: '{{ OUTPUT }}'}}
  - check: '{{ two == 2 }}'
`)
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"path": dir}

	result, err := h.HandleRun(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("expected passing run, got %s", text(result))
	}
	if !strings.Contains(text(result), `"passed": 1`) {
		t.Errorf("unexpected response %s", text(result))
	}
}

func TestHandleRun_Failure(t *testing.T) {
	h, dir := testHandlers(t)
	writeTest(t, dir, "fail.yaml", `
steps:
  - check: '{{ expected == actual }}'
`)
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{
		"path":      dir,
		"variables": map[string]any{"expected": "a", "actual": "b"},
	}

	result, err := h.HandleRun(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatalf("expected failing run, got %s", text(result))
	}
	if !strings.Contains(text(result), `"failed_step": 1`) {
		t.Errorf("response should carry the failed step, got %s", text(result))
	}
}
