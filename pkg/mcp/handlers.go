package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comtihon/catcher/pkg/app"
	"github.com/comtihon/catcher/pkg/config"
	"github.com/comtihon/catcher/pkg/runner"
	"github.com/comtihon/catcher/pkg/schema"
	"github.com/comtihon/catcher/pkg/steps"
)

// Handlers implement the MCP tools.
type Handlers struct {
	Options config.Options
}

// HandleValidate implements the catcher/validate MCP tool.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	doc, errs := schema.ValidateFile(path, schema.ValidateOptions{Catalog: steps.Builtins(), Root: h.Options.Dir})
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	return textResult(fmt.Sprintf("✓ %s is valid (%d steps)", path, len(doc.Steps))), nil
}

// HandleSchema implements the catcher/schema MCP tool.
func (h *Handlers) HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateDocumentJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleSteps implements the catcher/steps MCP tool.
func (h *Handlers) HandleSteps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, _ := args["name"].(string)
	reg := steps.Builtins()
	if name != "" {
		info, ok := reg.Info(name)
		if !ok {
			return errorResult(fmt.Sprintf("unknown step %q", name)), nil
		}
		return textResult(info.Doc), nil
	}
	var b strings.Builder
	for _, info := range reg.Infos() {
		fmt.Fprintf(&b, "%s: %s\n", info.Name, info.Summary)
	}
	return textResult(b.String()), nil
}

// HandleRun implements the catcher/run MCP tool.
func (h *Handlers) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	opts := h.Options
	opts.Variables = append([]string{}, opts.Variables...)
	if inv, ok := args["inventory"].(string); ok && inv != "" {
		opts.Inventory = inv
	}
	if raw, ok := args["variables"].(map[string]any); ok {
		for k, v := range raw {
			opts.Variables = append(opts.Variables, fmt.Sprintf("%s=%v", k, v))
		}
	}

	// stdout carries the protocol, so the run never logs to the console
	a, err := app.New(ctx, &opts, app.Setup{Console: io.Discard, Quiet: true})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	defer a.Close()

	summary, err := a.Run(ctx, path)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	response := map[string]any{
		"passed":  summary.Passed,
		"failed":  summary.Failed,
		"skipped": summary.Skipped,
		"tests":   results(summary),
		"summary": strings.TrimSpace(summary.String()),
	}
	data, _ := json.MarshalIndent(response, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: !summary.OK(),
	}, nil
}

func results(s *runner.Summary) []map[string]any {
	out := make([]map[string]any, 0, len(s.Results))
	for _, r := range s.Results {
		entry := map[string]any{
			"path":     r.Path,
			"status":   string(r.Status),
			"duration": r.Duration.String(),
		}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		}
		if r.FailedStep > 0 {
			entry["failed_step"] = r.FailedStep
		}
		out = append(out, entry)
	}
	return out
}

func formatErrors(errs []*schema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
