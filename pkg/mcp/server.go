// Package mcp exposes validation, runs, the document schema and the step
// catalog as MCP tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comtihon/catcher/pkg/config"
)

// NewServer creates an MCP server with the catcher tools registered. opts
// are the defaults every tool call starts from.
func NewServer(version string, opts config.Options) *server.MCPServer {
	s := server.NewMCPServer(
		"catcher",
		version,
		server.WithToolCapabilities(true),
	)
	h := &Handlers{Options: opts}

	s.AddTool(
		mcp.NewTool("catcher/validate",
			mcp.WithDescription("Validate a catcher test document"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the test YAML or JSON file")),
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("catcher/run",
			mcp.WithDescription("Run a test file or every test in a directory"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Test file or directory")),
			mcp.WithString("inventory", mcp.Description("Inventory file (optional)")),
			mcp.WithObject("variables", mcp.Description("Variables overriding every other source")),
		),
		h.HandleRun,
	)

	s.AddTool(
		mcp.NewTool("catcher/schema",
			mcp.WithDescription("Export the JSON Schema of test documents"),
		),
		h.HandleSchema,
	)

	s.AddTool(
		mcp.NewTool("catcher/steps",
			mcp.WithDescription("List the available steps, or document one"),
			mcp.WithString("name", mcp.Description("Step name (optional)")),
		),
		h.HandleSteps,
	)

	return s
}
