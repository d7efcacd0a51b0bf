package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/comtihon/catcher/pkg/config"
	cmcp "github.com/comtihon/catcher/pkg/mcp"
	"github.com/comtihon/catcher/pkg/schema"
	"github.com/comtihon/catcher/pkg/steps"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// errTestsFailed exits with status 1 without printing; the summary already
// told the story.
var errTestsFailed = errors.New("tests failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errTestsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "catcher [tests]",
	Short:         "Declarative end-to-end test runner",
	Long:          "catcher runs test scenarios written as YAML or JSON steps: HTTP calls, database queries, shell commands, checks, loops and waits sharing one set of variables.",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runTests(cmd, args)
	},
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [test.yaml]",
	Short: "Validate a test document against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	reg, err := steps.Registry(cmd.Context(), pluginDirs(opts)...)
	if err != nil {
		return err
	}
	filePath := args[0]
	doc, errs := schema.ValidateFile(filePath, schema.ValidateOptions{Catalog: reg, Root: opts.Dir})
	var failures []*schema.ValidationError
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "    at: %s\n", e.Path)
			}
			continue
		}
		failures = append(failures, e)
	}
	if len(failures) > 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(failures))
		for i, e := range failures {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", len(failures))
	}
	fmt.Printf("✓ %s is valid (%d steps)\n", filePath, len(doc.Steps))
	return nil
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of test documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateDocumentJSONSchema()
		if err != nil {
			return fmt.Errorf("generate schema: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

// --- steps ---

var stepsCmd = &cobra.Command{
	Use:   "steps [name]",
	Short: "List the available steps, or show the documentation of one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSteps,
}

var nameStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))

func runSteps(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	reg, err := steps.Registry(cmd.Context(), pluginDirs(opts)...)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		for _, info := range reg.Infos() {
			name := info.Name
			if info.External {
				name += " (external)"
			}
			fmt.Printf("  %s  %s\n", nameStyle.Render(fmt.Sprintf("%-20s", name)), info.Summary)
		}
		return nil
	}
	info, ok := reg.Info(args[0])
	if !ok {
		return fmt.Errorf("unknown step %q", args[0])
	}
	fmt.Println(renderMarkdown(info.Doc))
	return nil
}

// renderMarkdown falls back to the raw text when glamour cannot render.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the catcher tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}
		return server.ServeStdio(cmcp.NewServer(version, *opts))
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("catcher %s (build: %s)\n", version, commit)
	},
}

func loadOptions(cmd *cobra.Command) (*config.Options, error) {
	configFile, _ := cmd.Flags().GetString("config")
	return config.Load(cmd.Flags(), configFile)
}

func pluginDirs(opts *config.Options) []string {
	dirs := make([]string, 0, len(opts.Modules))
	for _, m := range opts.Modules {
		dirs = append(dirs, opts.Path(m))
	}
	return dirs
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, runCmd, watchCmd} {
		addRunFlags(cmd)
	}
	for _, cmd := range []*cobra.Command{validateCmd, stepsCmd, mcpCmd} {
		addProjectFlags(cmd)
	}
	mcpCmd.Flags().StringP("inventory", "i", "", "Inventory file used by catcher/run")
	mcpCmd.Flags().StringArrayP("variables", "e", nil, "Set a variable (key=value), repeatable")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(stepsCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}
