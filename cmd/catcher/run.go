package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/comtihon/catcher/pkg/app"
	"github.com/comtihon/catcher/pkg/config"
	"github.com/comtihon/catcher/pkg/runner"
)

var runCmd = &cobra.Command{
	Use:   "run [tests]",
	Short: "Run a test file or every test of a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runTests,
}

func runTests(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	ok, err := runOnce(cmd, opts, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return errTestsFailed
	}
	return nil
}

// runOnce runs the tests under target and prints the summary.
func runOnce(cmd *cobra.Command, opts *config.Options, target string) (bool, error) {
	a, err := app.New(cmd.Context(), opts, app.Setup{})
	if err != nil {
		return false, err
	}
	defer a.Close()

	summary, err := a.Run(cmd.Context(), target)
	if err != nil {
		return false, err
	}
	summary.Print(os.Stdout, runner.PrintOptions{Output: opts.Output, Color: !opts.NoColor})
	return summary.OK(), nil
}

// addProjectFlags adds the flags locating the project and its plugins.
func addProjectFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("config", "c", "", fmt.Sprintf("Config file (default <dir>/%s)", config.FileName))
	f.StringP("dir", "d", ".", "Project directory")
	f.StringSliceP("modules", "m", []string{"steps"}, "Directories searched for external steps")
}

// addRunFlags adds every run option.
func addRunFlags(cmd *cobra.Command) {
	addProjectFlags(cmd)
	f := cmd.Flags()
	f.StringP("inventory", "i", "", "Inventory file with environment specific variables")
	f.StringP("resources", "r", "", "Resources directory (default <dir>/resources)")
	f.StringArrayP("variables", "e", nil, "Set a variable (key=value), repeatable; wins over every other source")
	f.StringSlice("filters", nil, "Template function modules to load")
	f.BoolP("system-env", "s", false, "Expose the process environment as variables")

	f.StringP("log-level", "l", "info", "Log level: debug, info, warn, error")
	f.String("log-format", "text", "Log format: text or json")
	f.String("log-file", "", "Also write the log to this file")

	f.StringP("format", "f", "none", "Report format written to <dir>/reports: json, html or none")
	f.StringP("output", "o", "full", "Console output: full, limited or final")
	f.Bool("no-color", false, "Disable colored output")
	f.StringArray("secrets", nil, "Variable whose value is masked in logs and reports, repeatable")

	f.IntP("parallel", "p", 1, "Number of tests run at the same time")
	f.Bool("fail-fast", false, "Stop scheduling tests after the first failure")
	f.StringArray("include", nil, "Only run tests matching this glob, repeatable")
	f.StringArray("exclude", nil, "Skip tests matching this glob, repeatable")
}
