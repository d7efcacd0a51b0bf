package runner

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Output verbosity of the console summary.
const (
	OutputFull    = "full"    // every test line and the step log
	OutputLimited = "limited" // every test line
	OutputFinal   = "final"   // summary line only
)

// Status glyphs, meaningful without color.
const (
	GlyphPassed  = "✓"
	GlyphFailed  = "✗"
	GlyphSkipped = "⏭"
)

var (
	colorGreen = lipgloss.Color("42")
	colorRed   = lipgloss.Color("196")
	colorDim   = lipgloss.Color("240")
	colorCyan  = lipgloss.Color("51")

	passedStyle  = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle  = lipgloss.NewStyle().Foreground(colorRed)
	skippedStyle = lipgloss.NewStyle().Foreground(colorDim)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
)

// Summary aggregates the results of a run.
type Summary struct {
	Results []Result
	Passed  int
	Failed  int
	Skipped int
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	switch r.Status {
	case Passed:
		s.Passed++
	case Failed:
		s.Failed++
	case Skipped:
		s.Skipped++
	}
}

// OK reports whether no test failed. Skipped tests count as passed.
func (s *Summary) OK() bool { return s.Failed == 0 }

// Total is the number of tests that ran.
func (s *Summary) Total() int { return s.Passed + s.Failed + s.Skipped }

// Percent is the share of non-failed tests, 0 to 100. An empty run is 0.
func (s *Summary) Percent() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.Passed+s.Skipped) * 100 / float64(s.Total())
}

// PrintOptions configures Print.
type PrintOptions struct {
	Output string // full, limited or final
	Color  bool
}

// Print writes the per-test lines and the summary line.
func (s *Summary) Print(w io.Writer, opts PrintOptions) {
	render := func(st lipgloss.Style, text string) string {
		if !opts.Color {
			return text
		}
		return st.Render(text)
	}

	if opts.Output != OutputFinal && len(s.Results) > 0 {
		width := 0
		for _, r := range s.Results {
			width = max(width, runewidth.StringWidth(r.Path))
		}
		fmt.Fprintln(w, render(headerStyle, "Test results"))
		for _, r := range s.Results {
			name := runewidth.FillRight(r.Path, width)
			switch r.Status {
			case Passed:
				fmt.Fprintf(w, "  %s %s  %s\n", render(passedStyle, GlyphPassed), name, render(passedStyle, "OK"))
			case Skipped:
				fmt.Fprintf(w, "  %s %s  %s\n", render(skippedStyle, GlyphSkipped), name, render(skippedStyle, "Skipped"))
			default:
				detail := "Fail"
				if r.FailedStep > 0 {
					detail = fmt.Sprintf("Fail, step %d", r.FailedStep)
				}
				fmt.Fprintf(w, "  %s %s  %s\n", render(failedStyle, GlyphFailed), name, render(failedStyle, detail))
			}
		}
	}

	line := fmt.Sprintf("Test run %d. Success: %d, Fail: %d", s.Total(), s.Passed, s.Failed)
	if s.Skipped > 0 {
		line += fmt.Sprintf(", Skipped: %d", s.Skipped)
	}
	line += fmt.Sprintf(". Total: %.0f%%", s.Percent())
	style := passedStyle
	if !s.OK() {
		style = failedStyle
	}
	fmt.Fprintln(w, render(style, line))
}

// String renders the summary without color.
func (s *Summary) String() string {
	var b strings.Builder
	s.Print(&b, PrintOptions{Output: OutputLimited})
	return b.String()
}
