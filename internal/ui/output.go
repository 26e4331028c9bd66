package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"forge/internal/protocol"
	"forge/internal/repair"
	"forge/internal/review"
	"forge/internal/runlog"
	"forge/internal/watcher"
)

// Printer writes styled command output.
type Printer struct {
	w        io.Writer
	styles   *Styles
	markdown *MarkdownRenderer
}

// NewPrinter returns a printer. A nil markdown renderer prints comments
// verbatim.
func NewPrinter(w io.Writer, styles *Styles, markdown *MarkdownRenderer) *Printer {
	if styles == nil {
		styles = DefaultStyles()
	}
	return &Printer{w: w, styles: styles, markdown: markdown}
}

// Styles returns the printer's styles.
func (p *Printer) Styles() *Styles { return p.styles }

func (p *Printer) line(icon string, style func(...string) string, format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", style(MessageIcons[icon]), fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...any) {
	p.line("success", p.styles.Success.Render, format, args...)
}

// Info prints an informational line.
func (p *Printer) Info(format string, args ...any) {
	p.line("info", p.styles.Info.Render, format, args...)
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	p.line("warning", p.styles.Warning.Render, format, args...)
}

// Error prints err with guidance.
func (p *Printer) Error(err error) {
	fmt.Fprintln(p.w, FormatErrorWithGuidance(p.styles, err))
}

// Print writes s as is.
func (p *Printer) Print(s string) {
	fmt.Fprint(p.w, s)
	if !strings.HasSuffix(s, "\n") {
		fmt.Fprintln(p.w)
	}
}

// RepairResult summarizes a passing build-repair run.
func (p *Printer) RepairResult(res *repair.Result, runDir string) {
	p.Success("Build passes after %d attempt(s)", res.Attempts)
	for _, m := range res.Changes {
		if m.IsDelete() {
			fmt.Fprintf(p.w, "  %s %s\n", p.styles.Error.Render("-"), m.Path)
		} else {
			fmt.Fprintf(p.w, "  %s %s\n", p.styles.Success.Render("+"), m.Path)
		}
	}
	if res.Build != nil {
		fmt.Fprintln(p.w, p.styles.Dim.Render("  build took "+res.Build.Duration.Round(time.Millisecond).String()))
	}
	p.runDir(runDir)
}

// RepairFailure prints the last build output of an exhausted run.
func (p *Printer) RepairFailure(e *repair.ExhaustedError, runDir string) {
	p.Warn("Build still failing after %d attempt(s)", e.Attempts)
	if out := strings.TrimSpace(e.LastOutput); out != "" {
		fmt.Fprintln(p.w, p.styles.WarningBox.Render(tail(out, 30)))
	}
	p.runDir(runDir)
}

// ReviewOutcome prints one reviewed stage and the model's comment.
func (p *Printer) ReviewOutcome(out *review.Outcome) {
	label := fmt.Sprintf("%s  %s", out.Task.SpecPath, out.Task.Stage)
	switch out.Status {
	case protocol.StatusSuccess:
		p.Success("%s passed", label)
	case protocol.StatusChangesRequested:
		p.Warn("%s: changes requested", label)
	case protocol.StatusChangesAttempted:
		p.Info("%s: changes attempted", label)
		if out.Report != nil {
			for _, c := range out.Report.Changes {
				fmt.Fprintf(p.w, "  %s %s %s\n", p.styles.Dim.Render(string(c.Kind)), c.Path,
					p.styles.Dim.Render(fmt.Sprintf("(+%d -%d)", c.Added, c.Removed)))
			}
		}
	}
	if strings.TrimSpace(out.Comment) != "" {
		p.Print(p.markdown.Render(out.Comment))
	}
}

// ReviewSummary prints the end state of a review run.
func (p *Printer) ReviewSummary(s *review.Summary) {
	passed := 0
	for _, o := range s.Outcomes {
		if o.Recorded() {
			passed++
		}
	}
	switch {
	case s.Complete:
		p.Success("All specifications passed every stage (%d stage(s) this run)", passed)
	case len(s.Outcomes) == 0:
		p.Info("Nothing reviewed")
	default:
		p.Info("%d of %d stage(s) passed this run", passed, len(s.Outcomes))
	}
}

// Changes prints a batch of watched file changes.
func (p *Printer) Changes(events []watcher.Event) {
	for _, e := range events {
		fmt.Fprintf(p.w, "%s %s %s\n", p.styles.Accent.Render(MessageIcons["active"]), e.Operation, e.Path)
	}
}

// Runs lists recorded runs.
func (p *Printer) Runs(runs []runlog.RunInfo) {
	if len(runs) == 0 {
		p.Info("No runs recorded")
		return
	}
	for _, r := range runs {
		outcome := r.Outcome
		if outcome == "" {
			outcome = "unfinished"
		}
		fmt.Fprintf(p.w, "%s  %-7s %-8s %3d entries  %s\n",
			p.styles.Highlight.Render(r.Started.Local().Format("2006-01-02 15:04:05")),
			r.Command, r.Backend, len(r.Entries), outcome)
		fmt.Fprintln(p.w, p.styles.Dim.Render("  "+r.Dir))
	}
}

func (p *Printer) runDir(dir string) {
	if dir != "" {
		fmt.Fprintln(p.w, p.styles.Dim.Render("  run log: "+dir))
	}
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return "...\n" + strings.Join(lines[len(lines)-n:], "\n")
}
