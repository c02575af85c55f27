// Package report renders harness progress for a human operator.
//
// A Reporter writes to the sink it was built with; there is no
// process-wide state. Colors come from go-pretty and are stripped when the
// reporter is colorless, so the same formatting code serves terminals and
// files.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/roach88/stagecheck/internal/compare"
)

// rowWidth is the column the status tag of a verdict row starts after.
const rowWidth = 55

const banner = "--------------------"

var (
	bold   = text.Colors{text.Bold}
	header = text.Colors{text.FgHiMagenta}
	okTag  = text.Colors{text.FgHiGreen}
	badTag = text.Colors{text.FgHiRed}
	warn   = text.Colors{text.FgHiYellow}
)

// Labels name the two implementations in failure output.
type Labels struct {
	Candidate string
	Reference string
}

// LabelsFor returns the conventional labels for a stage: "new-<stage>" and
// "reference-<stage>".
func LabelsFor(stageName string) Labels {
	return Labels{Candidate: "new-" + stageName, Reference: "reference-" + stageName}
}

// Reporter prints verdicts and run structure to a sink.
type Reporter struct {
	w     io.Writer
	color bool
	diff  bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithColor enables ANSI colors. Off by default.
func WithColor(enabled bool) Option {
	return func(r *Reporter) { r.color = enabled }
}

// WithDiff appends a unified diff of the stdouts to failure output. On by
// default.
func WithDiff(enabled bool) Option {
	return func(r *Reporter) { r.diff = enabled }
}

// New creates a Reporter writing to w.
func New(w io.Writer, opts ...Option) *Reporter {
	r := &Reporter{w: w, diff: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reporter) printf(format string, args ...any) {
	s := fmt.Sprintf(format, args...)
	if !r.color {
		s = stripansi.Strip(s)
	}
	io.WriteString(r.w, s)
}

// Field prints a bold label followed by its value and a blank line.
//
//	Test directory: /repo/tests/lexer
func (r *Reporter) Field(label, value string) {
	r.printf("%s %s\n\n", bold.Sprint(label+":"), value)
}

// Note prints an informational paragraph.
func (r *Reporter) Note(msg string) {
	r.printf("%s\n\n", msg)
}

// Warn prints a warning line.
func (r *Reporter) Warn(msg string) {
	r.printf("%s\n", warn.Sprint(msg))
}

// Start opens a folder section.
//
//	-------------------- START end-to-end TESTS! --------------------
func (r *Reporter) Start(label string) {
	title := "START TESTS!"
	if label != "" {
		title = "START " + label + " TESTS!"
	}
	r.printf("%s\n", header.Sprint(banner+" "+title+" "+banner))
}

// End closes a folder section.
func (r *Reporter) End() {
	r.printf("%s\n", header.Sprint(banner+" END TESTS! "+banner))
}

// Verdict prints the row for one file. Failures are followed by both
// implementations' captured streams.
func (r *Reporter) Verdict(seq int, v compare.Verdict, labels Labels) {
	row := fmt.Sprintf("%d) %s", seq, bold.Sprint(v.Input))
	if pad := rowWidth - text.RuneWidthWithoutEscSequences(row); pad > 0 {
		row += strings.Repeat(" ", pad)
	}

	switch v.Status {
	case compare.StatusPass:
		r.printf("%s %s\n", row, okTag.Sprint("[OK]"))
	case compare.StatusPassIgnored:
		r.printf("%s %s\n", row, okTag.Sprint("[IGNORED]"))
	default:
		r.printf("%s %s\n\n", row, badTag.Sprint("[FAILED]"))
		r.failure(v, labels)
	}
}

func (r *Reporter) failure(v compare.Verdict, labels Labels) {
	if v.Reason != "" {
		r.printf("%s %s\n", bold.Sprint("reason:"), v.Reason)
	}
	streams := []struct {
		name string
		data []byte
	}{
		{labels.Candidate + "-stdout", v.Candidate.Stdout},
		{labels.Candidate + "-stderr", v.Candidate.Stderr},
		{labels.Reference + "-stdout", v.Reference.Stdout},
		{labels.Reference + "-stderr", v.Reference.Stderr},
	}
	width := 0
	for _, s := range streams {
		width = max(width, len(s.name)+1)
	}
	for _, s := range streams {
		name := s.name + ":"
		r.printf("%s%s %q (%s)\n", bold.Sprint(name), strings.Repeat(" ", width-len(name)), s.data, humanize.Bytes(uint64(len(s.data))))
	}
	r.printf("%s exit code %d, reference exit code %d\n", bold.Sprint("exit:"), v.Candidate.ExitCode, v.Reference.ExitCode)

	if r.diff && string(v.Candidate.Stdout) != string(v.Reference.Stdout) {
		if d := Diff(v.Candidate.Stdout, v.Reference.Stdout, labels.Candidate+"-stdout", labels.Reference+"-stdout"); d != "" {
			r.printf("\n%s", d)
		}
	}
	r.printf("\n")
}

// Diff renders a unified diff from a to b with one line of context.
func Diff(a, b []byte, from, to string) string {
	s, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: from,
		ToFile:   to,
		Context:  1,
	})
	if err != nil {
		return ""
	}
	return s
}

// SummaryRow is one folder's tally.
type SummaryRow struct {
	Stage   string `json:"stage"`
	Folder  string `json:"folder"`
	Passed  int    `json:"passed"`
	Ignored int    `json:"ignored"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	Halted  bool   `json:"halted"`
}

// Summary prints a table of per-folder tallies.
func (r *Reporter) Summary(rows []SummaryRow) {
	t := table.NewWriter()
	t.SetTitle("Summary")
	t.AppendHeader(table.Row{"Stage", "Folder", "Passed", "Ignored", "Failed", "Skipped", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Stage", AutoMerge: true},
		{Name: "Folder", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Ignored", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})

	var passed, ignored, failed, skipped int
	for _, row := range rows {
		status := okTag.Sprint("complete")
		if row.Halted {
			status = badTag.Sprint("halted")
		} else if row.Failed > 0 {
			status = badTag.Sprint("failed")
		}
		t.AppendRow(table.Row{row.Stage, row.Folder, row.Passed, row.Ignored, row.Failed, row.Skipped, status})
		passed += row.Passed
		ignored += row.Ignored
		failed += row.Failed
		skipped += row.Skipped
	}
	t.AppendFooter(table.Row{"Total", "", passed, ignored, failed, skipped, ""})

	r.printf("\n%s\n", t.Render())
}
