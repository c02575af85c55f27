// Package driver walks stage corpora, runs each input through the pipeline
// runner and comparator, and reports as it goes.
//
// Files are processed strictly one at a time. After each file the driver
// decides whether to Continue or Halt the folder; with halt-on-failure (the
// default) the first failure stops the folder so a single regression is
// investigated before the rest of the corpus runs. Later folders of the
// same stage still run.
package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/stagecheck/internal/compare"
	"github.com/roach88/stagecheck/internal/report"
	"github.com/roach88/stagecheck/internal/runner"
	"github.com/roach88/stagecheck/internal/stage"
)

// Signal tells the folder loop what to do after a file.
type Signal int

const (
	Continue Signal = iota
	Halt
)

func (s Signal) String() string {
	if s == Halt {
		return "halt"
	}
	return "continue"
}

// Runner produces the outcome for one input.
type Runner interface {
	Run(ctx context.Context, spec stage.Spec, input string) (runner.Outcome, error)
}

// Entry is one recorded verdict with its position in the run.
type Entry struct {
	Stage   string
	Folder  string
	Seq     int
	Verdict compare.Verdict
}

// Recorder receives every recorded verdict, e.g. to persist run history.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Driver runs folders of a stage.
type Driver struct {
	runner     Runner
	reporter   *report.Reporter
	logger     *slog.Logger
	halt       bool
	ignoreMode compare.IgnoreMode
	recorder   Recorder
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithHaltOnFailure controls fail-fast. On by default.
func WithHaltOnFailure(halt bool) Option {
	return func(d *Driver) { d.halt = halt }
}

// WithIgnoreMode sets what ignored files that exit non-zero record.
func WithIgnoreMode(m compare.IgnoreMode) Option {
	return func(d *Driver) { d.ignoreMode = m }
}

// WithRecorder streams each verdict to rec.
func WithRecorder(rec Recorder) Option {
	return func(d *Driver) { d.recorder = rec }
}

// New creates a Driver.
func New(r Runner, rep *report.Reporter, opts ...Option) *Driver {
	d := &Driver{
		runner:   r,
		reporter: rep,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		halt:     true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FolderReport is the ordered result of one folder run.
type FolderReport struct {
	Stage    string            `json:"stage"`
	Folder   string            `json:"folder"`
	Dir      string            `json:"dir"`
	Verdicts []compare.Verdict `json:"-"`
	Skipped  []string          `json:"skipped,omitempty"`
	Halted   bool              `json:"halted"`
}

// Count is the number of recorded verdicts.
func (f FolderReport) Count() int {
	return len(f.Verdicts)
}

func (f FolderReport) count(s compare.Status) int {
	n := 0
	for _, v := range f.Verdicts {
		if v.Status == s {
			n++
		}
	}
	return n
}

// Failed is the number of failing verdicts.
func (f FolderReport) Failed() int {
	return f.count(compare.StatusFail)
}

// Summary returns the folder's tally row.
func (f FolderReport) Summary() report.SummaryRow {
	return report.SummaryRow{
		Stage:   f.Stage,
		Folder:  f.Folder,
		Passed:  f.count(compare.StatusPass),
		Ignored: f.count(compare.StatusPassIgnored),
		Failed:  f.Failed(),
		Skipped: len(f.Skipped),
		Halted:  f.Halted,
	}
}

// StageReport collects the folder reports of one stage in run order.
type StageReport struct {
	Stage   string         `json:"stage"`
	Folders []FolderReport `json:"folders"`
}

// OK reports whether no folder recorded a failure.
func (s StageReport) OK() bool {
	for _, f := range s.Folders {
		if f.Failed() > 0 {
			return false
		}
	}
	return true
}

// ListInputs returns the paths of files in dir whose names end in ext, in
// directory listing order. Subdirectories are not descended into.
func ListInputs(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// RunStage runs every folder of spec in order.
func (d *Driver) RunStage(ctx context.Context, spec stage.Spec) (StageReport, error) {
	sr := StageReport{Stage: spec.Name}
	for _, folder := range spec.Folders {
		fr, err := d.RunFolder(ctx, spec, folder)
		if err != nil {
			return sr, err
		}
		sr.Folders = append(sr.Folders, fr)
	}
	return sr, nil
}

// RunFolder runs every matching file of folder, stopping early on Halt.
func (d *Driver) RunFolder(ctx context.Context, spec stage.Spec, folder stage.Folder) (FolderReport, error) {
	fr := FolderReport{Stage: spec.Name, Folder: folderName(folder), Dir: folder.Dir}

	inputs, err := ListInputs(folder.Dir, spec.FolderExt(folder))
	if err != nil {
		return fr, err
	}

	policy := compare.ForFolder(spec.Kind, folder, d.ignoreMode)
	labels := report.LabelsFor(spec.Name)

	d.reporter.Start(folder.Label)
	for i, input := range inputs {
		sig, err := d.step(ctx, spec, policy, labels, input, i+1, &fr)
		if err != nil {
			return fr, err
		}
		if sig == Halt {
			fr.Halted = i < len(inputs)-1
			d.logger.Info("halting folder after failure",
				"stage", spec.Name,
				"folder", fr.Folder,
				"input", filepath.Base(input),
				"remaining", len(inputs)-i-1,
			)
			break
		}
	}
	d.reporter.End()

	return fr, nil
}

// step processes one file end to end: run, compare, report, record.
func (d *Driver) step(ctx context.Context, spec stage.Spec, policy compare.Policy, labels report.Labels, input string, seq int, fr *FolderReport) (Signal, error) {
	outcome, err := d.runner.Run(ctx, spec, input)
	if err != nil {
		return Halt, fmt.Errorf("run %s: %w", input, err)
	}

	v, ok := policy.Compare(outcome)
	if !ok {
		fr.Skipped = append(fr.Skipped, outcome.Input)
		d.logger.Debug("ignored file exited non-zero, no verdict recorded",
			"stage", spec.Name,
			"input", outcome.Input,
			"exit_code", outcome.Candidate.ExitCode,
		)
		return Continue, nil
	}

	fr.Verdicts = append(fr.Verdicts, v)
	d.reporter.Verdict(seq, v, labels)
	d.logger.Debug("verdict",
		"stage", spec.Name,
		"input", v.Input,
		"status", v.Status.String(),
		"candidate_exit", v.Candidate.ExitCode,
		"reference_exit", v.Reference.ExitCode,
	)

	if d.recorder != nil {
		if err := d.recorder.Record(ctx, Entry{Stage: spec.Name, Folder: fr.Folder, Seq: seq, Verdict: v}); err != nil {
			return Halt, fmt.Errorf("record verdict: %w", err)
		}
	}

	if v.Status == compare.StatusFail && d.halt {
		return Halt, nil
	}
	return Continue, nil
}

func folderName(f stage.Folder) string {
	if f.Label != "" {
		return f.Label
	}
	return filepath.Base(filepath.Clean(f.Dir))
}
