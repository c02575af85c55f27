package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stagecheck/internal/compare"
	"github.com/roach88/stagecheck/internal/driver"
	"github.com/roach88/stagecheck/internal/history"
	"github.com/roach88/stagecheck/internal/report"
	"github.com/roach88/stagecheck/internal/resolve"
	"github.com/roach88/stagecheck/internal/runner"
	"github.com/roach88/stagecheck/internal/stage"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Build          bool
	ASan           bool
	UBSan          bool
	KeepGoing      bool
	IgnoreFailures string
	Timeout        time.Duration
	Database       string

	// Builder, RunIDs and Clock may be overridden by tests.
	Builder resolve.Builder
	RunIDs  history.RunIDGenerator
	Clock   history.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [stage...]",
		Short: "Compare candidate and reference stages over their corpora",
		Long: `Run every configured stage, or only the named ones, comparing the
candidate against the reference file by file.

A missing candidate is built first with make; --build forces a rebuild and
--asan/--ubsan select a sanitizer build. A folder stops at its first failing
file unless --keep-going is given.

Example:
  stagecheck run
  stagecheck run semant --build
  stagecheck run lexer parser --asan --db .stagecheck.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Build, "build", false, "rebuild candidates even if they exist")
	cmd.Flags().BoolVar(&opts.ASan, "asan", false, "build candidates with AddressSanitizer (implies --build)")
	cmd.Flags().BoolVar(&opts.UBSan, "ubsan", false, "build candidates with UndefinedBehaviorSanitizer (implies --build)")
	cmd.Flags().BoolVar(&opts.KeepGoing, "keep-going", false, "do not stop a folder at its first failure")
	cmd.Flags().StringVar(&opts.IgnoreFailures, "ignore-failures", "", "ignored files that exit non-zero: skip or fail (default from suite, else skip)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-process timeout, 0 for none")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite history database")
	cmd.MarkFlagsMutuallyExclusive("asan", "ubsan")

	return cmd
}

// RunResult is the JSON payload of a run.
type RunResult struct {
	RunID       string        `json:"run_id,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	OK          bool          `json:"ok"`
	Stages      []StageResult `json:"stages"`
}

// StageResult is one stage of a RunResult.
type StageResult struct {
	Stage   string             `json:"stage"`
	Build   resolve.Resolution `json:"build"`
	Folders []FolderResult     `json:"folders"`
}

// FolderResult is one folder of a StageResult.
type FolderResult struct {
	Folder   string          `json:"folder"`
	Dir      string          `json:"dir"`
	Passed   int             `json:"passed"`
	Ignored  int             `json:"ignored"`
	Failed   int             `json:"failed"`
	Skipped  []string        `json:"skipped,omitempty"`
	Halted   bool            `json:"halted"`
	Verdicts []VerdictResult `json:"verdicts"`
}

// VerdictResult is one verdict of a FolderResult.
type VerdictResult struct {
	Input         string `json:"input"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	CandidateExit int    `json:"candidate_exit"`
	ReferenceExit int    `json:"reference_exit"`
}

func runStages(opts *RunOptions, names []string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	formatter := &OutputFormatter{Format: opts.Format, Writer: out}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	san := stage.SanitizerNone
	switch {
	case opts.ASan:
		san = stage.SanitizerAddress
	case opts.UBSan:
		san = stage.SanitizerUndefined
	}

	suite, err := loadSuite(opts.RootOptions)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "load suite", err)
	}
	specs, err := suite.Select(names...)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, "select stages", err)
	}

	ignoreMode := suite.IgnoreMode
	if opts.IgnoreFailures != "" {
		if ignoreMode, err = compare.ParseIgnoreMode(opts.IgnoreFailures); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, "parse --ignore-failures", err)
		}
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// In JSON mode stdout carries the response only; the transcript moves
	// to stderr.
	transcript := out
	if formatter.json() {
		transcript = cmd.ErrOrStderr()
	}
	rep := report.New(transcript, report.WithColor(colorEnabled(opts.RootOptions)))

	builder := opts.Builder
	if builder == nil {
		builder = resolve.MakeBuilder{Stdout: transcript, Stderr: cmd.ErrOrStderr()}
	}
	resolver := resolve.New(builder, rep, resolve.WithLogger(logger))

	driverOpts := []driver.Option{
		driver.WithLogger(logger),
		driver.WithHaltOnFailure(suite.HaltOnFailure && !opts.KeepGoing),
		driver.WithIgnoreMode(ignoreMode),
	}

	var session *history.Session
	if opts.Database != "" {
		st, err := history.Open(opts.Database)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeHistory, "open history", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing history", "error", closeErr)
			}
		}()

		ids, clock := opts.RunIDs, opts.Clock
		if ids == nil {
			ids = history.UUIDv7{}
		}
		if clock == nil {
			clock = history.SystemClock{}
		}
		stageNames := make([]string, len(specs))
		for i, s := range specs {
			stageNames[i] = s.Name
		}
		if session, err = st.Begin(ctx, ids, clock, suite.Root, stageNames); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeHistory, "begin run", err)
		}
		driverOpts = append(driverOpts, driver.WithRecorder(session))
		logger.Info("recording run", "db", opts.Database, "run_id", session.ID())
	}

	drv := driver.New(runner.New(runner.WithLogger(logger), runner.WithTimeout(opts.Timeout)), rep, driverOpts...)

	result := RunResult{OK: true}
	var rows []report.SummaryRow
	failed := 0
	var runErr error
	for _, spec := range specs {
		sr, res, err := runStage(ctx, resolver, drv, rep, spec, opts.Build, san, logger)
		stageResult := StageResult{Stage: spec.Name, Build: res}
		for _, fr := range sr.Folders {
			rows = append(rows, fr.Summary())
			stageResult.Folders = append(stageResult.Folders, folderResult(fr))
			failed += fr.Failed()
		}
		result.Stages = append(result.Stages, stageResult)
		if err != nil {
			runErr = err
			break
		}
	}
	result.OK = failed == 0 && runErr == nil

	if !formatter.json() && len(rows) > 0 {
		rep.Summary(rows)
	}

	if session != nil {
		status := history.RunOK
		switch {
		case runErr != nil:
			status = history.RunError
		case failed > 0:
			status = history.RunFailed
		}
		// Finish even when interrupted, so the run is not left "running".
		run, err := session.Finish(context.WithoutCancel(ctx), status)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeHistory, "finish run", err)
		}
		result.RunID, result.Fingerprint = run.ID, run.Fingerprint
		if !formatter.json() {
			rep.Field("Run", run.ID)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, "interrupted", runErr)
		}
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "run stages", runErr)
	}
	if failed > 0 {
		msg := fmt.Sprintf("%d verdict(s) failed", failed)
		if err := formatter.Failure(ErrCodeTestsFailed, msg, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	if formatter.json() {
		return formatter.Success(result)
	}
	return nil
}

// runStage resolves the stage's executables and runs its folders.
func runStage(ctx context.Context, resolver *resolve.Resolver, drv *driver.Driver, rep *report.Reporter, spec stage.Spec, rebuild bool, san stage.Sanitizer, logger *slog.Logger) (driver.StageReport, resolve.Resolution, error) {
	for _, f := range spec.Folders {
		rep.Field("Test directory", f.Dir)
	}

	res, err := resolver.Resolve(ctx, resolve.RequestFor(spec, rebuild, san))
	if err != nil {
		return driver.StageReport{Stage: spec.Name}, res, err
	}

	logger.Info("running stage", "stage", spec.Name, "kind", spec.Kind.String(), "folders", len(spec.Folders))
	sr, err := drv.RunStage(ctx, spec)
	return sr, res, err
}

func folderResult(fr driver.FolderReport) FolderResult {
	row := fr.Summary()
	out := FolderResult{
		Folder:   fr.Folder,
		Dir:      fr.Dir,
		Passed:   row.Passed,
		Ignored:  row.Ignored,
		Failed:   row.Failed,
		Skipped:  fr.Skipped,
		Halted:   fr.Halted,
		Verdicts: make([]VerdictResult, len(fr.Verdicts)),
	}
	for i, v := range fr.Verdicts {
		out.Verdicts[i] = VerdictResult{
			Input:         v.Input,
			Status:        v.Status.String(),
			Reason:        v.Reason,
			CandidateExit: v.Candidate.ExitCode,
			ReferenceExit: v.Reference.ExitCode,
		}
	}
	return out
}
