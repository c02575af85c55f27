// Package runner executes stage pipelines and captures their output.
//
// Every process is spawned with os/exec. A pipeline of N commands is wired
// with N-1 OS pipes: upstream processes are started without waiting, only
// the final process is waited on for capture, and upstream processes are
// reaped afterwards. Closing the harness's copies of the pipe ends right
// after each child starts lets EOF and SIGPIPE propagate through the chain.
//
// Each child leads its own process group, so cancellation and cleanup reach
// the processes a wrapper script forks as well as the script itself.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/roach88/stagecheck/internal/stage"
)

// Result is the captured outcome of one process invocation.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   []byte `json:"stdout"`
	Stderr   []byte `json:"stderr"`
}

// Succeeded reports a zero exit code.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Outcome pairs the candidate and reference results for one input file.
type Outcome struct {
	Input     string // base filename, e.g. "cycle.test"
	Path      string // path the stages were given
	Candidate Result
	Reference Result
}

// Runner runs candidate and reference pipelines.
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithTimeout bounds every pipeline run. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes both implementations of spec against input.
//
// Text stages compare the final output of each pipeline directly.
// Behavioral stages compile, then execute the artifact on the spec's VM; the
// VM's output becomes the Result.
func (r *Runner) Run(ctx context.Context, spec stage.Spec, input string) (Outcome, error) {
	out := Outcome{Input: filepath.Base(input), Path: input}

	if spec.Behavioral() {
		artifact := spec.ArtifactPath(input)

		cand, err := r.compileAndExecute(ctx, spec, spec.Candidate, input, artifact, "candidate")
		if err != nil {
			return Outcome{}, fmt.Errorf("%s candidate: %w", spec.Name, err)
		}
		ref, err := r.compileAndExecute(ctx, spec, spec.Reference, input, artifact, "reference")
		if err != nil {
			return Outcome{}, fmt.Errorf("%s reference: %w", spec.Name, err)
		}
		out.Candidate, out.Reference = cand, ref
		return out, nil
	}

	cand, err := r.RunChain(ctx, spec.Candidate, input)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s candidate: %w", spec.Name, err)
	}
	ref, err := r.RunChain(ctx, spec.Reference, input)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s reference: %w", spec.Name, err)
	}
	out.Candidate, out.Reference = cand, ref
	return out, nil
}

// compileAndExecute removes any stale artifact, runs the compiler pipeline
// and executes the fresh artifact on the VM.
func (r *Runner) compileAndExecute(ctx context.Context, spec stage.Spec, compiler stage.Pipeline, input, artifact, origin string) (Result, error) {
	if err := RemoveArtifact(artifact); err != nil {
		return Result{}, err
	}

	compiled, err := r.RunChain(ctx, compiler, input)
	if err != nil {
		return Result{}, fmt.Errorf("compile: %w", err)
	}
	r.logger.Debug("compiled",
		"stage", spec.Name,
		"origin", origin,
		"input", input,
		"exit_code", compiled.ExitCode,
		"stderr", string(compiled.Stderr),
	)

	executed, err := r.RunChain(ctx, stage.Pipeline{*spec.VM}, artifact)
	if err != nil {
		return Result{}, fmt.Errorf("execute: %w", err)
	}
	return executed, nil
}

// RemoveArtifact deletes path. A missing file is not an error.
func RemoveArtifact(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale artifact %s: %w", path, err)
	}
	return nil
}

// RunChain spawns every command of p, piping each stdout into the next
// stdin, and captures the final command's stdout, stderr and exit code.
//
// A non-zero exit is a Result, not an error. Errors are reserved for
// processes that could not be spawned and for context cancellation.
func (r *Runner) RunChain(ctx context.Context, p stage.Pipeline, input string) (Result, error) {
	if len(p) == 0 {
		return Result{}, errors.New("empty pipeline")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmds := make([]*exec.Cmd, len(p))
	for i, c := range p {
		e := c.Expand(input)
		cmds[i] = command(ctx, e)
	}

	// Parent copies of pipe ends. Each is closed once the child holding it
	// has started; the deferred close covers early returns.
	var ends []*os.File
	closeEnds := func() {
		for _, f := range ends {
			f.Close()
		}
		ends = nil
	}
	defer closeEnds()
	for i := 0; i < len(cmds)-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			return Result{}, fmt.Errorf("create pipe: %w", err)
		}
		ends = append(ends, pr, pw)
		cmds[i].Stdout = pw
		cmds[i+1].Stdin = pr
	}

	upstream := cmds[:len(cmds)-1]
	upstreamStderr := make([]bytes.Buffer, len(upstream))
	var started []*exec.Cmd
	for i, cmd := range upstream {
		cmd.Stderr = &upstreamStderr[i]
		if err := cmd.Start(); err != nil {
			closeEnds()
			killAll(started)
			return Result{}, fmt.Errorf("start %s: %w", cmd.Path, err)
		}
		started = append(started, cmd)
		closeFile(cmd.Stdout)
		if i > 0 {
			closeFile(cmd.Stdin)
		}
	}

	last := cmds[len(cmds)-1]
	var stdout, stderr bytes.Buffer
	last.Stdout = &stdout
	last.Stderr = &stderr
	if err := last.Start(); err != nil {
		closeEnds()
		killAll(started)
		return Result{}, fmt.Errorf("start %s: %w", last.Path, err)
	}
	if len(cmds) > 1 {
		closeFile(last.Stdin)
	}
	waitErr := last.Wait()

	for i, cmd := range started {
		err := cmd.Wait()
		r.logger.Debug("upstream exited",
			"command", cmd.Path,
			"error", err,
			"stderr", upstreamStderr[i].String(),
		)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, fmt.Errorf("%s: %w", p, ctxErr)
	}

	code, err := exitCode(waitErr)
	if err != nil {
		return Result{}, fmt.Errorf("wait %s: %w", last.Path, err)
	}
	return Result{
		ExitCode: code,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

func closeFile(v any) {
	if f, ok := v.(*os.File); ok {
		f.Close()
	}
}

// waitDelay bounds how long Wait keeps reading pipes that an escaped
// descendant still holds open after the child itself is gone.
const waitDelay = 2 * time.Second

func command(ctx context.Context, c stage.Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.SysProcAttr = groupAttr()
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = waitDelay
	return cmd
}

// killAll kills the process groups of cmds and reaps them. Callers close
// their pipe ends first so no process stays blocked on the harness.
func killAll(cmds []*exec.Cmd) {
	for _, cmd := range cmds {
		_ = killGroup(cmd)
		_ = cmd.Wait()
	}
}
