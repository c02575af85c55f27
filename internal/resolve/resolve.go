// Package resolve makes sure stage executables exist before a run.
//
// The candidate is rebuilt through its build recipe when asked to, or when
// it is missing. Build failures and missing reference executables are
// reported but never stop the harness: the run proceeds and the broken
// binary shows up as failing comparisons.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/roach88/stagecheck/internal/stage"
)

// Notifier receives human-readable progress.
type Notifier interface {
	Field(label, value string)
	Note(msg string)
	Warn(msg string)
}

// Builder runs one build target in the current working directory.
type Builder interface {
	Build(ctx context.Context, target string) error
}

// MakeBuilder runs `make <target>`.
type MakeBuilder struct {
	Program string // defaults to "make"
	Stdout  io.Writer
	Stderr  io.Writer
}

func (b MakeBuilder) Build(ctx context.Context, target string) error {
	program := b.Program
	if program == "" {
		program = "make"
	}
	cmd := exec.CommandContext(ctx, program, target)
	cmd.Stdout = b.Stdout
	cmd.Stderr = b.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", program, target, err)
	}
	return nil
}

// Request describes what to resolve for one stage.
type Request struct {
	Stage      string
	Candidate  string
	References []string
	Build      stage.Build
	Rebuild    bool
	Sanitizer  stage.Sanitizer
}

// RequestFor builds the request for spec.
func RequestFor(spec stage.Spec, rebuild bool, san stage.Sanitizer) Request {
	return Request{
		Stage:      spec.Name,
		Candidate:  spec.CandidatePath(),
		References: spec.ReferencePaths(),
		Build:      spec.Build,
		Rebuild:    rebuild || san != stage.SanitizerNone,
		Sanitizer:  san,
	}
}

// Resolution reports what Resolve did.
type Resolution struct {
	Skipped           bool     `json:"skipped"`
	Target            string   `json:"target,omitempty"`
	BuildErr          error    `json:"-"`
	MissingReferences []string `json:"missing_references,omitempty"`
}

// Resolver checks and builds stage executables.
type Resolver struct {
	builder  Builder
	notifier Notifier
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver.
func New(b Builder, n Notifier, opts ...Option) *Resolver {
	r := &Resolver{
		builder:  b,
		notifier: n,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve ensures the candidate exists and checks the references.
//
// The returned error is reserved for failures to restore the working
// directory; a failed build is reported in Resolution.BuildErr.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	var res Resolution

	if !req.Rebuild && exists(req.Candidate) {
		res.Skipped = true
		r.logger.Info("skip build", "stage", req.Stage, "candidate", req.Candidate)
		r.notifier.Note(fmt.Sprintf("%s already exists in %s directory. Skip building.",
			filepath.Base(req.Candidate), filepath.Base(filepath.Dir(req.Candidate))))
	} else {
		res.Target = req.Sanitizer.Target(req.Build.Target)
		r.logger.Info("building candidate",
			"stage", req.Stage,
			"dir", req.Build.Dir,
			"target", res.Target,
		)
		err := InDir(req.Build.Dir, func() error {
			return r.builder.Build(ctx, res.Target)
		})
		var dirErr *DirError
		if errors.As(err, &dirErr) && dirErr.Restore {
			return res, err
		}
		if err != nil {
			res.BuildErr = err
			r.logger.Warn("build failed", "stage", req.Stage, "target", res.Target, "error", err)
			r.notifier.Warn(fmt.Sprintf("Build of %s failed: %v", res.Target, err))
		}
	}

	for _, ref := range req.References {
		r.notifier.Field("Reference "+filepath.Base(ref), ref)
		if !exists(ref) {
			res.MissingReferences = append(res.MissingReferences, ref)
			r.logger.Warn("reference executable missing", "stage", req.Stage, "path", ref)
			r.notifier.Warn(fmt.Sprintf("Can't find reference %s!", filepath.Base(ref)))
		}
	}
	return res, nil
}

// DirError reports a failure to enter or restore a working directory.
type DirError struct {
	Dir     string
	Restore bool
	Err     error
}

func (e *DirError) Error() string {
	if e.Restore {
		return fmt.Sprintf("restore working directory %s: %v", e.Dir, e.Err)
	}
	return fmt.Sprintf("enter directory %s: %v", e.Dir, e.Err)
}

func (e *DirError) Unwrap() error {
	return e.Err
}

// InDir runs fn with the process working directory set to dir and restores
// the previous working directory on every exit path, including panics.
//
// Not safe for concurrent use: the working directory is process-wide.
func InDir(dir string, fn func() error) (err error) {
	prev, err := os.Getwd()
	if err != nil {
		return &DirError{Dir: dir, Err: err}
	}
	if err := os.Chdir(dir); err != nil {
		return &DirError{Dir: dir, Err: err}
	}
	defer func() {
		if cerr := os.Chdir(prev); cerr != nil {
			err = &DirError{Dir: prev, Restore: true, Err: cerr}
		}
	}()
	return fn()
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
