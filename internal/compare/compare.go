// Package compare decides whether a candidate matches its reference.
//
// Each stage kind has a Policy. Policies are pure functions of a
// runner.Outcome; they never touch the filesystem or spawn processes.
//
//	lexer, codegen  ExactStdout  stdouts byte-equal
//	parser, semant  Diagnostic   empty candidate stderr and (stdouts equal
//	                             or candidate stdout found in reference stderr)
//	e2e             ExitParity   exit codes agree, then as Diagnostic keyed
//	                             on whether the reference wrote to stderr
//
// Folders with an ignore list wrap their policy in Ignoring.
package compare

import (
	"bytes"
	"fmt"

	"github.com/roach88/stagecheck/internal/runner"
	"github.com/roach88/stagecheck/internal/stage"
)

// Status is the per-file determination.
type Status int

const (
	StatusPass Status = iota
	StatusFail
	StatusPassIgnored
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusPassIgnored:
		return "pass-ignored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus converts the String form back to a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusPass, StatusFail, StatusPassIgnored} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Passed reports Pass or PassIgnored.
func (s Status) Passed() bool {
	return s == StatusPass || s == StatusPassIgnored
}

// Verdict is the comparison result for one input file. Both results come
// from the same Outcome.
type Verdict struct {
	Input     string
	Status    Status
	Reason    string
	Candidate runner.Result
	Reference runner.Result
}

func newVerdict(o runner.Outcome, s Status, reason string) Verdict {
	return Verdict{
		Input:     o.Input,
		Status:    s,
		Reason:    reason,
		Candidate: o.Candidate,
		Reference: o.Reference,
	}
}

// Policy compares the two results of an outcome. ok is false when no
// verdict is recorded for the file.
type Policy interface {
	Compare(o runner.Outcome) (v Verdict, ok bool)
}

// ExactStdout passes iff both stdouts are byte-identical.
type ExactStdout struct{}

func (ExactStdout) Compare(o runner.Outcome) (Verdict, bool) {
	if bytes.Equal(o.Candidate.Stdout, o.Reference.Stdout) {
		return newVerdict(o, StatusPass, ""), true
	}
	return newVerdict(o, StatusFail, "stdout differs"), true
}

// Diagnostic passes iff the candidate wrote nothing to stderr and its stdout
// either equals the reference stdout or appears verbatim inside the
// reference stderr. The reference reports some diagnostics on stderr with
// surrounding context only the core of which the candidate reproduces.
type Diagnostic struct{}

func (Diagnostic) Compare(o runner.Outcome) (Verdict, bool) {
	if len(o.Candidate.Stderr) != 0 {
		return newVerdict(o, StatusFail, "candidate wrote to stderr"), true
	}
	if bytes.Equal(o.Candidate.Stdout, o.Reference.Stdout) {
		return newVerdict(o, StatusPass, ""), true
	}
	if bytes.Contains(o.Reference.Stderr, o.Candidate.Stdout) {
		return newVerdict(o, StatusPass, "matched reference stderr"), true
	}
	return newVerdict(o, StatusFail, "stdout differs"), true
}

// ExitParity requires both implementations to agree on success, an empty
// candidate stderr, and then: when the reference wrote to stderr the
// candidate stdout must be contained in it, otherwise the stdouts must be
// equal.
type ExitParity struct{}

func (ExitParity) Compare(o runner.Outcome) (Verdict, bool) {
	if o.Candidate.Succeeded() != o.Reference.Succeeded() {
		return newVerdict(o, StatusFail, fmt.Sprintf("exit code %d, reference %d", o.Candidate.ExitCode, o.Reference.ExitCode)), true
	}
	if len(o.Candidate.Stderr) != 0 {
		return newVerdict(o, StatusFail, "candidate wrote to stderr"), true
	}
	if len(o.Reference.Stderr) != 0 {
		if bytes.Contains(o.Reference.Stderr, o.Candidate.Stdout) {
			return newVerdict(o, StatusPass, "matched reference stderr"), true
		}
		return newVerdict(o, StatusFail, "stdout not found in reference stderr"), true
	}
	if bytes.Equal(o.Candidate.Stdout, o.Reference.Stdout) {
		return newVerdict(o, StatusPass, ""), true
	}
	return newVerdict(o, StatusFail, "stdout differs"), true
}

// IgnoreMode decides what an ignored file that exits non-zero records.
type IgnoreMode int

const (
	// IgnoreSkip records nothing: a listed file either passes as ignored
	// or silently drops out of the report.
	IgnoreSkip IgnoreMode = iota
	// IgnoreFail records a normal failure.
	IgnoreFail
)

func (m IgnoreMode) String() string {
	if m == IgnoreFail {
		return "fail"
	}
	return "skip"
}

// ParseIgnoreMode converts "skip" or "fail" to an IgnoreMode.
func ParseIgnoreMode(s string) (IgnoreMode, error) {
	switch s {
	case "skip", "":
		return IgnoreSkip, nil
	case "fail":
		return IgnoreFail, nil
	default:
		return 0, fmt.Errorf("unknown ignore mode %q: must be skip or fail", s)
	}
}

// Ignoring consults List before delegating to Next. A listed file is
// PassIgnored when the candidate exits zero, whatever it printed. Listing
// never turns a pass into a failure.
type Ignoring struct {
	List stage.IgnoreList
	Mode IgnoreMode
	Next Policy
}

func (p Ignoring) Compare(o runner.Outcome) (Verdict, bool) {
	if !p.List.Contains(o.Input) {
		return p.Next.Compare(o)
	}
	if o.Candidate.Succeeded() {
		return newVerdict(o, StatusPassIgnored, "ignore list"), true
	}
	if p.Mode == IgnoreFail {
		return newVerdict(o, StatusFail, fmt.Sprintf("ignored file exited %d", o.Candidate.ExitCode)), true
	}
	return Verdict{}, false
}

// ForKind returns the base policy of a stage kind.
func ForKind(k stage.Kind) Policy {
	switch k {
	case stage.KindParser, stage.KindSemantic:
		return Diagnostic{}
	case stage.KindE2E:
		return ExitParity{}
	default:
		return ExactStdout{}
	}
}

// ForFolder returns the policy for one folder of a stage, wrapping the base
// policy when the folder lists ignored files.
func ForFolder(k stage.Kind, f stage.Folder, mode IgnoreMode) Policy {
	base := ForKind(k)
	if len(f.Ignore) == 0 {
		return base
	}
	return Ignoring{List: f.Ignore, Mode: mode, Next: base}
}
