package driver

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagecheck/internal/compare"
	"github.com/roach88/stagecheck/internal/report"
	"github.com/roach88/stagecheck/internal/runner"
	"github.com/roach88/stagecheck/internal/stage"
	"github.com/roach88/stagecheck/internal/testutil"
)

// fakeRunner returns canned outcomes keyed by base filename.
type fakeRunner struct {
	outcomes map[string]runner.Outcome
	calls    []string
	err      error
}

func (f *fakeRunner) Run(_ context.Context, _ stage.Spec, input string) (runner.Outcome, error) {
	name := filepath.Base(input)
	f.calls = append(f.calls, name)
	if f.err != nil {
		return runner.Outcome{}, f.err
	}
	o := f.outcomes[name]
	o.Input = name
	o.Path = input
	return o, nil
}

type memRecorder struct {
	entries []Entry
}

func (m *memRecorder) Record(_ context.Context, e Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func same(s string) runner.Outcome {
	return runner.Outcome{
		Candidate: runner.Result{Stdout: []byte(s)},
		Reference: runner.Result{Stdout: []byte(s)},
	}
}

func differ() runner.Outcome {
	return runner.Outcome{
		Candidate: runner.Result{Stdout: []byte("mine\n")},
		Reference: runner.Result{Stdout: []byte("theirs\n")},
	}
}

func corpus(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		testutil.WriteFile(t, dir, n, "class Main {};\n")
	}
	return dir
}

func TestListInputs_FiltersByExtension(t *testing.T) {
	dir := corpus(t, "a.test", "b.test", "notes.txt", "c.cl")
	testutil.WriteFile(t, dir, "sub/d.test", "")

	got, err := ListInputs(dir, ".test")
	require.NoError(t, err)

	var names []string
	for _, p := range got {
		names = append(names, filepath.Base(p))
	}
	assert.ElementsMatch(t, []string{"a.test", "b.test"}, names)
}

func TestListInputs_MissingDir(t *testing.T) {
	_, err := ListInputs(filepath.Join(t.TempDir(), "nope"), ".cl")
	require.Error(t, err)
}

func TestRunFolder_AllPass(t *testing.T) {
	dir := corpus(t, "a.cool", "b.cool", "c.cool")
	fr := &fakeRunner{outcomes: map[string]runner.Outcome{
		"a.cool": same("1"), "b.cool": same("2"), "c.cool": same("3"),
	}}
	var buf bytes.Buffer
	rec := &memRecorder{}
	d := New(fr, report.New(&buf), WithRecorder(rec))

	spec := stage.Spec{Name: "lexer", Kind: stage.KindLexer, Ext: ".cool"}
	got, err := d.RunFolder(context.Background(), spec, stage.Folder{Dir: dir, Label: "end-to-end"})
	require.NoError(t, err)

	assert.Equal(t, 3, got.Count())
	assert.Equal(t, 0, got.Failed())
	assert.False(t, got.Halted)
	assert.Equal(t, "end-to-end", got.Folder)
	require.Len(t, rec.entries, 3)
	for i, e := range rec.entries {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, "lexer", e.Stage)
	}

	out := buf.String()
	assert.Contains(t, out, "START end-to-end TESTS!")
	assert.Contains(t, out, "1) ")
	assert.Contains(t, out, "3) ")
	assert.Contains(t, out, "END TESTS!")
}

func TestRunFolder_HaltsOnFirstFailure(t *testing.T) {
	dir := corpus(t, "a.cool", "b.cool", "c.cool")
	fr := &fakeRunner{outcomes: map[string]runner.Outcome{
		"a.cool": same("1"), "b.cool": differ(), "c.cool": same("3"),
	}}
	var buf bytes.Buffer
	d := New(fr, report.New(&buf))

	spec := stage.Spec{Name: "lexer", Kind: stage.KindLexer, Ext: ".cool"}
	got, err := d.RunFolder(context.Background(), spec, stage.Folder{Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.cool", "b.cool"}, fr.calls)
	assert.Equal(t, 2, got.Count())
	assert.Equal(t, 1, got.Failed())
	assert.True(t, got.Halted)

	out := buf.String()
	assert.Contains(t, out, "[FAILED]")
	assert.Contains(t, out, `new-lexer-stdout:`)
	assert.Contains(t, out, `reference-lexer-stdout:`)
	assert.Contains(t, out, "END TESTS!")
	assert.NotContains(t, out, "c.cool")
}

func TestRunFolder_KeepGoing(t *testing.T) {
	dir := corpus(t, "a.cool", "b.cool", "c.cool")
	fr := &fakeRunner{outcomes: map[string]runner.Outcome{
		"a.cool": differ(), "b.cool": same("2"), "c.cool": differ(),
	}}
	d := New(fr, report.New(&bytes.Buffer{}), WithHaltOnFailure(false))

	spec := stage.Spec{Name: "lexer", Kind: stage.KindLexer, Ext: ".cool"}
	got, err := d.RunFolder(context.Background(), spec, stage.Folder{Dir: dir})
	require.NoError(t, err)

	assert.Len(t, fr.calls, 3)
	assert.Equal(t, 2, got.Failed())
	assert.False(t, got.Halted)
}

func TestRunFolder_IgnoredNonZeroExitRecordsNothing(t *testing.T) {
	dir := corpus(t, "cycle.test", "ok.test")
	fr := &fakeRunner{outcomes: map[string]runner.Outcome{
		"cycle.test": {Candidate: runner.Result{ExitCode: 1}},
		"ok.test":    same("fine\n"),
	}}
	var buf bytes.Buffer
	d := New(fr, report.New(&buf))

	spec := stage.Spec{Name: "semant", Kind: stage.KindSemantic, Ext: ".test"}
	folder := stage.Folder{Dir: dir, Ignore: stage.NewIgnoreList("cycle.test")}
	got, err := d.RunFolder(context.Background(), spec, folder)
	require.NoError(t, err)

	// Run continues past the dropped file.
	assert.Len(t, fr.calls, 2)
	assert.Equal(t, 1, got.Count())
	assert.Equal(t, []string{"cycle.test"}, got.Skipped)
	assert.NotContains(t, buf.String(), "cycle.test")
	assert.Equal(t, 1, got.Summary().Skipped)
}

func TestRunFolder_IgnoreFailMode(t *testing.T) {
	dir := corpus(t, "cycle.test")
	fr := &fakeRunner{outcomes: map[string]runner.Outcome{
		"cycle.test": {Candidate: runner.Result{ExitCode: 1}},
	}}
	d := New(fr, report.New(&bytes.Buffer{}), WithIgnoreMode(compare.IgnoreFail))

	spec := stage.Spec{Name: "semant", Kind: stage.KindSemantic, Ext: ".test"}
	got, err := d.RunFolder(context.Background(), spec, stage.Folder{Dir: dir, Ignore: stage.NewIgnoreList("cycle.test")})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Failed())
}

func TestRunFolder_RunnerErrorPropagates(t *testing.T) {
	dir := corpus(t, "a.cool")
	fr := &fakeRunner{err: errors.New("exec: no such file")}
	d := New(fr, report.New(&bytes.Buffer{}))

	_, err := d.RunFolder(context.Background(), stage.Spec{Name: "lexer", Ext: ".cool"}, stage.Folder{Dir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")
}

func TestRunStage_HaltDoesNotSkipLaterFolders(t *testing.T) {
	e2e := corpus(t, "bad.test", "later.test")
	examples := corpus(t, "hello.cl")
	fr := &fakeRunner{outcomes: map[string]runner.Outcome{
		"bad.test": differ(), "later.test": same(""), "hello.cl": same(""),
	}}
	d := New(fr, report.New(&bytes.Buffer{}))

	spec := stage.Spec{
		Name: "semant",
		Kind: stage.KindSemantic,
		Ext:  ".test",
		Folders: []stage.Folder{
			{Dir: e2e, Label: "end-to-end"},
			{Dir: examples, Ext: ".cl", Label: "examples"},
		},
	}
	sr, err := d.RunStage(context.Background(), spec)
	require.NoError(t, err)

	require.Len(t, sr.Folders, 2)
	assert.True(t, sr.Folders[0].Halted)
	assert.Equal(t, 1, sr.Folders[1].Count())
	assert.False(t, sr.OK())
	assert.NotContains(t, fr.calls, "later.test")
	assert.Contains(t, fr.calls, "hello.cl")
}

// Scenario B end to end with real processes: the ignored file passes
// whenever the candidate exits zero, and is dropped otherwise.
func TestRunFolder_SemantIgnoreListWithProcesses(t *testing.T) {
	bin := t.TempDir()
	candidate := testutil.Script(t, bin, "new-semant", `case "$1" in *cycle.test) exit "$(cat "$1")";; esac; echo ok`)
	lexer := testutil.Script(t, bin, "lexer", `cat "$1"`)
	parser := testutil.Script(t, bin, "parser", `cat >/dev/null; echo parsed`)
	semant := testutil.Script(t, bin, "semant", `cat >/dev/null; echo ok`)

	spec := stage.Spec{
		Name:      "semant",
		Kind:      stage.KindSemantic,
		Ext:       ".test",
		Candidate: stage.Pipeline{stage.NewCommand(candidate, stage.InputPlaceholder)},
		Reference: stage.Pipeline{
			stage.NewCommand(lexer, stage.InputPlaceholder),
			stage.NewCommand(parser),
			stage.NewCommand(semant),
		},
	}

	run := func(exit string) FolderReport {
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "cycle.test", exit)
		testutil.WriteFile(t, dir, "plain.test", "class Main {};")
		d := New(runner.New(), report.New(&bytes.Buffer{}))
		fr, err := d.RunFolder(context.Background(), spec, stage.Folder{Dir: dir, Ignore: stage.NewIgnoreList("cycle.test")})
		require.NoError(t, err)
		return fr
	}

	passing := run("0")
	require.Equal(t, 2, passing.Count())
	statuses := map[string]compare.Status{}
	for _, v := range passing.Verdicts {
		statuses[v.Input] = v.Status
	}
	assert.Equal(t, compare.StatusPassIgnored, statuses["cycle.test"])
	assert.Equal(t, compare.StatusPass, statuses["plain.test"])

	failing := run("1")
	require.Equal(t, 1, failing.Count())
	assert.Equal(t, "plain.test", failing.Verdicts[0].Input)
	assert.Equal(t, []string{"cycle.test"}, failing.Skipped)
}

// Running twice against unchanged binaries and corpus yields the same
// verdict sequence.
func TestRunFolder_Deterministic(t *testing.T) {
	bin := t.TempDir()
	candidate := testutil.Script(t, bin, "new-lexer", `wc -c < "$1"`)
	reference := testutil.Script(t, bin, "lexer", `if grep -q bad "$1"; then echo 0; else wc -c < "$1"; fi`)
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.cool", "aaa")
	testutil.WriteFile(t, dir, "bad.cool", "bad")
	testutil.WriteFile(t, dir, "c.cool", "c")

	spec := stage.Spec{
		Name:      "lexer",
		Kind:      stage.KindLexer,
		Ext:       ".cool",
		Candidate: stage.Pipeline{stage.NewCommand(candidate, stage.InputPlaceholder)},
		Reference: stage.Pipeline{stage.NewCommand(reference, stage.InputPlaceholder)},
	}

	sequence := func() []string {
		d := New(runner.New(), report.New(&bytes.Buffer{}), WithHaltOnFailure(false))
		fr, err := d.RunFolder(context.Background(), spec, stage.Folder{Dir: dir})
		require.NoError(t, err)
		var seq []string
		for _, v := range fr.Verdicts {
			seq = append(seq, v.Input+":"+v.Status.String())
		}
		return seq
	}

	first := sequence()
	assert.Equal(t, []string{"a.cool:pass", "bad.cool:fail", "c.cool:pass"}, first)
	assert.Equal(t, first, sequence())
}

func TestSignalString(t *testing.T) {
	assert.Equal(t, "continue", Continue.String())
	assert.Equal(t, "halt", Halt.String())
}
