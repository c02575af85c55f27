package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeRoot runs the full command tree and returns its stdout.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "stagecheck", cmd.Use)
	assert.Contains(t, cmd.Long, "reference implementation")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"run"}, {"stages"}, {"validate"}, {"history"},
		{"history", "list"}, {"history", "show"}, {"history", "diff"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	for _, name := range []string{"config", "root", "no-color"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for _, name := range []string{"build", "asan", "ubsan", "keep-going", "ignore-failures", "timeout", "db"} {
		assert.NotNil(t, run.Flags().Lookup(name), name)
	}
	assert.Equal(t, "0s", run.Flags().Lookup("timeout").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := executeRoot(t, "stages", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestHistoryRequiresDB(t *testing.T) {
	_, err := executeRoot(t, "history", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
}

func TestHistoryMissingDatabase(t *testing.T) {
	out, err := executeRoot(t, "history", "list", "--db", "/nonexistent/history.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "history database not found")
}

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"run", "-build"}, []string{"run", "--build"}},
		{[]string{"run", "semant", "-asan"}, []string{"run", "semant", "--asan"}},
		{[]string{"run", "-ubsan", "-v"}, []string{"run", "--ubsan", "-v"}},
		{[]string{"run", "--", "-build"}, []string{"run", "--", "-build"}},
		{nil, []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeArgs(tt.in))
	}

	in := []string{"-build"}
	NormalizeArgs(in)
	assert.Equal(t, []string{"-build"}, in, "input is not modified")
}

func TestColorEnabled(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	assert.False(t, colorEnabled(&RootOptions{Format: "text"}))
}

func TestColorEnabled_Flags(t *testing.T) {
	assert.False(t, colorEnabled(&RootOptions{Format: "text", NoColor: true}))
	assert.False(t, colorEnabled(&RootOptions{Format: "json"}))
}
