package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagecheck/internal/testutil"
)

func TestValidate_DefaultSuite(t *testing.T) {
	out, err := executeRoot(t, "validate", "--root", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "✓ Suite valid (4 stages)\n", out)
}

func TestValidate_DefaultSuiteJSON(t *testing.T) {
	out, err := executeRoot(t, "validate", "--root", t.TempDir(), "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"lexer", "parser", "semant", "codegen"}, resp.Data.Stages)
}

const badSuite = `stages:
  - name: lexer
    kind: mystery
    ext: .cool
    candidate: [["bin/new-lexer", "{input}"]]
    reference: [["bin/lexer", "{input}"]]
    folders:
      - dir: tests/lexer
  - name: lexer
    kind: lexer
    candidate: [[]]
    reference: [["bin/lexer", "{input}"]]
    folders:
      - dir: tests/lexer
        ext: .cool
`

func TestValidate_ReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "suite.yaml", badSuite)

	out, err := executeRoot(t, "validate", "--config", filepath.Join(dir, "suite.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E104")
	assert.Contains(t, out, "E103")
	assert.Contains(t, out, "E105")
}

func TestValidate_ReportsEveryProblemJSON(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "suite.yaml", badSuite)

	out, err := executeRoot(t, "validate", "--config", filepath.Join(dir, "suite.yaml"), "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Data.Valid)
	assert.GreaterOrEqual(t, len(resp.Data.Errors), 3)
}

func TestValidate_MissingConfig(t *testing.T) {
	out, err := executeRoot(t, "validate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeConfig)
}

func TestStages_JSON(t *testing.T) {
	root := lexerRepo(t)

	out, err := executeRoot(t, "stages", "--root", root, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data []StageInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 4)

	lexer := resp.Data[0]
	assert.Equal(t, "lexer", lexer.Name)
	assert.Equal(t, "lexer", lexer.Kind)
	assert.True(t, lexer.CandidateBuilt)
	assert.Empty(t, lexer.MissingReference)

	parser := resp.Data[1]
	assert.False(t, parser.CandidateBuilt)
	assert.NotEmpty(t, parser.MissingReference)

	codegen := resp.Data[3]
	assert.NotEmpty(t, codegen.VM)
}

func TestStages_Text(t *testing.T) {
	out, err := executeRoot(t, "stages", "--root", lexerRepo(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Stage")
	assert.Contains(t, out, "codegen")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "no")
}
