package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/harness"
)

var scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")

// copyScenarios copies the harness fixtures into a writable directory.
func copyScenarios(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	entries, err := os.ReadDir(scenariosDir)
	require.NoError(t, err)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(scenariosDir, e.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, e.Name()), data, 0o644))
	}
	return dir
}

func TestTestCommand_Passes(t *testing.T) {
	out, err := execute(t, NewTestCommand(testOptions(t, "text")), scenariosDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ mark_as_read")
	assert.Contains(t, out, "Test Summary: 4 passed, 0 failed, 4 total")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute(t, NewTestCommand(testOptions(t, "json")), scenariosDir, "--filter", "mark_*")
	require.NoError(t, err)

	var result harness.SuiteResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, "mark_as_read", result.Scenarios[0].Name)
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	dir := copyScenarios(t)

	out, err := execute(t, NewTestCommand(testOptions(t, "text")), dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "Golden file updated")

	goldens, err := filepath.Glob(filepath.Join(dir, "golden", "*"))
	require.NoError(t, err)
	assert.Len(t, goldens, 4)

	_, err = execute(t, NewTestCommand(testOptions(t, "text")), dir)
	require.NoError(t, err)
}

func TestTestCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`name: wrong
partner: {id: 7, name: Demo User}
steps:
  - push: mail.message
    payload: {id: 1}
assertions:
  - type: count
    model: mail.message
    count: 2
`), 0o644))

	out, err := execute(t, NewTestCommand(testOptions(t, "json")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result harness.SuiteResult
	resp := decodeResponse(t, out, &result)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 1, result.Failed)
	assert.NotEmpty(t, result.Scenarios[0].Errors)
}

func TestTestCommand_CommandErrors(t *testing.T) {
	_, err := execute(t, NewTestCommand(testOptions(t, "text")), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")

	out, err := execute(t, NewTestCommand(testOptions(t, "text")), scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeBadInput)
}

func TestTestCommand_NoScenarios(t *testing.T) {
	out, err := execute(t, NewTestCommand(testOptions(t, "text")), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
