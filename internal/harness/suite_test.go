package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyScenarios copies the fixture scenarios into a temp dir so golden
// files can be written next to them.
func copyScenarios(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.Base(f)), data, 0o644))
	}
	return dir
}

func TestRunSuite_Fixtures(t *testing.T) {
	result, err := RunSuite("testdata/scenarios", SuiteOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 4, result.Passed)
	assert.Zero(t, result.Failed)
	for _, s := range result.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
	}
}

func TestRunSuite_Filter(t *testing.T) {
	result, err := RunSuite("testdata/scenarios", SuiteOptions{Filter: "mark_*"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "mark_as_read", result.Scenarios[0].Name)

	_, err = RunSuite("testdata/scenarios", SuiteOptions{Filter: "["})
	assert.ErrorContains(t, err, "invalid filter pattern")
}

func TestRunSuite_MissingDir(t *testing.T) {
	_, err := RunSuite(filepath.Join(t.TempDir(), "nope"), SuiteOptions{})
	assert.ErrorContains(t, err, "scenarios directory")
}

func TestRunSuite_UpdateThenCompare(t *testing.T) {
	dir := copyScenarios(t)

	updated, err := RunSuite(dir, SuiteOptions{Update: true})
	require.NoError(t, err)
	for _, s := range updated.Scenarios {
		assert.True(t, s.GoldenUpdated, s.Name)
	}
	goldens, err := filepath.Glob(filepath.Join(dir, "golden", "*.golden"))
	require.NoError(t, err)
	assert.Len(t, goldens, 4)

	// Golden files live under golden/ and are not picked up as scenarios.
	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 4)

	compared, err := RunSuite(dir, SuiteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, compared.Passed)

	path := filepath.Join(dir, "golden", "mark_as_read.golden")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	mismatched, err := RunSuite(dir, SuiteOptions{Filter: "mark_as_read"})
	require.NoError(t, err)
	require.Equal(t, 1, mismatched.Failed)
	assert.Contains(t, mismatched.Scenarios[0].Errors[0], "golden file mismatch")
}

func TestRunSuite_BrokenScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	result, err := RunSuite(dir, SuiteOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "broken.yaml", result.Scenarios[0].Name)
	assert.Contains(t, result.Scenarios[0].Errors[0], "failed to load scenario")
}
