package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/relgraph/internal/ir"
)

// GoldenBytes renders a scenario result as canonical JSON: the trace and
// the final snapshot. Two runs of the same scenario render identically.
func GoldenBytes(name string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		trace[i] = ev.Object()
	}
	data, err := ir.MarshalCanonical(map[string]any{
		"scenario_name": name,
		"trace":         trace,
		"snapshot":      result.Snapshot.Object(),
	})
	if err != nil {
		return nil, fmt.Errorf("golden %s: %w", name, err)
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its golden rendering with
// testdata/golden/{scenario.Name}.golden. opts are applied after the
// defaults, so goldie.WithFixtureDir can point elsewhere.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...goldie.Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result, opts...); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	data, err := GoldenBytes(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	}, opts...)...)
	g.Assert(t, name, data)
	return nil
}

// GoldenPath returns where the golden file of a scenario file lives:
// golden/<base>.golden next to it.
func GoldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// WriteGolden stores data at path, creating the directory.
func WriteGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether the file at path holds exactly data. A
// missing file reports false with os.ErrNotExist.
func CompareGolden(path string, data []byte) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, data), nil
}
