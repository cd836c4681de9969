package harness

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SuiteOptions controls RunSuite.
type SuiteOptions struct {
	// Filter is a glob over scenario file names without extension.
	Filter string

	// Update rewrites golden files instead of comparing them.
	Update bool
}

// ScenarioOutcome is the result of one scenario file in a suite.
type ScenarioOutcome struct {
	Name          string   `json:"name"`
	Path          string   `json:"path"`
	Pass          bool     `json:"pass"`
	GoldenUpdated bool     `json:"golden_updated,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
}

// FindScenarios walks dir for .yaml and .yml files whose base name matches
// filter (any name if filter is empty). Files under golden/ are skipped.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(d.Name(), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// RunSuite runs every scenario under dir. A scenario passes when its
// steps and assertions pass and, if it has a golden file, the rendering
// matches it. With opts.Update the golden file is rewritten instead.
func RunSuite(dir string, opts SuiteOptions) (*SuiteResult, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("scenarios directory: %w", err)
	}
	files, err := FindScenarios(dir, opts.Filter)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{Scenarios: make([]ScenarioOutcome, 0, len(files))}
	for _, file := range files {
		outcome := runFile(file, opts.Update)
		result.Scenarios = append(result.Scenarios, outcome)
		result.Total++
		if outcome.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

func runFile(file string, update bool) ScenarioOutcome {
	outcome := ScenarioOutcome{Name: filepath.Base(file), Path: file}
	fail := func(format string, args ...any) ScenarioOutcome {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf(format, args...))
		outcome.Pass = false
		return outcome
	}

	scenario, err := LoadScenario(file)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	outcome.Name = scenario.Name

	result, err := Run(scenario)
	if err != nil {
		return fail("execution failed: %v", err)
	}
	outcome.Pass = result.Pass
	outcome.Errors = result.Errors

	data, err := GoldenBytes(scenario.Name, result)
	if err != nil {
		return fail("%v", err)
	}
	path := GoldenPath(file)
	if update {
		if err := WriteGolden(path, data); err != nil {
			return fail("%v", err)
		}
		outcome.GoldenUpdated = true
		return outcome
	}

	match, err := CompareGolden(path, data)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No golden file: assertions alone decide.
	case err != nil:
		return fail("golden comparison failed: %v", err)
	case !match:
		return fail("golden file mismatch (run with --update to regenerate)")
	}
	return outcome
}
