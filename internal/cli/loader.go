package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/relgraph/internal/compiler"
	"github.com/roach88/relgraph/internal/engine"
	"github.com/roach88/relgraph/internal/ir"
)

// LoadMode controls how errors are handled while loading models.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the models loaded from a directory.
type LoadResult struct {
	Models    []ir.ModelSpec
	CUEValue  cue.Value
	FileCount int
}

// LoadError is an error met while loading models, with its CUE position
// when one is known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes shared by all commands. Model declaration errors use the
// compiler's E1xx codes.
const (
	ErrCodeGeneric        = "E001" // Generic/unknown error
	ErrCodeScanError      = "E002" // Directory scan error
	ErrCodeNoFiles        = "E003" // No CUE files found
	ErrCodeLoadFailed     = "E004" // CUE load failed
	ErrCodeNotFound       = "E005" // Path not found
	ErrCodeBuildFailed    = "E006" // CUE build failed
	ErrCodeWriteFailed    = "E007" // File write error
	ErrCodeNoModels       = "E008" // Directory declares no models
	ErrCodeUnknownKey     = "E009" // Unknown key in a field declaration
	ErrCodeBadValue       = "E010" // Value of the wrong shape
	ErrCodeBadInput       = "E011" // Unreadable payload or argument
	ErrCodeJournal        = "E012" // Journal read or write failed
	ErrCodeRemote         = "E013" // Remote call failed
	ErrCodeTestFailed     = "E_TEST_FAILED"
	ErrCodeNondeterminism = "E_DETERMINISM"
)

// LoadModels loads the CUE package in dir and compiles every model under
// its `model` struct.
func LoadModels(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("models directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing models directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{CUEValue: value, FileCount: len(cueFiles)}

	modelsVal := value.LookupPath(cue.ParsePath("model"))
	if !modelsVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeNoModels, Message: "no models found"}}
	}
	iter, err := modelsVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating models: %v", err)}}
	}

	var errs []error
	for iter.Next() {
		name := iter.Selector().Unquoted()
		spec, err := compiler.CompileModel(name, iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "model."+name))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Models = append(result.Models, *spec)
	}

	if len(result.Models) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoModels, Message: "no models found"})
	}
	return result, errs
}

// FindCUEFiles walks dir and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with
// position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field, compileErr.Message),
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// MapFieldToErrorCode maps the field of a compile error to an error code.
func MapFieldToErrorCode(field, message string) string {
	switch {
	case field == "fields":
		return ErrCodeNoModels
	case message == "unknown field key":
		return ErrCodeUnknownKey
	case field == "identity", field == "default", strings.HasSuffix(field, ".dependencies"):
		return ErrCodeBadValue
	default:
		return ErrCodeGeneric
	}
}

// sealModels declares specs on a fresh schema and seals it. Compute names
// are bound to placeholders, so only the declarations are checked.
func sealModels(specs []ir.ModelSpec) (*engine.Schema, error) {
	placeholder := func(*engine.Record) (any, error) { return nil, nil }

	s := engine.NewSchema()
	for _, spec := range specs {
		computes := make(map[string]engine.ComputeFunc)
		for _, f := range spec.Fields {
			if f.Compute != "" {
				computes[f.Compute] = placeholder
			}
		}
		if err := s.Declare(spec, computes); err != nil {
			return nil, err
		}
	}
	if err := s.Seal(); err != nil {
		return nil, err
	}
	return s, nil
}
