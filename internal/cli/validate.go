package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/compiler"
	"github.com/roach88/relgraph/internal/engine"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Models     int                        `json:"models"`
	SchemaHash string                     `json:"schema_hash,omitempty"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <models-dir>",
		Short: "Validate CUE model declarations",
		Long: `Compile the CUE models in a directory and check them as a set:
field shapes, identity keys, relation targets, inverse pairing and
dependency cycles among derived fields. A valid set is sealed into a
schema and its hash is reported.

Exit codes:
  0 - All models valid
  1 - Declaration errors
  2 - Command error (missing directory, unreadable CUE)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, modelsDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadModels(modelsDir, LoadModeCollectAll)
	if loadResult == nil {
		return loadFailure(formatter, loadErrors[0])
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, modelsDir)

	var verrs []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			verrs = append(verrs, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr),
			})
		}
	}

	for _, m := range loadResult.Models {
		formatter.VerboseLog("Validating model: %s", m.Name)
	}
	verrs = append(verrs, compiler.ValidateSet(loadResult.Models)...)

	result := ValidationResult{Models: len(loadResult.Models), Errors: verrs}
	if len(verrs) == 0 {
		schema, err := sealModels(loadResult.Models)
		if err != nil {
			result.Errors = append(result.Errors, schemaValidationError(err))
		} else {
			result.SchemaHash = schema.Hash()
		}
	}
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d model(s) valid\n", result.Models)
	fmt.Fprintf(formatter.Writer, "Schema hash: %s\n", result.SchemaHash)
	return nil
}

func schemaValidationError(err error) compiler.ValidationError {
	var se *engine.SchemaError
	if errors.As(err, &se) {
		return compiler.ValidationError{Model: se.Model, Field: se.Field, Message: se.Message, Code: se.Code}
	}
	return compiler.ValidationError{Field: "schema", Message: err.Error(), Code: ErrCodeGeneric}
}

// loadFailure reports an error that stopped loading altogether.
func loadFailure(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return commandError(formatter, loadErr.Code, loadErr.Message)
	}
	return commandError(formatter, ErrCodeGeneric, err.Error())
}

func lineOf(err *LoadError) int {
	if err.Pos.IsValid() {
		return err.Pos.Line()
	}
	return 0
}

func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	exit := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		if err := formatter.Failure(errs[0].Code, errs[0].Message, result); err != nil {
			return err
		}
		return exit
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		where := err.Field
		if err.Model != "" {
			where = err.Model + "." + err.Field
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, where, err.Message)
	}
	return exit
}
