package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/compiler"
	"github.com/roach88/relgraph/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string
}

// CompilationResult is the compiled form of a models directory.
type CompilationResult struct {
	SchemaHash string         `json:"schema_hash"`
	Models     []ir.ModelSpec `json:"models"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <models-dir>",
		Short: "Compile CUE models to canonical IR",
		Long: `Compile the CUE models in a directory to canonical IR.

The output lists every model with its identity keys and fields, and the
schema hash the journal records. With --output the canonical JSON is
written to a file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	return cmd
}

func runCompile(opts *CompileOptions, modelsDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadModels(modelsDir, LoadModeCollectAll)
	if loadResult == nil {
		return loadFailure(formatter, loadErrors[0])
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, modelsDir)
	for _, m := range loadResult.Models {
		formatter.VerboseLog("Compiling model: %s", m.Name)
	}
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}
	if verrs := compiler.ValidateSet(loadResult.Models); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, v := range verrs {
			errs[i] = &LoadError{Code: v.Code, Message: v.Error()}
		}
		return outputCompileErrors(formatter, errs)
	}

	hash, err := ir.SchemaHash(loadResult.Models)
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, err.Error())
	}
	result := CompilationResult{SchemaHash: hash, Models: loadResult.Models}

	if opts.Output != "" {
		if err := writeIR(result, opts.Output); err != nil {
			return commandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d model(s)\n\n", len(result.Models))
	for _, m := range result.Models {
		relations, derived := 0, 0
		for _, f := range m.Fields {
			if f.IsRelation() {
				relations++
			}
			if f.IsDerived() {
				derived++
			}
		}
		identity := "singleton"
		if !m.Singleton() {
			identity = fmt.Sprintf("%v", m.Identity)
		}
		fmt.Fprintf(formatter.Writer, "  %s %s: %d field(s), %d relation(s), %d derived\n",
			m.Name, identity, len(m.Fields), relations, derived)
	}
	fmt.Fprintf(formatter.Writer, "\nSchema hash: %s\n", hash)
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote canonical IR to %s\n", opts.Output)
	}
	return nil
}

func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	exit := NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}
		if err := formatter.Failure(cliErrors[0].Code, cliErrors[0].Message, cliErrors); err != nil {
			return err
		}
		return exit
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}
	return exit
}

func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeIR writes the models as canonical JSON: the same bytes the schema
// hash is computed over, plus the hash.
func writeIR(result CompilationResult, filename string) error {
	models := make(ir.IRArray, len(result.Models))
	for i, m := range result.Models {
		models[i] = m.Object()
	}
	data, err := ir.MarshalCanonical(ir.IRObject{
		"schema_hash": ir.IRString(result.SchemaHash),
		"models":      models,
	})
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}
	return os.WriteFile(filename, append(data, '\n'), 0o644)
}
