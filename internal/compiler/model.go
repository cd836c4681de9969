package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/relgraph/internal/ir"
)

// fieldKeys are the keys a field declaration may carry.
var fieldKeys = map[string]bool{
	"relation":     true,
	"target":       true,
	"inverse":      true,
	"causal":       true,
	"compute":      true,
	"dependencies": true,
	"related":      true,
	"default":      true,
}

// CompileModels parses every model under the top-level `model` struct,
// in declaration order.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`model: "mail.partner": { identity: ["id"], fields: { ... } }`)
//	specs, err := CompileModels(v)
func CompileModels(v cue.Value) ([]ir.ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	modelsVal := v.LookupPath(cue.ParsePath("model"))
	if !modelsVal.Exists() {
		return nil, nil
	}

	iter, err := modelsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []ir.ModelSpec
	for iter.Next() {
		spec, err := CompileModel(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	return specs, nil
}

// CompileModel parses one model struct into a ModelSpec.
//
// A field without a `relation` key is an attribute. Relation fields need
// `relation` and `target`; `inverse`, `causal`, `compute`, `dependencies`,
// `related` and (for attributes) `default` are optional.
func CompileModel(name string, v cue.Value) (*ir.ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ModelSpec{Name: name}

	identVal := v.LookupPath(cue.ParsePath("identity"))
	if identVal.Exists() {
		keys, err := stringList(identVal, "identity")
		if err != nil {
			return nil, err
		}
		spec.Identity = keys
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{
			Field:   "fields",
			Message: fmt.Sprintf("model %s declares no fields", name),
			Pos:     v.Pos(),
		}
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		field, err := compileField(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Fields = append(spec.Fields, field)
	}

	return spec, nil
}

func compileField(name string, v cue.Value) (ir.FieldSpec, error) {
	field := ir.FieldSpec{Name: name, Kind: ir.KindAttribute}

	iter, err := v.Fields()
	if err != nil {
		return field, formatCUEError(err)
	}
	for iter.Next() {
		if !fieldKeys[iter.Label()] {
			return field, &CompileError{
				Field:   name + "." + iter.Label(),
				Message: "unknown field key",
				Pos:     iter.Value().Pos(),
			}
		}
	}

	if rel := v.LookupPath(cue.ParsePath("relation")); rel.Exists() {
		kind, err := rel.String()
		if err != nil {
			return field, formatCUEError(err)
		}
		field.Kind = ir.KindRelation
		field.Relation = ir.RelationKind(kind)
	}

	if field.Target, err = optionalString(v, "target"); err != nil {
		return field, err
	}
	if field.Inverse, err = optionalString(v, "inverse"); err != nil {
		return field, err
	}
	if field.Compute, err = optionalString(v, "compute"); err != nil {
		return field, err
	}
	if field.Related, err = optionalString(v, "related"); err != nil {
		return field, err
	}

	if causal := v.LookupPath(cue.ParsePath("causal")); causal.Exists() {
		b, err := causal.Bool()
		if err != nil {
			return field, formatCUEError(err)
		}
		field.IsCausal = b
	}

	if deps := v.LookupPath(cue.ParsePath("dependencies")); deps.Exists() {
		list, err := stringList(deps, name+".dependencies")
		if err != nil {
			return field, err
		}
		field.Dependencies = list
	}

	if def := v.LookupPath(cue.ParsePath("default")); def.Exists() {
		val, err := cueToIR(def)
		if err != nil {
			return field, err
		}
		field.Default = val
	}

	return field, nil
}

// cueToIR converts a concrete CUE value into an IRValue.
func cueToIR(v cue.Value) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for iter.Next() {
			elem, err := cueToIR(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			elem, err := cueToIR(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "default",
			Message: "float values are not allowed",
			Pos:     v.Pos(),
		}
	}
	return nil, &CompileError{
		Field:   "default",
		Message: fmt.Sprintf("default must be concrete, got %v", v.IncompleteKind()),
		Pos:     v.Pos(),
	}
}

func optionalString(v cue.Value, key string) (string, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: "must be a list of strings",
			Pos:     v.Pos(),
		}
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError reports a malformed model file with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

// CompileSource compiles a single CUE source file and returns its models.
func CompileSource(filename string, src []byte) ([]ir.ModelSpec, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	return CompileModels(v)
}
