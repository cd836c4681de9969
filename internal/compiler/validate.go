package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/relgraph/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// Model errors (E101-E119)
	ErrModelNameEmpty       = "E101" // model name is required
	ErrDuplicateField       = "E102" // field declared twice
	ErrInvalidRelation      = "E103" // unknown relation kind
	ErrMissingTarget        = "E104" // relation without target
	ErrComputeAndRelated    = "E105" // compute and related are exclusive
	ErrForeignDependency    = "E106" // dependency names a field outside the model
	ErrInvalidIdentity      = "E107" // identity key unknown or not usable
	ErrInvalidRelatedPath   = "E108" // related path malformed
	ErrRelationDefault      = "E109" // default on a relation field
	ErrDependencyCycle      = "E110" // cycle among derived fields
	ErrAttributeInverse     = "E111" // inverse/causal/target on an attribute
	ErrDependenciesNoDerive = "E112" // dependencies without compute
	ErrInvalidFieldName     = "E113" // field name is not an identifier

	// Cross-model errors (E120-E129)
	ErrUnknownTarget       = "E120" // relation target model not declared
	ErrMissingInverse      = "E121" // inverse field not declared on target
	ErrInverseMismatch     = "E122" // inverse does not point back
	ErrInverseKindMismatch = "E123" // inverse kind incompatible
	ErrConflictingInverse  = "E124" // two fields claim the same inverse
	ErrDuplicateModel      = "E125" // model declared twice
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationError represents a declaration error.
type ValidationError struct {
	Model   string `json:"model,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	where := e.Field
	if e.Model != "" {
		where = e.Model + "." + e.Field
	}
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, where, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, where, e.Message)
}

// Validate checks one model on its own.
// Returns all errors found (does not fail-fast).
func Validate(spec ir.ModelSpec) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Model:   spec.Name,
			Field:   field,
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if strings.TrimSpace(spec.Name) == "" {
		add("name", ErrModelNameEmpty, "model name is required")
	}

	fields := make(map[string]ir.FieldSpec, len(spec.Fields))
	for _, f := range spec.Fields {
		if _, dup := fields[f.Name]; dup {
			add(f.Name, ErrDuplicateField, "field declared more than once")
			continue
		}
		fields[f.Name] = f
		if !fieldNamePattern.MatchString(f.Name) {
			add(f.Name, ErrInvalidFieldName, "field name must be an identifier")
		}
	}

	for _, f := range spec.Fields {
		if f.IsRelation() {
			if !ir.ValidRelationKinds[f.Relation] {
				add(f.Name, ErrInvalidRelation, "unknown relation kind %q", f.Relation)
			}
			if f.Target == "" {
				add(f.Name, ErrMissingTarget, "relation requires a target model")
			}
			if f.Default != nil {
				add(f.Name, ErrRelationDefault, "relation fields take no default")
			}
		} else if f.Target != "" || f.Inverse != "" || f.IsCausal {
			add(f.Name, ErrAttributeInverse, "target, inverse and causal apply to relations only")
		}

		if f.Compute != "" && f.Related != "" {
			add(f.Name, ErrComputeAndRelated, "compute and related are mutually exclusive")
		}
		if len(f.Dependencies) > 0 && f.Compute == "" {
			add(f.Name, ErrDependenciesNoDerive, "dependencies require compute")
		}
		for _, dep := range f.Dependencies {
			if _, ok := fields[dep]; !ok {
				add(f.Name, ErrForeignDependency, "dependency %q is not a field of %s", dep, spec.Name)
			}
		}

		if f.Related != "" {
			hops := strings.Split(f.Related, ".")
			if len(hops) < 2 {
				add(f.Name, ErrInvalidRelatedPath, "related path %q needs at least two segments", f.Related)
				continue
			}
			first, ok := fields[hops[0]]
			if !ok || !first.IsRelation() {
				add(f.Name, ErrInvalidRelatedPath, "related path %q must start with a relation of %s", f.Related, spec.Name)
			}
		}
	}

	for _, key := range spec.Identity {
		f, ok := fields[key]
		switch {
		case !ok:
			add(key, ErrInvalidIdentity, "identity key is not a declared field")
		case f.IsDerived():
			add(key, ErrInvalidIdentity, "identity key cannot be derived")
		case f.IsRelation() && f.Relation.ToMany():
			add(key, ErrInvalidIdentity, "identity key cannot be a to-many relation")
		}
	}

	for _, cycle := range AnalyzeCycles(spec) {
		add(cycle.Path[0], ErrDependencyCycle, "%s", cycle.Message)
	}

	return errs
}

// ValidateSet checks a complete set of models: each model on its own, then
// relation targets and inverse pairing across models.
func ValidateSet(specs []ir.ModelSpec) []ValidationError {
	var errs []ValidationError

	models := make(map[string]ir.ModelSpec, len(specs))
	for _, spec := range specs {
		if _, dup := models[spec.Name]; dup {
			errs = append(errs, ValidationError{
				Model:   spec.Name,
				Field:   "name",
				Code:    ErrDuplicateModel,
				Message: "model declared more than once",
			})
			continue
		}
		models[spec.Name] = spec
		errs = append(errs, Validate(spec)...)
	}

	claims := make(map[string]string)
	for _, spec := range specs {
		for _, f := range spec.Fields {
			if !f.IsRelation() {
				continue
			}
			add := func(code, format string, args ...any) {
				errs = append(errs, ValidationError{
					Model:   spec.Name,
					Field:   f.Name,
					Code:    code,
					Message: fmt.Sprintf(format, args...),
				})
			}

			target, ok := models[f.Target]
			if !ok {
				add(ErrUnknownTarget, "target model %q is not declared", f.Target)
				continue
			}
			if f.Inverse == "" {
				continue
			}

			claimant := spec.Name + "." + f.Name
			claimed := f.Target + "." + f.Inverse
			if prev, taken := claims[claimed]; taken && prev != claimant {
				add(ErrConflictingInverse, "%s is already the inverse of %s", claimed, prev)
				continue
			}
			claims[claimed] = claimant

			inv, ok := target.Field(f.Inverse)
			switch {
			case !ok || !inv.IsRelation():
				add(ErrMissingInverse, "inverse %s is not a relation field", claimed)
			case inv.Target != spec.Name || inv.Inverse != f.Name:
				add(ErrInverseMismatch, "inverse %s does not point back to %s", claimed, claimant)
			case inv.Relation != f.Relation.InverseKind():
				add(ErrInverseKindMismatch, "%s is %s, its inverse %s must be %s",
					claimant, f.Relation, claimed, f.Relation.InverseKind())
			}
		}
	}

	return errs
}
