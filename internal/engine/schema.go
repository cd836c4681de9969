package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/relgraph/internal/compiler"
	"github.com/roach88/relgraph/internal/ir"
)

// ComputeFunc derives the value of a computed field from its record.
//
// Attribute computes return an ir.IRValue or any plain Go value ir.FromGo
// accepts. Relation computes return the new contents of the field: a
// *Record or []*Record (replace semantics), a Command or []Command, or nil
// (unlink-all).
//
// A ComputeFunc must be a pure function of the fields it declares as
// dependencies; the scheduler relies on that to stop propagation when a
// recomputed value is unchanged.
type ComputeFunc func(r *Record) (any, error)

// Schema holds the declared models and is shared, read-only, by every engine
// built from it once sealed.
//
// Thread-safety: Declare/DeclareField/Seal are not safe for concurrent use.
// A sealed schema is immutable and safe to share.
type Schema struct {
	models map[string]*modelDesc
	order  []*modelDesc
	claims map[string]string // "target.inverse" -> "model.field"
	pairs  []*relationPair
	sealed bool
	hash   string

	// guards lazy related-path resolution; engines share a sealed schema
	mu sync.Mutex
}

type modelDesc struct {
	spec     ir.ModelSpec
	fields   map[string]*fieldDesc
	order    []*fieldDesc
	derived  []*fieldDesc
	incoming []*relationPair // inverse-less pairs that target this model
}

type fieldDesc struct {
	spec    ir.FieldSpec
	index   int
	model   *modelDesc
	compute ComputeFunc

	// Relation fields.
	target *modelDesc
	pair   *relationPair
	left   bool

	// Derived fields of the same model that read this field, and for a
	// derived field the same-record fields it reads.
	dependents []*fieldDesc
	inputs     []*fieldDesc

	// Related fields, resolved on first evaluation.
	path     []*fieldDesc
	pathErr  error
	pathDone bool
}

// relationPair is one relation with its optional inverse. The left side is
// the field declared first; right is nil when no inverse is named.
type relationPair struct {
	id        int
	left      *fieldDesc
	right     *fieldDesc
	symmetric bool
}

func (f *fieldDesc) name() string {
	return f.spec.Name
}

func (f *fieldDesc) toMany() bool {
	return f.spec.Relation.ToMany()
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{
		models: make(map[string]*modelDesc),
		claims: make(map[string]string),
	}
}

// Declare registers a model. computes binds every Compute name the model's
// fields use; unbound names are rejected.
//
// Declaration-time checks run here (field shapes, same-model dependencies,
// identity keys, conflicting inverse claims). Checks that need the target
// models (targets exist, inverses point back) run in Seal, so models may be
// declared in any order.
func (s *Schema) Declare(spec ir.ModelSpec, computes map[string]ComputeFunc) error {
	if s.sealed {
		return &SchemaError{Code: ErrCodeSchemaSealed, Model: spec.Name, Message: "schema is sealed"}
	}
	if _, dup := s.models[spec.Name]; dup {
		return &SchemaError{Code: compiler.ErrDuplicateModel, Model: spec.Name, Message: "model declared more than once"}
	}
	if errs := compiler.Validate(spec); len(errs) > 0 {
		return schemaErrorFrom(errs)
	}
	if err := s.claimInverses(spec.Name, spec.Fields); err != nil {
		return err
	}

	m := &modelDesc{
		spec:   spec,
		fields: make(map[string]*fieldDesc, len(spec.Fields)),
	}
	for i, f := range spec.Fields {
		fd := &fieldDesc{spec: f, index: i, model: m}
		if f.Compute != "" {
			fn := computes[f.Compute]
			if fn == nil {
				return &SchemaError{
					Code:    ErrCodeUnboundCompute,
					Model:   spec.Name,
					Field:   f.Name,
					Message: fmt.Sprintf("compute %q is not bound to a function", f.Compute),
				}
			}
			fd.compute = fn
		}
		m.fields[f.Name] = fd
		m.order = append(m.order, fd)
	}

	s.commitClaims(spec.Name, spec.Fields)
	s.models[spec.Name] = m
	s.order = append(s.order, m)
	return nil
}

// DeclareField adds one field to an already declared model.
func (s *Schema) DeclareField(model string, f ir.FieldSpec, fn ComputeFunc) error {
	if s.sealed {
		return &SchemaError{Code: ErrCodeSchemaSealed, Model: model, Field: f.Name, Message: "schema is sealed"}
	}
	m, ok := s.models[model]
	if !ok {
		return &SchemaError{Code: compiler.ErrUnknownTarget, Model: model, Field: f.Name, Message: "model is not declared"}
	}

	spec := m.spec
	spec.Fields = append(append([]ir.FieldSpec{}, spec.Fields...), f)
	if errs := compiler.Validate(spec); len(errs) > 0 {
		return schemaErrorFrom(errs)
	}
	if f.Compute != "" && fn == nil {
		return &SchemaError{
			Code:    ErrCodeUnboundCompute,
			Model:   model,
			Field:   f.Name,
			Message: fmt.Sprintf("compute %q is not bound to a function", f.Compute),
		}
	}
	added := []ir.FieldSpec{f}
	if err := s.claimInverses(model, added); err != nil {
		return err
	}
	s.commitClaims(model, added)

	fd := &fieldDesc{spec: f, index: len(m.order), model: m, compute: fn}
	m.spec = spec
	m.fields[f.Name] = fd
	m.order = append(m.order, fd)
	return nil
}

// claimInverses rejects a field that names an inverse another field has
// already claimed.
func (s *Schema) claimInverses(model string, fields []ir.FieldSpec) error {
	for _, f := range fields {
		if !f.IsRelation() || f.Inverse == "" {
			continue
		}
		claimed := f.Target + "." + f.Inverse
		claimant := model + "." + f.Name
		if prev, taken := s.claims[claimed]; taken && prev != claimant {
			return &SchemaError{
				Code:    compiler.ErrConflictingInverse,
				Model:   model,
				Field:   f.Name,
				Message: fmt.Sprintf("%s is already the inverse of %s", claimed, prev),
			}
		}
	}
	return nil
}

func (s *Schema) commitClaims(model string, fields []ir.FieldSpec) {
	for _, f := range fields {
		if f.IsRelation() && f.Inverse != "" {
			s.claims[f.Target+"."+f.Inverse] = model + "." + f.Name
		}
	}
}

// Seal validates the schema as a whole and freezes it. Sealing twice is a
// no-op.
func (s *Schema) Seal() error {
	if s.sealed {
		return nil
	}

	specs := s.Models()
	if errs := compiler.ValidateSet(specs); len(errs) > 0 {
		return schemaErrorFrom(errs)
	}
	if err := checkSingletonIDs(specs); err != nil {
		return err
	}

	for _, m := range s.order {
		for _, f := range m.order {
			if f.spec.IsRelation() {
				f.target = s.models[f.spec.Target]
			}
		}
	}

	for _, m := range s.order {
		for _, f := range m.order {
			if !f.spec.IsRelation() || f.pair != nil {
				continue
			}
			p := &relationPair{id: len(s.pairs), left: f}
			f.pair = p
			f.left = true
			if f.spec.Inverse == "" {
				f.target.incoming = append(f.target.incoming, p)
			} else {
				inv := f.target.fields[f.spec.Inverse]
				if inv == f {
					p.symmetric = true
				} else {
					p.right = inv
					inv.pair = p
				}
			}
			s.pairs = append(s.pairs, p)
		}
	}

	for _, m := range s.order {
		m.derived = m.derived[:0]
		for _, f := range m.order {
			if !f.spec.IsDerived() {
				continue
			}
			m.derived = append(m.derived, f)
			f.inputs = f.inputs[:0]
			for _, dep := range f.spec.Dependencies {
				f.inputs = append(f.inputs, m.fields[dep])
			}
			if f.spec.Related != "" {
				first, _, _ := strings.Cut(f.spec.Related, ".")
				f.inputs = append(f.inputs, m.fields[first])
			}
			for _, src := range f.inputs {
				src.dependents = append(src.dependents, f)
			}
		}
	}

	hash, err := ir.SchemaHash(specs)
	if err != nil {
		return fmt.Errorf("seal schema: %w", err)
	}
	s.hash = hash
	s.sealed = true
	return nil
}

// Sealed reports whether Seal has succeeded.
func (s *Schema) Sealed() bool {
	return s.sealed
}

// Hash identifies the sealed schema. Empty before Seal.
func (s *Schema) Hash() string {
	return s.hash
}

// Models returns the declared models in declaration order.
func (s *Schema) Models() []ir.ModelSpec {
	out := make([]ir.ModelSpec, len(s.order))
	for i, m := range s.order {
		out[i] = m.spec
	}
	return out
}

// Model returns one model declaration.
func (s *Schema) Model(name string) (ir.ModelSpec, bool) {
	m, ok := s.models[name]
	if !ok {
		return ir.ModelSpec{}, false
	}
	return m.spec, true
}

// resolveRelated walks a related path hop by hop. The result is cached on
// the field, errors included.
func (s *Schema) resolveRelated(f *fieldDesc) ([]*fieldDesc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.pathDone {
		return f.path, f.pathErr
	}
	f.pathDone = true

	fail := func(format string, args ...any) ([]*fieldDesc, error) {
		f.pathErr = &SchemaError{
			Code:    ErrCodeUnresolvedRelated,
			Model:   f.model.spec.Name,
			Field:   f.name(),
			Message: fmt.Sprintf(format, args...),
		}
		return nil, f.pathErr
	}

	hops := strings.Split(f.spec.Related, ".")
	cur := f.model
	path := make([]*fieldDesc, 0, len(hops))
	for i, hop := range hops {
		fd, ok := cur.fields[hop]
		if !ok {
			return fail("related path %q: %s has no field %q", f.spec.Related, cur.spec.Name, hop)
		}
		path = append(path, fd)
		if i == len(hops)-1 {
			break
		}
		if !fd.spec.IsRelation() {
			return fail("related path %q: %s.%s is not a relation", f.spec.Related, cur.spec.Name, hop)
		}
		cur = fd.target
	}

	last := path[len(path)-1]
	switch {
	case f.spec.IsRelation() && !last.spec.IsRelation():
		return fail("related path %q ends on an attribute but %s is a relation", f.spec.Related, f.name())
	case !f.spec.IsRelation() && last.spec.IsRelation():
		return fail("related path %q ends on a relation but %s is an attribute", f.spec.Related, f.name())
	case f.spec.IsRelation() && last.target != f.target:
		return fail("related path %q ends on %s records, %s expects %s",
			f.spec.Related, last.spec.Target, f.name(), f.spec.Target)
	}

	f.path = path
	return path, nil
}

// schemaErrorFrom turns compiler validation errors into one SchemaError.
// The first error is kept whole; the rest are counted.
// checkSingletonIDs rejects a singleton whose local id, the bare model name,
// is also a possible local id of a keyed model.
func checkSingletonIDs(specs []ir.ModelSpec) error {
	for _, single := range specs {
		if !single.Singleton() {
			continue
		}
		for _, keyed := range specs {
			if keyed.Singleton() || !singletonShadowed(single.Name, keyed.Name) {
				continue
			}
			return &SchemaError{
				Code:    ErrCodeShadowedSingleton,
				Model:   single.Name,
				Message: fmt.Sprintf("singleton name can be a local id of %s", keyed.Name),
			}
		}
	}
	return nil
}

func schemaErrorFrom(errs []compiler.ValidationError) *SchemaError {
	first := errs[0]
	msg := first.Message
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(errs)-1)
	}
	return &SchemaError{
		Code:    first.Code,
		Model:   first.Model,
		Field:   first.Field,
		Message: msg,
	}
}
