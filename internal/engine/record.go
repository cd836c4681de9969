package engine

import (
	"fmt"

	"github.com/roach88/relgraph/internal/ir"
)

// Record is one live entity instance, identified by (model, local id).
//
// Records are created and mutated only through their Engine. Accessors read
// the current state; they must be called from the goroutine that owns the
// engine (the Run loop, or the caller when the loop is not running).
//
// Accessors panic on a field the model does not declare: that is a
// programming error, like a typo in a struct field, not a runtime condition.
// A panic raised inside a ComputeFunc is reported as a SchemaError.
type Record struct {
	engine  *Engine
	model   *modelDesc
	localID string
	values  map[string]ir.IRValue
	alive   bool
}

// Model returns the record's model name.
func (r *Record) Model() string {
	return r.model.spec.Name
}

// LocalID returns the record's identity within its engine.
func (r *Record) LocalID() string {
	return r.localID
}

// String implements fmt.Stringer.
func (r *Record) String() string {
	return r.localID
}

// Alive reports whether the record is still in the registry. A deleted
// record never comes back; a later insert with the same identity creates a
// new *Record.
func (r *Record) Alive() bool {
	return r.alive
}

// Engine returns the engine that owns the record.
func (r *Record) Engine() *Engine {
	return r.engine
}

func (r *Record) field(name string, wantRelation bool) *fieldDesc {
	f, ok := r.model.fields[name]
	if !ok {
		panic(fmt.Sprintf("engine: %s has no field %q", r.model.spec.Name, name))
	}
	if f.spec.IsRelation() != wantRelation {
		kind := "an attribute"
		if f.spec.IsRelation() {
			kind = "a relation"
		}
		panic(fmt.Sprintf("engine: %s.%s is %s", r.model.spec.Name, name, kind))
	}
	return f
}

// Get returns an attribute value. Every attribute of a deleted record
// reads as IRNull.
func (r *Record) Get(name string) ir.IRValue {
	r.field(name, false)
	v, ok := r.values[name]
	if !ok || v == nil {
		return ir.IRNull{}
	}
	return v
}

// GetString returns a string attribute, or "" for any other value.
func (r *Record) GetString(name string) string {
	s, _ := r.Get(name).(ir.IRString)
	return string(s)
}

// GetInt returns an integer attribute, or 0 for any other value.
func (r *Record) GetInt(name string) int64 {
	n, _ := r.Get(name).(ir.IRInt)
	return int64(n)
}

// GetBool returns the truthiness of an attribute.
func (r *Record) GetBool(name string) bool {
	return ir.Truthy(r.Get(name))
}

// One returns the record linked through a to-one relation, or nil.
// On a to-many relation it returns the first linked record.
func (r *Record) One(name string) *Record {
	f := r.field(name, true)
	linked := r.engine.linked(r, f)
	if len(linked) == 0 {
		return nil
	}
	return linked[0]
}

// Many returns the records linked through a relation, in link order.
// The slice is a copy.
func (r *Record) Many(name string) []*Record {
	f := r.field(name, true)
	linked := r.engine.linked(r, f)
	out := make([]*Record, len(linked))
	copy(out, linked)
	return out
}

// Has reports whether other is linked through the relation.
func (r *Record) Has(name string, other *Record) bool {
	f := r.field(name, true)
	return r.engine.isLinked(r, f, other)
}
