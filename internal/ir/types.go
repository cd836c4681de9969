package ir

// FieldKind tags the variant of a field declaration.
type FieldKind string

const (
	// KindAttribute is a plain value field.
	KindAttribute FieldKind = "attr"
	// KindRelation links records of two models.
	KindRelation FieldKind = "relation"
)

// RelationKind fixes the cardinality of both sides of a relation.
// The first half names this side's owner, the second half the target:
// a many2one field is to-one, its one2many inverse is to-many.
type RelationKind string

const (
	One2One   RelationKind = "one2one"
	One2Many  RelationKind = "one2many"
	Many2One  RelationKind = "many2one"
	Many2Many RelationKind = "many2many"
)

// ValidRelationKinds defines allowed relation kinds.
var ValidRelationKinds = map[RelationKind]bool{
	One2One:   true,
	One2Many:  true,
	Many2One:  true,
	Many2Many: true,
}

// ToMany reports whether a field of this kind holds a list.
func (k RelationKind) ToMany() bool {
	return k == One2Many || k == Many2Many
}

// InverseKind returns the kind the inverse field must declare.
func (k RelationKind) InverseKind() RelationKind {
	switch k {
	case One2Many:
		return Many2One
	case Many2One:
		return One2Many
	}
	return k
}

// ModelSpec represents a compiled model declaration.
// A model with no identity keys is a singleton.
type ModelSpec struct {
	Name     string      `json:"name"`
	Identity []string    `json:"identity"`
	Fields   []FieldSpec `json:"fields"`
}

// Field returns the named field declaration.
func (m ModelSpec) Field(name string) (FieldSpec, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Singleton reports whether the model has exactly one record.
func (m ModelSpec) Singleton() bool {
	return len(m.Identity) == 0
}

// Object returns the declaration as an IRObject for hashing and output.
func (m ModelSpec) Object() IRObject {
	ident := make(IRArray, len(m.Identity))
	for i, k := range m.Identity {
		ident[i] = IRString(k)
	}
	fields := make(IRArray, len(m.Fields))
	for i, f := range m.Fields {
		fields[i] = f.Object()
	}
	return IRObject{
		"name":     IRString(m.Name),
		"identity": ident,
		"fields":   fields,
	}
}

// FieldSpec is a tagged-variant field declaration.
//
// Attribute fields carry Default; relation fields carry Relation, Target,
// Inverse and IsCausal. Both variants may be derived: Compute names a
// function bound at declaration time, Dependencies lists same-model fields
// that retrigger it, and Related is a dotted path whose end value is mirrored.
type FieldSpec struct {
	Name         string       `json:"name"`
	Kind         FieldKind    `json:"kind"`
	Default      IRValue      `json:"default,omitempty"`
	Relation     RelationKind `json:"relation,omitempty"`
	Target       string       `json:"target,omitempty"`
	Inverse      string       `json:"inverse,omitempty"`
	IsCausal     bool         `json:"is_causal,omitempty"`
	Compute      string       `json:"compute,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
	Related      string       `json:"related,omitempty"`
}

// IsRelation reports whether the field is a relation.
func (f FieldSpec) IsRelation() bool {
	return f.Kind == KindRelation
}

// IsDerived reports whether the engine computes the field.
func (f FieldSpec) IsDerived() bool {
	return f.Compute != "" || f.Related != ""
}

// Object returns the declaration as an IRObject.
func (f FieldSpec) Object() IRObject {
	obj := IRObject{
		"name": IRString(f.Name),
		"kind": IRString(f.Kind),
	}
	if f.Default != nil {
		obj["default"] = f.Default
	}
	if f.IsRelation() {
		obj["relation"] = IRString(f.Relation)
		obj["target"] = IRString(f.Target)
		if f.Inverse != "" {
			obj["inverse"] = IRString(f.Inverse)
		}
		if f.IsCausal {
			obj["is_causal"] = IRBool(true)
		}
	}
	if f.Compute != "" {
		obj["compute"] = IRString(f.Compute)
	}
	if len(f.Dependencies) > 0 {
		deps := make(IRArray, len(f.Dependencies))
		for i, d := range f.Dependencies {
			deps[i] = IRString(d)
		}
		obj["dependencies"] = deps
	}
	if f.Related != "" {
		obj["related"] = IRString(f.Related)
	}
	return obj
}
