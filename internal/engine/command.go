package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/relgraph/internal/ir"
)

// Values is a field assignment: field name -> value.
//
// Attribute values are ir.IRValue or plain Go values ir.FromGo accepts.
// Relation values are a []Command or a single Command, or one of the
// shorthands: *Record and []*Record (replace), nil (unlink-all).
type Values map[string]any

// Verb names a relation command.
type Verb string

const (
	VerbLink             Verb = "link"
	VerbUnlink           Verb = "unlink"
	VerbUnlinkAll        Verb = "unlink-all"
	VerbReplace          Verb = "replace"
	VerbInsert           Verb = "insert"
	VerbInsertAndReplace Verb = "insert-and-replace"
)

// Command is one step of the relation command language. Records carries the
// payload of link, unlink and replace; Data the payload of insert and
// insert-and-replace.
type Command struct {
	Verb    Verb
	Records []*Record
	Data    []Values
}

// Link adds edges; already linked records are left alone.
func Link(recs ...*Record) Command { return Command{Verb: VerbLink, Records: recs} }

// Unlink removes edges; absent edges are ignored.
func Unlink(recs ...*Record) Command { return Command{Verb: VerbUnlink, Records: recs} }

// UnlinkAll removes every edge of the field.
func UnlinkAll() Command { return Command{Verb: VerbUnlinkAll} }

// Replace sets the field to exactly recs.
func Replace(recs ...*Record) Command { return Command{Verb: VerbReplace, Records: recs} }

// Insert upserts each data on the target model, then links the results.
func Insert(data ...Values) Command { return Command{Verb: VerbInsert, Data: data} }

// InsertAndReplace upserts each data, then replaces the field with the results.
func InsertAndReplace(data ...Values) Command {
	return Command{Verb: VerbInsertAndReplace, Data: data}
}

// prepared is a Values tree that passed validation. Nothing is mutated
// until the whole tree is prepared.
type prepared struct {
	model   *modelDesc
	localID string
	assigns []assignment
}

type assignment struct {
	field *fieldDesc
	value ir.IRValue
	cmds  []preparedCommand
}

type preparedCommand struct {
	verb    Verb
	records []*Record
	data    []*prepared
}

// prepareInsert validates data for an upsert on m and resolves its local id.
func (e *Engine) prepareInsert(m *modelDesc, data Values) (*prepared, error) {
	p, err := e.prepare(m, data)
	if err != nil {
		return nil, err
	}
	id, err := e.identityOf(m, p)
	if err != nil {
		return nil, err
	}
	p.localID = id
	if existing := e.records[id]; existing != nil {
		if err := e.checkIdentityUnchanged(existing, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// prepareUpdate validates data for an update of rec.
func (e *Engine) prepareUpdate(rec *Record, data Values) (*prepared, error) {
	p, err := e.prepare(rec.model, data)
	if err != nil {
		return nil, err
	}
	p.localID = rec.localID
	if err := e.checkIdentityUnchanged(rec, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) prepare(m *modelDesc, data Values) (*prepared, error) {
	fields := make([]*fieldDesc, 0, len(data))
	for name := range data {
		f, ok := m.fields[name]
		if !ok {
			return nil, &RuntimeError{
				Code:    ErrCodeUnknownField,
				Message: "field is not declared",
				Model:   m.spec.Name,
				Field:   name,
			}
		}
		if f.spec.IsDerived() {
			return nil, invalidValue(m.spec.Name, name, "derived fields cannot be assigned")
		}
		fields = append(fields, f)
	}
	slices.SortFunc(fields, func(a, b *fieldDesc) int { return a.index - b.index })

	p := &prepared{model: m, assigns: make([]assignment, 0, len(fields))}
	for _, f := range fields {
		raw := data[f.name()]
		if !f.spec.IsRelation() {
			v, err := ir.FromGo(raw)
			if err != nil {
				return nil, invalidValue(m.spec.Name, f.name(), "%v", err)
			}
			p.assigns = append(p.assigns, assignment{field: f, value: v})
			continue
		}
		cmds, err := e.prepareCommands(f, raw)
		if err != nil {
			return nil, err
		}
		p.assigns = append(p.assigns, assignment{field: f, cmds: cmds})
	}
	return p, nil
}

// commandsOf normalizes a relation value into a command list.
func commandsOf(raw any) ([]Command, bool) {
	switch v := raw.(type) {
	case nil:
		return []Command{UnlinkAll()}, true
	case *Record:
		return []Command{Replace(v)}, true
	case []*Record:
		return []Command{Replace(v...)}, true
	case Command:
		return []Command{v}, true
	case []Command:
		return v, true
	}
	return nil, false
}

func (e *Engine) prepareCommands(f *fieldDesc, raw any) ([]preparedCommand, error) {
	model := f.model.spec.Name
	cmds, ok := commandsOf(raw)
	if !ok {
		return nil, invalidValue(model, f.name(), "relation expects records or commands, got %T", raw)
	}

	out := make([]preparedCommand, 0, len(cmds))
	for _, c := range cmds {
		pc := preparedCommand{verb: c.Verb}
		switch c.Verb {
		case VerbLink, VerbUnlink, VerbReplace:
			if len(c.Data) > 0 {
				return nil, invalidValue(model, f.name(), "%s takes records, not data", c.Verb)
			}
			if c.Verb != VerbUnlink && !f.toMany() && len(c.Records) > 1 {
				return nil, invalidValue(model, f.name(), "%s of %d records on a to-one relation", c.Verb, len(c.Records))
			}
			for _, r := range c.Records {
				if err := e.checkTarget(f, r); err != nil {
					return nil, err
				}
			}
			pc.records = c.Records
		case VerbUnlinkAll:
			if len(c.Records) > 0 || len(c.Data) > 0 {
				return nil, invalidValue(model, f.name(), "unlink-all takes no payload")
			}
		case VerbInsert, VerbInsertAndReplace:
			if len(c.Records) > 0 {
				return nil, invalidValue(model, f.name(), "%s takes data, not records", c.Verb)
			}
			if !f.toMany() && len(c.Data) > 1 {
				return nil, invalidValue(model, f.name(), "%s of %d records on a to-one relation", c.Verb, len(c.Data))
			}
			for _, d := range c.Data {
				np, err := e.prepareInsert(f.target, d)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", model, f.name(), err)
				}
				pc.data = append(pc.data, np)
			}
		default:
			return nil, invalidValue(model, f.name(), "unknown command %q", c.Verb)
		}
		out = append(out, pc)
	}
	return out, nil
}

func (e *Engine) checkTarget(f *fieldDesc, r *Record) error {
	switch {
	case r == nil:
		return invalidValue(f.model.spec.Name, f.name(), "nil record")
	case r.engine != e:
		return invalidValue(f.model.spec.Name, f.name(), "record %s belongs to another engine", r.localID)
	case !r.alive:
		return NewDeletedError(r)
	case r.model != f.target:
		return invalidValue(f.model.spec.Name, f.name(), "expects %s records, got %s", f.spec.Target, r.model.spec.Name)
	}
	return nil
}

// identityOf derives the local id of a prepared insert (see localid.go), or
// the model name for a singleton.
func (e *Engine) identityOf(m *modelDesc, p *prepared) (string, error) {
	if m.spec.Singleton() {
		return m.spec.Name, nil
	}

	parts := make([]string, 0, len(m.spec.Identity))
	for _, key := range m.spec.Identity {
		a, ok := p.assignment(key)
		if !ok {
			return "", &RuntimeError{
				Code:    ErrCodeMissingIdentity,
				Message: "identity key is missing",
				Model:   m.spec.Name,
				Field:   key,
			}
		}
		part, err := identityPart(a)
		if err != nil {
			return "", &RuntimeError{
				Code:    ErrCodeMissingIdentity,
				Message: err.Error(),
				Model:   m.spec.Name,
				Field:   key,
			}
		}
		parts = append(parts, part)
	}
	return localIDFor(m.spec.Name, parts), nil
}

func identityPart(a assignment) (string, error) {
	if !a.field.spec.IsRelation() {
		switch v := a.value.(type) {
		case ir.IRInt:
			return intKey(int64(v)), nil
		case ir.IRString:
			if v != "" {
				return stringKey(string(v)), nil
			}
		}
		return "", fmt.Errorf("identity key must be an integer or a non-empty string, got %s", describe(a.value))
	}

	if len(a.cmds) == 1 {
		c := a.cmds[0]
		switch {
		case (c.verb == VerbLink || c.verb == VerbReplace) && len(c.records) == 1:
			return recordKey(c.records[0].localID), nil
		case (c.verb == VerbInsert || c.verb == VerbInsertAndReplace) && len(c.data) == 1:
			return recordKey(c.data[0].localID), nil
		}
	}
	return "", fmt.Errorf("identity relation must link exactly one record")
}

func describe(v ir.IRValue) string {
	switch v.(type) {
	case ir.IRNull:
		return "null"
	case ir.IRBool:
		return "a boolean"
	case ir.IRArray:
		return "an array"
	case ir.IRObject:
		return "an object"
	case ir.IRString:
		return "an empty string"
	}
	return fmt.Sprintf("%T", v)
}

// checkIdentityUnchanged rejects an update that would move a record to a
// different identity.
func (e *Engine) checkIdentityUnchanged(rec *Record, p *prepared) error {
	for _, key := range rec.model.spec.Identity {
		a, ok := p.assignment(key)
		if !ok {
			continue
		}
		var same bool
		if a.field.spec.IsRelation() {
			part, err := identityPart(a)
			cur := rec.One(key)
			same = err == nil && cur != nil && recordKey(cur.localID) == part
		} else {
			same = ir.Equal(rec.values[key], a.value)
		}
		if !same {
			return invalidValue(rec.model.spec.Name, key, "identity key of %s cannot change", rec.localID)
		}
	}
	return nil
}

func (p *prepared) assignment(name string) (assignment, bool) {
	for _, a := range p.assigns {
		if a.field.name() == name {
			return a, true
		}
	}
	return assignment{}, false
}

// upsert applies a prepared insert: the existing record is updated, or a new
// one is created with defaults first.
func (e *Engine) upsert(p *prepared) *Record {
	rec := e.records[p.localID]
	if rec == nil {
		rec = e.create(p.model, p.localID)
	}
	e.apply(rec, p)
	return rec
}

func (e *Engine) apply(rec *Record, p *prepared) {
	for _, a := range p.assigns {
		if !a.field.spec.IsRelation() {
			e.setAttr(rec, a.field, a.value)
			continue
		}
		for _, c := range a.cmds {
			e.applyCommand(rec, a.field, c)
		}
	}
}

func (e *Engine) applyCommand(rec *Record, f *fieldDesc, c preparedCommand) {
	switch c.verb {
	case VerbLink:
		for _, r := range c.records {
			e.link(rec, f, r)
		}
	case VerbUnlink:
		for _, r := range c.records {
			e.unlink(rec, f, r)
		}
	case VerbUnlinkAll:
		for _, r := range clone(e.linked(rec, f)) {
			e.unlink(rec, f, r)
		}
	case VerbReplace:
		e.replace(rec, f, c.records)
	case VerbInsert:
		for _, d := range c.data {
			e.link(rec, f, e.upsert(d))
		}
	case VerbInsertAndReplace:
		targets := make([]*Record, 0, len(c.data))
		for _, d := range c.data {
			targets = append(targets, e.upsert(d))
		}
		e.replace(rec, f, targets)
	}
}

func (e *Engine) setAttr(rec *Record, f *fieldDesc, v ir.IRValue) {
	if !rec.alive {
		return
	}
	if ir.Equal(rec.values[f.name()], v) {
		return
	}
	rec.values[f.name()] = v
	e.touch(rec, f)
}

// encode renders a prepared tree in journal form: attributes as-is,
// relations as [verb, payload] pairs with {"$ref": localId} references.
func (p *prepared) encode() ir.IRObject {
	obj := make(ir.IRObject, len(p.assigns))
	for _, a := range p.assigns {
		if !a.field.spec.IsRelation() {
			obj[a.field.name()] = a.value
			continue
		}
		cmds := make(ir.IRArray, len(a.cmds))
		for i, c := range a.cmds {
			cmds[i] = c.encode()
		}
		obj[a.field.name()] = cmds
	}
	return obj
}

func (c preparedCommand) encode() ir.IRArray {
	switch c.verb {
	case VerbUnlinkAll:
		return ir.IRArray{ir.IRString(c.verb)}
	case VerbInsert, VerbInsertAndReplace:
		data := make(ir.IRArray, len(c.data))
		for i, d := range c.data {
			data[i] = d.encode()
		}
		return ir.IRArray{ir.IRString(c.verb), data}
	}
	refs := make(ir.IRArray, len(c.records))
	for i, r := range c.records {
		refs[i] = ir.IRObject{"$ref": ir.IRString(r.localID)}
	}
	return ir.IRArray{ir.IRString(c.verb), refs}
}

// DecodeValues turns a journal-encoded field assignment back into Values,
// resolving {"$ref": localId} against the engine's live records.
func (e *Engine) DecodeValues(model string, obj ir.IRObject) (Values, error) {
	m, ok := e.schema.models[model]
	if !ok {
		return nil, &RuntimeError{Code: ErrCodeUnknownModel, Message: "model is not declared", Model: model}
	}
	out := make(Values, len(obj))
	for name, v := range obj {
		f, ok := m.fields[name]
		if !ok {
			return nil, &RuntimeError{Code: ErrCodeUnknownField, Message: "field is not declared", Model: model, Field: name}
		}
		if !f.spec.IsRelation() {
			out[name] = v
			continue
		}
		cmds, err := e.decodeCommands(f, v)
		if err != nil {
			return nil, err
		}
		out[name] = cmds
	}
	return out, nil
}

func (e *Engine) decodeCommands(f *fieldDesc, v ir.IRValue) ([]Command, error) {
	model := f.model.spec.Name
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, invalidValue(model, f.name(), "journal commands must be an array")
	}
	cmds := make([]Command, 0, len(arr))
	for _, raw := range arr {
		pair, ok := raw.(ir.IRArray)
		if !ok || len(pair) == 0 {
			return nil, invalidValue(model, f.name(), "journal command must be [verb, payload]")
		}
		verb, ok := pair[0].(ir.IRString)
		if !ok {
			return nil, invalidValue(model, f.name(), "journal command verb must be a string")
		}
		c := Command{Verb: Verb(verb)}
		if len(pair) > 1 {
			payload, ok := pair[1].(ir.IRArray)
			if !ok {
				return nil, invalidValue(model, f.name(), "journal payload must be an array")
			}
			for _, item := range payload {
				obj, ok := item.(ir.IRObject)
				if !ok {
					return nil, invalidValue(model, f.name(), "journal payload items must be objects")
				}
				if ref, isRef := obj["$ref"].(ir.IRString); isRef && len(obj) == 1 {
					rec := e.records[string(ref)]
					if rec == nil {
						return nil, invalidValue(model, f.name(), "unknown record reference %q", ref)
					}
					c.Records = append(c.Records, rec)
					continue
				}
				data, err := e.DecodeValues(f.spec.Target, obj)
				if err != nil {
					return nil, err
				}
				c.Data = append(c.Data, data)
			}
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}
