package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/relgraph/internal/compiler"
	"github.com/roach88/relgraph/internal/ir"
)

// batch collects everything one top-level call does: the ops to journal and
// the (record, field) pairs waiting for recomputation.
type batch struct {
	depth      int
	pending    []fieldRef
	queued     map[fieldRef]bool
	ops        []ir.Op
	recomputes int
}

// touch reports that (rec, f) changed and schedules everything that reads it.
func (e *Engine) touch(rec *Record, f *fieldDesc) {
	for _, d := range f.dependents {
		e.schedule(fieldRef{rec, d})
	}
	for _, w := range e.tracker.watchersOf(fieldRef{rec, f}) {
		e.schedule(w)
	}
}

func (e *Engine) schedule(ref fieldRef) {
	b := e.batch
	if b == nil || !ref.rec.alive || b.queued[ref] {
		return
	}
	b.queued[ref] = true
	b.pending = append(b.pending, ref)
}

// settle recomputes pending fields until none is left.
//
// Pending work is taken in FIFO order, skipping any item whose inputs are
// still pending, so a field is never evaluated against stale inputs. When
// items remain but none is ready, the blocked items contain a cycle.
func (e *Engine) settle() error {
	b := e.batch
	e.settling = true
	defer func() { e.settling = false }()

	for len(b.pending) > 0 {
		i := e.nextReady()
		if i < 0 {
			return e.cycleError()
		}
		ref := b.pending[i]
		b.pending = slices.Delete(b.pending, i, i+1)
		delete(b.queued, ref)
		if !ref.rec.alive {
			continue
		}
		if err := e.quota.Check(ref.String()); err != nil {
			var se *StepsExceededError
			errors.As(err, &se)
			qerr := NewQuotaError(se.Steps, se.Limit)
			qerr.Model = ref.rec.model.spec.Name
			qerr.LocalID = ref.rec.localID
			qerr.Field = ref.field.name()
			return fmt.Errorf("%w: %w", qerr, err)
		}
		b.recomputes++
		if err := e.recompute(ref); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) nextReady() int {
	for i, ref := range e.batch.pending {
		if !e.blocked(ref) {
			return i
		}
	}
	return -1
}

func (e *Engine) blocked(ref fieldRef) bool {
	if !ref.rec.alive {
		return false
	}
	for _, in := range e.inputsOf(ref) {
		if e.batch.queued[in] {
			return true
		}
	}
	return false
}

// inputsOf lists what a derived field reads: its same-record inputs plus the
// cross-record sources found on its last evaluation.
func (e *Engine) inputsOf(ref fieldRef) []fieldRef {
	ins := make([]fieldRef, 0, len(ref.field.inputs))
	for _, f := range ref.field.inputs {
		ins = append(ins, fieldRef{ref.rec, f})
	}
	return append(ins, e.tracker.sources[ref]...)
}

// cycleError names the cycle among the blocked items.
func (e *Engine) cycleError() error {
	graph := make(compiler.DependencyGraph)
	for _, ref := range e.batch.pending {
		var edges []string
		for _, in := range e.inputsOf(ref) {
			if e.batch.queued[in] {
				edges = append(edges, in.String())
			}
		}
		graph[ref.String()] = edges
	}

	first := e.batch.pending[0]
	err := &SchemaError{
		Code:  ErrCodeDependencyCycle,
		Model: first.rec.model.spec.Name,
		Field: first.field.name(),
	}
	if cycles := compiler.FindCycles(graph); len(cycles) > 0 {
		err.Message = cycles[0].Message
	} else {
		names := make([]string, len(e.batch.pending))
		for i, ref := range e.batch.pending {
			names[i] = ref.String()
		}
		err.Message = "recomputation blocked: " + strings.Join(names, ", ")
	}
	return err
}

// recompute evaluates one derived field and assigns the result. A panic in
// a ComputeFunc is turned into a SchemaError.
func (e *Engine) recompute(ref fieldRef) (err error) {
	f := ref.field
	defer func() {
		if p := recover(); p != nil {
			err = &SchemaError{
				Code:    ErrCodeComputeFailed,
				Model:   f.model.spec.Name,
				Field:   f.name(),
				Message: fmt.Sprintf("panic in compute of %s: %v", ref, p),
			}
		}
	}()

	if f.spec.Related != "" {
		path, err := e.schema.resolveRelated(f)
		if err != nil {
			return err
		}
		value, srcs := e.follow(ref.rec, f, path)
		e.tracker.watch(ref, srcs)
		return e.assign(ref, value)
	}

	out, err := f.compute(ref.rec)
	if err != nil {
		return &SchemaError{
			Code:    ErrCodeComputeFailed,
			Model:   f.model.spec.Name,
			Field:   f.name(),
			Message: fmt.Sprintf("compute %s of %s: %v", f.spec.Compute, ref.rec.localID, err),
		}
	}
	return e.assign(ref, out)
}

func (e *Engine) assign(ref fieldRef, out any) error {
	f := ref.field
	fail := func(err error) error {
		return &SchemaError{
			Code:    ErrCodeComputeFailed,
			Model:   f.model.spec.Name,
			Field:   f.name(),
			Message: fmt.Sprintf("%s returned an unusable value: %v", ref, err),
		}
	}

	if !f.spec.IsRelation() {
		v, err := ir.FromGo(out)
		if err != nil {
			return fail(err)
		}
		e.setAttr(ref.rec, f, v)
		return nil
	}

	if recs, ok := out.([]*Record); ok && !f.toMany() && len(recs) > 1 {
		recs = recs[:1]
		out = recs
	}
	cmds, err := e.prepareCommands(f, out)
	if err != nil {
		return fail(err)
	}
	for _, c := range cmds {
		e.applyCommand(ref.rec, f, c)
	}
	return nil
}

// follow reads the value at the end of a related path and returns every
// (record, field) it passed through. To-many hops turn an attribute into an
// array of values and a relation into the ordered union of its targets.
// A path that ends nowhere yields the field's default.
func (e *Engine) follow(rec *Record, f *fieldDesc, path []*fieldDesc) (any, []fieldRef) {
	current := []*Record{rec}
	toMany := false
	var srcs []fieldRef

	for _, hop := range path[:len(path)-1] {
		var next []*Record
		seen := make(map[*Record]bool)
		for _, r := range current {
			srcs = append(srcs, fieldRef{r, hop})
			for _, t := range e.linked(r, hop) {
				if !seen[t] {
					seen[t] = true
					next = append(next, t)
				}
			}
		}
		if hop.toMany() {
			toMany = true
		}
		current = next
	}

	last := path[len(path)-1]
	for _, r := range current {
		srcs = append(srcs, fieldRef{r, last})
	}

	if last.spec.IsRelation() {
		var union []*Record
		seen := make(map[*Record]bool)
		for _, r := range current {
			for _, t := range e.linked(r, last) {
				if !seen[t] {
					seen[t] = true
					union = append(union, t)
				}
			}
		}
		return union, srcs
	}

	if toMany {
		arr := make(ir.IRArray, 0, len(current))
		for _, r := range current {
			arr = append(arr, r.Get(last.name()))
		}
		return arr, srcs
	}
	if len(current) == 0 {
		if f.spec.Default != nil {
			return f.spec.Default, srcs
		}
		return ir.IRNull{}, srcs
	}
	return current[0].Get(last.name()), srcs
}
