package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/ir"
)

func attr(name string) ir.FieldSpec {
	return ir.FieldSpec{Name: name, Kind: ir.KindAttribute}
}

func attrDefault(name string, def ir.IRValue) ir.FieldSpec {
	return ir.FieldSpec{Name: name, Kind: ir.KindAttribute, Default: def}
}

func rel(name string, kind ir.RelationKind, target, inverse string) ir.FieldSpec {
	return ir.FieldSpec{Name: name, Kind: ir.KindRelation, Relation: kind, Target: target, Inverse: inverse}
}

func computed(f ir.FieldSpec, compute string, deps ...string) ir.FieldSpec {
	f.Compute = compute
	f.Dependencies = deps
	return f
}

func related(f ir.FieldSpec, path string) ir.FieldSpec {
	f.Related = path
	return f
}

func causal(f ir.FieldSpec) ir.FieldSpec {
	f.IsCausal = true
	return f
}

// computeCalls counts compute invocations per function name.
type computeCalls struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *computeCalls) hit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[name]++
}

func (c *computeCalls) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

// newTestSchema declares a small messaging graph: partners author
// messages, messages live in threads and own notifications, nodes relate
// to each other, settings is a singleton.
func newTestSchema(t *testing.T, calls *computeCalls) *Schema {
	t.Helper()
	s := NewSchema()

	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "partner",
		Identity: []string{"id"},
		Fields: []ir.FieldSpec{
			attr("id"),
			attrDefault("name", ir.IRString("")),
			rel("authored", ir.One2Many, "message", "author"),
		},
	}, nil))

	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "message",
		Identity: []string{"id"},
		Fields: []ir.FieldSpec{
			attr("id"),
			attrDefault("body", ir.IRString("")),
			computed(attr("upperBody"), "upper", "body"),
			rel("author", ir.Many2One, "partner", "authored"),
			related(attr("authorName"), "author.name"),
			rel("threads", ir.Many2Many, "thread", "messages"),
			computed(attr("threadCount"), "countThreads", "threads"),
			causal(rel("notifications", ir.One2Many, "notification", "message")),
			related(attr("statuses"), "notifications.status"),
			rel("originThread", ir.Many2One, "thread", ""),
			related(attrDefault("originModerated", ir.IRBool(false)), "originThread.isModerated"),
		},
	}, map[string]ComputeFunc{
		"upper": func(r *Record) (any, error) {
			calls.hit("upper")
			return strings.ToUpper(r.GetString("body")), nil
		},
		"countThreads": func(r *Record) (any, error) {
			calls.hit("countThreads")
			return len(r.Many("threads")), nil
		},
	}))

	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "thread",
		Identity: []string{"model", "id"},
		Fields: []ir.FieldSpec{
			attr("model"),
			attr("id"),
			attrDefault("name", ir.IRString("")),
			attrDefault("isModerated", ir.IRBool(false)),
			rel("messages", ir.Many2Many, "message", "threads"),
		},
	}, nil))

	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "notification",
		Identity: []string{"id"},
		Fields: []ir.FieldSpec{
			attr("id"),
			attrDefault("status", ir.IRString("ready")),
			rel("message", ir.Many2One, "message", "notifications"),
		},
	}, nil))

	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "cache",
		Identity: []string{"thread", "domain"},
		Fields: []ir.FieldSpec{
			rel("thread", ir.Many2One, "thread", ""),
			attr("domain"),
		},
	}, nil))

	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "node",
		Identity: []string{"id"},
		Fields: []ir.FieldSpec{
			attr("id"),
			rel("peers", ir.Many2Many, "node", "peers"),
			rel("parent", ir.Many2One, "node", "children"),
			causal(rel("children", ir.One2Many, "node", "parent")),
		},
	}, nil))

	require.NoError(t, s.Declare(ir.ModelSpec{
		Name: "settings",
		Fields: []ir.FieldSpec{
			attrDefault("counter", ir.IRInt(0)),
		},
	}, nil))

	require.NoError(t, s.Seal())
	return s
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *computeCalls) {
	t.Helper()
	calls := &computeCalls{}
	e, err := New(newTestSchema(t, calls), opts...)
	require.NoError(t, err)
	return e, calls
}

func mustInsert(t *testing.T, e *Engine, model string, data Values) *Record {
	t.Helper()
	rec, err := e.Insert(model, data)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func localIDs(recs []*Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.LocalID()
	}
	return ids
}

// fakeInvoker answers calls from a script. Calls block until release is
// closed when one is set.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []ir.Call
	results map[string]ir.IRValue
	errs    map[string]error
	release chan struct{}
}

func (f *fakeInvoker) Invoke(ctx context.Context, call ir.Call) (ir.IRValue, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if err := f.errs[call.Method]; err != nil {
		return nil, err
	}
	if v, ok := f.results[call.Method]; ok {
		return v, nil
	}
	return ir.IRBool(true), nil
}

func (f *fakeInvoker) seen() []ir.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ir.Call(nil), f.calls...)
}
