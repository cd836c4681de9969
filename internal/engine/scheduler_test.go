package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/ir"
)

func TestRecompute_ComputedOnCreateAndChange(t *testing.T) {
	e, calls := newTestEngine(t)

	msg := mustInsert(t, e, "message", Values{"id": 1, "body": "hello"})
	assert.Equal(t, "HELLO", msg.GetString("upperBody"))
	assert.Equal(t, 1, calls.get("upper"))

	require.NoError(t, e.Update(msg, Values{"body": "bye"}))
	assert.Equal(t, "BYE", msg.GetString("upperBody"))
	assert.Equal(t, 2, calls.get("upper"))

	require.NoError(t, e.Update(msg, Values{"body": "bye"}))
	assert.Equal(t, 2, calls.get("upper"), "equal value does not cascade")
}

func TestRecompute_RelatedFollowsPath(t *testing.T) {
	e, _ := newTestEngine(t)

	ann := mustInsert(t, e, "partner", Values{"id": 1, "name": "Ann"})
	bob := mustInsert(t, e, "partner", Values{"id": 2, "name": "Bob"})
	msg := mustInsert(t, e, "message", Values{"id": 1, "author": ann})
	assert.Equal(t, "Ann", msg.GetString("authorName"))

	require.NoError(t, e.Update(ann, Values{"name": "Anna"}))
	assert.Equal(t, "Anna", msg.GetString("authorName"))

	// Reassigning the intermediate relation re-targets the dependency.
	require.NoError(t, e.Update(msg, Values{"author": bob}))
	assert.Equal(t, "Bob", msg.GetString("authorName"))

	before := e.Stats().Recomputes
	require.NoError(t, e.Update(ann, Values{"name": "Annie"}))
	assert.Equal(t, before, e.Stats().Recomputes, "old author no longer feeds the message")
	assert.Equal(t, "Bob", msg.GetString("authorName"))

	require.NoError(t, e.Update(bob, Values{"name": "Robert"}))
	assert.Equal(t, "Robert", msg.GetString("authorName"))

	require.NoError(t, e.Update(msg, Values{"author": nil}))
	assert.Equal(t, ir.IRNull{}, msg.Get("authorName"), "missing link yields the default")
}

func TestRecompute_RelatedDefaultWhenUnlinked(t *testing.T) {
	e, _ := newTestEngine(t)

	th := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 1, "isModerated": true})
	msg := mustInsert(t, e, "message", Values{"id": 1})
	assert.Equal(t, ir.IRBool(false), msg.Get("originModerated"))

	require.NoError(t, e.Update(msg, Values{"originThread": th}))
	assert.Equal(t, ir.IRBool(true), msg.Get("originModerated"))

	require.NoError(t, e.Update(th, Values{"isModerated": false}))
	assert.Equal(t, ir.IRBool(false), msg.Get("originModerated"))

	require.NoError(t, e.Update(th, Values{"isModerated": true}))
	require.NoError(t, e.Delete(th))
	assert.Equal(t, ir.IRBool(false), msg.Get("originModerated"))
}

func TestRecompute_RelatedThroughToManyIsArray(t *testing.T) {
	e, _ := newTestEngine(t)

	msg := mustInsert(t, e, "message", Values{
		"id":            1,
		"notifications": Insert(Values{"id": 10}, Values{"id": 11, "status": "sent"}),
	})
	assert.Equal(t, ir.IRArray{ir.IRString("ready"), ir.IRString("sent")}, msg.Get("statuses"))

	n10, ok := e.Find("notification", 10)
	require.True(t, ok)
	require.NoError(t, e.Update(n10, Values{"status": "exception"}))
	assert.Equal(t, ir.IRArray{ir.IRString("exception"), ir.IRString("sent")}, msg.Get("statuses"))

	require.NoError(t, e.Delete(n10))
	assert.Equal(t, ir.IRArray{ir.IRString("sent")}, msg.Get("statuses"))
}

func TestRecompute_DependencyOnRelation(t *testing.T) {
	e, _ := newTestEngine(t)

	msg := mustInsert(t, e, "message", Values{"id": 1})
	assert.Equal(t, int64(0), msg.GetInt("threadCount"))

	th := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 1})
	require.NoError(t, e.Update(th, Values{"messages": Link(msg)}))
	assert.Equal(t, int64(1), msg.GetInt("threadCount"), "inverse side edits touch the other side")

	require.NoError(t, e.Delete(th))
	assert.Equal(t, int64(0), msg.GetInt("threadCount"))
}

// loopSchema declares fields whose dependencies only close into a loop at
// runtime, through a related path.
func loopSchema(t *testing.T, computes map[string]ComputeFunc) *Schema {
	t.Helper()
	s := NewSchema()
	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "cell",
		Identity: []string{"id"},
		Fields: []ir.FieldSpec{
			attr("id"),
			attrDefault("seed", ir.IRInt(0)),
			rel("peer", ir.Many2One, "cell", ""),
			related(attr("mirror"), "peer.echo"),
			computed(attrDefault("echo", ir.IRInt(0)), "echo", "mirror", "seed"),
		},
	}, computes))
	require.NoError(t, s.Seal())
	return s
}

func TestRecompute_RuntimeCycleIsFatal(t *testing.T) {
	s := loopSchema(t, map[string]ComputeFunc{
		"echo": func(r *Record) (any, error) { return 1, nil },
	})
	e, err := New(s)
	require.NoError(t, err)

	cell := mustInsert(t, e, "cell", Values{"id": 1})
	require.NoError(t, e.Update(cell, Values{"peer": cell}))

	// Both ends of the loop pending in one batch: neither can go first.
	err = e.Batch(func() error {
		if err := e.Update(cell, Values{"peer": nil}); err != nil {
			return err
		}
		return e.Update(cell, Values{"seed": 1})
	})
	require.Error(t, err)
	assert.True(t, IsCycleError(err), "got %v", err)
	assert.True(t, IsSchemaError(err))
	assert.Contains(t, err.Error(), "cell_1.mirror")

	_, err = e.Insert("cell", Values{"id": 2})
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeEngineFailed, re.Code)
	assert.Error(t, e.Err())

	e.Reset()
	assert.NoError(t, e.Err())
	mustInsert(t, e, "cell", Values{"id": 2})
}

func TestRecompute_QuotaStopsRunaway(t *testing.T) {
	s := loopSchema(t, map[string]ComputeFunc{
		"echo": func(r *Record) (any, error) {
			n, _ := r.Get("mirror").(ir.IRInt)
			return int64(n) + 1, nil
		},
	})
	e, err := New(s, WithMaxRecomputeSteps(50))
	require.NoError(t, err)

	cell := mustInsert(t, e, "cell", Values{"id": 1})
	err = e.Update(cell, Values{"peer": cell})
	require.Error(t, err)
	assert.True(t, IsQuotaError(err), "got %v", err)
	assert.True(t, IsStepsExceededError(err))

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeQuotaExceeded, re.Code)
	assert.Equal(t, "cell_1", re.LocalID)
	assert.Equal(t, "50", re.Details["max_steps"])
}

func TestRecompute_ComputeErrorIsFatal(t *testing.T) {
	boom := errors.New("boom")
	s := NewSchema()
	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "item",
		Identity: []string{"id"},
		Fields: []ir.FieldSpec{
			attr("id"),
			attr("n"),
			computed(attr("half"), "half", "n"),
		},
	}, map[string]ComputeFunc{
		"half": func(r *Record) (any, error) {
			n := r.GetInt("n")
			switch {
			case n < 0:
				return nil, boom
			case n == 13:
				panic("unlucky")
			case n == 7:
				return 3.5, nil
			}
			return n / 2, nil
		},
	}))

	for _, n := range []int{-1, 13, 7} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			e, err := New(s)
			require.NoError(t, err)

			_, err = e.Insert("item", Values{"id": 1, "n": n})
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, ErrCodeComputeFailed, se.Code)
			assert.Equal(t, "half", se.Field)
			assert.Error(t, e.Err())
		})
	}
}

func TestRecompute_UnresolvedRelatedIsFatal(t *testing.T) {
	s := NewSchema()
	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "a",
		Identity: []string{"id"},
		Fields: []ir.FieldSpec{
			attr("id"),
			rel("b", ir.Many2One, "b", ""),
			related(attr("label"), "b.missing"),
		},
	}, nil))
	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "b",
		Identity: []string{"id"},
		Fields:   []ir.FieldSpec{attr("id")},
	}, nil))

	e, err := New(s)
	require.NoError(t, err, "related paths resolve lazily, after seal")

	_, err = e.Insert("a", Values{"id": 1})
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeUnresolvedRelated, se.Code)
	assert.Contains(t, se.Message, "missing")
}

func TestRecompute_RelationCompute(t *testing.T) {
	s := NewSchema()
	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "person",
		Identity: []string{"id"},
		Fields: []ir.FieldSpec{
			attr("id"),
			attrDefault("adult", ir.IRBool(false)),
			rel("group", ir.Many2One, "group", ""),
			computed(rel("club", ir.Many2One, "group", ""), "club", "adult"),
		},
	}, map[string]ComputeFunc{
		"club": func(r *Record) (any, error) {
			if !r.GetBool("adult") {
				return nil, nil
			}
			return InsertAndReplace(Values{"name": "adults"}), nil
		},
	}))
	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "group",
		Identity: []string{"name"},
		Fields:   []ir.FieldSpec{attr("name")},
	}, nil))

	e, err := New(s)
	require.NoError(t, err)

	p := mustInsert(t, e, "person", Values{"id": 1})
	assert.Nil(t, p.One("club"))

	require.NoError(t, e.Update(p, Values{"adult": true}))
	club := p.One("club")
	require.NotNil(t, club)
	assert.Equal(t, "group_adults", club.LocalID())

	require.NoError(t, e.Update(p, Values{"adult": false}))
	assert.Nil(t, p.One("club"))
	assert.True(t, club.Alive(), "unlinking does not delete")

	for _, b := range e.Pending() {
		for _, op := range b.Ops {
			assert.NotEqual(t, "group", op.Model, "compute side effects are not journaled")
		}
	}
}
