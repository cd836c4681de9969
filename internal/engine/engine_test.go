package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/ir"
)

func TestInsert_LocalIDFromIdentity(t *testing.T) {
	e, _ := newTestEngine(t)

	msg := mustInsert(t, e, "message", Values{"id": 42, "body": "hello"})
	assert.Equal(t, "message_42", msg.LocalID())
	assert.Equal(t, "message", msg.Model())
	assert.True(t, msg.Alive())
	assert.Equal(t, "hello", msg.GetString("body"))

	thread := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 7})
	assert.Equal(t, "thread_mail.channel_7", thread.LocalID())

	cache := mustInsert(t, e, "cache", Values{"thread": thread, "domain": "[]"})
	assert.Equal(t, "cache_(thread_mail.channel_7)_[]", cache.LocalID())
}

func TestInsert_LocalIDsNeverCollide(t *testing.T) {
	e, _ := newTestEngine(t)

	a := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": "x_1"})
	b := mustInsert(t, e, "thread", Values{"model": "mail.channel_x", "id": 1})
	assert.NotEqual(t, a.LocalID(), b.LocalID())
	assert.Equal(t, `thread_mail.channel_x\_1`, a.LocalID())
	assert.Equal(t, `thread_mail.channel\_x_1`, b.LocalID())

	// A string key that reads as an integer is its own record.
	c := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": "7"})
	d := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 7})
	assert.NotSame(t, c, d)

	// Parentheses delimit a linked record's id.
	odd := mustInsert(t, e, "thread", Values{"model": "(x", "id": 1})
	c1 := mustInsert(t, e, "cache", Values{"thread": odd, "domain": "[]"})
	c2 := mustInsert(t, e, "cache", Values{"thread": d, "domain": "[]"})
	assert.NotEqual(t, c1.LocalID(), c2.LocalID())

	assert.Len(t, e.All("thread"), 5)
	assert.Len(t, e.All("cache"), 2)

	for _, tc := range []struct {
		rec  *Record
		keys []any
	}{
		{a, []any{"mail.channel", "x_1"}},
		{b, []any{"mail.channel_x", 1}},
		{c, []any{"mail.channel", "7"}},
		{d, []any{"mail.channel", 7}},
	} {
		got, ok := e.Find("thread", tc.keys...)
		require.True(t, ok, "Find(%v)", tc.keys)
		assert.Same(t, tc.rec, got)
	}
	got, ok := e.Find("cache", odd, "[]")
	require.True(t, ok)
	assert.Same(t, c1, got)
}

func TestSeal_RejectsShadowedSingleton(t *testing.T) {
	s := NewSchema()
	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:     "mail",
		Identity: []string{"id"},
		Fields:   []ir.FieldSpec{attr("id")},
	}, nil))
	require.NoError(t, s.Declare(ir.ModelSpec{
		Name:   "mail_settings",
		Fields: []ir.FieldSpec{attr("theme")},
	}, nil))

	err := s.Seal()
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeShadowedSingleton, se.Code)
	assert.Equal(t, "mail_settings", se.Model)
}

func TestInsert_Defaults(t *testing.T) {
	e, _ := newTestEngine(t)

	msg := mustInsert(t, e, "message", Values{"id": 1})
	assert.Equal(t, "", msg.GetString("body"))
	assert.Equal(t, ir.IRNull{}, msg.Get("authorName"))
	assert.Equal(t, ir.IRBool(false), msg.Get("originModerated"))
	assert.Nil(t, msg.One("author"))
	assert.Empty(t, msg.Many("threads"))
}

// Inserting the same data twice yields the same record and no recomputation.
func TestInsert_IdempotentUpsert(t *testing.T) {
	e, calls := newTestEngine(t)

	first := mustInsert(t, e, "message", Values{"id": 1, "body": "hi"})
	upperCalls := calls.get("upper")

	second := mustInsert(t, e, "message", Values{"id": 1, "body": "hi"})
	assert.Same(t, first, second)
	assert.Len(t, e.All("message"), 1)
	assert.Equal(t, upperCalls, calls.get("upper"), "unchanged body must not recompute")

	batches := e.Pending()
	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[1].Recomputes)
}

func TestInsert_MergesIntoExisting(t *testing.T) {
	e, _ := newTestEngine(t)

	mustInsert(t, e, "message", Values{"id": 1, "body": "a"})
	msg := mustInsert(t, e, "message", Values{"id": 1, "body": "b"})

	assert.Equal(t, "b", msg.GetString("body"))
	assert.Equal(t, "B", msg.GetString("upperBody"))
}

func TestInsert_MissingIdentity(t *testing.T) {
	e, _ := newTestEngine(t)

	tests := []struct {
		name string
		data Values
	}{
		{"absent", Values{"body": "x"}},
		{"null", Values{"id": nil}},
		{"bool", Values{"id": true}},
		{"empty string", Values{"id": ""}},
		{"array", Values{"id": []any{1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := e.Insert("message", tt.data)
			require.Error(t, err)
			assert.Nil(t, rec)
			assert.True(t, IsIdentityError(err), "got %v", err)
		})
	}
	assert.Empty(t, e.All("message"))
}

func TestInsert_IdentityRelationMustLinkOne(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Insert("cache", Values{"domain": "[]", "thread": nil})
	require.Error(t, err)
	assert.True(t, IsIdentityError(err))
}

func TestInsert_UnknownModelAndField(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Insert("nope", Values{"id": 1})
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeUnknownModel, re.Code)

	_, err = e.Insert("message", Values{"id": 1, "colour": "red"})
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeUnknownField, re.Code)
	assert.Equal(t, "colour", re.Field)
}

func TestInsert_RejectsDerivedAssignment(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Insert("message", Values{"id": 1, "upperBody": "X"})
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeInvalidValue, re.Code)
}

func TestInsert_RejectsFloats(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Insert("message", Values{"id": 1, "body": 1.5})
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeInvalidValue, re.Code)
}

// A bad nested insert rejects the whole call before anything is written.
func TestInsert_ValidatesWholeTreeFirst(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Insert("message", Values{
		"id": 1,
		"notifications": Insert(
			Values{"id": 10},
			Values{"status": "sent"},
		),
	})
	require.Error(t, err)
	assert.True(t, IsIdentityError(err))

	assert.Empty(t, e.All("message"))
	assert.Empty(t, e.All("notification"))
	assert.Empty(t, e.Pending())
}

func TestInsertMany(t *testing.T) {
	e, _ := newTestEngine(t)

	recs, err := e.InsertMany("partner", []Values{
		{"id": 1, "name": "Ann"},
		{"id": 2, "name": "Bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"partner_1", "partner_2"}, localIDs(recs))

	batches := e.Pending()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Ops, 2)

	_, err = e.InsertMany("partner", []Values{{"id": 3}, {"name": "nobody"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 1")
	_, ok := e.Get("partner", "partner_3")
	assert.False(t, ok, "no item of a rejected list is written")
}

func TestUpdate(t *testing.T) {
	e, _ := newTestEngine(t)

	msg := mustInsert(t, e, "message", Values{"id": 1, "body": "a"})
	require.NoError(t, e.Update(msg, Values{"body": "b", "id": 1}))
	assert.Equal(t, "B", msg.GetString("upperBody"))

	err := e.Update(msg, Values{"id": 2})
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeInvalidValue, re.Code)
	assert.Equal(t, int64(1), msg.GetInt("id"))
}

func TestGetFindAll(t *testing.T) {
	e, _ := newTestEngine(t)

	p2 := mustInsert(t, e, "partner", Values{"id": 2})
	p1 := mustInsert(t, e, "partner", Values{"id": 1})
	thread := mustInsert(t, e, "thread", Values{"model": "res.partner", "id": 3})
	cache := mustInsert(t, e, "cache", Values{"thread": thread, "domain": "inbox"})

	got, ok := e.Get("partner", "partner_1")
	require.True(t, ok)
	assert.Same(t, p1, got)

	_, ok = e.Get("message", "partner_1")
	assert.False(t, ok, "Get checks the model")

	got, ok = e.Find("partner", 2)
	require.True(t, ok)
	assert.Same(t, p2, got)

	got, ok = e.Find("thread", "res.partner", int64(3))
	require.True(t, ok)
	assert.Same(t, thread, got)

	got, ok = e.Find("cache", thread, "inbox")
	require.True(t, ok)
	assert.Same(t, cache, got)

	_, ok = e.Find("partner")
	assert.False(t, ok, "wrong number of keys")

	assert.Equal(t, []string{"partner_2", "partner_1"}, localIDs(e.All("partner")))
}

func TestSingleton(t *testing.T) {
	e, _ := newTestEngine(t)

	s1, err := e.Singleton("settings")
	require.NoError(t, err)
	assert.Equal(t, "settings", s1.LocalID())
	assert.Equal(t, int64(0), s1.GetInt("counter"))

	s2, err := e.Singleton("settings")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	s3 := mustInsert(t, e, "settings", Values{"counter": 5})
	assert.Same(t, s1, s3)
	assert.Equal(t, int64(5), s1.GetInt("counter"))
}

func TestDelete_Cascade(t *testing.T) {
	e, _ := newTestEngine(t)

	author := mustInsert(t, e, "partner", Values{"id": 1})
	thread := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 1})
	msg := mustInsert(t, e, "message", Values{
		"id":            1,
		"author":        author,
		"threads":       []*Record{thread},
		"notifications": Insert(Values{"id": 10}, Values{"id": 11}),
	})
	notifs := msg.Many("notifications")
	require.Len(t, notifs, 2)

	require.NoError(t, e.Delete(msg))

	assert.False(t, msg.Alive())
	for _, n := range notifs {
		assert.False(t, n.Alive(), "%s owned by a causal relation must be deleted", n)
	}
	assert.Empty(t, author.Many("authored"))
	assert.Empty(t, thread.Many("messages"))
	assert.True(t, author.Alive())
	assert.True(t, thread.Alive())
	assert.Empty(t, e.All("notification"))

	_, ok := e.Get("message", "message_1")
	assert.False(t, ok)

	err := e.Update(msg, Values{"body": "x"})
	assert.True(t, IsDeletedError(err))
	assert.True(t, IsDeletedError(e.Delete(msg)))
}

func TestDelete_RecursiveCausal(t *testing.T) {
	e, _ := newTestEngine(t)

	root := mustInsert(t, e, "node", Values{"id": 1})
	child := mustInsert(t, e, "node", Values{"id": 2, "parent": root})
	grandchild := mustInsert(t, e, "node", Values{"id": 3, "parent": child})
	other := mustInsert(t, e, "node", Values{"id": 4, "peers": []*Record{grandchild}})

	require.NoError(t, e.Delete(root))

	assert.False(t, child.Alive())
	assert.False(t, grandchild.Alive())
	assert.True(t, other.Alive())
	assert.Empty(t, other.Many("peers"))
}

// A deleted identity can be inserted again; the new record is distinct.
func TestDelete_NoResurrection(t *testing.T) {
	e, _ := newTestEngine(t)

	old := mustInsert(t, e, "partner", Values{"id": 1, "name": "Ann"})
	require.NoError(t, e.Delete(old))

	fresh := mustInsert(t, e, "partner", Values{"id": 1})
	assert.NotSame(t, old, fresh)
	assert.False(t, old.Alive())
	assert.Equal(t, "", fresh.GetString("name"))
}

func TestDelete_DeadRecordReadsNull(t *testing.T) {
	e, _ := newTestEngine(t)

	p := mustInsert(t, e, "partner", Values{"id": 1, "name": "Ann"})
	kept := mustInsert(t, e, "partner", Values{"id": 2, "name": "Bob"})
	require.NoError(t, e.Delete(p))

	assert.Equal(t, ir.IRNull{}, p.Get("name"))
	assert.Equal(t, ir.IRNull{}, p.Get("id"))
	assert.Empty(t, p.Many("authored"))
	assert.Equal(t, "Bob", kept.GetString("name"))

	e.Reset()
	assert.Equal(t, ir.IRNull{}, kept.Get("name"))
}

func TestBatch_RecomputesOnce(t *testing.T) {
	e, calls := newTestEngine(t)

	msg := mustInsert(t, e, "message", Values{"id": 1})
	before := calls.get("countThreads")

	err := e.Batch(func() error {
		for i := 1; i <= 5; i++ {
			th, err := e.Insert("thread", Values{"model": "mail.channel", "id": i})
			if err != nil {
				return err
			}
			if err := e.Update(msg, Values{"threads": Link(th)}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), msg.GetInt("threadCount"))
	assert.Equal(t, before+1, calls.get("countThreads"))

	batches := e.Pending()
	last := batches[len(batches)-1]
	assert.Len(t, last.Ops, 10, "nested calls join the outer batch")
}

func TestBatch_ErrorStillCommitsAppliedOps(t *testing.T) {
	e, _ := newTestEngine(t)

	err := e.Batch(func() error {
		if _, err := e.Insert("partner", Values{"id": 1}); err != nil {
			return err
		}
		_, err := e.Insert("partner", Values{"name": "no id"})
		return err
	})
	require.Error(t, err)

	_, ok := e.Get("partner", "partner_1")
	assert.True(t, ok)
	require.Len(t, e.Pending(), 1)
}

func TestReset(t *testing.T) {
	e, _ := newTestEngine(t)

	p := mustInsert(t, e, "partner", Values{"id": 1})
	e.Reset()

	assert.False(t, p.Alive())
	assert.Empty(t, e.All("partner"))
	assert.Equal(t, 0, e.Stats().Records)

	mustInsert(t, e, "partner", Values{"id": 1})
	assert.Len(t, e.All("partner"), 1)
}

func TestSnapshot_Deterministic(t *testing.T) {
	build := func() ir.Snapshot {
		e, _ := newTestEngine(t)
		p := mustInsert(t, e, "partner", Values{"id": 2, "name": "Ann"})
		mustInsert(t, e, "message", Values{"id": 9, "author": p, "body": "x"})
		mustInsert(t, e, "message", Values{"id": 3, "author": p})
		return e.Snapshot()
	}

	a, b := build(), build()
	assert.Equal(t, a, b)

	var ids []string
	for _, r := range a.Records {
		ids = append(ids, r.LocalID)
	}
	assert.Equal(t, []string{"partner_2", "message_3", "message_9"}, ids)
	assert.Equal(t, []string{"message_9", "message_3"}, a.Records[0].Relations["authored"])
	assert.Equal(t, "X", a.Records[2].Attributes["upperBody"])
	assert.Equal(t, int64(3), a.Seq)
}

func TestFlush_WritesJournal(t *testing.T) {
	j := NewMemoryJournal()
	e, _ := newTestEngine(t, WithJournal(j))

	mustInsert(t, e, "partner", Values{"id": 1})
	mustInsert(t, e, "partner", Values{"id": 2})
	require.NoError(t, e.Flush(context.Background()))

	assert.Empty(t, e.Pending())
	batches := j.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, int64(1), batches[0].Seq)
	assert.Equal(t, int64(2), batches[1].Seq)
	assert.Len(t, batches[0].ID, 64)

	// Writing the same batch twice is a no-op.
	require.NoError(t, j.WriteBatch(context.Background(), batches[0]))
	assert.Len(t, j.Batches(), 2)
}

func TestBatchOps_JournalEncoding(t *testing.T) {
	e, _ := newTestEngine(t)

	p := mustInsert(t, e, "partner", Values{"id": 1})
	mustInsert(t, e, "message", Values{
		"id":            5,
		"author":        p,
		"notifications": Insert(Values{"id": 6}),
	})

	batches := e.Pending()
	require.Len(t, batches, 2)
	op := batches[1].Ops[0]
	assert.Equal(t, ir.OpInsert, op.Kind)
	assert.Equal(t, "message_5", op.LocalID)

	assert.Equal(t, ir.IRArray{ir.IRArray{
		ir.IRString("replace"),
		ir.IRArray{ir.IRObject{"$ref": ir.IRString("partner_1")}},
	}}, op.Values["author"])
	assert.Equal(t, ir.IRArray{ir.IRArray{
		ir.IRString("insert"),
		ir.IRArray{ir.IRObject{"id": ir.IRInt(6)}},
	}}, op.Values["notifications"])
}

func TestDecodeValues(t *testing.T) {
	e, _ := newTestEngine(t)
	p := mustInsert(t, e, "partner", Values{"id": 1})

	data, err := e.DecodeValues("message", ir.IRObject{
		"id": ir.IRInt(5),
		"author": ir.IRArray{ir.IRArray{
			ir.IRString("replace"),
			ir.IRArray{ir.IRObject{"$ref": ir.IRString("partner_1")}},
		}},
		"threads": ir.IRArray{ir.IRArray{ir.IRString("unlink-all")}},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(5), data["id"])
	assert.Equal(t, []Command{Replace(p)}, data["author"])
	assert.Equal(t, []Command{UnlinkAll()}, data["threads"])

	_, err = e.DecodeValues("message", ir.IRObject{
		"author": ir.IRArray{ir.IRArray{
			ir.IRString("link"),
			ir.IRArray{ir.IRObject{"$ref": ir.IRString("partner_404")}},
		}},
	})
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	e, _ := newTestEngine(t)

	mustInsert(t, e, "message", Values{"id": 1, "body": "a"})
	s := e.Stats()
	assert.Equal(t, int64(1), s.Batches)
	assert.Equal(t, 1, s.Records)
	assert.Positive(t, s.Recomputes)
	assert.Equal(t, int64(0), s.EdgeChanges)
}

func TestRecord_AccessorsPanicOnUnknownField(t *testing.T) {
	e, _ := newTestEngine(t)
	msg := mustInsert(t, e, "message", Values{"id": 1})

	assert.Panics(t, func() { msg.Get("nope") })
	assert.Panics(t, func() { msg.Get("author") }, "Get on a relation")
	assert.Panics(t, func() { msg.Many("body") }, "Many on an attribute")
}
