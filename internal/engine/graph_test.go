package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelation_InverseSymmetry(t *testing.T) {
	e, _ := newTestEngine(t)

	m1 := mustInsert(t, e, "message", Values{"id": 1})
	m2 := mustInsert(t, e, "message", Values{"id": 2})
	t1 := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 1})

	require.NoError(t, e.Update(m1, Values{"threads": Link(t1)}))
	require.NoError(t, e.Update(t1, Values{"messages": Link(m2)}))

	assert.Equal(t, []string{"message_1", "message_2"}, localIDs(t1.Many("messages")))
	assert.True(t, m1.Has("threads", t1))
	assert.True(t, m2.Has("threads", t1))
	assert.True(t, t1.Has("messages", m2))

	require.NoError(t, e.Update(t1, Values{"messages": Unlink(m1)}))
	assert.Empty(t, m1.Many("threads"))
	assert.Equal(t, []string{"message_2"}, localIDs(t1.Many("messages")))
}

func TestRelation_ToOneEvictsPreviousEdge(t *testing.T) {
	e, _ := newTestEngine(t)

	ann := mustInsert(t, e, "partner", Values{"id": 1})
	bob := mustInsert(t, e, "partner", Values{"id": 2})
	msg := mustInsert(t, e, "message", Values{"id": 1, "author": ann})

	require.NoError(t, e.Update(msg, Values{"author": bob}))

	assert.Same(t, bob, msg.One("author"))
	assert.Empty(t, ann.Many("authored"))
	assert.Equal(t, []string{"message_1"}, localIDs(bob.Many("authored")))

	// Linking from the to-many side moves the message as well.
	require.NoError(t, e.Update(ann, Values{"authored": Link(msg)}))
	assert.Same(t, ann, msg.One("author"))
	assert.Empty(t, bob.Many("authored"))
}

func TestRelation_SymmetricSelfInverse(t *testing.T) {
	e, _ := newTestEngine(t)

	a := mustInsert(t, e, "node", Values{"id": 1})
	b := mustInsert(t, e, "node", Values{"id": 2})
	c := mustInsert(t, e, "node", Values{"id": 3})

	require.NoError(t, e.Update(a, Values{"peers": Link(b, c)}))
	assert.Equal(t, []string{"node_2", "node_3"}, localIDs(a.Many("peers")))
	assert.Equal(t, []string{"node_1"}, localIDs(b.Many("peers")))
	assert.Equal(t, []string{"node_1"}, localIDs(c.Many("peers")))

	require.NoError(t, e.Update(b, Values{"peers": Unlink(a)}))
	assert.Equal(t, []string{"node_3"}, localIDs(a.Many("peers")))
	assert.Empty(t, b.Many("peers"))
}

func TestRelation_SelfReferenceTree(t *testing.T) {
	e, _ := newTestEngine(t)

	root := mustInsert(t, e, "node", Values{"id": 1})
	left := mustInsert(t, e, "node", Values{"id": 2, "parent": root})
	right := mustInsert(t, e, "node", Values{"id": 3, "parent": root})

	assert.Equal(t, []string{"node_2", "node_3"}, localIDs(root.Many("children")))
	assert.Same(t, root, left.One("parent"))

	require.NoError(t, e.Update(right, Values{"parent": left}))
	assert.Equal(t, []string{"node_2"}, localIDs(root.Many("children")))
	assert.Equal(t, []string{"node_3"}, localIDs(left.Many("children")))
}

func TestRelation_WithoutInverse(t *testing.T) {
	e, _ := newTestEngine(t)

	th := mustInsert(t, e, "thread", Values{"model": "res.partner", "id": 1})
	msg := mustInsert(t, e, "message", Values{"id": 1, "originThread": th})
	assert.Same(t, th, msg.One("originThread"))

	require.NoError(t, e.Delete(th))
	assert.Nil(t, msg.One("originThread"), "deleting the target removes inverse-less edges too")
}

func TestCommand_ReplaceIsADiff(t *testing.T) {
	e, _ := newTestEngine(t)

	msg := mustInsert(t, e, "message", Values{"id": 1})
	t1 := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 1})
	t2 := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 2})
	t3 := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 3})

	require.NoError(t, e.Update(msg, Values{"threads": Replace(t1, t2)}))
	before := e.Stats().EdgeChanges

	require.NoError(t, e.Update(msg, Values{"threads": Replace(t2, t3)}))
	assert.Equal(t, before+2, e.Stats().EdgeChanges, "one unlink and one link")
	assert.Equal(t, []string{"thread_mail.channel_2", "thread_mail.channel_3"}, localIDs(msg.Many("threads")))
	assert.Empty(t, t1.Many("messages"))

	before = e.Stats().EdgeChanges
	require.NoError(t, e.Update(msg, Values{"threads": []*Record{t2, t3}}))
	assert.Equal(t, before, e.Stats().EdgeChanges, "replace with the same set changes nothing")
}

func TestCommand_Verbs(t *testing.T) {
	e, _ := newTestEngine(t)

	msg := mustInsert(t, e, "message", Values{"id": 1})
	t1 := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 1})
	t2 := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 2})

	require.NoError(t, e.Update(msg, Values{"threads": Link(t1, t2)}))
	require.NoError(t, e.Update(msg, Values{"threads": Link(t1)}), "linking twice is a no-op")
	assert.Len(t, msg.Many("threads"), 2)

	require.NoError(t, e.Update(msg, Values{"threads": Unlink(t1, t1)}))
	assert.Equal(t, []string{"thread_mail.channel_2"}, localIDs(msg.Many("threads")))

	require.NoError(t, e.Update(msg, Values{"threads": UnlinkAll()}))
	assert.Empty(t, msg.Many("threads"))

	require.NoError(t, e.Update(msg, Values{"threads": Link(t1)}))
	require.NoError(t, e.Update(msg, Values{"threads": nil}), "nil is unlink-all")
	assert.Empty(t, msg.Many("threads"))

	require.NoError(t, e.Update(msg, Values{"threads": []Command{
		Insert(Values{"model": "mail.channel", "id": 3, "name": "general"}),
		Link(t2),
	}}))
	assert.Equal(t, []string{"thread_mail.channel_3", "thread_mail.channel_2"}, localIDs(msg.Many("threads")))
	t3, ok := e.Find("thread", "mail.channel", 3)
	require.True(t, ok)
	assert.Equal(t, "general", t3.GetString("name"))

	require.NoError(t, e.Update(msg, Values{"threads": InsertAndReplace(
		Values{"model": "mail.channel", "id": 3, "name": "renamed"},
	)}))
	assert.Equal(t, []string{"thread_mail.channel_3"}, localIDs(msg.Many("threads")))
	assert.Same(t, t3, msg.One("threads"))
	assert.Equal(t, "renamed", t3.GetString("name"))
}

func TestCommand_Validation(t *testing.T) {
	e, _ := newTestEngine(t)

	ann := mustInsert(t, e, "partner", Values{"id": 1})
	bob := mustInsert(t, e, "partner", Values{"id": 2})
	th := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 1})
	msg := mustInsert(t, e, "message", Values{"id": 1})

	other, _ := newTestEngine(t)
	foreign := mustInsert(t, other, "partner", Values{"id": 9})

	dead := mustInsert(t, e, "partner", Values{"id": 3})
	require.NoError(t, e.Delete(dead))

	tests := []struct {
		name  string
		value any
		code  RuntimeErrorCode
	}{
		{"wrong target model", Link(th), ErrCodeInvalidValue},
		{"two records on a to-one", Replace(ann, bob), ErrCodeInvalidValue},
		{"record of another engine", Link(foreign), ErrCodeInvalidValue},
		{"deleted record", Link(dead), ErrCodeDeletedRecord},
		{"data on link", Command{Verb: VerbLink, Data: []Values{{"id": 1}}}, ErrCodeInvalidValue},
		{"unknown verb", Command{Verb: "merge"}, ErrCodeInvalidValue},
		{"not a command", "partner_1", ErrCodeInvalidValue},
		{"nil record", Link(nil), ErrCodeInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Update(msg, Values{"author": tt.value})
			var re *RuntimeError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.code, re.Code)
			assert.Nil(t, msg.One("author"))
		})
	}
}

// Commands apply in list order.
func TestCommand_ListOrder(t *testing.T) {
	e, _ := newTestEngine(t)

	msg := mustInsert(t, e, "message", Values{"id": 1})
	t1 := mustInsert(t, e, "thread", Values{"model": "mail.channel", "id": 1})

	require.NoError(t, e.Update(msg, Values{"threads": []Command{Link(t1), UnlinkAll()}}))
	assert.Empty(t, msg.Many("threads"))

	require.NoError(t, e.Update(msg, Values{"threads": []Command{UnlinkAll(), Link(t1)}}))
	assert.Len(t, msg.Many("threads"), 1)
}
