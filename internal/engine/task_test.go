package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/ir"
)

func starCall(id int) ir.Call {
	return ir.Call{
		Model:  "mail.message",
		Method: "toggle_message_starred",
		Args:   ir.IRArray{ir.IRArray{ir.IRInt(id)}},
	}
}

func TestDispatch_ContinuationRunsInBatch(t *testing.T) {
	inv := &fakeInvoker{results: map[string]ir.IRValue{"toggle_message_starred": ir.IRString("ok")}}
	j := NewMemoryJournal()
	e, _ := newTestEngine(t,
		WithInvoker(inv),
		WithJournal(j),
		WithTokenGenerator(NewFixedGenerator("call-1")),
	)
	ctx := context.Background()

	msg := mustInsert(t, e, "message", Values{"id": 1})
	var got ir.IRValue
	task := e.Dispatch(ctx, msg, starCall(1)).Then(func(e *Engine, result ir.IRValue) error {
		got = result
		_, err := e.Insert("partner", Values{"id": 99})
		return err
	})
	assert.Equal(t, "call-1", task.Token)

	require.NoError(t, e.Drain(ctx))

	result, err := task.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("ok"), result)
	assert.Equal(t, ir.IRString("ok"), got)
	assert.NoError(t, task.Err())
	_, ok := e.Get("partner", "partner_99")
	assert.True(t, ok, "continuation mutations apply")

	assert.Equal(t, []ir.Call{starCall(1)}, inv.seen())

	calls := j.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call-1", calls[0].Token)
	assert.Equal(t, ir.CallDone, calls[0].Status)
	assert.Greater(t, calls[0].DoneSeq, calls[0].Seq)
	assert.Equal(t, int64(0), e.InFlight())
}

func TestDispatch_DoesNotMutateByItself(t *testing.T) {
	inv := &fakeInvoker{}
	e, _ := newTestEngine(t, WithInvoker(inv))
	ctx := context.Background()

	msg := mustInsert(t, e, "message", Values{"id": 1, "body": "x"})
	before := e.Snapshot()

	e.Dispatch(ctx, msg, starCall(1))
	require.NoError(t, e.Drain(ctx))

	assert.Equal(t, before, e.Snapshot())
}

// A response for a record deleted in the meantime is dropped.
func TestDispatch_OwnerDeletedBeforeResponse(t *testing.T) {
	inv := &fakeInvoker{release: make(chan struct{})}
	j := NewMemoryJournal()
	e, _ := newTestEngine(t, WithInvoker(inv), WithJournal(j))
	ctx := context.Background()

	msg := mustInsert(t, e, "message", Values{"id": 1})
	ran := false
	task := e.Dispatch(ctx, msg, starCall(1)).Then(func(*Engine, ir.IRValue) error {
		ran = true
		return nil
	})

	require.NoError(t, e.Delete(msg))
	close(inv.release)
	require.NoError(t, e.Drain(ctx))

	_, err := task.Wait(ctx)
	assert.True(t, IsDeletedError(err), "got %v", err)
	assert.False(t, ran, "continuation must not run for a deleted owner")

	calls := j.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ir.CallDropped, calls[0].Status)
}

func TestDispatch_FailureSkipsContinuation(t *testing.T) {
	boom := errors.New("server said no")
	inv := &fakeInvoker{errs: map[string]error{"toggle_message_starred": boom}}
	j := NewMemoryJournal()
	e, _ := newTestEngine(t, WithInvoker(inv), WithJournal(j))
	ctx := context.Background()

	ran := false
	task := e.Dispatch(ctx, nil, starCall(1)).Then(func(*Engine, ir.IRValue) error {
		ran = true
		return nil
	})
	require.NoError(t, e.Drain(ctx))

	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)

	calls := j.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ir.CallFailed, calls[0].Status)
	assert.Equal(t, "server said no", calls[0].Error)
}

func TestDispatch_NoInvoker(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	task := e.Dispatch(ctx, nil, starCall(1))
	require.NoError(t, e.Drain(ctx))

	var re *RuntimeError
	require.ErrorAs(t, task.Err(), &re)
	assert.Equal(t, ErrCodeNoInvoker, re.Code)
}

func TestDispatch_StoppedEngine(t *testing.T) {
	e, _ := newTestEngine(t, WithInvoker(&fakeInvoker{}))
	ctx := context.Background()

	e.Stop()
	task := e.Dispatch(ctx, nil, starCall(1))

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task on a stopped engine never finished")
	}
	var re *RuntimeError
	require.ErrorAs(t, task.Err(), &re)
	assert.Equal(t, ErrCodeEngineStopped, re.Code)
	assert.Equal(t, int64(0), e.InFlight())
}

func TestTask_ThenAfterCompletion(t *testing.T) {
	e, _ := newTestEngine(t, WithInvoker(&fakeInvoker{}))
	ctx := context.Background()

	task := e.Dispatch(ctx, nil, starCall(1))
	require.NoError(t, e.Drain(ctx))
	require.NoError(t, task.Err())

	ran := false
	task.Then(func(*Engine, ir.IRValue) error {
		ran = true
		return nil
	})
	assert.False(t, ran, "late continuations are queued, not run inline")

	require.NoError(t, e.Drain(ctx))
	assert.True(t, ran)
}

func TestTask_WaitHonorsContext(t *testing.T) {
	inv := &fakeInvoker{release: make(chan struct{})}
	e, _ := newTestEngine(t, WithInvoker(inv))

	task := e.Dispatch(context.Background(), nil, starCall(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, task.Err(), "unfinished task has no error yet")

	close(inv.release)
	require.NoError(t, e.Drain(context.Background()))
}

func TestPush_HandlerRunsInBatch(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	e.HandlePush("message", func(e *Engine, payload ir.IRObject) error {
		if _, err := e.Insert("partner", Values{"id": payload["author"]}); err != nil {
			return err
		}
		_, err := e.Insert("message", Values{"id": payload["id"], "body": payload["body"]})
		return err
	})

	require.True(t, e.Push("message", ir.IRObject{
		"id":     ir.IRInt(1),
		"author": ir.IRInt(3),
		"body":   ir.IRString("hi"),
	}))
	require.NoError(t, e.Drain(ctx))

	msg, ok := e.Find("message", 1)
	require.True(t, ok)
	assert.Equal(t, "HI", msg.GetString("upperBody"))
	assert.Equal(t, int64(1), e.Stats().Batches, "one push, one batch")
}

func TestPush_Errors(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	e.Push("nobody", ir.IRObject{})
	e.HandlePush("message", func(e *Engine, payload ir.IRObject) error {
		_, err := e.Insert("message", Values{"body": "no id"})
		return err
	})
	e.Push("message", ir.IRObject{})

	err := e.Drain(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no push handler for model "nobody"`)
	assert.True(t, IsIdentityError(err))
}

func TestRun_ProcessesUntilStopped(t *testing.T) {
	j := NewMemoryJournal()
	e, _ := newTestEngine(t, WithJournal(j))

	e.HandlePush("partner", func(e *Engine, payload ir.IRObject) error {
		_, err := e.Insert("partner", Values{"id": payload["id"], "name": payload["name"]})
		return err
	})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	e.Push("partner", ir.IRObject{"id": ir.IRInt(1), "name": ir.IRString("Ann")})

	names := make(chan string, 1)
	e.Enqueue(Event{Type: EventTypeFunc, Func: func(e *Engine) error {
		p, ok := e.Find("partner", 1)
		if ok {
			names <- p.GetString("name")
		} else {
			names <- ""
		}
		return nil
	}})

	select {
	case name := <-names:
		assert.Equal(t, "Ann", name)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not process events")
	}

	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Len(t, j.Batches(), 1, "the loop flushes after each event")
}

func TestRun_ContextCancel(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, e.Push("partner", ir.IRObject{}), "queue is closed")
}
