package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/relgraph/internal/ir"
)

// Invoker performs remote procedure calls on the backend.
// Implemented by transport.Client and transport.Recorder.
type Invoker interface {
	Invoke(ctx context.Context, call ir.Call) (ir.IRValue, error)
}

// Continuation runs after a remote call succeeds, inside a batch on the
// loop goroutine, serialized with every other mutation.
type Continuation func(e *Engine, result ir.IRValue) error

// Task is a remote call in flight.
//
// The call itself runs on its own goroutine; its completion comes back
// through the event queue. Remote operations never mutate local state on
// their own: local state converges through a later push, or through a
// continuation registered with Then.
type Task struct {
	Token string
	Call  ir.Call

	owner *Record
	seq   int64
	eng   *Engine

	mu     sync.Mutex
	thens  []Continuation
	closed bool
	done   chan struct{}
	result ir.IRValue
	err    error
}

// Then registers a continuation. It runs only if the call succeeds and its
// owner record (if any) is still alive. Registering on a task that already
// finished schedules the continuation as a new event.
func (t *Task) Then(fn Continuation) *Task {
	t.mu.Lock()
	if !t.closed {
		t.thens = append(t.thens, fn)
		t.mu.Unlock()
		return t
	}
	t.mu.Unlock()

	t.eng.Enqueue(Event{Type: EventTypeFunc, Func: func(e *Engine) error {
		if t.err != nil {
			return nil
		}
		return fn(e, t.result)
	}})
	return t
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done.
//
// Wait must not be called from the loop goroutine: the completion is
// applied by that goroutine.
func (t *Task) Wait(ctx context.Context) (ir.IRValue, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return t.result, t.err
	}
}

// Err returns the task's error once it has finished, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Task) takeThens() []Continuation {
	t.mu.Lock()
	defer t.mu.Unlock()
	thens := t.thens
	t.thens = nil
	t.closed = true
	return thens
}

func (t *Task) finish(result ir.IRValue, err error) {
	t.takeThens()
	t.result = result
	t.err = err
	close(t.done)
}

// Dispatch starts a remote call. owner, if not nil, is the record the
// response concerns: if it is deleted before the response is applied, the
// task fails with ErrCodeDeletedRecord and no continuation runs.
//
// Dispatch must be called from the goroutine that owns the engine.
func (e *Engine) Dispatch(ctx context.Context, owner *Record, call ir.Call) *Task {
	t := &Task{
		Token: e.tokens.Generate(),
		Call:  call,
		owner: owner,
		seq:   e.clock.Next(),
		eng:   e,
		done:  make(chan struct{}),
	}
	e.calls = append(e.calls, ir.CallRecord{
		Token:  t.Token,
		Seq:    t.seq,
		Call:   call,
		Status: ir.CallPending,
	})
	e.inflight.Add(1)

	slog.Debug("remote call dispatched",
		"token", t.Token,
		"model", call.Model,
		"method", call.Method,
		"seq", t.seq,
	)

	if e.invoker == nil {
		e.post(&Completion{task: t, Err: &RuntimeError{
			Code:    ErrCodeNoInvoker,
			Message: "no invoker configured for remote calls",
			Model:   call.Model,
		}})
		return t
	}

	go func() {
		result, err := e.invoker.Invoke(ctx, call)
		e.post(&Completion{task: t, Result: result, Err: err})
	}()
	return t
}

// post hands a completion to the loop. If the loop is gone the task fails
// on the spot.
func (e *Engine) post(c *Completion) {
	if e.queue.Enqueue(Event{Type: EventTypeCompletion, Completion: c}) {
		return
	}
	e.inflight.Add(-1)
	c.task.finish(nil, &RuntimeError{
		Code:    ErrCodeEngineStopped,
		Message: "engine stopped before the call completed",
		Model:   c.task.Call.Model,
	})
}

// complete applies a completion on the loop goroutine.
func (e *Engine) complete(c *Completion) error {
	defer e.inflight.Add(-1)

	t := c.task
	status := ir.CallDone
	result, err := c.Result, c.Err

	switch {
	case t.owner != nil && !t.owner.alive:
		status = ir.CallDropped
		result, err = nil, NewDeletedError(t.owner)
		slog.Info("remote call response dropped: owner deleted",
			"token", t.Token,
			"owner", t.owner.localID,
		)
	case err != nil:
		status = ir.CallFailed
		slog.Warn("remote call failed",
			"token", t.Token,
			"model", t.Call.Model,
			"method", t.Call.Method,
			"error", err,
		)
	default:
		for _, fn := range t.takeThens() {
			if cerr := e.Batch(func() error { return fn(e, result) }); cerr != nil {
				err = cerr
				break
			}
		}
	}

	rec := ir.CallRecord{
		Token:   t.Token,
		Seq:     t.seq,
		Call:    t.Call,
		Status:  status,
		Result:  result,
		DoneSeq: e.clock.Next(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	e.calls = append(e.calls, rec)

	t.finish(result, err)
	return nil
}
