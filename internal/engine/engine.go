package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/roach88/relgraph/internal/ir"
)

// Engine is one isolated object graph: a registry of records, the edge sets
// of every relation, and the scheduler that keeps derived fields current.
//
// CRITICAL: the engine is single-writer. Every mutation and every read of
// records happens on one goroutine: the Run loop once it is started, or the
// caller before that (tests, the CLI). Other goroutines talk to the engine
// through Enqueue.
//
// Thread-safety model:
//   - Enqueue(), Push(), Stop(): safe from any goroutine
//   - Run(), Drain(): must be called from exactly one goroutine
//   - everything else: owner goroutine only
type Engine struct {
	schema   *Schema
	clock    *Clock
	queue    *eventQueue
	tokens   TokenGenerator
	invoker  Invoker
	journal  Journal
	maxSteps int
	quota    *QuotaEnforcer

	records map[string]*Record
	byModel map[string][]*Record
	edges   []*edgeSet
	tracker *tracker

	batch    *batch
	settling bool
	failed   error
	changes  int64
	stats    Stats

	handlers map[string]PushHandler
	inflight atomic.Int64

	// Committed but not yet flushed to the journal.
	unflushed []ir.Batch
	calls     []ir.CallRecord
	lastSeq   int64
}

// Journal receives committed batches and remote call records.
// Implemented by store.Store and MemoryJournal.
type Journal interface {
	WriteBatch(ctx context.Context, b ir.Batch) error
	WriteCall(ctx context.Context, c ir.CallRecord) error
}

// PushHandler applies a server push for one model. It runs inside a batch
// on the loop goroutine.
type PushHandler func(e *Engine, payload ir.IRObject) error

// Stats counts work done since the engine was created.
type Stats struct {
	Batches     int64
	Recomputes  int64
	EdgeChanges int64
	Records     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRecomputeSteps sets how many times one (record, field) may be
// recomputed within a batch.
//
// Default: 10000 steps (DefaultMaxRecomputeSteps)
// Use WithMaxRecomputeSteps(10) for testing quota enforcement.
func WithMaxRecomputeSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithJournal sets where Flush writes committed batches and call records.
// Without a journal Flush discards them.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithInvoker sets the transport used by Dispatch.
func WithInvoker(inv Invoker) Option {
	return func(e *Engine) {
		e.invoker = inv
	}
}

// WithTokenGenerator sets the generator for remote call tokens.
// Default: UUIDv7Generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = g
	}
}

// WithClock sets the logical clock. Used for replay and tests.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an engine over schema, sealing it first if needed.
func New(schema *Schema, opts ...Option) (*Engine, error) {
	if !schema.Sealed() {
		if err := schema.Seal(); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		schema:   schema,
		clock:    NewClock(),
		queue:    newEventQueue(),
		tokens:   UUIDv7Generator{},
		maxSteps: DefaultMaxRecomputeSteps,
		handlers: make(map[string]PushHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.quota = NewQuotaEnforcer(e.maxSteps)
	e.resetGraph()
	return e, nil
}

func (e *Engine) resetGraph() {
	e.records = make(map[string]*Record)
	e.byModel = make(map[string][]*Record)
	e.edges = make([]*edgeSet, len(e.schema.pairs))
	for i, p := range e.schema.pairs {
		e.edges[i] = newEdgeSet(p)
	}
	e.tracker = newTracker()
}

// Schema returns the sealed schema the engine was built from.
func (e *Engine) Schema() *Schema {
	return e.schema
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// begin opens a batch or joins the open one.
func (e *Engine) begin() error {
	if e.failed != nil {
		return &RuntimeError{
			Code:    ErrCodeEngineFailed,
			Message: fmt.Sprintf("engine refused mutation after fatal error: %v", e.failed),
		}
	}
	if e.batch == nil {
		e.batch = &batch{queued: make(map[fieldRef]bool)}
		e.quota.Reset()
	}
	e.batch.depth++
	return nil
}

// end closes one level of batching. Closing the outermost level settles
// every pending recomputation and commits the batch.
//
// A schema error or an exhausted quota while settling leaves the graph
// half-propagated; the engine is marked failed and refuses further work.
func (e *Engine) end(err error) error {
	b := e.batch
	if b.depth > 1 {
		b.depth--
		return err
	}

	serr := e.settle()
	e.batch = nil
	e.stats.Recomputes += int64(b.recomputes)
	if serr != nil {
		e.failed = serr
		slog.Error("batch failed, engine stopped",
			"error", serr,
			"recomputes", b.recomputes,
		)
		return errors.Join(err, serr)
	}

	if len(b.ops) > 0 {
		if cerr := e.commit(b); cerr != nil {
			return errors.Join(err, cerr)
		}
	}
	return err
}

func (e *Engine) commit(b *batch) error {
	seq := e.clock.Next()
	id, err := ir.BatchID(seq, b.ops)
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	e.unflushed = append(e.unflushed, ir.Batch{
		ID:         id,
		Seq:        seq,
		Ops:        b.ops,
		Recomputes: b.recomputes,
	})
	e.lastSeq = seq
	e.stats.Batches++

	slog.Debug("batch committed",
		"seq", seq,
		"batch_id", id,
		"ops", len(b.ops),
		"recomputes", b.recomputes,
	)
	return nil
}

// record appends a top-level op to the open batch. Mutations made by
// compute functions while settling are derived state and are not journaled.
func (e *Engine) record(op ir.Op) {
	if e.settling {
		return
	}
	e.batch.ops = append(e.batch.ops, op)
}

func (e *Engine) model(name string) (*modelDesc, error) {
	m, ok := e.schema.models[name]
	if !ok {
		return nil, &RuntimeError{Code: ErrCodeUnknownModel, Message: "model is not declared", Model: name}
	}
	return m, nil
}

func (e *Engine) checkOwned(rec *Record) error {
	if rec == nil {
		return &RuntimeError{Code: ErrCodeInvalidValue, Message: "nil record"}
	}
	if rec.engine != e {
		return &RuntimeError{
			Code:    ErrCodeInvalidValue,
			Message: "record belongs to another engine",
			Model:   rec.model.spec.Name,
			LocalID: rec.localID,
		}
	}
	if !rec.alive {
		return NewDeletedError(rec)
	}
	return nil
}

// Insert upserts a record: the local id is derived from the identity keys
// in data, an existing record with that id is updated, otherwise a new one
// is created with defaults and then data.
func (e *Engine) Insert(model string, data Values) (*Record, error) {
	m, err := e.model(model)
	if err != nil {
		return nil, err
	}
	if err := e.begin(); err != nil {
		return nil, err
	}

	var rec *Record
	p, err := e.prepareInsert(m, data)
	if err == nil {
		rec = e.upsert(p)
		e.record(ir.Op{Kind: ir.OpInsert, Model: model, LocalID: p.localID, Values: p.encode()})
	}
	if err := e.end(err); err != nil {
		return nil, err
	}
	return rec, nil
}

// InsertMany upserts several records of one model in a single batch. The
// whole list is validated before the first record is written.
func (e *Engine) InsertMany(model string, data []Values) ([]*Record, error) {
	m, err := e.model(model)
	if err != nil {
		return nil, err
	}
	if err := e.begin(); err != nil {
		return nil, err
	}

	ps := make([]*prepared, 0, len(data))
	for i, d := range data {
		p, perr := e.prepareInsert(m, d)
		if perr != nil {
			err = fmt.Errorf("item %d: %w", i, perr)
			break
		}
		ps = append(ps, p)
	}

	var recs []*Record
	if err == nil {
		recs = make([]*Record, 0, len(ps))
		for _, p := range ps {
			recs = append(recs, e.upsert(p))
			e.record(ir.Op{Kind: ir.OpInsert, Model: model, LocalID: p.localID, Values: p.encode()})
		}
	}
	if err := e.end(err); err != nil {
		return nil, err
	}
	return recs, nil
}

// Update assigns data to rec. Identity keys may be repeated but not changed.
func (e *Engine) Update(rec *Record, data Values) error {
	if err := e.checkOwned(rec); err != nil {
		return err
	}
	if err := e.begin(); err != nil {
		return err
	}

	p, err := e.prepareUpdate(rec, data)
	if err == nil {
		e.apply(rec, p)
		e.record(ir.Op{Kind: ir.OpUpdate, Model: rec.Model(), LocalID: rec.localID, Values: p.encode()})
	}
	return e.end(err)
}

// Delete removes rec together with every record reachable from it through
// causal relations. Every edge of every removed record is unlinked first,
// so inverses and derived fields elsewhere see the removal in the same
// batch.
func (e *Engine) Delete(rec *Record) error {
	if err := e.checkOwned(rec); err != nil {
		return err
	}
	if err := e.begin(); err != nil {
		return err
	}

	closure := e.causalClosure(rec)
	for _, r := range closure {
		e.unlinkEverything(r)
	}
	for _, r := range closure {
		e.remove(r)
	}
	e.record(ir.Op{Kind: ir.OpDelete, Model: rec.Model(), LocalID: rec.localID})

	slog.Debug("records deleted",
		"root", rec.localID,
		"count", len(closure),
	)
	return e.end(nil)
}

// causalClosure collects rec and everything it owns, depth first, in
// discovery order.
func (e *Engine) causalClosure(rec *Record) []*Record {
	seen := map[*Record]bool{rec: true}
	out := []*Record{rec}
	for i := 0; i < len(out); i++ {
		r := out[i]
		for _, f := range r.model.order {
			if !f.spec.IsRelation() || !f.spec.IsCausal {
				continue
			}
			for _, t := range e.linked(r, f) {
				if !seen[t] {
					seen[t] = true
					out = append(out, t)
				}
			}
		}
	}
	return out
}

func (e *Engine) remove(r *Record) {
	r.alive = false
	r.values = nil
	delete(e.records, r.localID)
	name := r.model.spec.Name
	list := e.byModel[name]
	if i := slices.Index(list, r); i >= 0 {
		e.byModel[name] = slices.Delete(list, i, i+1)
	}
	e.tracker.forget(r)
	for _, f := range r.model.derived {
		delete(e.batch.queued, fieldRef{r, f})
	}
	e.batch.pending = slices.DeleteFunc(e.batch.pending, func(ref fieldRef) bool {
		return ref.rec == r
	})
}

// create registers a new record with every field at its default and
// schedules all of its derived fields.
func (e *Engine) create(m *modelDesc, localID string) *Record {
	rec := &Record{
		engine:  e,
		model:   m,
		localID: localID,
		values:  make(map[string]ir.IRValue, len(m.order)),
		alive:   true,
	}
	for _, f := range m.order {
		if f.spec.IsRelation() {
			continue
		}
		if f.spec.Default != nil {
			rec.values[f.name()] = f.spec.Default
		} else {
			rec.values[f.name()] = ir.IRNull{}
		}
	}
	e.records[localID] = rec
	e.byModel[m.spec.Name] = append(e.byModel[m.spec.Name], rec)
	for _, f := range m.derived {
		e.schedule(fieldRef{rec, f})
	}
	return rec
}

// Batch runs fn as one batch: nested Insert/Update/Delete calls join it and
// recomputation runs once, after fn returns. The batch commits even when fn
// returns an error, with whatever fn applied before failing.
func (e *Engine) Batch(fn func() error) error {
	if err := e.begin(); err != nil {
		return err
	}
	return e.end(fn())
}

// Get looks a record up by local id.
func (e *Engine) Get(model, localID string) (*Record, bool) {
	rec, ok := e.records[localID]
	if !ok || rec.model.spec.Name != model {
		return nil, false
	}
	return rec, true
}

// Find looks a record up by its identity key values, in the order the model
// declares them. Keys are strings, integers or *Record for to-one identity
// keys. A singleton takes no keys.
func (e *Engine) Find(model string, keys ...any) (*Record, bool) {
	m, ok := e.schema.models[model]
	if !ok || len(keys) != len(m.spec.Identity) {
		return nil, false
	}
	if m.spec.Singleton() {
		return e.Get(model, model)
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := k.(type) {
		case *Record:
			if v == nil {
				return nil, false
			}
			parts = append(parts, recordKey(v.localID))
		case string:
			if v == "" {
				return nil, false
			}
			parts = append(parts, stringKey(v))
		default:
			iv, err := ir.FromGo(k)
			if err != nil {
				return nil, false
			}
			switch n := iv.(type) {
			case ir.IRInt:
				parts = append(parts, intKey(int64(n)))
			case ir.IRString:
				if n == "" {
					return nil, false
				}
				parts = append(parts, stringKey(string(n)))
			default:
				return nil, false
			}
		}
	}
	return e.Get(model, localIDFor(model, parts))
}

// All returns the live records of a model in insertion order.
func (e *Engine) All(model string) []*Record {
	return slices.Clone(e.byModel[model])
}

// Singleton returns the only record of a singleton model, creating it on
// first use.
func (e *Engine) Singleton(model string) (*Record, error) {
	if rec, ok := e.Get(model, model); ok {
		return rec, nil
	}
	return e.Insert(model, Values{})
}

// Reset drops every record and edge, as at the end of a session. The
// journal buffers and the clock are kept; a failed engine is usable again.
func (e *Engine) Reset() {
	for _, r := range e.records {
		r.alive = false
		r.values = nil
	}
	e.resetGraph()
	e.batch = nil
	e.failed = nil
	slog.Info("engine reset")
}

// Err returns the fatal error that stopped the engine, if any.
func (e *Engine) Err() error {
	return e.failed
}

// Stats returns work counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.EdgeChanges = e.changes
	s.Records = len(e.records)
	return s
}

// Snapshot captures every live record. Models come in declaration order and
// records within a model by local id, so equal graphs give equal snapshots.
func (e *Engine) Snapshot() ir.Snapshot {
	snap := ir.Snapshot{Seq: e.lastSeq, Records: make([]ir.RecordSnapshot, 0, len(e.records))}
	for _, m := range e.schema.order {
		recs := slices.Clone(e.byModel[m.spec.Name])
		slices.SortFunc(recs, func(a, b *Record) int { return strings.Compare(a.localID, b.localID) })
		for _, r := range recs {
			rs := ir.RecordSnapshot{
				Model:      m.spec.Name,
				LocalID:    r.localID,
				Attributes: make(map[string]any),
				Relations:  make(map[string][]string),
			}
			for _, f := range m.order {
				if !f.spec.IsRelation() {
					rs.Attributes[f.name()] = ir.ToGo(r.values[f.name()])
					continue
				}
				linked := e.linked(r, f)
				if len(linked) == 0 {
					continue
				}
				ids := make([]string, len(linked))
				for i, t := range linked {
					ids[i] = t.localID
				}
				rs.Relations[f.name()] = ids
			}
			snap.Records = append(snap.Records, rs)
		}
	}
	return snap
}

// Pending returns the committed batches not yet flushed.
func (e *Engine) Pending() []ir.Batch {
	return slices.Clone(e.unflushed)
}

// PendingCalls returns the call records not yet flushed.
func (e *Engine) PendingCalls() []ir.CallRecord {
	return slices.Clone(e.calls)
}

// Flush writes committed batches and call records to the journal.
func (e *Engine) Flush(ctx context.Context) error {
	if e.journal == nil {
		e.unflushed = e.unflushed[:0]
		e.calls = e.calls[:0]
		return nil
	}
	for len(e.unflushed) > 0 {
		if err := e.journal.WriteBatch(ctx, e.unflushed[0]); err != nil {
			return fmt.Errorf("flush batch %d: %w", e.unflushed[0].Seq, err)
		}
		e.unflushed = e.unflushed[1:]
	}
	for len(e.calls) > 0 {
		if err := e.journal.WriteCall(ctx, e.calls[0]); err != nil {
			return fmt.Errorf("flush call %s: %w", e.calls[0].Token, err)
		}
		e.calls = e.calls[1:]
	}
	return nil
}

// HandlePush registers the handler for pushes of one model.
func (e *Engine) HandlePush(model string, h PushHandler) {
	e.handlers[model] = h
}

// Enqueue submits an event for processing by the Run loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Push enqueues a server payload for the handler registered for model.
// Thread-safe: may be called from any goroutine.
func (e *Engine) Push(model string, payload ir.IRObject) bool {
	return e.Enqueue(Event{Type: EventTypePush, Push: &Push{Model: model, Payload: payload}})
}

// QueueLen returns the current number of pending events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// InFlight returns the number of remote calls whose completion has not been
// applied yet.
func (e *Engine) InFlight() int64 {
	return e.inflight.Load()
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
// All mutation, recomputation and continuation code runs in this goroutine.
//
// ERROR HANDLING: On event processing failure, the error is logged with full
// event context and processing continues. The journal is flushed after
// every event.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(event); err != nil {
				logEventError(event, err)
			}
			if err := e.Flush(ctx); err != nil {
				slog.Error("journal flush failed", "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed,
			// which makes this case fire immediately.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain processes events on the calling goroutine until the queue is empty
// and no remote call is in flight, then flushes. It returns every event
// error, joined. Used by tests and one-shot CLI commands instead of Run.
func (e *Engine) Drain(ctx context.Context) error {
	var errs []error
	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(event); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if e.inflight.Load() == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		case <-e.queue.Wait():
		}
	}

	if err := e.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stop gracefully shuts down the engine.
// Closes the event queue, which will cause Run() to return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// processEvent routes an event to the appropriate handler.
// CRITICAL: Called only from the loop goroutine.
func (e *Engine) processEvent(event Event) error {
	switch event.Type {
	case EventTypePush:
		if event.Push == nil {
			return fmt.Errorf("push event missing push data")
		}
		h := e.handlers[event.Push.Model]
		if h == nil {
			return fmt.Errorf("no push handler for model %q", event.Push.Model)
		}
		return e.Batch(func() error { return h(e, event.Push.Payload) })

	case EventTypeCompletion:
		if event.Completion == nil {
			return fmt.Errorf("completion event missing completion data")
		}
		return e.complete(event.Completion)

	case EventTypeFunc:
		if event.Func == nil {
			return fmt.Errorf("func event missing function")
		}
		return e.Batch(func() error { return event.Func(e) })

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

// logEventError logs an event processing failure with full context.
func logEventError(event Event, err error) {
	switch event.Type {
	case EventTypePush:
		if event.Push != nil {
			slog.Error("push processing failed",
				"error", err,
				"model", event.Push.Model,
				"payload_id", ir.ToGo(event.Push.Payload["id"]),
			)
		} else {
			slog.Error("push processing failed",
				"error", err,
				"note", "push data was nil",
			)
		}

	case EventTypeCompletion:
		if event.Completion != nil && event.Completion.task != nil {
			t := event.Completion.task
			slog.Error("completion processing failed",
				"error", err,
				"token", t.Token,
				"model", t.Call.Model,
				"method", t.Call.Method,
				"seq", t.seq,
			)
		} else {
			slog.Error("completion processing failed",
				"error", err,
				"note", "completion data was nil",
			)
		}

	default:
		slog.Error("event processing failed",
			"error", err,
			"event_type", event.Type.String(),
		)
	}
}
