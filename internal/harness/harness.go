package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/relgraph/internal/bus"
	"github.com/roach88/relgraph/internal/engine"
	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/mail"
	"github.com/roach88/relgraph/internal/testutil"
	"github.com/roach88/relgraph/internal/transport"
)

const defaultModel = "mail.message"

// Harness is one scenario execution: a fresh engine with the mail models,
// a scripted transport and an in-memory journal.
type Harness struct {
	engine   *engine.Engine
	svc      *mail.Service
	journal  *engine.MemoryJournal
	recorder *transport.Recorder
	tokens   *testutil.SequenceGenerator

	mu     sync.Mutex
	events []Event
}

// New builds the harness for a scenario.
func New(scenario *Scenario) (*Harness, error) {
	schema, err := mail.NewSchema()
	if err != nil {
		return nil, fmt.Errorf("mail schema: %w", err)
	}

	h := &Harness{
		journal:  engine.NewMemoryJournal(),
		recorder: transport.NewRecorder(),
		tokens:   testutil.NewSequenceGenerator(scenario.TokenPrefix),
	}
	if err := h.script(scenario.Answers); err != nil {
		return nil, err
	}

	h.engine, err = engine.New(schema,
		engine.WithJournal(h.journal),
		engine.WithInvoker(h.recorder),
		engine.WithTokenGenerator(h.tokens),
	)
	if err != nil {
		return nil, err
	}

	b := bus.New()
	b.Subscribe(mail.ActionEvent, h.recordEvent)

	opts := []mail.Option{mail.WithBus(b)}
	if scenario.Partner != nil {
		opts = append(opts, mail.WithCurrentPartner(scenario.Partner.ID, scenario.Partner.Name))
	}
	h.svc, err = mail.New(h.engine, opts...)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Service returns the mail service under test.
func (h *Harness) Service() *mail.Service {
	return h.svc
}

func (h *Harness) script(answers []Answer) error {
	for i, a := range answers {
		model := a.Model
		if model == "" {
			model = defaultModel
		}
		if a.Error != "" {
			h.recorder.Fail(model, a.Method, errors.New(a.Error))
			continue
		}
		var result ir.IRValue = ir.IRBool(true)
		if a.Result != nil {
			v, err := ir.FromGo(a.Result)
			if err != nil {
				return fmt.Errorf("answers[%d]: %w", i, err)
			}
			result = v
		}
		h.recorder.Answer(model, a.Method, result)
	}
	return nil
}

func (h *Harness) recordEvent(name string, payload ir.IRObject) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, Event{
		Type:    TraceBus,
		Seq:     h.engine.Clock().Current(),
		Name:    name,
		Payload: payload,
	})
}

// Run executes a scenario and returns the result.
//
// Setup failures abort the run with an error. Step failures and failed
// assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	h, err := New(scenario)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	for i, step := range scenario.Setup {
		if err := h.Step(ctx, step); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		err := h.Step(ctx, step)
		switch {
		case step.ExpectError == "" && err != nil:
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		case step.ExpectError != "" && err == nil:
			result.AddError(fmt.Sprintf("steps[%d]: expected an error containing %q, got none", i, step.ExpectError))
		case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("steps[%d]: expected an error containing %q, got %v", i, step.ExpectError, err))
		}
	}

	result.Trace = h.Trace()
	result.Snapshot = h.engine.Snapshot()

	for _, msg := range EvaluateAssertions(h, scenario.Assertions, result.Trace) {
		result.AddError(msg)
	}
	return result, nil
}

// Step applies one step and drains the engine, so every remote call it
// issued has completed when Step returns.
func (h *Harness) Step(ctx context.Context, step Step) error {
	if err := Apply(ctx, h.svc, step); err != nil {
		return err
	}
	return h.engine.Drain(ctx)
}

// Trace returns the journaled batches and calls plus the bus events, in
// seq order. At equal seq a batch comes before a call, and a call before
// a bus event.
func (h *Harness) Trace() []Event {
	var trace []Event
	for _, b := range h.journal.Batches() {
		trace = append(trace, Event{
			Type:       TraceBatch,
			Seq:        b.Seq,
			Ops:        b.Ops,
			Recomputes: b.Recomputes,
		})
	}
	for _, c := range h.journal.Calls() {
		trace = append(trace, Event{
			Type:   TraceCall,
			Seq:    c.Seq,
			Token:  c.Token,
			Call:   &c.Call,
			Status: c.Status,
			Result: c.Result,
			Error:  c.Error,
		})
	}
	h.mu.Lock()
	trace = append(trace, h.events...)
	h.mu.Unlock()

	rank := map[string]int{TraceBatch: 0, TraceCall: 1, TraceBus: 2}
	slices.SortStableFunc(trace, func(a, b Event) int {
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
		return cmp.Compare(rank[a.Type], rank[b.Type])
	})
	return trace
}
