package transport

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/relgraph/internal/ir"
)

// Recorder is an in-memory Invoker. It records every call and answers from
// a script keyed by "model.method"; unscripted calls return true, which is
// what the server answers for the mail write methods.
type Recorder struct {
	mu      sync.Mutex
	calls   []ir.Call
	results map[string]ir.IRValue
	errs    map[string]error
}

// NewRecorder creates a recorder with an empty script.
func NewRecorder() *Recorder {
	return &Recorder{
		results: make(map[string]ir.IRValue),
		errs:    make(map[string]error),
	}
}

// Answer scripts the result of model.method.
func (r *Recorder) Answer(model, method string, result ir.IRValue) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[model+"."+method] = result
	return r
}

// Fail scripts an error for model.method.
func (r *Recorder) Fail(model, method string, err error) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[model+"."+method] = err
	return r
}

// Invoke records the call and returns the scripted answer.
func (r *Recorder) Invoke(ctx context.Context, call ir.Call) (ir.IRValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)

	key := call.Model + "." + call.Method
	if err := r.errs[key]; err != nil {
		return nil, err
	}
	if v, ok := r.results[key]; ok {
		return v, nil
	}
	return ir.IRBool(true), nil
}

// Calls returns the recorded calls in arrival order.
func (r *Recorder) Calls() []ir.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Reset forgets recorded calls; the script is kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
