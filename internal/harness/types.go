package harness

import (
	"github.com/roach88/relgraph/internal/ir"
)

// Trace event types.
const (
	TraceBatch = "batch"
	TraceCall  = "call"
	TraceBus   = "event"
)

// Event is one entry of a scenario trace: a committed batch, a remote
// call with its final status, or a bus event.
type Event struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`

	// batch
	Ops        []ir.Op `json:"ops,omitempty"`
	Recomputes int     `json:"recomputes,omitempty"`

	// call
	Token  string        `json:"token,omitempty"`
	Call   *ir.Call      `json:"call,omitempty"`
	Status ir.CallStatus `json:"status,omitempty"`
	Result ir.IRValue    `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`

	// bus event
	Name    string      `json:"name,omitempty"`
	Payload ir.IRObject `json:"payload,omitempty"`
}

// Object returns the event as an IRObject for canonical output.
func (ev Event) Object() ir.IRObject {
	obj := ir.IRObject{
		"type": ir.IRString(ev.Type),
		"seq":  ir.IRInt(ev.Seq),
	}
	switch ev.Type {
	case TraceBatch:
		ops := make(ir.IRArray, len(ev.Ops))
		for i, op := range ev.Ops {
			ops[i] = op.Object()
		}
		obj["ops"] = ops
		obj["recomputes"] = ir.IRInt(ev.Recomputes)
	case TraceCall:
		obj["token"] = ir.IRString(ev.Token)
		if ev.Call != nil {
			obj["call"] = ev.Call.Object()
		}
		obj["status"] = ir.IRString(ev.Status)
		if ev.Result != nil {
			obj["result"] = ev.Result
		}
		if ev.Error != "" {
			obj["error"] = ir.IRString(ev.Error)
		}
	case TraceBus:
		obj["name"] = ir.IRString(ev.Name)
		if ev.Payload != nil {
			obj["payload"] = ev.Payload
		}
	}
	return obj
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every step behaved and every assertion held.
	Pass bool `json:"pass"`

	// Trace holds batches, calls and bus events in seq order.
	Trace []Event `json:"trace"`

	// Errors contains step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the final engine state.
	Snapshot ir.Snapshot `json:"snapshot"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []Event{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Calls returns the call events of the trace in dispatch order.
func (r *Result) Calls() []Event {
	var out []Event
	for _, ev := range r.Trace {
		if ev.Type == TraceCall {
			out = append(out, ev)
		}
	}
	return out
}
