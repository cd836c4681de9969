package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/relgraph/internal/engine"
	"github.com/roach88/relgraph/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string  // Assertion type for categorization
	Expected string  // Human-readable expected outcome
	Actual   string  // Human-readable actual outcome
	Trace    []Event // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if calls := callsOf(e.Trace); len(calls) > 0 {
		fmt.Fprintf(&buf, "\nRemote calls:\n")
		for i, ev := range calls {
			fmt.Fprintf(&buf, "  [%d] %s.%s %s\n", i+1, ev.Call.Model, ev.Call.Method, ev.Status)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the harness state and
// trace. Returns one message per failed assertion.
func EvaluateAssertions(h *Harness, assertions []Assertion, trace []Event) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRecord:
			err = assertRecord(h.engine, a, trace)
		case AssertAbsent:
			err = assertAbsent(h.engine, a, trace)
		case AssertCount:
			err = assertCount(h.engine, a, trace)
		case AssertCallCount:
			err = assertCallCount(trace, a)
		case AssertCallOrder:
			err = assertCallOrder(trace, a)
		case AssertEvent:
			err = assertEvent(trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func lookup(e *engine.Engine, a Assertion) (*engine.Record, bool) {
	if a.LocalID != "" {
		return e.Get(a.Model, a.LocalID)
	}
	return e.Find(a.Model, a.Key...)
}

func describeKey(a Assertion) string {
	if a.LocalID != "" {
		return a.LocalID
	}
	return fmt.Sprintf("%s %v", a.Model, a.Key)
}

// assertRecord checks a subset of a record's fields. Attributes compare
// as values; relations compare as local ids, in link order for to-many.
func assertRecord(e *engine.Engine, a Assertion, trace []Event) error {
	rec, ok := lookup(e, a)
	if !ok {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record %s", describeKey(a)),
			Actual:   "not found",
			Trace:    trace,
		}
	}

	spec, _ := e.Schema().Model(a.Model)
	for name, want := range a.Expect {
		f, ok := spec.Field(name)
		if !ok {
			return fmt.Errorf("model %s has no field %q", a.Model, name)
		}

		var got, expected any
		var equal bool
		switch {
		case f.IsRelation() && f.Relation.ToMany():
			ids := localIDs(rec.Many(name))
			got, expected = ids, want
			equal = sameIDs(ids, want)
		case f.IsRelation():
			id := ""
			if r := rec.One(name); r != nil {
				id = r.LocalID()
			}
			got, expected = id, want
			w, _ := want.(string)
			equal = id == w
		default:
			wantVal, err := ir.FromGo(want)
			if err != nil {
				return fmt.Errorf("expect.%s: %w", name, err)
			}
			got, expected = describe(rec.Get(name)), describe(wantVal)
			equal = ir.Equal(rec.Get(name), wantVal)
		}

		if !equal {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("%s.%s = %v", rec.LocalID(), name, expected),
				Actual:   fmt.Sprintf("%v", got),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertAbsent(e *engine.Engine, a Assertion, trace []Event) error {
	if _, ok := lookup(e, a); ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("no record %s", describeKey(a)),
			Actual:   "record exists",
			Trace:    trace,
		}
	}
	return nil
}

func assertCount(e *engine.Engine, a Assertion, trace []Event) error {
	if n := len(e.All(a.Model)); n != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d %s record(s)", a.Count, a.Model),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertCallCount checks how many calls were made to a method.
func assertCallCount(trace []Event, a Assertion) error {
	count := 0
	for _, ev := range callsOf(trace) {
		if ev.Call.Method == a.Method {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%s called %d time(s)", a.Method, a.Count),
			Actual:   fmt.Sprintf("called %d time(s)", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertCallOrder checks that methods were first called in the given
// order. Other calls may come in between.
func assertCallOrder(trace []Event, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range callsOf(trace) {
		if _, seen := positions[ev.Call.Method]; !seen {
			positions[ev.Call.Method] = i + 1
		}
	}

	for _, m := range a.Methods {
		if positions[m] == 0 {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("all methods called: %v", a.Methods),
				Actual:   fmt.Sprintf("missing method: %s", m),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Methods); i++ {
		prev, curr := a.Methods[i-1], a.Methods[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("methods in order: %v", a.Methods),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertEvent checks that a bus event with a matching payload subset was
// emitted.
func assertEvent(trace []Event, a Assertion) error {
	want := ir.IRObject{}
	if a.Payload != nil {
		v, err := ir.FromGo(a.Payload)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		want = v.(ir.IRObject)
	}

	for _, ev := range trace {
		if ev.Type == TraceBus && ev.Name == a.Name && matchSubset(ev.Payload, want) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEvent,
		Expected: fmt.Sprintf("event %s with payload %s", a.Name, describe(want)),
		Actual:   "not emitted",
		Trace:    trace,
	}
}

// matchSubset reports whether every key of want is in got with an equal
// value. Nested objects match as subsets too.
func matchSubset(got, want ir.IRObject) bool {
	for k, w := range want {
		g, ok := got[k]
		if !ok {
			return false
		}
		wObj, wIsObj := w.(ir.IRObject)
		gObj, gIsObj := g.(ir.IRObject)
		if wIsObj && gIsObj {
			if !matchSubset(gObj, wObj) {
				return false
			}
			continue
		}
		if !ir.Equal(g, w) {
			return false
		}
	}
	return true
}

func callsOf(trace []Event) []Event {
	var out []Event
	for _, ev := range trace {
		if ev.Type == TraceCall && ev.Call != nil {
			out = append(out, ev)
		}
	}
	return out
}

func localIDs(recs []*engine.Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.LocalID()
	}
	return ids
}

// sameIDs compares local ids with an expected YAML list of strings.
func sameIDs(got []string, want any) bool {
	list, ok := want.([]any)
	if !ok {
		return want == nil && len(got) == 0
	}
	if len(list) != len(got) {
		return false
	}
	for i, w := range list {
		if s, _ := w.(string); s != got[i] {
			return false
		}
	}
	return true
}

func describe(v ir.IRValue) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
