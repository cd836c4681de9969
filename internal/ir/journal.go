package ir

// OpKind identifies a top-level mutation recorded in the journal.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op is one top-level mutation inside a batch. Values holds the field
// assignments in journal encoding: attributes as-is, relation commands as
// [verb, payload] pairs with records written as {"$ref": localId}.
type Op struct {
	Kind    OpKind   `json:"kind"`
	Model   string   `json:"model"`
	LocalID string   `json:"local_id,omitempty"`
	Values  IRObject `json:"values,omitempty"`
}

// Object returns the op as an IRObject.
func (o Op) Object() IRObject {
	obj := IRObject{
		"kind":  IRString(o.Kind),
		"model": IRString(o.Model),
	}
	if o.LocalID != "" {
		obj["local_id"] = IRString(o.LocalID)
	}
	if o.Values != nil {
		obj["values"] = o.Values
	}
	return obj
}

// Batch is one committed mutation batch: every op applied by a single
// top-level engine call, plus the number of field recomputations it caused.
type Batch struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	Ops        []Op   `json:"ops"`
	Recomputes int    `json:"recomputes"`
}

// Call is a remote procedure call on the backend.
type Call struct {
	Model  string   `json:"model"`
	Method string   `json:"method"`
	Args   IRArray  `json:"args"`
	Kwargs IRObject `json:"kwargs"`
}

// Object returns the call as an IRObject.
func (c Call) Object() IRObject {
	args := c.Args
	if args == nil {
		args = IRArray{}
	}
	kwargs := c.Kwargs
	if kwargs == nil {
		kwargs = IRObject{}
	}
	return IRObject{
		"model":  IRString(c.Model),
		"method": IRString(c.Method),
		"args":   args,
		"kwargs": kwargs,
	}
}

// CallStatus tracks a remote call through its lifetime.
type CallStatus string

const (
	CallPending CallStatus = "pending"
	CallDone    CallStatus = "done"
	CallFailed  CallStatus = "failed"
	// CallDropped marks a response that arrived after its owner record was deleted.
	CallDropped CallStatus = "dropped"
)

// CallRecord is the journal entry for a remote call.
type CallRecord struct {
	Token   string     `json:"token"`
	Seq     int64      `json:"seq"`
	Call    Call       `json:"call"`
	Status  CallStatus `json:"status"`
	Result  IRValue    `json:"result,omitempty"`
	Error   string     `json:"error,omitempty"`
	DoneSeq int64      `json:"done_seq,omitempty"`
}
