package ir

// Snapshot is the full observable state of an engine: every live record
// with its attribute values and relation contents.
type Snapshot struct {
	Seq     int64            `json:"seq" cbor:"seq"`
	Records []RecordSnapshot `json:"records" cbor:"records"`
}

// RecordSnapshot captures one record. Attributes hold plain Go values
// (see ToGo) so the snapshot encodes without custom marshalers.
// Relations list linked local ids in link order.
type RecordSnapshot struct {
	Model      string              `json:"model" cbor:"model"`
	LocalID    string              `json:"local_id" cbor:"local_id"`
	Attributes map[string]any      `json:"attributes" cbor:"attributes"`
	Relations  map[string][]string `json:"relations" cbor:"relations"`
}

// Object returns the snapshot as an IRObject for canonical output.
func (s Snapshot) Object() IRObject {
	records := make(IRArray, len(s.Records))
	for i, r := range s.Records {
		attrs := make(IRObject, len(r.Attributes))
		for k, v := range r.Attributes {
			val, err := FromGo(v)
			if err != nil {
				val = IRNull{}
			}
			attrs[k] = val
		}
		rels := make(IRObject, len(r.Relations))
		for k, ids := range r.Relations {
			arr := make(IRArray, len(ids))
			for j, id := range ids {
				arr[j] = IRString(id)
			}
			rels[k] = arr
		}
		records[i] = IRObject{
			"model":      IRString(r.Model),
			"local_id":   IRString(r.LocalID),
			"attributes": attrs,
			"relations":  rels,
		}
	}
	return IRObject{
		"seq":     IRInt(s.Seq),
		"records": records,
	}
}
