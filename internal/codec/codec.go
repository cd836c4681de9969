// Package codec encodes graph snapshots as deterministic CBOR.
//
// Checkpoints are compared by hash, so the same snapshot must always encode
// to the same bytes. Core Deterministic Encoding (RFC 8949 section 4.2)
// gives that: sorted map keys, smallest integer encoding, no
// indefinite-length items.
package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/relgraph/internal/ir"
)

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Snapshot attributes are decoded into any; maps must come back
		// as map[string]any, not map[interface{}]interface{}.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Integers decode as int64 regardless of sign so decoded
		// snapshots compare equal to freshly built ones.
		IntDec: cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeSnapshot encodes a snapshot and returns the bytes with their hash.
func EncodeSnapshot(s ir.Snapshot) ([]byte, string, error) {
	data, err := Marshal(s)
	if err != nil {
		return nil, "", fmt.Errorf("encode snapshot: %w", err)
	}
	return data, ir.SnapshotHash(data), nil
}

// DecodeSnapshot decodes a snapshot written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (ir.Snapshot, error) {
	var s ir.Snapshot
	if err := Unmarshal(data, &s); err != nil {
		return ir.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 section 8) for
// data. Used by the trace command to print checkpoints.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
