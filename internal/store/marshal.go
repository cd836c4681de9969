package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/relgraph/internal/ir"
)

// marshalOps converts batch ops to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON, the same bytes ir.BatchID hashes.
func marshalOps(ops []ir.Op) (string, error) {
	arr := make(ir.IRArray, len(ops))
	for i, op := range ops {
		arr[i] = op.Object()
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal ops: %w", err)
	}
	return string(data), nil
}

// unmarshalOps parses ops written by marshalOps.
func unmarshalOps(data string) ([]ir.Op, error) {
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal ops: %w", err)
	}
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("unmarshal ops: expected array, got %T", v)
	}

	ops := make([]ir.Op, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("unmarshal ops: op %d is %T", i, elem)
		}
		op := ir.Op{
			Kind:    ir.OpKind(str(obj["kind"])),
			Model:   str(obj["model"]),
			LocalID: str(obj["local_id"]),
		}
		if values, ok := obj["values"].(ir.IRObject); ok {
			op.Values = values
		}
		ops[i] = op
	}
	return ops, nil
}

func str(v ir.IRValue) string {
	s, _ := v.(ir.IRString)
	return string(s)
}

// marshalValue converts an IRValue to canonical JSON TEXT.
func marshalValue(v ir.IRValue) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// marshalNullable stores a nil IRValue as SQL NULL.
func marshalNullable(v ir.IRValue) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalValue(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// unmarshalArgs parses canonical JSON TEXT to IRArray.
// Large integers keep full precision (ir.UnmarshalIRValue uses json.Number).
func unmarshalArgs(data string) (ir.IRArray, error) {
	if data == "" || data == "[]" {
		return ir.IRArray{}, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("unmarshal args: expected array, got %T", v)
	}
	return arr, nil
}

// unmarshalKwargs parses canonical JSON TEXT to IRObject.
func unmarshalKwargs(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal kwargs: %w", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("unmarshal kwargs: expected object, got %T", v)
	}
	return obj, nil
}

// unmarshalNullable parses a nullable TEXT column. SQL NULL gives nil.
func unmarshalNullable(data sql.NullString) (ir.IRValue, error) {
	if !data.Valid {
		return nil, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(data.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return v, nil
}
