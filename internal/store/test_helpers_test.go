package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/relgraph/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestBatch creates a batch with one insert op and its real id.
func createTestBatch(t *testing.T, seq int64, localID string) ir.Batch {
	t.Helper()
	ops := []ir.Op{{
		Kind:    ir.OpInsert,
		Model:   "mail.partner",
		LocalID: localID,
		Values:  ir.IRObject{"id": ir.IRInt(seq), "name": ir.IRString("Partner " + localID)},
	}}
	id, err := ir.BatchID(seq, ops)
	if err != nil {
		t.Fatalf("BatchID() failed: %v", err)
	}
	return ir.Batch{ID: id, Seq: seq, Ops: ops, Recomputes: 2}
}

// createTestCall creates a pending call record.
func createTestCall(token string, seq int64) ir.CallRecord {
	return ir.CallRecord{
		Token: token,
		Seq:   seq,
		Call: ir.Call{
			Model:  "mail.message",
			Method: "toggle_message_starred",
			Args:   ir.IRArray{ir.IRArray{ir.IRInt(42)}},
			Kwargs: ir.IRObject{},
		},
		Status: ir.CallPending,
	}
}
