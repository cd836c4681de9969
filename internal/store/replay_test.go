package store

import (
	"context"
	"testing"

	"github.com/roach88/relgraph/internal/ir"
)

func TestGetPendingCalls(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	done := createTestCall("done", 1)
	done.Status = ir.CallDone
	done.DoneSeq = 3
	for _, c := range []ir.CallRecord{createTestCall("open", 2), done} {
		if err := s.WriteCall(ctx, c); err != nil {
			t.Fatalf("WriteCall(%s) failed: %v", c.Token, err)
		}
	}

	pending, err := s.GetPendingCalls(ctx)
	if err != nil {
		t.Fatalf("GetPendingCalls() failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Token != "open" {
		t.Errorf("GetPendingCalls() = %+v, want [open]", pending)
	}
}

func TestGetLastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("GetLastSeq() on empty store = %d, want 0", seq)
	}

	if err := s.WriteBatch(ctx, createTestBatch(t, 4, "p")); err != nil {
		t.Fatal(err)
	}
	c := createTestCall("t", 5)
	c.Status = ir.CallDone
	c.DoneSeq = 7
	if err := s.WriteCall(ctx, c); err != nil {
		t.Fatal(err)
	}

	seq, err = s.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq() failed: %v", err)
	}
	if seq != 7 {
		t.Errorf("GetLastSeq() = %d, want 7 (call done_seq)", seq)
	}
}

func TestSummarize(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for seq := int64(1); seq <= 3; seq++ {
		if err := s.WriteBatch(ctx, createTestBatch(t, seq, "p")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.WriteCall(ctx, createTestCall("t", 4)); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteCheckpoint(ctx, Checkpoint{Seq: 3, Hash: "h", Data: []byte{1}}); err != nil {
		t.Fatal(err)
	}

	sum, err := s.Summarize(ctx)
	if err != nil {
		t.Fatalf("Summarize() failed: %v", err)
	}
	want := Summary{Batches: 3, Calls: 1, PendingCalls: 1, Checkpoints: 1, LastSeq: 4}
	if sum != want {
		t.Errorf("Summarize() = %+v, want %+v", sum, want)
	}
}
