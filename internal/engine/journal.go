package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/relgraph/internal/ir"
)

// MemoryJournal keeps flushed batches and call records in memory.
// Used by tests and by the harness when no database is configured.
//
// Call records are keyed by token: a later record for the same token
// (done, failed, dropped) replaces the pending one.
type MemoryJournal struct {
	mu      sync.Mutex
	batches []ir.Batch
	seen    map[string]bool
	calls   []ir.CallRecord
	byToken map[string]int
}

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		seen:    make(map[string]bool),
		byToken: make(map[string]int),
	}
}

// WriteBatch appends a batch. Writing the same batch id twice is a no-op.
func (j *MemoryJournal) WriteBatch(_ context.Context, b ir.Batch) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.seen[b.ID] {
		return nil
	}
	j.seen[b.ID] = true
	j.batches = append(j.batches, b)
	return nil
}

// WriteCall records or updates a remote call.
func (j *MemoryJournal) WriteCall(_ context.Context, c ir.CallRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if i, ok := j.byToken[c.Token]; ok {
		j.calls[i] = c
		return nil
	}
	j.byToken[c.Token] = len(j.calls)
	j.calls = append(j.calls, c)
	return nil
}

// Batches returns the journaled batches in seq order.
func (j *MemoryJournal) Batches() []ir.Batch {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := slices.Clone(j.batches)
	slices.SortStableFunc(out, func(a, b ir.Batch) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// Calls returns the journaled call records in dispatch order.
func (j *MemoryJournal) Calls() []ir.CallRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.calls)
}
