package store

import (
	"context"
	"fmt"

	"github.com/roach88/relgraph/internal/ir"
)

// Summary describes the contents of a journal.
type Summary struct {
	Batches      int
	Calls        int
	PendingCalls int
	Checkpoints  int
	LastSeq      int64
}

// GetPendingCalls returns remote calls whose response was never applied.
// A process that stopped with calls in flight leaves them pending.
// Results ordered by seq ASC, token ASC.
func (s *Store) GetPendingCalls(ctx context.Context) ([]ir.CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, seq, model, method, args, kwargs, status, result, error, done_seq
		FROM calls
		WHERE status = 'pending'
		ORDER BY seq ASC, token COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("get pending calls: %w", err)
	}
	defer rows.Close()

	return collectCalls(rows)
}

// GetLastSeq returns the highest seq number used in the store.
// Used to resume the logical clock from the correct position.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(seq), 0) FROM batches),
			(SELECT COALESCE(MAX(seq), 0) FROM calls),
			(SELECT COALESCE(MAX(done_seq), 0) FROM calls)
		)
	`).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return maxSeq, nil
}

// Summarize counts the journal contents.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM batches),
			(SELECT COUNT(*) FROM calls),
			(SELECT COUNT(*) FROM calls WHERE status = 'pending'),
			(SELECT COUNT(*) FROM checkpoints)
	`).Scan(&sum.Batches, &sum.Calls, &sum.PendingCalls, &sum.Checkpoints)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize journal: %w", err)
	}

	sum.LastSeq, err = s.GetLastSeq(ctx)
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}
