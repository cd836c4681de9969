package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/relgraph/internal/ir"
)

// Checkpoint is an encoded graph snapshot (see codec.EncodeSnapshot).
type Checkpoint struct {
	Seq  int64
	Hash string
	Data []byte
}

// ReadBatches returns every journaled batch in replay order:
// ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the journal is empty.
func (s *Store) ReadBatches(ctx context.Context) ([]ir.Batch, error) {
	return s.ReadBatchesAfter(ctx, 0)
}

// ReadBatchesAfter returns the batches with seq greater than after, in
// replay order.
func (s *Store) ReadBatchesAfter(ctx context.Context, after int64) ([]ir.Batch, error) {
	return s.QueryBatches(ctx, Filter{After: after})
}

// ReadBatch retrieves a single batch by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadBatch(ctx context.Context, id string) (ir.Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, ops, recomputes
		FROM batches
		WHERE id = ?
	`, id)
	return scanBatch(row)
}

// ReadCalls returns every journaled remote call, ordered by dispatch seq
// then token.
func (s *Store) ReadCalls(ctx context.Context) ([]ir.CallRecord, error) {
	return s.QueryCalls(ctx, Filter{})
}

// ReadCall retrieves a single call by token.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadCall(ctx context.Context, token string) (ir.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, seq, model, method, args, kwargs, status, result, error, done_seq
		FROM calls
		WHERE token = ?
	`, token)
	return scanCall(row)
}

// LatestCheckpoint returns the checkpoint with the highest seq.
// Returns sql.ErrNoRows if no checkpoint has been written.
func (s *Store) LatestCheckpoint(ctx context.Context) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, hash, snapshot
		FROM checkpoints
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&cp.Seq, &cp.Hash, &cp.Data)
	if err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (ir.Batch, error) {
	var b ir.Batch
	var opsJSON string
	if err := row.Scan(&b.ID, &b.Seq, &opsJSON, &b.Recomputes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Batch{}, err
		}
		return ir.Batch{}, fmt.Errorf("scan batch: %w", err)
	}

	ops, err := unmarshalOps(opsJSON)
	if err != nil {
		return ir.Batch{}, fmt.Errorf("batch %s: %w", b.ID, err)
	}
	b.Ops = ops
	return b, nil
}

func scanCall(row scanner) (ir.CallRecord, error) {
	var c ir.CallRecord
	var argsJSON, kwargsJSON, status string
	var result sql.NullString
	err := row.Scan(
		&c.Token,
		&c.Seq,
		&c.Call.Model,
		&c.Call.Method,
		&argsJSON,
		&kwargsJSON,
		&status,
		&result,
		&c.Error,
		&c.DoneSeq,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.CallRecord{}, err
		}
		return ir.CallRecord{}, fmt.Errorf("scan call: %w", err)
	}
	c.Status = ir.CallStatus(status)

	if c.Call.Args, err = unmarshalArgs(argsJSON); err != nil {
		return ir.CallRecord{}, fmt.Errorf("call %s: %w", c.Token, err)
	}
	if c.Call.Kwargs, err = unmarshalKwargs(kwargsJSON); err != nil {
		return ir.CallRecord{}, fmt.Errorf("call %s: %w", c.Token, err)
	}
	if c.Result, err = unmarshalNullable(result); err != nil {
		return ir.CallRecord{}, fmt.Errorf("call %s: %w", c.Token, err)
	}
	return c, nil
}

func collectCalls(rows *sql.Rows) ([]ir.CallRecord, error) {
	calls := []ir.CallRecord{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}
