package store

import (
	"context"
	"fmt"

	"github.com/roach88/relgraph/internal/ir"
)

// WriteBatch inserts a committed batch into the journal.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - batch ids are content
// addressed, so a duplicate id is the same batch written twice.
//
// Ops are serialized to canonical JSON per RFC 8785.
func (s *Store) WriteBatch(ctx context.Context, b ir.Batch) error {
	opsJSON, err := marshalOps(b.Ops)
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batches (id, seq, ops, recomputes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		b.ID,
		b.Seq,
		opsJSON,
		b.Recomputes,
	)
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	return nil
}

// WriteCall records a remote call. The first write for a token inserts the
// row; later writes move it to its final status. A finished call is never
// moved back to pending.
func (s *Store) WriteCall(ctx context.Context, c ir.CallRecord) error {
	argsJSON, err := marshalValue(orEmptyArray(c.Call.Args))
	if err != nil {
		return fmt.Errorf("write call: %w", err)
	}
	kwargsJSON, err := marshalValue(orEmptyObject(c.Call.Kwargs))
	if err != nil {
		return fmt.Errorf("write call: %w", err)
	}
	result, err := marshalNullable(c.Result)
	if err != nil {
		return fmt.Errorf("write call: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calls
		(token, seq, model, method, args, kwargs, status, result, error, done_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			done_seq = excluded.done_seq
		WHERE calls.status = 'pending'
	`,
		c.Token,
		c.Seq,
		c.Call.Model,
		c.Call.Method,
		argsJSON,
		kwargsJSON,
		string(c.Status),
		result,
		c.Error,
		c.DoneSeq,
	)
	if err != nil {
		return fmt.Errorf("write call: %w", err)
	}

	return nil
}

// WriteCheckpoint stores an encoded snapshot taken after the batch at seq.
// Writing a checkpoint for a seq that already has one is a no-op.
func (s *Store) WriteCheckpoint(ctx context.Context, cp Checkpoint) error {
	if len(cp.Data) == 0 {
		return fmt.Errorf("write checkpoint: empty snapshot at seq %d", cp.Seq)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (seq, hash, snapshot)
		VALUES (?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		cp.Seq,
		cp.Hash,
		cp.Data,
	)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	return nil
}

func orEmptyArray(a ir.IRArray) ir.IRArray {
	if a == nil {
		return ir.IRArray{}
	}
	return a
}

func orEmptyObject(o ir.IRObject) ir.IRObject {
	if o == nil {
		return ir.IRObject{}
	}
	return o
}
