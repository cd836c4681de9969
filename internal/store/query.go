package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/relgraph/internal/ir"
)

// Filter selects journal rows. Zero fields match everything.
//
// A filter compiles to a parameterized WHERE clause: values are never
// interpolated, and every query ends in a fixed ORDER BY so results come
// back in replay order.
type Filter struct {
	// Model keeps batches with at least one op on the model, and calls
	// to the model.
	Model string

	// Method and Status only apply to calls.
	Method string
	Status ir.CallStatus

	// After keeps rows with seq greater than After.
	After int64
}

// predicate is one "expr ?" condition and its parameter.
type predicate struct {
	expr  string
	param any
}

// compileWhere joins predicates with AND. No predicates means no clause.
func compileWhere(preds []predicate) (string, []any) {
	if len(preds) == 0 {
		return "", nil
	}
	parts := make([]string, len(preds))
	params := make([]any, len(preds))
	for i, p := range preds {
		parts[i] = p.expr
		params[i] = p.param
	}
	return " WHERE " + strings.Join(parts, " AND "), params
}

func (f Filter) batchWhere() (string, []any) {
	var preds []predicate
	if f.After > 0 {
		preds = append(preds, predicate{"seq > ?", f.After})
	}
	if f.Model != "" {
		preds = append(preds, predicate{
			"EXISTS (SELECT 1 FROM json_each(batches.ops) WHERE json_extract(json_each.value, '$.model') = ?)",
			f.Model,
		})
	}
	return compileWhere(preds)
}

func (f Filter) callWhere() (string, []any) {
	var preds []predicate
	if f.After > 0 {
		preds = append(preds, predicate{"seq > ?", f.After})
	}
	if f.Model != "" {
		preds = append(preds, predicate{"model = ?", f.Model})
	}
	if f.Method != "" {
		preds = append(preds, predicate{"method = ?", f.Method})
	}
	if f.Status != "" {
		preds = append(preds, predicate{"status = ?", string(f.Status)})
	}
	return compileWhere(preds)
}

// QueryBatches returns the batches matching f in replay order.
func (s *Store) QueryBatches(ctx context.Context, f Filter) ([]ir.Batch, error) {
	where, params := f.batchWhere()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, ops, recomputes
		FROM batches`+where+`
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []ir.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// QueryCalls returns the calls matching f, ordered by dispatch seq then
// token.
func (s *Store) QueryCalls(ctx context.Context, f Filter) ([]ir.CallRecord, error) {
	where, params := f.callWhere()
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, seq, model, method, args, kwargs, status, result, error, done_seq
		FROM calls`+where+`
		ORDER BY seq ASC, token COLLATE BINARY ASC
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	return collectCalls(rows)
}
