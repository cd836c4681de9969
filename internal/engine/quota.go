package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxRecomputeSteps is the default number of times one
// (record, field) may be recomputed within a single batch.
const DefaultMaxRecomputeSteps = 10000

// QuotaEnforcer counts recomputations of each (record, field) in one batch
// and enforces a limit per field.
//
// A compute function whose output feeds back into its own inputs through a
// path the static analysis cannot see (for instance a related path that
// loops back through data) keeps re-evaluating the same fields. A batch that
// converges evaluates each field a bounded number of times however many
// records it touches, so the limit is per field, not per batch.
type QuotaEnforcer struct {
	maxSteps int
	counts   map[string]int
	total    int
}

// NewQuotaEnforcer creates a new quota enforcer with the given per-field limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps, counts: make(map[string]int)}
}

// Check records one evaluation of the field named label and fails once
// that field went past the limit.
func (q *QuotaEnforcer) Check(label string) error {
	q.total++
	n := q.counts[label] + 1
	q.counts[label] = n
	if n > q.maxSteps {
		return &StepsExceededError{
			Last:  label,
			Steps: n,
			Limit: q.maxSteps,
		}
	}
	return nil
}

// Reset forgets all counts. Called when a new batch opens.
func (q *QuotaEnforcer) Reset() {
	clear(q.counts)
	q.total = 0
}

// Current returns the number of evaluations since the last Reset.
func (q *QuotaEnforcer) Current() int {
	return q.total
}

// MaxSteps returns the per-field limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a field exceeds the recompute quota.
type StepsExceededError struct {
	Last  string // The field that crossed the limit
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("recompute of %s exceeded max steps quota: %d steps > %d limit",
		e.Last, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
