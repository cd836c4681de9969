package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/relgraph/internal/compiler"
)

// RuntimeError represents an error detected while applying a mutation.
//
// Runtime errors reject the offending call; the graph is left as it was
// before the call (validation runs before the first mutation).
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Model and LocalID identify the affected record, when there is one.
	Model   string
	LocalID string

	// Field names the affected field, when there is one.
	Field string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeMissingIdentity indicates an insert without a usable identity key.
	ErrCodeMissingIdentity RuntimeErrorCode = "MISSING_IDENTITY"

	// ErrCodeUnknownModel indicates a model that was never declared.
	ErrCodeUnknownModel RuntimeErrorCode = "UNKNOWN_MODEL"

	// ErrCodeUnknownField indicates a field the model does not declare.
	ErrCodeUnknownField RuntimeErrorCode = "UNKNOWN_FIELD"

	// ErrCodeInvalidValue indicates a value of the wrong shape for its field.
	ErrCodeInvalidValue RuntimeErrorCode = "INVALID_VALUE"

	// ErrCodeDeletedRecord indicates use of a record after its deletion.
	ErrCodeDeletedRecord RuntimeErrorCode = "DELETED_RECORD"

	// ErrCodeQuotaExceeded indicates a batch that kept recomputing.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeEngineFailed indicates the engine stopped after a schema error.
	ErrCodeEngineFailed RuntimeErrorCode = "ENGINE_FAILED"

	// ErrCodeEngineStopped indicates the event queue was closed.
	ErrCodeEngineStopped RuntimeErrorCode = "ENGINE_STOPPED"

	// ErrCodeNoInvoker indicates a remote call without a transport.
	ErrCodeNoInvoker RuntimeErrorCode = "NO_INVOKER"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.LocalID != "" && e.Field != "":
		return fmt.Sprintf("%s: %s (record=%s, field=%s)", e.Code, e.Message, e.LocalID, e.Field)
	case e.LocalID != "":
		return fmt.Sprintf("%s: %s (record=%s)", e.Code, e.Message, e.LocalID)
	case e.Field != "":
		return fmt.Sprintf("%s: %s (model=%s, field=%s)", e.Code, e.Message, e.Model, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SchemaError is a declaration error: conflicting inverses, a dependency
// cycle, an unresolvable related path. It indicates a programming error and
// is fatal; an engine that hits one during evaluation refuses further work.
type SchemaError struct {
	Code    string
	Model   string
	Field   string
	Message string
}

// Schema error codes. Declaration-time codes reuse the compiler's E1xx
// codes; these cover what only shows up at evaluation.
const (
	ErrCodeDependencyCycle   = "DEPENDENCY_CYCLE"
	ErrCodeUnresolvedRelated = "UNRESOLVED_RELATED"
	ErrCodeUnboundCompute    = "UNBOUND_COMPUTE"
	ErrCodeComputeFailed     = "COMPUTE_FAILED"
	ErrCodeSchemaSealed      = "SCHEMA_SEALED"
	ErrCodeSchemaNotSealed   = "SCHEMA_NOT_SEALED"
	ErrCodeShadowedSingleton = "SHADOWED_SINGLETON"
)

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema error %s: %s.%s: %s", e.Code, e.Model, e.Field, e.Message)
	}
	if e.Model != "" {
		return fmt.Sprintf("schema error %s: %s: %s", e.Code, e.Model, e.Message)
	}
	return fmt.Sprintf("schema error %s: %s", e.Code, e.Message)
}

// IsSchemaError returns true for declaration and evaluation schema errors.
// Uses errors.As to handle wrapped errors.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsCycleError returns true if the error reports a dependency cycle, found
// either statically at declaration or while recomputing.
func IsCycleError(err error) bool {
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Code == ErrCodeDependencyCycle || se.Code == compiler.ErrDependencyCycle
	}
	return false
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeQuotaExceeded
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// IsDeletedError returns true if the error reports use of a deleted record.
func IsDeletedError(err error) bool {
	return hasCode(err, ErrCodeDeletedRecord)
}

// IsIdentityError returns true if an insert was rejected for its identity key.
func IsIdentityError(err error) bool {
	return hasCode(err, ErrCodeMissingIdentity)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewDeletedError creates a RuntimeError for use of a deleted record.
func NewDeletedError(rec *Record) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDeletedRecord,
		Message: "record has been deleted",
		Model:   rec.model.spec.Name,
		LocalID: rec.localID,
	}
}

// NewQuotaError creates a RuntimeError for a field recomputed more often
// than the quota allows within one batch.
func NewQuotaError(steps, maxSteps int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQuotaExceeded,
		Message: fmt.Sprintf("field recomputed too often in one batch (%d > %d)", steps, maxSteps),
		Details: map[string]string{
			"steps":     fmt.Sprintf("%d", steps),
			"max_steps": fmt.Sprintf("%d", maxSteps),
		},
	}
}

func invalidValue(model, field, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf(format, args...),
		Model:   model,
		Field:   field,
	}
}
