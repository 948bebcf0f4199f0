/*
errors.go - Error taxonomy for the reconciliation core

PURPOSE:
  All failure kinds in one place. Every structured error unwraps to a
  sentinel so callers (the api layer in particular) can classify with
  errors.Is without knowing the concrete type.

ERROR CATEGORIES:
  ValidationError       malformed/missing input, nothing attempted
  NotFoundError         referenced row absent, nothing mutated
  NegativeStockError    stock would drop below zero, unit rolled back
  NegativeBalanceError  running total would cross zero, unit rolled back
  ConflictError         request contradicts stored state (foreign line id,
                        terminal order, duplicate document number)
  TransientStoreError   lock contention / timeout, safe to retry

SEE ALSO:
  - ledger.go: raises NegativeStockError / NegativeBalanceError
  - store/sqldb/errors.go: maps driver errors onto this taxonomy
  - api/errors.go: maps this taxonomy onto HTTP status classes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrNegativeStock   = errors.New("negative stock")
	ErrNegativeBalance = errors.New("negative balance")
	ErrConflict        = errors.New("conflict")
	ErrTransient       = errors.New("transient store error")
	ErrForbidden       = errors.New("forbidden")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound is shorthand for a *NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// NegativeStockError is returned when a stock change would leave the
// product below zero.
type NegativeStockError struct {
	ProductID ProductID
	Current   int64
	Delta     int64
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: have %d, change %+d",
		e.ProductID, e.Current, e.Delta)
}

func (e *NegativeStockError) Unwrap() error { return ErrNegativeStock }

// NegativeBalanceError is returned when a subtraction would take a running
// total below zero.
type NegativeBalanceError struct {
	Ref     BalanceRef
	Current Money
	Delta   Money
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("%s %s would go negative: have %s, change %s",
		e.Ref.Kind, e.Ref.ID, e.Current.StringFixed(MoneyPlaces), e.Delta.StringFixed(MoneyPlaces))
}

func (e *NegativeBalanceError) Unwrap() error { return ErrNegativeBalance }

// ConflictError reports a request that contradicts stored state.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Conflict is shorthand for a *ConflictError.
func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// TransientStoreError wraps lock contention and timeouts. The unit of work
// was rolled back; the caller may retry.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNegativeStock) ||
		errors.Is(err, ErrNegativeBalance) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
