package domain

import "fmt"

// Error types for consistent error handling across the loan desk.

// ErrInvalidTerm indicates loan terms the amortization calculator rejects.
// It is returned to the caller synchronously and never retried.
type ErrInvalidTerm struct {
	Field  string
	Reason string
}

func (e *ErrInvalidTerm) Error() string {
	return fmt.Sprintf("invalid loan term '%s': %s", e.Field, e.Reason)
}

// ErrMalformedEvent indicates a pushed message that could not be parsed.
// The reconciler logs and drops it.
type ErrMalformedEvent struct {
	Reason string
	Err    error
}

func (e *ErrMalformedEvent) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed loan event: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed loan event: %s", e.Reason)
}

func (e *ErrMalformedEvent) Unwrap() error {
	return e.Err
}

// ErrStaleUpdate indicates a pushed payment that would move a loan backwards
// (amount paid decreasing or status regressing). The update is rejected and
// the stored record kept.
type ErrStaleUpdate struct {
	LoanID int64
	Reason string
}

func (e *ErrStaleUpdate) Error() string {
	return fmt.Sprintf("stale update rejected for loan %d: %s", e.LoanID, e.Reason)
}

// ErrUnknownLoan indicates an event for a loan that is not held locally.
type ErrUnknownLoan struct {
	LoanID int64
}

func (e *ErrUnknownLoan) Error() string {
	return fmt.Sprintf("unknown loan reference: %d", e.LoanID)
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrSessionClosed indicates an operation on a session that was torn down.
type ErrSessionClosed struct {
	OwnerID int64
}

func (e *ErrSessionClosed) Error() string {
	return fmt.Sprintf("session closed for owner %d", e.OwnerID)
}
