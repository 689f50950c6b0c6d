package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrMerchantNotFound        = errors.New("merchant not found")
	ErrInvalidAPIKey           = errors.New("invalid api key")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

// BusinessCodeConflictError is returned when a merchant business code is
// already in use.
type BusinessCodeConflictError struct {
	Code string
}

func (e *BusinessCodeConflictError) Error() string {
	return fmt.Sprintf("business code %q is already in use", e.Code)
}

// TransitionError is returned when a state transition is not allowed.
type TransitionError struct {
	Event   Event
	Current Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from status %q", e.Event, e.Current)
}

// ConflictError is returned when a charge attempt loses the processing
// claim to a concurrent request. Callers should poll instead of
// resubmitting to the provider.
type ConflictError struct {
	SessionID string
	Status    Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s is already %s", e.SessionID, e.Status)
}

// ProviderError is returned when the bank provider call did not produce a
// determinate outcome. Retryable means the caller may try again later; the
// session stays in processing and is resolved by reconciliation.
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// ValidationError is returned for bad input values that pass schema checks
// but violate business rules (e.g. a non-positive amount).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
