package services

import (
	"errors"
	"fmt"
)

// ErrDuplicateEvent signals that a balance-affecting event for the same
// (transactionType, referenceId) was already applied. Callers treat it as a
// no-op success, not a failure.
var ErrDuplicateEvent = errors.New("duplicate ledger event")

// ValidationError rejects malformed input before any write happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// InsufficientBalanceError rejects a debit that would take an organization
// balance below zero. Carries enough context to reconcile manually.
type InsufficientBalanceError struct {
	OrganizationID string
	Requested      int64
	Available      int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for organization %s: requested %d, available %d",
		e.OrganizationID, e.Requested, e.Available)
}

// InvalidTransitionError rejects an illegal withdrawal state change.
type InvalidTransitionError struct {
	WithdrawalID string
	From         string
	To           string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("withdrawal %s: illegal transition %s -> %s", e.WithdrawalID, e.From, e.To)
}

// ConsistencyError marks a ledger/balance write pair that did not commit as a
// unit. It should be structurally impossible; if observed, processing for the
// organization must stop pending manual review.
type ConsistencyError struct {
	OrganizationID string
	ReferenceID    string
	Detail         string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("ledger consistency violation for organization %s (reference %s): %s",
		e.OrganizationID, e.ReferenceID, e.Detail)
}
