package models

import (
	"time"
)

// Withdrawal statuses. pending -> processing|cancelled, processing ->
// completed|failed; completed, failed and cancelled are terminal.
const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusFailed     = "failed"
	WithdrawalStatusCancelled  = "cancelled"
)

// Withdrawal is an agency payout request. The ledger is debited only when the
// payout provider confirms completion, never at request time.
type Withdrawal struct {
	ID                string     `json:"id" db:"id"`
	OrganizationID    string     `json:"organization_id" db:"organization_id"`
	Amount            int64      `json:"amount" db:"amount"` // in minor units
	Currency          string     `json:"currency" db:"currency"`
	Status            string     `json:"status" db:"status"`
	PaymentMethod     string     `json:"payment_method" db:"payment_method"` // e.g. bank_transfer
	PaymentDetails    string     `json:"payment_details" db:"payment_details"`
	ExternalReference string     `json:"external_reference,omitempty" db:"external_reference"` // payout provider id
	UserID            string     `json:"user_id" db:"user_id"` // requesting agency user
	Notes             string     `json:"notes,omitempty" db:"notes"`
	RequestedAt       time.Time  `json:"requested_at" db:"requested_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Reserving returns true while the withdrawal still holds funds back from the
// available balance.
func (w *Withdrawal) Reserving() bool {
	return w.Status == WithdrawalStatusPending || w.Status == WithdrawalStatusProcessing
}

// Terminal returns true once no further transition is legal.
func (w *Withdrawal) Terminal() bool {
	switch w.Status {
	case WithdrawalStatusCompleted, WithdrawalStatusFailed, WithdrawalStatusCancelled:
		return true
	}
	return false
}
