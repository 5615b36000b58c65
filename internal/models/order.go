package models

import (
	"time"
)

// Order statuses. Orders are created pending at checkout and only the webhook
// reconciler (or the reconciliation worker) moves them to a terminal state.
const (
	OrderStatusPending  = "pending"
	OrderStatusPaid     = "paid"
	OrderStatusFailed   = "failed"
	OrderStatusRefunded = "refunded"
)

// Order represents a single-issue purchase.
type Order struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	NewspaperID    string     `json:"newspaper_id" db:"newspaper_id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	Amount         int64      `json:"amount" db:"amount"` // in minor units
	Currency       string     `json:"currency" db:"currency"`
	Status         string     `json:"status" db:"status"`
	PaymentID      string     `json:"payment_id" db:"payment_id"` // provider transaction id
	CheckoutURL    string     `json:"checkout_url,omitempty" db:"checkout_url"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	PaidAt         *time.Time `json:"paid_at,omitempty" db:"paid_at"`
}
