package models

import (
	"time"
)

// Transaction types recorded in the ledger.
const (
	TransactionTypePurchase   = "purchase"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeRefund     = "refund"
)

// LedgerEntry is an immutable balance-affecting fact. Rows are only ever
// inserted; the balance-after columns are snapshots taken while the
// organization balance row is locked.
type LedgerEntry struct {
	ID                       int       `json:"id" db:"id"`
	OrganizationID           string    `json:"organization_id" db:"organization_id"`
	TransactionType          string    `json:"transaction_type" db:"transaction_type"` // purchase, withdrawal or refund
	ReferenceID              string    `json:"reference_id" db:"reference_id"`         // order or withdrawal id
	OrganizationAmount       int64     `json:"organization_amount" db:"organization_amount"` // in minor units
	PlatformAmount           int64     `json:"platform_amount" db:"platform_amount"`
	OrganizationBalanceAfter int64     `json:"organization_balance_after" db:"organization_balance_after"`
	PlatformBalanceAfter     int64     `json:"platform_balance_after" db:"platform_balance_after"`
	Currency                 string    `json:"currency" db:"currency"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`
}

// OrganizationBalance is the materialized running balance for one
// organization, mutated only in the same transaction that writes a
// LedgerEntry.
type OrganizationBalance struct {
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	CurrentBalance int64     `json:"current_balance" db:"current_balance"`
	Currency       string    `json:"currency" db:"currency"`
	Version        int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// PlatformBalance mirrors OrganizationBalance for the platform's own share,
// one row per currency.
type PlatformBalance struct {
	Currency       string    `json:"currency" db:"currency"`
	CurrentBalance int64     `json:"current_balance" db:"current_balance"`
	Version        int       `json:"version" db:"version"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
