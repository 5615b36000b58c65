package models

import (
	"time"
)

// Organization is a publishing agency. CommissionBps is the platform's
// retained share in basis points; nil means the platform-wide default applies.
type Organization struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	CommissionBps *int64    `json:"commission_bps,omitempty" db:"commission_bps"`
	Status        string    `json:"status" db:"status"` // ACTIVE or SUSPENDED
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Newspaper is a published issue available for purchase. Cover files live in
// an external object store; only the URL is kept here.
type Newspaper struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Title          string    `json:"title" db:"title"`
	Price          int64     `json:"price" db:"price"` // in minor units
	Currency       string    `json:"currency" db:"currency"`
	CoverURL       string    `json:"cover_url" db:"cover_url"`
	PublishedAt    time.Time `json:"published_at" db:"published_at"`
}

// OrganizationStats is the dashboard aggregate for one organization.
type OrganizationStats struct {
	OrganizationID   string `json:"organization_id"`
	OrdersPaid       int64  `json:"orders_paid"`
	GrossRevenue     int64  `json:"gross_revenue"`
	NetRevenue       int64  `json:"net_revenue"`
	TotalWithdrawn   int64  `json:"total_withdrawn"`
	PendingWithdrawn int64  `json:"pending_withdrawn"`
}
