package audit

import (
	"encoding/json"
	"log"
	"time"
)

// AuditEvent is one money-affecting action, logged as a single JSON line so
// ledger history can be reconciled manually if the database ever disagrees.
type AuditEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	EventType      string    `json:"event_type"`
	OrganizationID string    `json:"organization_id"`
	ReferenceID    string    `json:"reference_id"`
	Amount         int64     `json:"amount"`
	Status         string    `json:"status"`
	Actor          string    `json:"actor,omitempty"`
	Details        any       `json:"details,omitempty"`
}

type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

// LogLedgerEvent records a committed ledger write.
func (a *AuditLogger) LogLedgerEvent(transactionType, organizationID, referenceID string, orgAmount, platformAmount int64) {
	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "LEDGER_" + transactionType,
		OrganizationID: organizationID,
		ReferenceID:    referenceID,
		Amount:         orgAmount,
		Status:         "SUCCESS",
		Details: map[string]int64{
			"organization_amount": orgAmount,
			"platform_amount":     platformAmount,
		},
	}
	a.log(event)
}

// LogTransition records a withdrawal state change with the triggering actor.
func (a *AuditLogger) LogTransition(withdrawalID, organizationID, from, to, actor string, amount int64) {
	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "WITHDRAWAL_TRANSITION",
		OrganizationID: organizationID,
		ReferenceID:    withdrawalID,
		Amount:         amount,
		Status:         to,
		Actor:          actor,
		Details:        map[string]string{"from": from, "to": to},
	}
	a.log(event)
}

// LogError records a failed money-path operation.
func (a *AuditLogger) LogError(organizationID, referenceID string, err error) {
	event := AuditEvent{
		Timestamp:      time.Now(),
		OrganizationID: organizationID,
		ReferenceID:    referenceID,
		EventType:      "ERROR",
		Status:         "FAILED",
		Details:        map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
