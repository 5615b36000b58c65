package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kioskfy/backend/internal/audit"
	"github.com/kioskfy/backend/internal/gateway"
	"github.com/kioskfy/backend/internal/models"
)

// Reconciler-level sentinels, mapped to HTTP statuses by the webhook handler.
var (
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrOrderNotFound    = errors.New("no order for payment reference")
	ErrAmountMismatch   = errors.New("reported amount does not match order")
)

// WebhookNotification is the provider's payload shape.
type WebhookNotification struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// WebhookService consumes asynchronous payment notifications and drives order
// and ledger state idempotently. The provider delivers at-least-once; the
// per-order row lock plus the ledger's reference uniqueness make a redelivery
// a no-op.
type WebhookService struct {
	db     *sql.DB
	redis  *redis.Client
	ledger *LedgerService
	secret []byte
	audit  *audit.AuditLogger
}

func NewWebhookService(db *sql.DB, rdb *redis.Client, ledger *LedgerService, secret string) *WebhookService {
	return &WebhookService{
		db:     db,
		redis:  rdb,
		ledger: ledger,
		secret: []byte(secret),
		audit:  audit.NewAuditLogger(),
	}
}

// VerifySignature checks the HMAC-SHA256 of the raw body against the shared
// gateway secret.
func (s *WebhookService) VerifySignature(body []byte, signature string) bool {
	h := hmac.New(sha256.New, s.secret)
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleNotification processes one webhook delivery. Forged signatures and
// unknown payment references cause no writes at all.
func (s *WebhookService) HandleNotification(body []byte, signature string) error {
	if !s.VerifySignature(body, signature) {
		log.Printf("[WEBHOOK] Rejected delivery with bad signature")
		return ErrInvalidSignature
	}

	var notification WebhookNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		return &ValidationError{Field: "payload", Message: "unparseable webhook body"}
	}
	if notification.Data.Reference == "" {
		return &ValidationError{Field: "data.reference", Message: "is required"}
	}

	// Fast-path duplicate check only; the transactional check below is the
	// one that counts.
	if s.seenRecently(notification.Data.Reference, notification.Data.Status) {
		log.Printf("[WEBHOOK] Cached duplicate for payment %s (%s), acknowledging",
			notification.Data.Reference, notification.Data.Status)
		return nil
	}

	if err := s.ReconcilePayment(notification.Data.Reference, notification.Data.Status,
		notification.Data.Amount, notification.Data.Currency); err != nil {
		return err
	}

	s.markSeen(notification.Data.Reference, notification.Data.Status)
	return nil
}

// ReconcilePayment applies the provider's reported status to the referenced
// order. The order row lock, the duplicate check, the status transition and
// (for success) the ledger write all share one database transaction, so the
// order can never end up paid without its purchase entry.
func (s *WebhookService) ReconcilePayment(paymentID, providerStatus string, amount int64, currency string) error {
	target, ok := mapProviderStatus(providerStatus)
	if !ok {
		// Still in flight on the provider side; nothing to reconcile yet.
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.QueryRow(`
		SELECT id, user_id, newspaper_id, organization_id, amount, currency, status
		FROM orders
		WHERE payment_id = $1
		FOR UPDATE`, paymentID).
		Scan(&order.ID, &order.UserID, &order.NewspaperID, &order.OrganizationID,
			&order.Amount, &order.Currency, &order.Status)
	if err == sql.ErrNoRows {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}

	if order.Status == target {
		log.Printf("[WEBHOOK] Duplicate delivery for order %s (payment %s, status %s), acknowledging",
			order.ID, paymentID, target)
		return tx.Commit()
	}

	if order.Status != models.OrderStatusPending {
		// Terminal states absorb conflicting redeliveries.
		log.Printf("[WEBHOOK] Ignoring %s for order %s already in terminal state %s",
			target, order.ID, order.Status)
		return tx.Commit()
	}

	switch target {
	case models.OrderStatusPaid:
		if amount != order.Amount || currency != order.Currency {
			s.audit.LogError(order.OrganizationID, order.ID, fmt.Errorf(
				"amount mismatch on payment %s: reported %d %s, order %d %s",
				paymentID, amount, currency, order.Amount, order.Currency))
			return ErrAmountMismatch
		}

		var commissionBps *int64
		if err := tx.QueryRow(`SELECT commission_bps FROM organizations WHERE id = $1`,
			order.OrganizationID).Scan(&commissionBps); err != nil {
			return err
		}

		split, err := ComputeSplit(order.Amount, CommissionFor(commissionBps))
		if err != nil {
			return err
		}

		now := time.Now()
		if _, err := tx.Exec(`
			UPDATE orders SET status = $1, paid_at = $2, updated_at = $2 WHERE id = $3`,
			models.OrderStatusPaid, now, order.ID); err != nil {
			return err
		}

		_, err = s.ledger.RecordEventTx(tx, LedgerEvent{
			OrganizationID:     order.OrganizationID,
			TransactionType:    models.TransactionTypePurchase,
			ReferenceID:        order.ID,
			OrganizationAmount: split.OrganizationAmount,
			PlatformAmount:     split.PlatformAmount,
			Currency:           order.Currency,
		})
		if err != nil && !errors.Is(err, ErrDuplicateEvent) {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}

		s.audit.LogLedgerEvent(models.TransactionTypePurchase, order.OrganizationID, order.ID,
			split.OrganizationAmount, split.PlatformAmount)
		log.Printf("[WEBHOOK] Order %s paid: organization %s credited %d, platform %d",
			order.ID, order.OrganizationID, split.OrganizationAmount, split.PlatformAmount)
		return nil

	case models.OrderStatusFailed:
		if _, err := tx.Exec(`
			UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
			models.OrderStatusFailed, time.Now(), order.ID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Printf("[WEBHOOK] Order %s marked failed (payment %s)", order.ID, paymentID)
		return nil
	}

	return nil
}

// mapProviderStatus translates gateway statuses to order states. Pending-ish
// statuses map to no transition.
func mapProviderStatus(providerStatus string) (string, bool) {
	switch providerStatus {
	case gateway.PaymentStatusSuccess:
		return models.OrderStatusPaid, true
	case gateway.PaymentStatusFailed, gateway.PaymentStatusAbandoned:
		return models.OrderStatusFailed, true
	default:
		return "", false
	}
}

func (s *WebhookService) seenRecently(paymentID, status string) bool {
	if s.redis == nil {
		return false
	}
	key := fmt.Sprintf("webhook:%s:%s", paymentID, status)
	exists, err := s.redis.Exists(context.Background(), key).Result()
	return err == nil && exists > 0
}

func (s *WebhookService) markSeen(paymentID, status string) {
	if s.redis == nil {
		return
	}
	key := fmt.Sprintf("webhook:%s:%s", paymentID, status)
	if err := s.redis.Set(context.Background(), key, 1, 24*time.Hour).Err(); err != nil {
		log.Printf("[WEBHOOK] Failed to cache delivery %s: %v", key, err)
	}
}
