package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/spf13/viper"
)

// ReconciliationService is the scheduled safety net for lost provider
// answers: pending orders past a grace period are re-verified with the
// payment gateway, and withdrawals stuck in processing are resolved against
// the payout provider. Nothing auto-completes; only provider answers move
// state.
type ReconciliationService struct {
	db          *sql.DB
	payments    PaymentGateway
	payouts     PayoutProvider
	reconciler  *WebhookService
	withdrawals *WithdrawalService
	interval    time.Duration
	grace       time.Duration
}

func NewReconciliationService(db *sql.DB, payments PaymentGateway, payouts PayoutProvider,
	reconciler *WebhookService, withdrawals *WithdrawalService) *ReconciliationService {
	viper.SetDefault("reconciliation.interval", 5*time.Minute)
	viper.SetDefault("reconciliation.grace", 15*time.Minute)

	return &ReconciliationService{
		db:          db,
		payments:    payments,
		payouts:     payouts,
		reconciler:  reconciler,
		withdrawals: withdrawals,
		interval:    viper.GetDuration("reconciliation.interval"),
		grace:       viper.GetDuration("reconciliation.grace"),
	}
}

// Run loops until ctx is cancelled. Started as a goroutine from main and
// stopped by the shutdown context.
func (s *ReconciliationService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[RECONCILE] Worker started (interval %s, grace %s)", s.interval, s.grace)
	for {
		select {
		case <-ctx.Done():
			log.Println("[RECONCILE] Worker stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *ReconciliationService) runOnce(ctx context.Context) {
	s.resolveStaleOrders(ctx)
	s.resolveStuckWithdrawals(ctx)
}

func (s *ReconciliationService) resolveStaleOrders(ctx context.Context) {
	rows, err := s.db.Query(`
		SELECT id, payment_id
		FROM orders
		WHERE status = 'pending' AND payment_id <> '' AND created_at < $1
		LIMIT 50`, time.Now().Add(-s.grace))
	if err != nil {
		log.Printf("[RECONCILE] Failed to list stale orders: %v", err)
		return
	}
	defer rows.Close()

	type stale struct{ orderID, paymentID string }
	var orders []stale
	for rows.Next() {
		var o stale
		if err := rows.Scan(&o.orderID, &o.paymentID); err != nil {
			return
		}
		orders = append(orders, o)
	}

	for _, o := range orders {
		verification, err := s.payments.VerifyPayment(ctx, o.paymentID)
		if err != nil {
			log.Printf("[RECONCILE] Verify failed for order %s (payment %s): %v", o.orderID, o.paymentID, err)
			continue
		}
		if err := s.reconciler.ReconcilePayment(verification.PaymentID, verification.Status,
			verification.Amount, verification.Currency); err != nil && !errors.Is(err, ErrOrderNotFound) {
			log.Printf("[RECONCILE] Reconcile failed for order %s: %v", o.orderID, err)
		}
	}
}

func (s *ReconciliationService) resolveStuckWithdrawals(ctx context.Context) {
	rows, err := s.db.Query(`
		SELECT id, external_reference
		FROM withdrawals
		WHERE status = 'processing' AND updated_at < $1
		LIMIT 50`, time.Now().Add(-s.grace))
	if err != nil {
		log.Printf("[RECONCILE] Failed to list stuck withdrawals: %v", err)
		return
	}
	defer rows.Close()

	type stuck struct{ withdrawalID, payoutID string }
	var withdrawals []stuck
	for rows.Next() {
		var wd stuck
		if err := rows.Scan(&wd.withdrawalID, &wd.payoutID); err != nil {
			return
		}
		withdrawals = append(withdrawals, wd)
	}

	for _, wd := range withdrawals {
		if wd.payoutID == "" {
			// Processing with no payout handle means a state write was lost;
			// there is nothing to verify against, so flag it for an operator.
			log.Printf("[RECONCILE] Withdrawal %s stuck in processing without a payout reference, needs manual review", wd.withdrawalID)
			continue
		}
		verification, err := s.payouts.VerifyPayout(ctx, wd.payoutID)
		if err != nil {
			log.Printf("[RECONCILE] Verify failed for withdrawal %s (payout %s): %v", wd.withdrawalID, wd.payoutID, err)
			continue
		}
		if err := s.withdrawals.ConfirmCompletion(wd.withdrawalID, verification.Status, "reconciler"); err != nil {
			log.Printf("[RECONCILE] Confirmation failed for withdrawal %s: %v", wd.withdrawalID, err)
		}
	}
}
