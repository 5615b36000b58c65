package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kioskfy/backend/internal/audit"
	"github.com/kioskfy/backend/internal/gateway"
	"github.com/kioskfy/backend/internal/models"
)

// PayoutProvider is the slice of the payout API the withdrawal flow needs.
type PayoutProvider interface {
	InitializePayout(ctx context.Context, req *gateway.InitializePayoutRequest) (*gateway.InitializePayoutResult, error)
	VerifyPayout(ctx context.Context, payoutID string) (*gateway.PayoutVerification, error)
}

// WithdrawalService governs agency withdrawals from request to resolution.
// Admission control is reject-early: availability is checked at creation time
// inside the organization balance lock, discounting funds already reserved by
// other open withdrawals. The ledger is debited only at confirmed completion.
type WithdrawalService struct {
	db        *sql.DB
	payouts   PayoutProvider
	ledger    *LedgerService
	validator *ValidationHelper
	audit     *audit.AuditLogger
}

func NewWithdrawalService(db *sql.DB, payouts PayoutProvider, ledger *LedgerService) *WithdrawalService {
	return &WithdrawalService{
		db:        db,
		payouts:   payouts,
		ledger:    ledger,
		validator: NewValidationHelper(),
		audit:     audit.NewAuditLogger(),
	}
}

// Create admits a withdrawal request. The balance read, the reservation sum
// and the insert run inside one transaction holding the organization balance
// row lock, so two concurrent requests can never both pass the check.
func (s *WithdrawalService) Create(organizationID, userID string, amount int64, paymentMethod, paymentDetails, notes string) (*models.Withdrawal, error) {
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// The organization's balance row decides the currency; the platform
	// default only applies when no row exists yet.
	currency := DefaultCurrency()
	err = tx.QueryRow(`SELECT currency FROM organization_balances WHERE organization_id = $1`, organizationID).
		Scan(&currency)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	balance, err := s.ledger.lockOrganizationBalance(tx, organizationID, currency)
	if err != nil {
		return nil, err
	}

	var reserved int64
	err = tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE organization_id = $1 AND status IN ('pending', 'processing')`, organizationID).
		Scan(&reserved)
	if err != nil {
		return nil, err
	}

	available := balance.CurrentBalance - reserved
	if amount > available {
		return nil, &InsufficientBalanceError{
			OrganizationID: organizationID,
			Requested:      amount,
			Available:      available,
		}
	}

	withdrawal := &models.Withdrawal{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Amount:         amount,
		Currency:       balance.Currency,
		Status:         models.WithdrawalStatusPending,
		PaymentMethod:  paymentMethod,
		PaymentDetails: paymentDetails,
		UserID:         userID,
		Notes:          notes,
		RequestedAt:    time.Now(),
	}

	_, err = tx.Exec(`
		INSERT INTO withdrawals
		(id, organization_id, amount, currency, status, payment_method, payment_details, user_id, notes, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		withdrawal.ID, withdrawal.OrganizationID, withdrawal.Amount, withdrawal.Currency,
		withdrawal.Status, withdrawal.PaymentMethod, withdrawal.PaymentDetails,
		withdrawal.UserID, withdrawal.Notes, withdrawal.RequestedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransition(withdrawal.ID, organizationID, "", models.WithdrawalStatusPending, userID, amount)
	return withdrawal, nil
}

// Cancel withdraws a request that has not been handed to the provider yet.
// Legal only from pending; no ledger effect.
func (s *WithdrawalService) Cancel(withdrawalID, organizationID, actor string) error {
	result, err := s.db.Exec(`
		UPDATE withdrawals
		SET status = $1, resolved_at = $2, updated_at = $2
		WHERE id = $3 AND organization_id = $4 AND status = $5`,
		models.WithdrawalStatusCancelled, time.Now(), withdrawalID, organizationID,
		models.WithdrawalStatusPending)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		withdrawal, err := s.fetch(withdrawalID)
		if err != nil {
			return err
		}
		return &InvalidTransitionError{
			WithdrawalID: withdrawalID,
			From:         withdrawal.Status,
			To:           models.WithdrawalStatusCancelled,
		}
	}

	s.audit.LogTransition(withdrawalID, organizationID, models.WithdrawalStatusPending,
		models.WithdrawalStatusCancelled, actor, 0)
	return nil
}

// InitiatePayout hands a pending withdrawal to the payout provider. A
// transient provider error puts the withdrawal back to pending for retry; a
// definitive rejection fails it.
func (s *WithdrawalService) InitiatePayout(ctx context.Context, withdrawalID, actor string) (*models.Withdrawal, error) {
	withdrawal, err := s.fetch(withdrawalID)
	if err != nil {
		return nil, err
	}

	// Guarded transition so two admins cannot initiate the same payout.
	result, err := s.db.Exec(`
		UPDATE withdrawals SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		models.WithdrawalStatusProcessing, time.Now(), withdrawalID, models.WithdrawalStatusPending)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, &InvalidTransitionError{
			WithdrawalID: withdrawalID,
			From:         withdrawal.Status,
			To:           models.WithdrawalStatusProcessing,
		}
	}
	s.audit.LogTransition(withdrawalID, withdrawal.OrganizationID, models.WithdrawalStatusPending,
		models.WithdrawalStatusProcessing, actor, withdrawal.Amount)

	payout, err := s.payouts.InitializePayout(ctx, &gateway.InitializePayoutRequest{
		Amount:    withdrawal.Amount,
		Currency:  withdrawal.Currency,
		Recipient: withdrawal.PaymentDetails,
		Reference: withdrawal.ID,
		Reason:    "kioskfy agency withdrawal",
		Metadata:  map[string]string{"organization_id": withdrawal.OrganizationID},
	})
	if err != nil {
		if gateway.IsTransient(err) {
			// Roll the state back so the next attempt starts clean. If the
			// revert itself fails the reconciler flags the row for review.
			if _, revertErr := s.db.Exec(`UPDATE withdrawals SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
				models.WithdrawalStatusPending, time.Now(), withdrawalID, models.WithdrawalStatusProcessing); revertErr != nil {
				log.Printf("[WITHDRAWAL] Failed to revert %s to pending after transient payout error: %v", withdrawalID, revertErr)
			}
			s.audit.LogTransition(withdrawalID, withdrawal.OrganizationID, models.WithdrawalStatusProcessing,
				models.WithdrawalStatusPending, "system", withdrawal.Amount)
			return nil, err
		}

		if _, failErr := s.db.Exec(`UPDATE withdrawals SET status = $1, resolved_at = $2, updated_at = $2 WHERE id = $3 AND status = $4`,
			models.WithdrawalStatusFailed, time.Now(), withdrawalID, models.WithdrawalStatusProcessing); failErr != nil {
			log.Printf("[WITHDRAWAL] Failed to mark %s failed after payout rejection: %v", withdrawalID, failErr)
		}
		s.audit.LogTransition(withdrawalID, withdrawal.OrganizationID, models.WithdrawalStatusProcessing,
			models.WithdrawalStatusFailed, "system", withdrawal.Amount)
		return nil, err
	}

	_, err = s.db.Exec(`UPDATE withdrawals SET external_reference = $1, updated_at = $2 WHERE id = $3`,
		payout.PayoutID, time.Now(), withdrawalID)
	if err != nil {
		return nil, err
	}

	return s.fetch(withdrawalID)
}

// ConfirmCompletion resolves a processing withdrawal from the provider's
// reported payout status. On success the ledger debit and the status change
// commit as one transaction; a failed payout never touches the ledger.
func (s *WithdrawalService) ConfirmCompletion(withdrawalID, providerStatus, actor string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var withdrawal models.Withdrawal
	err = tx.QueryRow(`
		SELECT id, organization_id, amount, currency, status
		FROM withdrawals
		WHERE id = $1
		FOR UPDATE`, withdrawalID).
		Scan(&withdrawal.ID, &withdrawal.OrganizationID, &withdrawal.Amount,
			&withdrawal.Currency, &withdrawal.Status)
	if err != nil {
		return err
	}

	if withdrawal.Terminal() {
		// Duplicate confirmation, nothing left to do.
		log.Printf("[WITHDRAWAL] Confirmation for %s already resolved as %s", withdrawalID, withdrawal.Status)
		return nil
	}
	if withdrawal.Status != models.WithdrawalStatusProcessing {
		return &InvalidTransitionError{
			WithdrawalID: withdrawalID,
			From:         withdrawal.Status,
			To:           models.WithdrawalStatusCompleted,
		}
	}

	switch providerStatus {
	case gateway.PayoutStatusSuccess:
		_, err = s.ledger.RecordEventTx(tx, LedgerEvent{
			OrganizationID:     withdrawal.OrganizationID,
			TransactionType:    models.TransactionTypeWithdrawal,
			ReferenceID:        withdrawal.ID,
			OrganizationAmount: withdrawal.Amount,
			Currency:           withdrawal.Currency,
		})
		if err != nil && !errors.Is(err, ErrDuplicateEvent) {
			var insufficient *InsufficientBalanceError
			if errors.As(err, &insufficient) {
				// Should be unreachable under reject-early admission;
				// fail the withdrawal rather than overdraw.
				tx.Rollback()
				s.audit.LogError(withdrawal.OrganizationID, withdrawal.ID, err)
				if _, failErr := s.db.Exec(`UPDATE withdrawals SET status = $1, resolved_at = $2, updated_at = $2 WHERE id = $3 AND status = $4`,
					models.WithdrawalStatusFailed, time.Now(), withdrawalID, models.WithdrawalStatusProcessing); failErr != nil {
					log.Printf("[WITHDRAWAL] Failed to mark %s failed after balance shortfall: %v", withdrawalID, failErr)
				}
				s.audit.LogTransition(withdrawalID, withdrawal.OrganizationID, models.WithdrawalStatusProcessing,
					models.WithdrawalStatusFailed, actor, withdrawal.Amount)
			}
			return err
		}

		if _, err := tx.Exec(`
			UPDATE withdrawals SET status = $1, resolved_at = $2, updated_at = $2 WHERE id = $3`,
			models.WithdrawalStatusCompleted, time.Now(), withdrawalID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		s.audit.LogTransition(withdrawalID, withdrawal.OrganizationID, models.WithdrawalStatusProcessing,
			models.WithdrawalStatusCompleted, actor, withdrawal.Amount)
		return nil

	case gateway.PayoutStatusFailed, gateway.PayoutStatusReversed:
		if _, err := tx.Exec(`
			UPDATE withdrawals SET status = $1, resolved_at = $2, updated_at = $2 WHERE id = $3`,
			models.WithdrawalStatusFailed, time.Now(), withdrawalID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		s.audit.LogTransition(withdrawalID, withdrawal.OrganizationID, models.WithdrawalStatusProcessing,
			models.WithdrawalStatusFailed, actor, withdrawal.Amount)
		return nil

	default:
		// Still pending on the provider side; leave it processing.
		return nil
	}
}

type createWithdrawalRequest struct {
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	PaymentMethod  string `json:"paymentMethod" validate:"required,oneof=bank_transfer mobile_money"`
	PaymentDetails string `json:"paymentDetails" validate:"required"`
	Notes          string `json:"notes,omitempty" validate:"max=500"`
}

// CreateWithdrawal requests a payout of available funds
// @Summary Request a withdrawal
// @Description Create a pending withdrawal; the amount must not exceed the balance minus funds reserved by other open withdrawals
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param withdrawal body createWithdrawalRequest true "Withdrawal data"
// @Success 201 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 422 {object} APIResponse
// @Router /withdrawals [post]
func (s *WithdrawalService) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	organizationID, ok := r.Context().Value("organizationID").(string)
	if !ok || organizationID == "" {
		SendErrorResponse(w, "Agency membership required", http.StatusForbidden, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createWithdrawalRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	withdrawal, err := s.Create(organizationID, userID, req.Amount, req.PaymentMethod, req.PaymentDetails, req.Notes)
	if err != nil {
		var insufficient *InsufficientBalanceError
		var invalid *ValidationError
		switch {
		case errors.As(err, &insufficient):
			SendErrorResponse(w, insufficient.Error(), http.StatusUnprocessableEntity, nil)
		case errors.As(err, &invalid):
			SendErrorResponse(w, invalid.Error(), http.StatusBadRequest, nil)
		default:
			log.Printf("[WITHDRAWAL] Create failed for organization %s (amount %d): %v", organizationID, req.Amount, err)
			SendErrorResponse(w, "Failed to create withdrawal", http.StatusInternalServerError, nil)
		}
		return
	}

	SendSuccessResponse(w, http.StatusCreated, withdrawal, "")
}

// ListWithdrawals lists the agency's withdrawals
// @Summary List withdrawals
// @Tags withdrawals
// @Produce json
// @Success 200 {object} APIResponse
// @Router /withdrawals [get]
func (s *WithdrawalService) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := r.Context().Value("organizationID").(string)
	if !ok || organizationID == "" {
		SendErrorResponse(w, "Agency membership required", http.StatusForbidden, nil)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, organization_id, amount, currency, status, payment_method, payment_details,
		       external_reference, user_id, notes, requested_at, updated_at, resolved_at
		FROM withdrawals
		WHERE organization_id = $1
		ORDER BY requested_at DESC
		LIMIT 100`, organizationID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch withdrawals", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	withdrawals := []models.Withdrawal{}
	for rows.Next() {
		var wd models.Withdrawal
		if err := rows.Scan(&wd.ID, &wd.OrganizationID, &wd.Amount, &wd.Currency, &wd.Status,
			&wd.PaymentMethod, &wd.PaymentDetails, &wd.ExternalReference, &wd.UserID,
			&wd.Notes, &wd.RequestedAt, &wd.UpdatedAt, &wd.ResolvedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch withdrawals", http.StatusInternalServerError, nil)
			return
		}
		withdrawals = append(withdrawals, wd)
	}

	SendSuccessResponse(w, http.StatusOK, withdrawals, "")
}

// CancelWithdrawal cancels a pending withdrawal
// @Summary Cancel a withdrawal
// @Description Only pending withdrawals can be cancelled; there is no ledger effect
// @Tags withdrawals
// @Produce json
// @Param withdrawalId path string true "Withdrawal ID"
// @Success 200 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /withdrawals/{withdrawalId}/cancel [post]
func (s *WithdrawalService) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	organizationID, ok := r.Context().Value("organizationID").(string)
	if !ok || organizationID == "" {
		SendErrorResponse(w, "Agency membership required", http.StatusForbidden, nil)
		return
	}

	withdrawalID := chi.URLParam(r, "withdrawalId")
	if err := s.Cancel(withdrawalID, organizationID, userID); err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			SendErrorResponse(w, invalid.Error(), http.StatusConflict, nil)
		} else if err == sql.ErrNoRows {
			SendErrorResponse(w, "Withdrawal not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to cancel withdrawal", http.StatusInternalServerError, nil)
		}
		return
	}

	SendSuccessResponse(w, http.StatusOK, nil, "Withdrawal cancelled")
}

// InitiateWithdrawalPayout hands a pending withdrawal to the payout provider
// @Summary Initiate payout (admin)
// @Tags withdrawals
// @Produce json
// @Param withdrawalId path string true "Withdrawal ID"
// @Success 200 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Failure 502 {object} APIResponse
// @Router /withdrawals/{withdrawalId}/payout [post]
func (s *WithdrawalService) InitiateWithdrawalPayout(w http.ResponseWriter, r *http.Request) {
	actor, _ := r.Context().Value("userID").(string)
	withdrawalID := chi.URLParam(r, "withdrawalId")

	withdrawal, err := s.InitiatePayout(r.Context(), withdrawalID, actor)
	if err != nil {
		var invalid *InvalidTransitionError
		switch {
		case errors.As(err, &invalid):
			SendErrorResponse(w, invalid.Error(), http.StatusConflict, nil)
		case err == sql.ErrNoRows:
			SendErrorResponse(w, "Withdrawal not found", http.StatusNotFound, nil)
		case gateway.IsTransient(err):
			SendErrorResponse(w, "Payout provider unavailable, withdrawal remains pending", http.StatusBadGateway, nil)
		default:
			SendErrorResponse(w, "Payout rejected by provider, withdrawal failed", http.StatusBadGateway, nil)
		}
		return
	}

	SendSuccessResponse(w, http.StatusOK, withdrawal, "")
}

// ConfirmWithdrawal resolves a processing withdrawal against the provider
// @Summary Confirm payout (admin)
// @Description Asks the payout provider for the authoritative transfer status and resolves the withdrawal accordingly
// @Tags withdrawals
// @Produce json
// @Param withdrawalId path string true "Withdrawal ID"
// @Success 200 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Failure 502 {object} APIResponse
// @Router /withdrawals/{withdrawalId}/confirm [post]
func (s *WithdrawalService) ConfirmWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, _ := r.Context().Value("userID").(string)
	withdrawalID := chi.URLParam(r, "withdrawalId")

	withdrawal, err := s.fetch(withdrawalID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Withdrawal not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch withdrawal", http.StatusInternalServerError, nil)
		}
		return
	}
	if withdrawal.ExternalReference == "" {
		SendErrorResponse(w, "Withdrawal has no payout to confirm", http.StatusConflict, nil)
		return
	}

	verification, err := s.payouts.VerifyPayout(r.Context(), withdrawal.ExternalReference)
	if err != nil {
		SendErrorResponse(w, "Payout provider unavailable, try again later", http.StatusBadGateway, nil)
		return
	}

	if err := s.ConfirmCompletion(withdrawalID, verification.Status, actor); err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			SendErrorResponse(w, invalid.Error(), http.StatusConflict, nil)
		} else {
			log.Printf("[WITHDRAWAL] Confirmation failed for %s: %v", withdrawalID, err)
			SendErrorResponse(w, "Failed to confirm withdrawal", http.StatusInternalServerError, nil)
		}
		return
	}

	withdrawal, err = s.fetch(withdrawalID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch withdrawal", http.StatusInternalServerError, nil)
		return
	}

	SendSuccessResponse(w, http.StatusOK, withdrawal, "")
}

func (s *WithdrawalService) fetch(withdrawalID string) (*models.Withdrawal, error) {
	var wd models.Withdrawal
	err := s.db.QueryRow(`
		SELECT id, organization_id, amount, currency, status, payment_method, payment_details,
		       external_reference, user_id, notes, requested_at, updated_at, resolved_at
		FROM withdrawals
		WHERE id = $1`, withdrawalID).
		Scan(&wd.ID, &wd.OrganizationID, &wd.Amount, &wd.Currency, &wd.Status,
			&wd.PaymentMethod, &wd.PaymentDetails, &wd.ExternalReference, &wd.UserID,
			&wd.Notes, &wd.RequestedAt, &wd.UpdatedAt, &wd.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &wd, nil
}
