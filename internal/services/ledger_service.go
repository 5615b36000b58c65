package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/kioskfy/backend/internal/audit"
	"github.com/kioskfy/backend/internal/models"
)

// LedgerEvent is a balance-affecting fact to be projected into the ledger.
// ReferenceID is the order id for purchases/refunds and the withdrawal id for
// withdrawals; together with TransactionType it is the idempotency key.
type LedgerEvent struct {
	OrganizationID     string
	TransactionType    string
	ReferenceID        string
	OrganizationAmount int64
	PlatformAmount     int64
	Currency           string
}

// LedgerService maintains organization and platform balances as projections
// updated in the same transaction that appends the ledger entry. All writes
// for one organization serialize on a FOR UPDATE lock of its balance row;
// different organizations proceed in parallel.
type LedgerService struct {
	db    *sql.DB
	audit *audit.AuditLogger
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: audit.NewAuditLogger(),
	}
}

// RecordEvent applies one event inside its own transaction. Idempotent keyed
// on (TransactionType, ReferenceID): a repeat returns the previously written
// entry together with ErrDuplicateEvent and makes no writes.
func (s *LedgerService) RecordEvent(ev LedgerEvent) (*models.LedgerEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.RecordEventTx(tx, ev)
	if err != nil {
		return entry, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogLedgerEvent(ev.TransactionType, ev.OrganizationID, ev.ReferenceID, ev.OrganizationAmount, ev.PlatformAmount)
	return entry, nil
}

// RecordEventTx applies one event inside a caller-owned transaction so the
// caller can commit the ledger write atomically with its own state change
// (order marked paid, withdrawal marked completed). On any error the caller
// must roll back the whole transaction.
func (s *LedgerService) RecordEventTx(tx *sql.Tx, ev LedgerEvent) (*models.LedgerEntry, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	// The organization row is the per-organization critical section; the
	// platform row is always taken second so lock order stays fixed.
	orgBalance, err := s.lockOrganizationBalance(tx, ev.OrganizationID, ev.Currency)
	if err != nil {
		return nil, err
	}

	platformBalance, err := s.lockPlatformBalance(tx, ev.Currency)
	if err != nil {
		return nil, err
	}

	// Duplicate detection runs under the same lock as the write, so two
	// concurrent deliveries of one event serialize here.
	if existing, err := s.findEntry(tx, ev.TransactionType, ev.ReferenceID); err != nil {
		return nil, err
	} else if existing != nil {
		log.Printf("[LEDGER] Duplicate event %s/%s for organization %s, returning prior entry",
			ev.TransactionType, ev.ReferenceID, ev.OrganizationID)
		return existing, ErrDuplicateEvent
	}

	orgDelta, platformDelta := eventDeltas(ev)

	newOrgBalance := orgBalance.CurrentBalance + orgDelta
	if newOrgBalance < 0 {
		return nil, &InsufficientBalanceError{
			OrganizationID: ev.OrganizationID,
			Requested:      -orgDelta,
			Available:      orgBalance.CurrentBalance,
		}
	}

	newPlatformBalance := platformBalance.CurrentBalance + platformDelta
	if newPlatformBalance < 0 {
		return nil, &InsufficientBalanceError{
			OrganizationID: "platform",
			Requested:      -platformDelta,
			Available:      platformBalance.CurrentBalance,
		}
	}

	entry := &models.LedgerEntry{
		OrganizationID:           ev.OrganizationID,
		TransactionType:          ev.TransactionType,
		ReferenceID:              ev.ReferenceID,
		OrganizationAmount:       ev.OrganizationAmount,
		PlatformAmount:           ev.PlatformAmount,
		OrganizationBalanceAfter: newOrgBalance,
		PlatformBalanceAfter:     newPlatformBalance,
		Currency:                 ev.Currency,
		CreatedAt:                time.Now(),
	}

	if err := s.appendEntry(tx, entry); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// The unique constraint is the backstop behind the locked
			// check; conflict means the event already committed.
			return nil, ErrDuplicateEvent
		}
		return nil, err
	}

	if err := s.updateOrganizationBalance(tx, ev.OrganizationID, newOrgBalance, orgBalance.Version); err != nil {
		return nil, err
	}

	if err := s.updatePlatformBalance(tx, ev.Currency, newPlatformBalance, platformBalance.Version); err != nil {
		return nil, err
	}

	return entry, nil
}

// GetOrganizationBalance reads the current projected balance without locking.
func (s *LedgerService) GetOrganizationBalance(organizationID string) (*models.OrganizationBalance, error) {
	balance := &models.OrganizationBalance{OrganizationID: organizationID}
	err := s.db.QueryRow(`
		SELECT current_balance, currency, version, updated_at
		FROM organization_balances
		WHERE organization_id = $1`, organizationID).
		Scan(&balance.CurrentBalance, &balance.Currency, &balance.Version, &balance.UpdatedAt)
	if err == sql.ErrNoRows {
		balance.Currency = DefaultCurrency()
		return balance, nil
	}
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// ListEntries returns an organization's ledger history, newest first.
func (s *LedgerService) ListEntries(organizationID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, organization_id, transaction_type, reference_id,
		       organization_amount, platform_amount,
		       organization_balance_after, platform_balance_after,
		       currency, created_at
		FROM ledger_entries
		WHERE organization_id = $1
		ORDER BY id DESC
		LIMIT $2`, organizationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.TransactionType, &e.ReferenceID,
			&e.OrganizationAmount, &e.PlatformAmount,
			&e.OrganizationBalanceAfter, &e.PlatformBalanceAfter,
			&e.Currency, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func validateEvent(ev LedgerEvent) error {
	if ev.OrganizationID == "" {
		return &ValidationError{Field: "organization_id", Message: "is required"}
	}
	if ev.ReferenceID == "" {
		return &ValidationError{Field: "reference_id", Message: "is required"}
	}
	if len(ev.Currency) != 3 {
		return &ValidationError{Field: "currency", Message: "must be a 3-letter code"}
	}
	switch ev.TransactionType {
	case models.TransactionTypePurchase, models.TransactionTypeWithdrawal:
		if ev.OrganizationAmount < 0 || ev.PlatformAmount < 0 {
			return &ValidationError{Field: "amount", Message: "must not be negative"}
		}
	case models.TransactionTypeRefund:
		// refund amounts are signed adjustments, applied as given
	default:
		return &ValidationError{Field: "transaction_type", Message: "unknown type " + ev.TransactionType}
	}
	return nil
}

// eventDeltas maps an event onto signed balance adjustments: purchases
// credit, withdrawals debit, refunds apply their amounts as-is.
func eventDeltas(ev LedgerEvent) (orgDelta, platformDelta int64) {
	switch ev.TransactionType {
	case models.TransactionTypeWithdrawal:
		return -ev.OrganizationAmount, -ev.PlatformAmount
	default:
		return ev.OrganizationAmount, ev.PlatformAmount
	}
}

func (s *LedgerService) lockOrganizationBalance(tx *sql.Tx, organizationID, currency string) (*models.OrganizationBalance, error) {
	_, err := tx.Exec(`
		INSERT INTO organization_balances (organization_id, current_balance, currency)
		VALUES ($1, 0, $2)
		ON CONFLICT (organization_id) DO NOTHING`, organizationID, currency)
	if err != nil {
		return nil, err
	}

	balance := &models.OrganizationBalance{OrganizationID: organizationID}
	err = tx.QueryRow(`
		SELECT current_balance, currency, version, updated_at
		FROM organization_balances
		WHERE organization_id = $1
		FOR UPDATE`, organizationID).
		Scan(&balance.CurrentBalance, &balance.Currency, &balance.Version, &balance.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if balance.Currency != currency {
		return nil, &ValidationError{Field: "currency", Message: fmt.Sprintf(
			"organization %s holds %s, event is %s", organizationID, balance.Currency, currency)}
	}

	return balance, nil
}

func (s *LedgerService) lockPlatformBalance(tx *sql.Tx, currency string) (*models.PlatformBalance, error) {
	_, err := tx.Exec(`
		INSERT INTO platform_balances (currency, current_balance)
		VALUES ($1, 0)
		ON CONFLICT (currency) DO NOTHING`, currency)
	if err != nil {
		return nil, err
	}

	balance := &models.PlatformBalance{Currency: currency}
	err = tx.QueryRow(`
		SELECT current_balance, version, updated_at
		FROM platform_balances
		WHERE currency = $1
		FOR UPDATE`, currency).
		Scan(&balance.CurrentBalance, &balance.Version, &balance.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return balance, nil
}

func (s *LedgerService) findEntry(tx *sql.Tx, transactionType, referenceID string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := tx.QueryRow(`
		SELECT id, organization_id, transaction_type, reference_id,
		       organization_amount, platform_amount,
		       organization_balance_after, platform_balance_after,
		       currency, created_at
		FROM ledger_entries
		WHERE transaction_type = $1 AND reference_id = $2`, transactionType, referenceID).
		Scan(&e.ID, &e.OrganizationID, &e.TransactionType, &e.ReferenceID,
			&e.OrganizationAmount, &e.PlatformAmount,
			&e.OrganizationBalanceAfter, &e.PlatformBalanceAfter,
			&e.Currency, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *LedgerService) appendEntry(tx *sql.Tx, entry *models.LedgerEntry) error {
	return tx.QueryRow(`
		INSERT INTO ledger_entries
		(organization_id, transaction_type, reference_id, organization_amount, platform_amount,
		 organization_balance_after, platform_balance_after, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		entry.OrganizationID, entry.TransactionType, entry.ReferenceID,
		entry.OrganizationAmount, entry.PlatformAmount,
		entry.OrganizationBalanceAfter, entry.PlatformBalanceAfter,
		entry.Currency, entry.CreatedAt).Scan(&entry.ID)
}

func (s *LedgerService) updateOrganizationBalance(tx *sql.Tx, organizationID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE organization_balances
		SET current_balance = $1, version = version + 1, updated_at = $2
		WHERE organization_id = $3 AND version = $4`,
		newBalance, time.Now(), organizationID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Cannot happen while we hold the row lock; if it does, the
		// projection can no longer be trusted.
		return &ConsistencyError{
			OrganizationID: organizationID,
			Detail:         fmt.Sprintf("balance row changed under lock (version %d)", version),
		}
	}

	return nil
}

func (s *LedgerService) updatePlatformBalance(tx *sql.Tx, currency string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE platform_balances
		SET current_balance = $1, version = version + 1, updated_at = $2
		WHERE currency = $3 AND version = $4`,
		newBalance, time.Now(), currency, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return &ConsistencyError{
			OrganizationID: "platform",
			Detail:         fmt.Sprintf("platform balance row changed under lock (version %d)", version),
		}
	}

	return nil
}
