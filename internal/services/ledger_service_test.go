package services

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/kioskfy/backend/internal/models"
)

func expectBalanceLocks(mock sqlmock.Sqlmock, orgID string, orgBalance int64, orgVersion int, platformBalance int64, platformVersion int) {
	mock.ExpectExec("INSERT INTO organization_balances").
		WithArgs(orgID, "NGN").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT current_balance, currency, version, updated_at").
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows([]string{"current_balance", "currency", "version", "updated_at"}).
			AddRow(orgBalance, "NGN", orgVersion, time.Now()))
	mock.ExpectExec("INSERT INTO platform_balances").
		WithArgs("NGN").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT current_balance, version, updated_at").
		WithArgs("NGN").
		WillReturnRows(sqlmock.NewRows([]string{"current_balance", "version", "updated_at"}).
			AddRow(platformBalance, platformVersion, time.Now()))
}

func expectNoPriorEntry(mock sqlmock.Sqlmock, transactionType, referenceID string) {
	mock.ExpectQuery("SELECT id, organization_id, transaction_type, reference_id").
		WithArgs(transactionType, referenceID).
		WillReturnError(sql.ErrNoRows)
}

func TestLedgerService_RecordEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("purchase credits both sides", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLocks(mock, "org-1", 0, 1, 0, 1)
		expectNoPriorEntry(mock, "purchase", "order-1")

		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("org-1", "purchase", "order-1", int64(9000), int64(1000),
				int64(9000), int64(1000), "NGN", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		mock.ExpectExec("UPDATE organization_balances").
			WithArgs(int64(9000), sqlmock.AnyArg(), "org-1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE platform_balances").
			WithArgs(int64(1000), sqlmock.AnyArg(), "NGN", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		entry, err := service.RecordEvent(LedgerEvent{
			OrganizationID:     "org-1",
			TransactionType:    models.TransactionTypePurchase,
			ReferenceID:        "order-1",
			OrganizationAmount: 9000,
			PlatformAmount:     1000,
			Currency:           "NGN",
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(9000), entry.OrganizationBalanceAfter)
		assert.Equal(t, int64(1000), entry.PlatformBalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("withdrawal debits the organization", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLocks(mock, "org-1", 9000, 2, 1000, 2)
		expectNoPriorEntry(mock, "withdrawal", "wd-1")

		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("org-1", "withdrawal", "wd-1", int64(9000), int64(0),
				int64(0), int64(1000), "NGN", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

		mock.ExpectExec("UPDATE organization_balances").
			WithArgs(int64(0), sqlmock.AnyArg(), "org-1", 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE platform_balances").
			WithArgs(int64(1000), sqlmock.AnyArg(), "NGN", 2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		entry, err := service.RecordEvent(LedgerEvent{
			OrganizationID:     "org-1",
			TransactionType:    models.TransactionTypeWithdrawal,
			ReferenceID:        "wd-1",
			OrganizationAmount: 9000,
			Currency:           "NGN",
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(0), entry.OrganizationBalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("withdrawal below zero rejected", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLocks(mock, "org-1", 0, 3, 1000, 3)
		expectNoPriorEntry(mock, "withdrawal", "wd-2")
		mock.ExpectRollback()

		_, err := service.RecordEvent(LedgerEvent{
			OrganizationID:     "org-1",
			TransactionType:    models.TransactionTypeWithdrawal,
			ReferenceID:        "wd-2",
			OrganizationAmount: 1,
			Currency:           "NGN",
		})
		var insufficient *InsufficientBalanceError
		assert.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(1), insufficient.Requested)
		assert.Equal(t, int64(0), insufficient.Available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate reference returns prior entry without writing", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLocks(mock, "org-1", 9000, 2, 1000, 2)

		mock.ExpectQuery("SELECT id, organization_id, transaction_type, reference_id").
			WithArgs("purchase", "order-1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "organization_id", "transaction_type", "reference_id",
				"organization_amount", "platform_amount",
				"organization_balance_after", "platform_balance_after",
				"currency", "created_at"}).
				AddRow(1, "org-1", "purchase", "order-1", 9000, 1000, 9000, 1000, "NGN", time.Now()))

		mock.ExpectRollback()

		entry, err := service.RecordEvent(LedgerEvent{
			OrganizationID:     "org-1",
			TransactionType:    models.TransactionTypePurchase,
			ReferenceID:        "order-1",
			OrganizationAmount: 9000,
			PlatformAmount:     1000,
			Currency:           "NGN",
		})
		assert.True(t, errors.Is(err, ErrDuplicateEvent))
		assert.NotNil(t, entry)
		assert.Equal(t, int64(9000), entry.OrganizationAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation failures reject before any write", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.RecordEvent(LedgerEvent{
			OrganizationID:     "org-1",
			TransactionType:    "adjustment",
			ReferenceID:        "ref-1",
			OrganizationAmount: 100,
			Currency:           "NGN",
		})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)

		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err = service.RecordEvent(LedgerEvent{
			OrganizationID:     "org-1",
			TransactionType:    models.TransactionTypePurchase,
			ReferenceID:        "ref-1",
			OrganizationAmount: -5,
			Currency:           "NGN",
		})
		assert.ErrorAs(t, err, &verr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// Walks the scenario from the product brief: a 10% commission sale of 10,000
// minor units credits 9,000; withdrawing 9,000 empties the balance; one more
// unit is refused.
func TestLedgerService_PurchaseThenDrain(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	split, err := ComputeSplit(10000, 1000)
	assert.NoError(t, err)
	assert.Equal(t, Split{OrganizationAmount: 9000, PlatformAmount: 1000}, split)

	// Purchase lands.
	mock.ExpectBegin()
	expectBalanceLocks(mock, "org-9", 0, 1, 0, 1)
	expectNoPriorEntry(mock, "purchase", "order-9")
	mock.ExpectQuery("INSERT INTO ledger_entries").
		WithArgs("org-9", "purchase", "order-9", int64(9000), int64(1000),
			int64(9000), int64(1000), "NGN", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectExec("UPDATE organization_balances").
		WithArgs(int64(9000), sqlmock.AnyArg(), "org-9", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE platform_balances").
		WithArgs(int64(1000), sqlmock.AnyArg(), "NGN", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := service.RecordEvent(LedgerEvent{
		OrganizationID:     "org-9",
		TransactionType:    models.TransactionTypePurchase,
		ReferenceID:        "order-9",
		OrganizationAmount: split.OrganizationAmount,
		PlatformAmount:     split.PlatformAmount,
		Currency:           "NGN",
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(9000), entry.OrganizationBalanceAfter)

	// Withdrawal of the full credit drains to exactly zero.
	mock.ExpectBegin()
	expectBalanceLocks(mock, "org-9", 9000, 2, 1000, 2)
	expectNoPriorEntry(mock, "withdrawal", "wd-9")
	mock.ExpectQuery("INSERT INTO ledger_entries").
		WithArgs("org-9", "withdrawal", "wd-9", int64(9000), int64(0),
			int64(0), int64(1000), "NGN", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec("UPDATE organization_balances").
		WithArgs(int64(0), sqlmock.AnyArg(), "org-9", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE platform_balances").
		WithArgs(int64(1000), sqlmock.AnyArg(), "NGN", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err = service.RecordEvent(LedgerEvent{
		OrganizationID:     "org-9",
		TransactionType:    models.TransactionTypeWithdrawal,
		ReferenceID:        "wd-9",
		OrganizationAmount: 9000,
		Currency:           "NGN",
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(0), entry.OrganizationBalanceAfter)

	// One more unit is refused.
	mock.ExpectBegin()
	expectBalanceLocks(mock, "org-9", 0, 3, 1000, 3)
	expectNoPriorEntry(mock, "withdrawal", "wd-10")
	mock.ExpectRollback()

	_, err = service.RecordEvent(LedgerEvent{
		OrganizationID:     "org-9",
		TransactionType:    models.TransactionTypeWithdrawal,
		ReferenceID:        "wd-10",
		OrganizationAmount: 1,
		Currency:           "NGN",
	})
	var insufficient *InsufficientBalanceError
	assert.ErrorAs(t, err, &insufficient)
	assert.NoError(t, mock.ExpectationsWereMet())
}
