package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/kioskfy/backend/internal/models"
)

func orgRequest(target, memberOrg, role, paramOrg string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)

	ctx := context.WithValue(r.Context(), "userID", "user-1")
	ctx = context.WithValue(ctx, "organizationID", memberOrg)
	ctx = context.WithValue(ctx, "role", role)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orgId", paramOrg)
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)

	return r.WithContext(ctx)
}

func TestOrganizationService_GetBalance(t *testing.T) {
	t.Run("reports current, reserved and available funds", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewOrganizationService(db, nil, NewLedgerService(db))

		dbMock.ExpectQuery("SELECT current_balance, currency, version, updated_at").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"current_balance", "currency", "version", "updated_at"}).
				AddRow(9000, "NGN", 3, time.Now()))
		dbMock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)`).
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(2000))

		w := httptest.NewRecorder()
		service.GetBalance(w, orgRequest("/api/v1/organizations/org-1/balance", "org-1", "agency", "org-1"))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp APIResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data, ok := resp.Data.(map[string]interface{})
		assert.True(t, ok)
		assert.Equal(t, float64(9000), data["current_balance"])
		assert.Equal(t, float64(2000), data["reserved_balance"])
		assert.Equal(t, float64(7000), data["available_balance"])
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("an organization with no ledger history reads as zero", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewOrganizationService(db, nil, NewLedgerService(db))

		dbMock.ExpectQuery("SELECT current_balance, currency, version, updated_at").
			WithArgs("org-new").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)`).
			WithArgs("org-new").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

		w := httptest.NewRecorder()
		service.GetBalance(w, orgRequest("/api/v1/organizations/org-new/balance", "org-new", "agency", "org-new"))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp APIResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(0), data["available_balance"])
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("members cannot read another organization", func(t *testing.T) {
		service := NewOrganizationService(nil, nil, nil)

		w := httptest.NewRecorder()
		service.GetBalance(w, orgRequest("/api/v1/organizations/org-2/balance", "org-1", "agency", "org-2"))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("platform admins can read any organization", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewOrganizationService(db, nil, NewLedgerService(db))

		dbMock.ExpectQuery("SELECT current_balance, currency, version, updated_at").
			WithArgs("org-2").
			WillReturnRows(sqlmock.NewRows([]string{"current_balance", "currency", "version", "updated_at"}).
				AddRow(500, "NGN", 1, time.Now()))
		dbMock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)`).
			WithArgs("org-2").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

		w := httptest.NewRecorder()
		service.GetBalance(w, orgRequest("/api/v1/organizations/org-2/balance", "", "admin", "org-2"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestOrganizationService_GetStats(t *testing.T) {
	t.Run("aggregates sales and withdrawals and caches the result", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		rdb, redisMock := redismock.NewClientMock()
		service := NewOrganizationService(db, rdb, NewLedgerService(db))

		redisMock.ExpectGet("org_stats:org-1").RedisNil()

		dbMock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(amount\), 0\)`).
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(12, 120000))
		dbMock.ExpectQuery(`SELECT COALESCE\(SUM\(organization_amount\), 0\)`).
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(108000))
		dbMock.ExpectQuery("FROM withdrawals").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"completed", "open"}).AddRow(50000, 10000))

		expected, err := json.Marshal(&models.OrganizationStats{
			OrganizationID:   "org-1",
			OrdersPaid:       12,
			GrossRevenue:     120000,
			NetRevenue:       108000,
			TotalWithdrawn:   50000,
			PendingWithdrawn: 10000,
		})
		assert.NoError(t, err)
		redisMock.ExpectSet("org_stats:org-1", expected, time.Minute).SetVal("OK")

		w := httptest.NewRecorder()
		service.GetStats(w, orgRequest("/api/v1/organizations/org-1/stats", "org-1", "agency", "org-1"))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp APIResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(108000), data["net_revenue"])
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("a cached dashboard poll never reaches the database", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		rdb, redisMock := redismock.NewClientMock()
		service := NewOrganizationService(db, rdb, NewLedgerService(db))

		cached, err := json.Marshal(&models.OrganizationStats{OrganizationID: "org-1", OrdersPaid: 3})
		assert.NoError(t, err)
		redisMock.ExpectGet("org_stats:org-1").SetVal(string(cached))

		w := httptest.NewRecorder()
		service.GetStats(w, orgRequest("/api/v1/organizations/org-1/stats", "org-1", "agency", "org-1"))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp APIResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(3), data["orders_paid"])
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestOrganizationService_GetLedger(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewOrganizationService(db, nil, NewLedgerService(db))

	t.Run("lists entries newest first with the default limit", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT id, organization_id, transaction_type, reference_id").
			WithArgs("org-1", 50).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "organization_id", "transaction_type", "reference_id",
				"organization_amount", "platform_amount",
				"organization_balance_after", "platform_balance_after",
				"currency", "created_at"}).
				AddRow(2, "org-1", "withdrawal", "wd-1", 4000, 0, 5000, 1000, "NGN", time.Now()).
				AddRow(1, "org-1", "purchase", "order-1", 9000, 1000, 9000, 1000, "NGN", time.Now()))

		w := httptest.NewRecorder()
		service.GetLedger(w, orgRequest("/api/v1/organizations/org-1/ledger", "org-1", "agency", "org-1"))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp APIResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		entries, ok := resp.Data.([]interface{})
		assert.True(t, ok)
		assert.Len(t, entries, 2)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("out-of-range limits fall back to the default", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT id, organization_id, transaction_type, reference_id").
			WithArgs("org-1", 50).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "organization_id", "transaction_type", "reference_id",
				"organization_amount", "platform_amount",
				"organization_balance_after", "platform_balance_after",
				"currency", "created_at"}))

		w := httptest.NewRecorder()
		service.GetLedger(w, orgRequest("/api/v1/organizations/org-1/ledger?limit=9999", "org-1", "agency", "org-1"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
