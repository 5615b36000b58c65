package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/kioskfy/backend/internal/models"
)

// OrganizationService serves the agency dashboard: balances, sales stats and
// ledger history. Stats are cached in Redis briefly since the dashboard polls
// them; the balance endpoint always reads the projection directly.
type OrganizationService struct {
	db     *sql.DB
	redis  *redis.Client
	ledger *LedgerService
}

func NewOrganizationService(db *sql.DB, rdb *redis.Client, ledger *LedgerService) *OrganizationService {
	return &OrganizationService{
		db:     db,
		redis:  rdb,
		ledger: ledger,
	}
}

type organizationBalanceResponse struct {
	OrganizationID   string `json:"organization_id"`
	CurrentBalance   int64  `json:"current_balance"`
	ReservedBalance  int64  `json:"reserved_balance"`
	AvailableBalance int64  `json:"available_balance"`
	Currency         string `json:"currency"`
}

// GetBalance reports the organization's current and available balance
// @Summary Organization balance
// @Description Current balance plus the portion reserved by open withdrawals
// @Tags organizations
// @Produce json
// @Param orgId path string true "Organization ID"
// @Success 200 {object} APIResponse
// @Failure 403 {object} APIResponse
// @Router /organizations/{orgId}/balance [get]
func (s *OrganizationService) GetBalance(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "orgId")
	if !s.authorized(r, organizationID) {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	balance, err := s.ledger.GetOrganizationBalance(organizationID)
	if err != nil {
		log.Printf("[ORGANIZATION] Failed to read balance for %s: %v", organizationID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	var reserved int64
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE organization_id = $1 AND status IN ('pending', 'processing')`, organizationID).
		Scan(&reserved)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	SendSuccessResponse(w, http.StatusOK, organizationBalanceResponse{
		OrganizationID:   organizationID,
		CurrentBalance:   balance.CurrentBalance,
		ReservedBalance:  reserved,
		AvailableBalance: balance.CurrentBalance - reserved,
		Currency:         balance.Currency,
	}, "")
}

// GetStats reports sales and withdrawal aggregates
// @Summary Organization stats
// @Tags organizations
// @Produce json
// @Param orgId path string true "Organization ID"
// @Success 200 {object} APIResponse
// @Failure 403 {object} APIResponse
// @Router /organizations/{orgId}/stats [get]
func (s *OrganizationService) GetStats(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "orgId")
	if !s.authorized(r, organizationID) {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	if cached := s.cachedStats(r, organizationID); cached != nil {
		SendSuccessResponse(w, http.StatusOK, cached, "")
		return
	}

	stats := models.OrganizationStats{OrganizationID: organizationID}
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM orders
		WHERE organization_id = $1 AND status = 'paid'`, organizationID).
		Scan(&stats.OrdersPaid, &stats.GrossRevenue)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch stats", http.StatusInternalServerError, nil)
		return
	}

	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(organization_amount), 0)
		FROM ledger_entries
		WHERE organization_id = $1 AND transaction_type = 'purchase'`, organizationID).
		Scan(&stats.NetRevenue)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch stats", http.StatusInternalServerError, nil)
		return
	}

	err = s.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('pending', 'processing') THEN amount ELSE 0 END), 0)
		FROM withdrawals
		WHERE organization_id = $1`, organizationID).
		Scan(&stats.TotalWithdrawn, &stats.PendingWithdrawn)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch stats", http.StatusInternalServerError, nil)
		return
	}

	s.cacheStats(r, organizationID, &stats)
	SendSuccessResponse(w, http.StatusOK, stats, "")
}

// GetLedger lists the organization's ledger entries, newest first
// @Summary Organization ledger history
// @Tags organizations
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param limit query int false "Number of entries to return (default: 50, max: 200)"
// @Success 200 {object} APIResponse
// @Failure 403 {object} APIResponse
// @Router /organizations/{orgId}/ledger [get]
func (s *OrganizationService) GetLedger(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "orgId")
	if !s.authorized(r, organizationID) {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	entries, err := s.ledger.ListEntries(organizationID, limit)
	if err != nil {
		log.Printf("[ORGANIZATION] Failed to list ledger for %s: %v", organizationID, err)
		SendErrorResponse(w, "Failed to fetch ledger", http.StatusInternalServerError, nil)
		return
	}

	SendSuccessResponse(w, http.StatusOK, entries, "")
}

// authorized allows the organization's own members and platform admins.
func (s *OrganizationService) authorized(r *http.Request, organizationID string) bool {
	if role, _ := r.Context().Value("role").(string); role == "admin" {
		return true
	}
	memberOrg, _ := r.Context().Value("organizationID").(string)
	return memberOrg != "" && memberOrg == organizationID
}

func (s *OrganizationService) cachedStats(r *http.Request, organizationID string) *models.OrganizationStats {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(r.Context(), "org_stats:"+organizationID).Bytes()
	if err != nil {
		return nil
	}
	var stats models.OrganizationStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil
	}
	return &stats
}

func (s *OrganizationService) cacheStats(r *http.Request, organizationID string, stats *models.OrganizationStats) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.redis.Set(r.Context(), "org_stats:"+organizationID, data, time.Minute).Err(); err != nil {
		log.Printf("[ORGANIZATION] Failed to cache stats for %s: %v", organizationID, err)
	}
}
