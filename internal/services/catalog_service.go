package services

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kioskfy/backend/internal/models"
)

// CatalogService is the read-only storefront boundary: browsing issues and
// resolving what an order is for. Uploads and cover files live with the
// external object store.
type CatalogService struct {
	db *sql.DB
}

func NewCatalogService(db *sql.DB) *CatalogService {
	return &CatalogService{db: db}
}

// ListNewspapers lists purchasable issues
// @Summary List newspapers
// @Tags catalog
// @Produce json
// @Param organizationId query string false "Filter by publisher"
// @Success 200 {object} APIResponse
// @Router /newspapers [get]
func (s *CatalogService) ListNewspapers(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT n.id, n.organization_id, n.title, n.price, n.currency, n.cover_url, n.published_at
		FROM newspapers n
		JOIN organizations o ON o.id = n.organization_id
		WHERE o.status = 'ACTIVE'`
	args := []any{}

	if orgID := r.URL.Query().Get("organizationId"); orgID != "" {
		query += ` AND n.organization_id = $1`
		args = append(args, orgID)
	}
	query += ` ORDER BY n.published_at DESC LIMIT 100`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch newspapers", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	papers := []models.Newspaper{}
	for rows.Next() {
		var n models.Newspaper
		if err := rows.Scan(&n.ID, &n.OrganizationID, &n.Title, &n.Price, &n.Currency,
			&n.CoverURL, &n.PublishedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch newspapers", http.StatusInternalServerError, nil)
			return
		}
		papers = append(papers, n)
	}

	SendSuccessResponse(w, http.StatusOK, papers, "")
}

// GetNewspaper retrieves one issue
// @Summary Get newspaper by ID
// @Tags catalog
// @Produce json
// @Param newspaperId path string true "Newspaper ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /newspapers/{newspaperId} [get]
func (s *CatalogService) GetNewspaper(w http.ResponseWriter, r *http.Request) {
	newspaperID := chi.URLParam(r, "newspaperId")

	var n models.Newspaper
	err := s.db.QueryRow(`
		SELECT id, organization_id, title, price, currency, cover_url, published_at
		FROM newspapers
		WHERE id = $1`, newspaperID).
		Scan(&n.ID, &n.OrganizationID, &n.Title, &n.Price, &n.Currency, &n.CoverURL, &n.PublishedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Newspaper not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch newspaper", http.StatusInternalServerError, nil)
		return
	}

	SendSuccessResponse(w, http.StatusOK, n, "")
}
