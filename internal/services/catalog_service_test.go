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
	"github.com/stretchr/testify/assert"
)

func newspaperRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "organization_id", "title", "price", "currency", "cover_url", "published_at"})
}

func TestCatalogService_ListNewspapers(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCatalogService(db)

	t.Run("lists issues from active publishers", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT n.id, n.organization_id, n.title, n.price, n.currency").
			WillReturnRows(newspaperRows().
				AddRow("np-1", "org-1", "The Daily Ledger", 10000, "NGN", "/static/covers/np-1.png", time.Now()).
				AddRow("np-2", "org-2", "Morning Post", 15000, "NGN", "/static/covers/np-2.png", time.Now()))

		w := httptest.NewRecorder()
		service.ListNewspapers(w, httptest.NewRequest(http.MethodGet, "/api/v1/newspapers", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp APIResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		papers, ok := resp.Data.([]interface{})
		assert.True(t, ok)
		assert.Len(t, papers, 2)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("filters by publisher when asked", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT n.id, n.organization_id, n.title, n.price, n.currency").
			WithArgs("org-1").
			WillReturnRows(newspaperRows().
				AddRow("np-1", "org-1", "The Daily Ledger", 10000, "NGN", "/static/covers/np-1.png", time.Now()))

		w := httptest.NewRecorder()
		service.ListNewspapers(w, httptest.NewRequest(http.MethodGet, "/api/v1/newspapers?organizationId=org-1", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestCatalogService_GetNewspaper(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCatalogService(db)

	newspaperRequest := func(id string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/newspapers/"+id, nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("newspaperId", id)
		return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}

	t.Run("returns the issue", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT id, organization_id, title, price, currency").
			WithArgs("np-1").
			WillReturnRows(newspaperRows().
				AddRow("np-1", "org-1", "The Daily Ledger", 10000, "NGN", "/static/covers/np-1.png", time.Now()))

		w := httptest.NewRecorder()
		service.GetNewspaper(w, newspaperRequest("np-1"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("unknown issue is a 404", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT id, organization_id, title, price, currency").
			WithArgs("np-missing").
			WillReturnError(sql.ErrNoRows)

		w := httptest.NewRecorder()
		service.GetNewspaper(w, newspaperRequest("np-missing"))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
