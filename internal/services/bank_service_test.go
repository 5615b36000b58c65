package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBankService_GetAllBanks(t *testing.T) {
	service := NewBankService()

	w := httptest.NewRecorder()
	service.GetAllBanks(w, httptest.NewRequest(http.MethodGet, "/api/v1/banks", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	banks, ok := resp.Data.([]interface{})
	assert.True(t, ok)
	assert.NotEmpty(t, banks)

	first, ok := banks[0].(map[string]interface{})
	assert.True(t, ok)
	assert.NotEmpty(t, first["code"])
	assert.NotEmpty(t, first["name"])
}
