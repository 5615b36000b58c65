package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendSuccessResponse(t *testing.T) {
	w := httptest.NewRecorder()
	SendSuccessResponse(w, http.StatusCreated, map[string]string{"id": "order-1"}, "Order created")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp APIResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Order created", resp.Message)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "order-1", data["id"])
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)

		var resp APIResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "Order not found", resp.Message)
		assert.Nil(t, resp.Details)
	})

	t.Run("validation details are keyed by field", func(t *testing.T) {
		type payload struct {
			Email  string `validate:"required,email"`
			Amount int64  `validate:"gt=0"`
		}

		err := NewValidationHelper().ValidateStruct(&payload{Email: "nope", Amount: -1})
		assert.Error(t, err)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)

		var resp APIResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Details, "Email")
		assert.Contains(t, resp.Details, "Amount")
	})
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	req := createWithdrawalRequest{Amount: 5000, PaymentMethod: "bank_transfer", PaymentDetails: "0123456789:GTB"}
	assert.NoError(t, vh.ValidateStruct(&req))

	req.PaymentMethod = "carrier_pigeon"
	assert.Error(t, vh.ValidateStruct(&req))
}
