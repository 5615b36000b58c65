package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/kioskfy/backend/internal/services"
)

// SignatureHeader carries the gateway's HMAC of the raw body.
const SignatureHeader = "X-Webhook-Signature"

// WebhookHandler is the HTTP boundary for payment provider notifications.
type WebhookHandler struct {
	webhooks *services.WebhookService
}

func NewWebhookHandler(webhooks *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// HandlePaymentWebhook receives payment status notifications
// @Summary Payment webhook receiver
// @Description Consumes HMAC-signed payment notifications from the gateway; duplicate deliveries are acknowledged without reprocessing
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} services.APIResponse
// @Failure 401 {object} services.APIResponse
// @Failure 404 {object} services.APIResponse
// @Failure 500 {object} services.APIResponse
// @Router /webhooks/payments [post]
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(maxBytes)))
	if err != nil {
		services.SendErrorResponse(w, "Failed to read request body", http.StatusBadRequest, nil)
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		services.SendErrorResponse(w, "Missing signature header", http.StatusUnauthorized, nil)
		return
	}

	err = h.webhooks.HandleNotification(body, signature)
	switch {
	case err == nil:
		services.SendSuccessResponse(w, http.StatusOK, nil, "acknowledged")
	case errors.Is(err, services.ErrInvalidSignature):
		services.SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
	case errors.Is(err, services.ErrOrderNotFound):
		services.SendErrorResponse(w, "Unknown payment reference", http.StatusNotFound, nil)
	default:
		var invalid *services.ValidationError
		if errors.As(err, &invalid) {
			services.SendErrorResponse(w, invalid.Error(), http.StatusBadRequest, nil)
			return
		}
		// 5xx tells the provider to redeliver; nothing was committed.
		log.Printf("[WEBHOOK] Processing failed, requesting redelivery: %v", err)
		services.SendErrorResponse(w, "Processing failed", http.StatusInternalServerError, nil)
	}
}
