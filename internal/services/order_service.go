package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/kioskfy/backend/internal/gateway"
	"github.com/kioskfy/backend/internal/models"
)

// PaymentGateway is the slice of the payment provider the order flow needs.
type PaymentGateway interface {
	InitializePayment(ctx context.Context, req *gateway.InitializePaymentRequest) (*gateway.InitializePaymentResult, error)
	VerifyPayment(ctx context.Context, paymentID string) (*gateway.PaymentVerification, error)
}

// OrderService creates orders at checkout and hands completed payments to the
// reconciler. Orders never become paid from a client call; only the webhook
// reconciler (fed by the provider) moves them there.
type OrderService struct {
	db         *sql.DB
	gateway    PaymentGateway
	reconciler *WebhookService
	validator  *ValidationHelper
}

func NewOrderService(db *sql.DB, gw PaymentGateway, reconciler *WebhookService) *OrderService {
	return &OrderService{
		db:         db,
		gateway:    gw,
		reconciler: reconciler,
		validator:  NewValidationHelper(),
	}
}

type createOrderRequest struct {
	NewspaperID string `json:"newspaperId" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
}

// CreateOrder starts a checkout for one newspaper issue
// @Summary Create an order
// @Description Create a pending order and initialize a hosted checkout with the payment gateway
// @Tags orders
// @Accept json
// @Produce json
// @Param order body createOrderRequest true "Checkout data"
// @Success 201 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 502 {object} APIResponse
// @Router /orders [post]
func (os *OrderService) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createOrderRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := os.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var paper models.Newspaper
	var orgStatus string
	err := os.db.QueryRow(`
		SELECT n.id, n.organization_id, n.price, n.currency, o.status
		FROM newspapers n
		JOIN organizations o ON o.id = n.organization_id
		WHERE n.id = $1`, req.NewspaperID).
		Scan(&paper.ID, &paper.OrganizationID, &paper.Price, &paper.Currency, &orgStatus)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Newspaper not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ORDER] Failed to resolve newspaper %s: %v", req.NewspaperID, err)
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}
	if orgStatus != "ACTIVE" {
		SendErrorResponse(w, "Publisher is not accepting orders", http.StatusForbidden, nil)
		return
	}

	order := models.Order{
		ID:             uuid.NewString(),
		UserID:         userID,
		NewspaperID:    paper.ID,
		OrganizationID: paper.OrganizationID,
		Amount:         paper.Price,
		Currency:       paper.Currency,
		Status:         models.OrderStatusPending,
		CreatedAt:      time.Now(),
	}

	_, err = os.db.Exec(`
		INSERT INTO orders (id, user_id, newspaper_id, organization_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		order.ID, order.UserID, order.NewspaperID, order.OrganizationID,
		order.Amount, order.Currency, order.Status, order.CreatedAt)
	if err != nil {
		log.Printf("[ORDER] Failed to insert order for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	checkout, err := os.gateway.InitializePayment(r.Context(), &gateway.InitializePaymentRequest{
		Amount:      order.Amount,
		Currency:    order.Currency,
		Email:       req.Email,
		Reference:   order.ID,
		Description: "kioskfy issue purchase",
		Metadata:    map[string]string{"order_id": order.ID},
	})
	if err != nil {
		log.Printf("[ORDER] Payment initialization failed for order %s (org %s, amount %d): %v",
			order.ID, order.OrganizationID, order.Amount, err)
		if !gateway.IsTransient(err) {
			os.db.Exec(`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
				models.OrderStatusFailed, time.Now(), order.ID)
		}
		SendErrorResponse(w, "Payment gateway unavailable, try again later", http.StatusBadGateway, nil)
		return
	}

	order.PaymentID = checkout.PaymentID
	order.CheckoutURL = checkout.CheckoutURL
	_, err = os.db.Exec(`UPDATE orders SET payment_id = $1, checkout_url = $2, updated_at = $3 WHERE id = $4`,
		checkout.PaymentID, checkout.CheckoutURL, time.Now(), order.ID)
	if err != nil {
		log.Printf("[ORDER] Failed to store payment reference for order %s: %v", order.ID, err)
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	SendSuccessResponse(w, http.StatusCreated, order, "")
}

// GetOrder retrieves one of the caller's orders
// @Summary Get order by ID
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /orders/{orderId} [get]
func (os *OrderService) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	orderID := chi.URLParam(r, "orderId")

	order, err := os.fetchOrder(orderID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch order", http.StatusInternalServerError, nil)
		}
		return
	}

	SendSuccessResponse(w, http.StatusOK, order, "")
}

// ListOrders retrieves the caller's orders, newest first
// @Summary List orders
// @Tags orders
// @Produce json
// @Success 200 {object} APIResponse
// @Router /orders [get]
func (os *OrderService) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := os.db.Query(`
		SELECT id, user_id, newspaper_id, organization_id, amount, currency, status,
		       payment_id, checkout_url, created_at, updated_at, paid_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 100`, userID)
	if err != nil {
		log.Printf("[ORDER] Failed to list orders for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch orders", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.NewspaperID, &o.OrganizationID,
			&o.Amount, &o.Currency, &o.Status, &o.PaymentID, &o.CheckoutURL,
			&o.CreatedAt, &o.UpdatedAt, &o.PaidAt); err != nil {
			SendErrorResponse(w, "Failed to fetch orders", http.StatusInternalServerError, nil)
			return
		}
		orders = append(orders, o)
	}

	SendSuccessResponse(w, http.StatusOK, orders, "")
}

// GetOrderQR renders the order's checkout URL as a QR code
// @Summary Checkout QR code
// @Description Returns the hosted checkout URL as a base64 PNG for point-of-sale style scanning
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /orders/{orderId}/qr [get]
func (os *OrderService) GetOrderQR(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	orderID := chi.URLParam(r, "orderId")

	order, err := os.fetchOrder(orderID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch order", http.StatusInternalServerError, nil)
		}
		return
	}

	if order.CheckoutURL == "" || order.Status != models.OrderStatusPending {
		SendErrorResponse(w, "Order has no open checkout", http.StatusConflict, nil)
		return
	}

	qr, err := qrcode.New(order.CheckoutURL, qrcode.Medium)
	if err != nil {
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	SendSuccessResponse(w, http.StatusOK, map[string]string{
		"order_id": order.ID,
		"qr_image": base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, "")
}

// VerifyOrder polls the gateway for a payment the client reports as finished
// @Summary Verify order payment
// @Description Ask the gateway for the authoritative payment status and reconcile the order; used when the client returns from checkout before the webhook lands
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Failure 502 {object} APIResponse
// @Router /orders/{orderId}/verify [post]
func (os *OrderService) VerifyOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	orderID := chi.URLParam(r, "orderId")

	order, err := os.fetchOrder(orderID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch order", http.StatusInternalServerError, nil)
		}
		return
	}

	if order.PaymentID == "" {
		SendErrorResponse(w, "Order has no payment to verify", http.StatusConflict, nil)
		return
	}

	verification, err := os.gateway.VerifyPayment(r.Context(), order.PaymentID)
	if err != nil {
		log.Printf("[ORDER] Verification failed for order %s (payment %s): %v", order.ID, order.PaymentID, err)
		SendErrorResponse(w, "Payment gateway unavailable, try again later", http.StatusBadGateway, nil)
		return
	}

	if err := os.reconciler.ReconcilePayment(verification.PaymentID, verification.Status, verification.Amount, verification.Currency); err != nil {
		log.Printf("[ORDER] Reconciliation failed for order %s (payment %s): %v", order.ID, order.PaymentID, err)
		SendErrorResponse(w, "Failed to reconcile payment", http.StatusInternalServerError, nil)
		return
	}

	order, err = os.fetchOrder(orderID, userID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch order", http.StatusInternalServerError, nil)
		return
	}

	SendSuccessResponse(w, http.StatusOK, order, "")
}

func (os *OrderService) fetchOrder(orderID, userID string) (*models.Order, error) {
	var o models.Order
	err := os.db.QueryRow(`
		SELECT id, user_id, newspaper_id, organization_id, amount, currency, status,
		       payment_id, checkout_url, created_at, updated_at, paid_at
		FROM orders
		WHERE id = $1 AND user_id = $2`, orderID, userID).
		Scan(&o.ID, &o.UserID, &o.NewspaperID, &o.OrganizationID,
			&o.Amount, &o.Currency, &o.Status, &o.PaymentID, &o.CheckoutURL,
			&o.CreatedAt, &o.UpdatedAt, &o.PaidAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
