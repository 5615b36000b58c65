package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kioskfy/backend/internal/config"
)

// Payment statuses reported by the gateway.
const (
	PaymentStatusSuccess   = "success"
	PaymentStatusFailed    = "failed"
	PaymentStatusPending   = "pending"
	PaymentStatusAbandoned = "abandoned"
)

// InitializePaymentRequest starts a hosted checkout session.
type InitializePaymentRequest struct {
	Amount      int64             `json:"amount"` // in minor units
	Currency    string            `json:"currency"`
	Email       string            `json:"email"`
	Reference   string            `json:"reference"`
	Description string            `json:"description,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// InitializePaymentResult is the checkout handle returned to the client.
type InitializePaymentResult struct {
	CheckoutURL string `json:"checkout_url"`
	PaymentID   string `json:"payment_id"`
}

// PaymentVerification is the provider's authoritative view of a payment.
type PaymentVerification struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// PaymentClient wraps the payment gateway's HTTP API.
type PaymentClient struct {
	host       string
	secretKey  string
	httpClient *http.Client
}

func NewPaymentClient(cfg *config.GatewayConfig) *PaymentClient {
	return &PaymentClient{
		host:       cfg.Host,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// InitializePayment opens a checkout session with the gateway and returns the
// hosted checkout URL plus the provider's payment id.
func (c *PaymentClient) InitializePayment(ctx context.Context, req *InitializePaymentRequest) (*InitializePaymentResult, error) {
	var resp struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AuthorizationURL string `json:"authorization_url"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}

	if err := c.call(ctx, http.MethodPost, "/transaction/initialize", req, &resp); err != nil {
		return nil, err
	}

	if !resp.Status {
		return nil, httpError("initialize_payment", http.StatusBadRequest, resp.Message)
	}

	return &InitializePaymentResult{
		CheckoutURL: resp.Data.AuthorizationURL,
		PaymentID:   resp.Data.Reference,
	}, nil
}

// VerifyPayment asks the gateway for the current status of a payment.
func (c *PaymentClient) VerifyPayment(ctx context.Context, paymentID string) (*PaymentVerification, error) {
	var resp struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Reference string `json:"reference"`
			Status    string `json:"status"`
			Amount    int64  `json:"amount"`
			Currency  string `json:"currency"`
		} `json:"data"`
	}

	path := fmt.Sprintf("/transaction/verify/%s", paymentID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	if !resp.Status {
		return nil, httpError("verify_payment", http.StatusBadRequest, resp.Message)
	}

	return &PaymentVerification{
		PaymentID: resp.Data.Reference,
		Status:    resp.Data.Status,
		Amount:    resp.Data.Amount,
		Currency:  resp.Data.Currency,
	}, nil
}

func (c *PaymentClient) call(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return networkError(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(op, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return networkError(op, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return httpError(op, httpResp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return httpError(op, httpResp.StatusCode, "unparseable response body")
	}

	return nil
}
