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

// Payout statuses reported by the payout provider.
const (
	PayoutStatusSuccess  = "success"
	PayoutStatusFailed   = "failed"
	PayoutStatusPending  = "pending"
	PayoutStatusReversed = "reversed"
)

// InitializePayoutRequest starts a transfer to an agency's bank account.
type InitializePayoutRequest struct {
	Amount    int64             `json:"amount"` // in minor units
	Currency  string            `json:"currency"`
	Recipient string            `json:"recipient"` // provider recipient code or account details
	Reference string            `json:"reference"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// InitializePayoutResult carries the provider's payout id.
type InitializePayoutResult struct {
	PayoutID string `json:"payout_id"`
	Status   string `json:"status"`
}

// PayoutVerification is the provider's view of a payout in flight.
type PayoutVerification struct {
	PayoutID string `json:"payout_id"`
	Status   string `json:"status"`
}

// PayoutClient wraps the payout provider's HTTP API.
type PayoutClient struct {
	host       string
	secretKey  string
	httpClient *http.Client
}

func NewPayoutClient(cfg *config.PayoutConfig) *PayoutClient {
	return &PayoutClient{
		host:       cfg.Host,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// InitializePayout asks the provider to start a transfer.
func (c *PayoutClient) InitializePayout(ctx context.Context, req *InitializePayoutRequest) (*InitializePayoutResult, error) {
	var resp struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			TransferCode string `json:"transfer_code"`
			Status       string `json:"status"`
		} `json:"data"`
	}

	if err := c.call(ctx, http.MethodPost, "/transfer", req, &resp); err != nil {
		return nil, err
	}

	if !resp.Status {
		return nil, httpError("initialize_payout", http.StatusBadRequest, resp.Message)
	}

	return &InitializePayoutResult{
		PayoutID: resp.Data.TransferCode,
		Status:   resp.Data.Status,
	}, nil
}

// VerifyPayout asks the provider for the current status of a transfer.
func (c *PayoutClient) VerifyPayout(ctx context.Context, payoutID string) (*PayoutVerification, error) {
	var resp struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			TransferCode string `json:"transfer_code"`
			Status       string `json:"status"`
		} `json:"data"`
	}

	path := fmt.Sprintf("/transfer/verify/%s", payoutID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	if !resp.Status {
		return nil, httpError("verify_payout", http.StatusBadRequest, resp.Message)
	}

	return &PayoutVerification{
		PayoutID: resp.Data.TransferCode,
		Status:   resp.Data.Status,
	}, nil
}

func (c *PayoutClient) call(ctx context.Context, method, path string, body, out any) error {
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
