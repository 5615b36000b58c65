package gateway

import (
	"fmt"
)

// ProviderError is any failure talking to the payment or payout provider.
// Transient errors are safe to retry (webhook redelivery or the
// reconciliation worker picks them up); definitive errors must move the
// order or withdrawal to a failed state.
type ProviderError struct {
	Op         string
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s failed (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s failed: %s", e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable provider error. Unknown
// errors are treated as transient so a flaky network never fails a payout
// definitively.
func IsTransient(err error) bool {
	if perr, ok := err.(*ProviderError); ok {
		return perr.Transient
	}
	return true
}

func networkError(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Message: err.Error(), Transient: true, Err: err}
}

func httpError(op string, statusCode int, message string) *ProviderError {
	// 408, 429 and every 5xx are retryable; other 4xx mean the provider
	// understood and rejected the request.
	transient := statusCode >= 500 || statusCode == 408 || statusCode == 429
	return &ProviderError{Op: op, StatusCode: statusCode, Message: message, Transient: transient}
}
