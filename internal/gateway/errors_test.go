package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(httpError("op", 500, "boom")))
	assert.True(t, IsTransient(httpError("op", 503, "maintenance")))
	assert.True(t, IsTransient(httpError("op", 408, "timeout")))
	assert.True(t, IsTransient(httpError("op", 429, "slow down")))

	assert.False(t, IsTransient(httpError("op", 400, "bad request")))
	assert.False(t, IsTransient(httpError("op", 401, "invalid key")))
	assert.False(t, IsTransient(httpError("op", 422, "invalid recipient")))

	assert.True(t, IsTransient(networkError("op", errors.New("connection refused"))))
	assert.True(t, IsTransient(errors.New("something unclassified")))
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := networkError("POST /transfer", cause)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "POST /transfer")
}
