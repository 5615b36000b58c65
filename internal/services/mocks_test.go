package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kioskfy/backend/internal/gateway"
)

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) InitializePayment(ctx context.Context, req *gateway.InitializePaymentRequest) (*gateway.InitializePaymentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.InitializePaymentResult), args.Error(1)
}

func (m *MockPaymentGateway) VerifyPayment(ctx context.Context, paymentID string) (*gateway.PaymentVerification, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentVerification), args.Error(1)
}

type MockPayoutProvider struct {
	mock.Mock
}

func (m *MockPayoutProvider) InitializePayout(ctx context.Context, req *gateway.InitializePayoutRequest) (*gateway.InitializePayoutResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.InitializePayoutResult), args.Error(1)
}

func (m *MockPayoutProvider) VerifyPayout(ctx context.Context, payoutID string) (*gateway.PayoutVerification, error) {
	args := m.Called(ctx, payoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PayoutVerification), args.Error(1)
}
