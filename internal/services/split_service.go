package services

import (
	"github.com/spf13/viper"
)

// DefaultCurrency returns the platform settlement currency.
func DefaultCurrency() string {
	viper.SetDefault("platform.currency", "NGN")
	return viper.GetString("platform.currency")
}

// DefaultCommissionBps returns the platform-wide commission in basis points,
// applied when an organization has no rate of its own.
func DefaultCommissionBps() int64 {
	viper.SetDefault("platform.commission_bps", 1000)
	return viper.GetInt64("platform.commission_bps")
}

// Split is the division of one paid amount between an organization and the
// platform. OrganizationAmount + PlatformAmount always equals the input
// amount exactly.
type Split struct {
	OrganizationAmount int64 `json:"organization_amount"`
	PlatformAmount     int64 `json:"platform_amount"`
}

// ComputeSplit divides totalAmount (minor currency units) according to the
// platform commission in basis points. Integer math throughout; the
// organization share is floored so any rounding remainder goes to the
// platform side, keeping the sum invariant exact. The quotient/remainder form
// keeps the intermediate product inside int64 for any valid amount.
func ComputeSplit(totalAmount, commissionBps int64) (Split, error) {
	if totalAmount < 0 {
		return Split{}, &ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if commissionBps < 0 || commissionBps > 10000 {
		return Split{}, &ValidationError{Field: "commission_bps", Message: "must be between 0 and 10000"}
	}

	keepBps := 10000 - commissionBps
	orgAmount := totalAmount/10000*keepBps + totalAmount%10000*keepBps/10000
	return Split{
		OrganizationAmount: orgAmount,
		PlatformAmount:     totalAmount - orgAmount,
	}, nil
}

// CommissionFor resolves the effective commission for an organization,
// falling back to the platform default when none is configured.
func CommissionFor(orgCommissionBps *int64) int64 {
	if orgCommissionBps != nil {
		return *orgCommissionBps
	}
	return DefaultCommissionBps()
}
