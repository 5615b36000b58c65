package config

import (
	"os"
	"strconv"
	"time"
)

// GatewayConfig configures the inbound payment gateway integration.
type GatewayConfig struct {
	Host        string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
}

// PayoutConfig configures the payout provider used for agency withdrawals.
type PayoutConfig struct {
	Host      string
	SecretKey string
	Timeout   time.Duration
}

func LoadGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Host:        getEnv("GATEWAY_HOST", "https://api.paygate.test"),
		SecretKey:   getEnv("GATEWAY_SECRET_KEY", ""),
		CallbackURL: getEnv("GATEWAY_CALLBACK_URL", "https://kioskfy.test/checkout/return"),
		Timeout:     getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
	}
}

func LoadPayoutConfig() *PayoutConfig {
	return &PayoutConfig{
		Host:      getEnv("PAYOUT_HOST", "https://api.paygate.test"),
		SecretKey: getEnv("PAYOUT_SECRET_KEY", ""),
		Timeout:   getEnvAsDuration("PAYOUT_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
