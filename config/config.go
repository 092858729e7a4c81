package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	ServiceName  string
	OTELEndpoint string
	Port         string

	// Messaging: the payment terminal dials the store terminal's channel
	// endpoint; the store terminal hosts it.
	CounterpartURL string

	// External collaborators
	BiometricURL  string
	WalletURL     string
	RedemptionURL string
	CameraURL     string

	// Ledger settlement
	LedgerWSURL  string
	LedgerRPCURL string
	FundingSeed  string
	USDRate      float64

	Currency   string
	ResetDelay time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) *Config {
	return &Config{
		ServiceName:    serviceName,
		OTELEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Port:           getEnv("PORT", "8081"),
		CounterpartURL: getEnv("COUNTERPART_URL", "ws://localhost:8081/channel"),
		BiometricURL:   getEnv("BIOMETRIC_URL", "http://localhost:3002"),
		WalletURL:      getEnv("WALLET_URL", "http://localhost:3003"),
		RedemptionURL:  getEnv("REDEMPTION_URL", "http://localhost:3004"),
		CameraURL:      getEnv("CAMERA_URL", "http://localhost:3005"),
		LedgerWSURL:    getEnv("LEDGER_WS_URL", "wss://s.altnet.rippletest.net:51233"),
		LedgerRPCURL:   getEnv("LEDGER_RPC_URL", "https://s.altnet.rippletest.net:51234"),
		FundingSeed:    getEnv("LEDGER_FUNDING_SEED", ""),
		USDRate:        getEnvFloat("LEDGER_USD_RATE", 2.5),
		Currency:       getEnv("CURRENCY", "USD"),
		ResetDelay:     getEnvDuration("TERMINAL_RESET_DELAY", 5*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
