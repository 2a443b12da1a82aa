package config

import (
	"os"
	"strconv"
	"time"
)

type PayoutConfig struct {
	QueueName         string
	EventQueueName    string
	Currency          string
	PlatformBIC       string
	MinWithdrawal     int64
	MaxWithdrawal     int64
	VoucherTTL        time.Duration
	VoucherCodeLength int
}

func LoadPayoutConfig() *PayoutConfig {
	return &PayoutConfig{
		QueueName:         getEnv("PAYOUT_QUEUE_NAME", "payout_queue"),
		EventQueueName:    getEnv("CASHBACK_EVENT_QUEUE", "cashback_events"),
		Currency:          getEnv("PAYOUT_CURRENCY", "INR"),
		PlatformBIC:       getEnv("PAYOUT_PLATFORM_BIC", "RUPEBACK"),
		MinWithdrawal:     getEnvAsInt64("PAYOUT_MIN_AMOUNT", 1),
		MaxWithdrawal:     getEnvAsInt64("PAYOUT_MAX_AMOUNT", 10_000_000),
		VoucherTTL:        getEnvAsDuration("VOUCHER_TTL", 30*24*time.Hour),
		VoucherCodeLength: getEnvAsInt("VOUCHER_CODE_LENGTH", 16),
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

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
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
