package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// LimitsConfig holds the payout limiter thresholds. A zero value disables
// the corresponding check.
type LimitsConfig struct {
	PayoutMinimum   decimal.Decimal
	DailyLimit      decimal.Decimal
	MonthlyLimit    decimal.Decimal
	DailyRequestCap int
}

// FraudConfig holds the heuristic rule thresholds.
type FraudConfig struct {
	CardReuseBaseScore int
	IPBurstBaseScore   int
	IPBurstThreshold   int
	IPBurstWindow      time.Duration
}

func LoadLimitsConfig() *LimitsConfig {
	return &LimitsConfig{
		PayoutMinimum:   getEnvAsDecimal("PAYOUT_MINIMUM", "1000"),
		DailyLimit:      getEnvAsDecimal("PAYOUT_DAILY_LIMIT", "200000"),
		MonthlyLimit:    getEnvAsDecimal("PAYOUT_MONTHLY_LIMIT", "2000000"),
		DailyRequestCap: getEnvAsInt("PAYOUT_DAILY_REQUEST_CAP", 5),
	}
}

func LoadFraudConfig() *FraudConfig {
	return &FraudConfig{
		CardReuseBaseScore: getEnvAsInt("FRAUD_CARD_REUSE_BASE_SCORE", 50),
		IPBurstBaseScore:   getEnvAsInt("FRAUD_IP_BURST_BASE_SCORE", 30),
		IPBurstThreshold:   getEnvAsInt("FRAUD_IP_BURST_THRESHOLD", 15),
		IPBurstWindow:      getEnvAsDuration("FRAUD_IP_BURST_WINDOW", 6*time.Hour),
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

func getEnvAsDecimal(key, defaultVal string) decimal.Decimal {
	if d, err := decimal.NewFromString(getEnv(key, defaultVal)); err == nil {
		return d
	}
	d, _ := decimal.NewFromString(defaultVal)
	return d
}
