package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	Port                string
	DBConn              string
	LogLevel            string
	JWTSecret           string
	MonthlyLendingLimit decimal.Decimal
	SMTPHost            string
	SMTPPort            string
	SMTPUsername        string
	SMTPPassword        string
	SenderEmail         string
	ReminderCron        string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		DBConn:       getEnv("DB_CONN", "host=localhost port=5432 user=kupon password=kupon dbname=kupon sslmode=disable"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:    getEnv("JWT_SECRET", "secret"),
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SenderEmail:  getEnv("SENDER_EMAIL", "office@kupon.local"),
		ReminderCron: getEnv("REMINDER_CRON", "0 6 * * *"),
	}

	limit, err := decimal.NewFromString(getEnv("MONTHLY_LENDING_LIMIT", "1000000000"))
	if err != nil {
		return nil, fmt.Errorf("invalid MONTHLY_LENDING_LIMIT: %w", err)
	}
	if !limit.IsPositive() {
		return nil, fmt.Errorf("MONTHLY_LENDING_LIMIT must be positive")
	}
	cfg.MonthlyLendingLimit = limit

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
