package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds application configuration
type Config struct {
	Port      string
	DBConn    string
	LogLevel  string
	JWTSecret string

	// Card program parameters.
	IssuerSegmentLen  int
	CardValidityYears int
	GracePeriodDays   int

	// Statement batch schedule (cron expression) and authorization sweep.
	StatementCron string
	SweepCron     string

	// Exchange rate collaborator.
	RatesURL string

	// Outbound notifications.
	SMTPHost    string
	SMTPPort    string
	SMTPUser    string
	SMTPPass    string
	SenderEmail string

	Risk RiskPolicy
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		DBConn:    getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=cardcore sslmode=disable"),
		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
		JWTSecret: getEnv("JWT_SECRET", "secret"),

		IssuerSegmentLen:  getEnvInt("ISSUER_SEGMENT_LEN", 4),
		CardValidityYears: getEnvInt("CARD_VALIDITY_YEARS", 3),
		GracePeriodDays:   getEnvInt("GRACE_PERIOD_DAYS", 21),

		StatementCron: getEnv("STATEMENT_CRON", "0 2 * * *"),
		SweepCron:     getEnv("SWEEP_CRON", "*/30 * * * *"),

		RatesURL: getEnv("RATES_URL", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx"),

		SMTPHost:    getEnv("SMTP_HOST", "localhost"),
		SMTPPort:    getEnv("SMTP_PORT", "1025"),
		SMTPUser:    getEnv("SMTP_USER", ""),
		SMTPPass:    getEnv("SMTP_PASS", ""),
		SenderEmail: getEnv("SENDER_EMAIL", "cards@meridianpay.example"),

		Risk: DefaultRiskPolicy(),
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Weights are policy, not code: RISK_POLICY overrides any subset of the
	// default table with a JSON object.
	if raw := os.Getenv("RISK_POLICY"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Risk); err != nil {
			return nil, fmt.Errorf("invalid RISK_POLICY: %w", err)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}
