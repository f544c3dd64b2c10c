package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Addr                   string
	Environment            string
	LogLevel               string
	DatabaseURL            string
	RunMigrations          bool
	MigrationsDir          string
	JWTSecret              string
	DataEncryptionKey      string
	PayslipDir             string
	RedisAddr              string
	RedisPassword          string
	KafkaBrokers           []string
	KafkaTopic             string
	ContributionTablesPath string
	CalcWorkers            int
	JobQueueSize           int
	JobWorkers             int
	CalcHeartbeatTimeout   time.Duration
	WatchdogInterval       time.Duration
	PayDateGraceDays       int
	ApprovalSteps          []string
	BlockingSeverity       string
	VarianceThreshold      decimal.Decimal
	MetricsEnabled         bool
	MaxBodyBytes           int64
	RateLimitPerMinute     int
	TrustProxy             bool
	AlertEmailTo           string
	EmailFrom              string
	SMTPHost               string
	SMTPPort               int
	SMTPUser               string
	SMTPPassword           string
	SMTPUseTLS             bool
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables win over it.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env not loaded", "err", err)
	}
	return Config{
		Addr:                   getEnv("APP_ADDR", ":8080"),
		Environment:            getEnv("APP_ENV", "development"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RunMigrations:          getEnvBool("RUN_MIGRATIONS", true),
		MigrationsDir:          getEnv("MIGRATIONS_DIR", "migrations"),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		DataEncryptionKey:      getEnv("DATA_ENCRYPTION_KEY", ""),
		PayslipDir:             getEnv("PAYSLIP_DIR", "storage/payslips"),
		RedisAddr:              getEnv("REDIS_ADDR", ""),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:           getEnvList("KAFKA_BROKERS", nil),
		KafkaTopic:             getEnv("KAFKA_TOPIC", "payroll.events"),
		ContributionTablesPath: getEnv("CONTRIBUTION_TABLES_PATH", ""),
		CalcWorkers:            getEnvInt("CALC_WORKERS", 4),
		JobQueueSize:           getEnvInt("JOB_QUEUE_SIZE", 128),
		JobWorkers:             getEnvInt("JOB_WORKERS", 2),
		CalcHeartbeatTimeout:   getEnvDuration("CALC_HEARTBEAT_TIMEOUT", 2*time.Minute),
		WatchdogInterval:       getEnvDuration("WATCHDOG_INTERVAL", 30*time.Second),
		PayDateGraceDays:       getEnvInt("PAY_DATE_GRACE_DAYS", 7),
		ApprovalSteps:          getEnvList("APPROVAL_STEPS", []string{"payroll_officer", "payroll_manager", "finance_director"}),
		BlockingSeverity:       getEnv("REVIEW_BLOCKING_SEVERITY", "critical"),
		VarianceThreshold:      getEnvDecimal("VARIANCE_THRESHOLD", decimal.RequireFromString("0.20")),
		MetricsEnabled:         getEnvBool("METRICS_ENABLED", true),
		MaxBodyBytes:           int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		RateLimitPerMinute:     getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		TrustProxy:             getEnvBool("TRUST_PROXY", false),
		AlertEmailTo:           getEnv("ALERT_EMAIL_TO", ""),
		EmailFrom:              getEnv("EMAIL_FROM", "payroll@example.com"),
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               getEnvInt("SMTP_PORT", 587),
		SMTPUser:               getEnv("SMTP_USER", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		SMTPUseTLS:             getEnvBool("SMTP_USE_TLS", true),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	if c.Environment == "production" {
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
		}
		if strings.TrimSpace(c.DataEncryptionKey) == "" {
			return fmt.Errorf("DATA_ENCRYPTION_KEY must be set in production for encryption at rest")
		}
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.CalcWorkers <= 0 || c.JobWorkers <= 0 || c.JobQueueSize <= 0 {
		return fmt.Errorf("CALC_WORKERS, JOB_WORKERS and JOB_QUEUE_SIZE must be positive")
	}
	if c.CalcHeartbeatTimeout < time.Second {
		return fmt.Errorf("CALC_HEARTBEAT_TIMEOUT must be at least 1s")
	}
	if c.WatchdogInterval <= 0 {
		return fmt.Errorf("WATCHDOG_INTERVAL must be positive")
	}
	if c.PayDateGraceDays < 0 {
		return fmt.Errorf("PAY_DATE_GRACE_DAYS must not be negative")
	}
	if len(c.ApprovalSteps) == 0 {
		return fmt.Errorf("APPROVAL_STEPS must name at least one role")
	}
	switch c.BlockingSeverity {
	case "info", "warning", "critical":
	default:
		return fmt.Errorf("REVIEW_BLOCKING_SEVERITY must be info, warning or critical")
	}
	if !c.VarianceThreshold.IsPositive() {
		return fmt.Errorf("VARIANCE_THRESHOLD must be positive")
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		return fmt.Errorf("KAFKA_TOPIC must be set when KAFKA_BROKERS is set")
	}
	if c.AlertEmailTo != "" && c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST must be set when ALERT_EMAIL_TO is set")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
