package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APPROVAL_STEPS", "officer, manager ,,director")
	t.Setenv("CALC_HEARTBEAT_TIMEOUT", "45s")
	t.Setenv("VARIANCE_THRESHOLD", "0.35")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CALC_WORKERS", "not-a-number")
	t.Setenv("TRUST_PROXY", "true")

	cfg := Load()
	if got := strings.Join(cfg.ApprovalSteps, "|"); got != "officer|manager|director" {
		t.Fatalf("unexpected approval steps %q", got)
	}
	if cfg.CalcHeartbeatTimeout != 45*time.Second {
		t.Fatalf("expected 45s heartbeat timeout, got %s", cfg.CalcHeartbeatTimeout)
	}
	if cfg.VarianceThreshold.String() != "0.35" {
		t.Fatalf("expected variance threshold 0.35, got %s", cfg.VarianceThreshold)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected 2 kafka brokers, got %v", cfg.KafkaBrokers)
	}
	if !cfg.TrustProxy || cfg.RateLimitPerMinute != 600 {
		t.Fatalf("expected trusted proxy with default rate limit, got %v %d", cfg.TrustProxy, cfg.RateLimitPerMinute)
	}
	if cfg.CalcWorkers != 4 {
		t.Fatalf("expected invalid int to fall back to 4, got %d", cfg.CalcWorkers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"production without database", func(c *Config) { c.Environment = "production" }, "DATABASE_URL"},
		{"unknown severity", func(c *Config) { c.BlockingSeverity = "fatal" }, "REVIEW_BLOCKING_SEVERITY"},
		{"no approval steps", func(c *Config) { c.ApprovalSteps = nil }, "APPROVAL_STEPS"},
		{"tiny body limit", func(c *Config) { c.MaxBodyBytes = 10 }, "MAX_BODY_BYTES"},
		{"negative rate limit", func(c *Config) { c.RateLimitPerMinute = -1 }, "RATE_LIMIT_PER_MINUTE"},
		{"alerts without smtp", func(c *Config) { c.AlertEmailTo = "ops@example.com" }, "SMTP_HOST"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Load()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got %v", tc.want, err)
			}
		})
	}
}
