// Package config is the environment-variable driven configuration
// loader for the policy decision point.
//
// Grounded on the teacher's pkg/config/config.go: plain os.Getenv
// reads with sensible defaults, no Viper or other config framework.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide configuration for sna-pdpd.
type Config struct {
	Port     string
	LogLevel string

	PolicyDocumentPath string
	AuditDatabaseURL   string

	EASWindow     time.Duration
	EscalationTTL time.Duration
	WebhookURLs   []string
}

// Load reads configuration from environment variables, applying the
// same defaults the teacher's own Load does: a working value for
// every field so the process boots in a local dev environment with no
// environment set at all.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	policyPath := os.Getenv("POLICY_DOCUMENT_PATH")
	if policyPath == "" {
		policyPath = "policy.yaml"
	}

	auditDBURL := os.Getenv("AUDIT_DATABASE_URL")
	if auditDBURL == "" {
		auditDBURL = "postgres://sna_pdp@localhost:5432/sna_pdp?sslmode=disable"
	}

	return &Config{
		Port:               port,
		LogLevel:           logLevel,
		PolicyDocumentPath: policyPath,
		AuditDatabaseURL:   auditDBURL,
		EASWindow:          envDays("EAS_WINDOW_DAYS", 30) * 24 * time.Hour,
		EscalationTTL:      envSeconds("ESCALATION_TTL_SECONDS", 900),
		WebhookURLs:        envCSV("WEBHOOK_URLS"),
	}
}

func envDays(key string, fallback int) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(fallback)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return time.Duration(fallback)
	}
	return time.Duration(n)
}

func envSeconds(key string, fallbackSeconds int) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(fallbackSeconds) * time.Second
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return time.Duration(fallbackSeconds) * time.Second
	}
	return time.Duration(n) * time.Second
}

func envCSV(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}
