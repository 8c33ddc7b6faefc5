// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

// Package config loads the service configuration from a YAML file.
// Environment variables can be referenced with ${VAR_NAME} or
// ${VAR_NAME:-default} syntax anywhere in the file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wardenai/warden/backend"
)

// Config is the root of the configuration file.
type Config struct {
	Version  string                   `yaml:"version"`
	Server   ServerConfig             `yaml:"server"`
	Policy   PolicyConfig             `yaml:"policy"`
	Budget   BudgetConfig             `yaml:"budget"`
	Audit    AuditConfig              `yaml:"audit"`
	Redis    RedisConfig              `yaml:"redis"`
	Backends []backend.DescriptorSpec `yaml:"backends"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr       string   `yaml:"listen_addr"`
	JWTSecret        string   `yaml:"jwt_secret"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	RequestTimeoutMs int      `yaml:"request_timeout_ms"`
}

// PolicyConfig configures the gateway.
type PolicyConfig struct {
	// ScannerMode is "strict" or "lenient" (default strict).
	ScannerMode string `yaml:"scanner_mode"`

	// AnonymizeTerms are product/org names redacted in all text.
	AnonymizeTerms []string `yaml:"anonymize_terms"`
}

// BudgetConfig configures the spend ledger.
type BudgetConfig struct {
	CapUnits      float64 `yaml:"cap_units"`
	PeriodHours   int     `yaml:"period_hours"`
	WarnThreshold float64 `yaml:"warn_threshold"`
}

// Period returns the configured budget period.
func (b BudgetConfig) Period() time.Duration {
	if b.PeriodHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.PeriodHours) * time.Hour
}

// AuditConfig configures the audit sink. An empty DatabaseURL falls back
// to the structured-log sink.
type AuditConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// RedisConfig configures budget persistence. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Load reads, env-expands, parses, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Version == "" {
		return fmt.Errorf("config file must specify a version")
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("config file must declare at least one backend")
	}
	switch c.Policy.ScannerMode {
	case "", "strict", "lenient":
	default:
		return fmt.Errorf("policy.scanner_mode must be strict or lenient, got %q", c.Policy.ScannerMode)
	}
	if c.Budget.CapUnits < 0 {
		return fmt.Errorf("budget.cap_units must not be negative")
	}
	if c.Budget.WarnThreshold != 0 && (c.Budget.WarnThreshold < 0 || c.Budget.WarnThreshold >= 1) {
		return fmt.Errorf("budget.warn_threshold must be in (0, 1)")
	}
	for _, spec := range c.Backends {
		if _, err := spec.Descriptor(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.RequestTimeoutMs <= 0 {
		c.Server.RequestTimeoutMs = 120000
	}
	if c.Policy.ScannerMode == "" {
		c.Policy.ScannerMode = "strict"
	}
}

// Descriptors converts the backend specs. Load already validated them.
func (c *Config) Descriptors() ([]backend.Descriptor, error) {
	out := make([]backend.Descriptor, 0, len(c.Backends))
	for _, spec := range c.Backends {
		d, err := spec.Descriptor()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// RequestTimeout returns the per-request execution deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutMs) * time.Millisecond
}

// Example returns an example configuration file.
func Example() string {
	return `# Warden Gateway Configuration
# Environment variables can be referenced using ${VAR_NAME} or
# ${VAR_NAME:-default} syntax.

version: "1.0"

server:
  listen_addr: ${WARDEN_LISTEN_ADDR:-:8080}
  jwt_secret: ${WARDEN_JWT_SECRET}
  allowed_origins:
    - https://console.example.com

policy:
  scanner_mode: strict
  anonymize_terms:
    - Warden

budget:
  cap_units: 25.0
  period_hours: 24
  warn_threshold: 0.75

audit:
  database_url: ${DATABASE_URL}

redis:
  addr: ${WARDEN_REDIS_ADDR:-localhost:6379}

backends:
  - name: premium-remote
    local: false
    max_level: INTERNAL
    cost_per_1k: 0.015
    capabilities: [coding, reasoning, architecture]
    model: example-large
    tier: premium
    transport: sse
    endpoint: https://api.example.com/v1/messages
    api_key_env: EXAMPLE_API_KEY

  - name: free-remote
    local: false
    max_level: INTERNAL
    cost_per_1k: 0
    model: example-small
    tier: free
    transport: sse
    endpoint: https://free.example.com/v1/messages
    api_key_env: FREE_API_KEY

  - name: local-llama
    local: true
    max_level: CONFIDENTIAL
    cost_per_1k: 0
    model: llama3
    tier: local
    transport: local_json
    endpoint: ${OLLAMA_ENDPOINT:-http://localhost:11434}/api/generate
`
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references. Undefined
// variables without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
