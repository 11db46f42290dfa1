// Package config provides configuration management for the kintone MCP server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tareqmamari/kintone-mcp-server/internal/security"
)

// kintone REST API hard caps
const (
	MaxRecordsPageSize = 500
	CommentsPageSize   = 10
)

// Config holds all configuration for the MCP server
type Config struct {
	// Provider-level credentials. Tools fall back to these when the caller
	// leaves kintone_domain / kintone_api_token blank.
	Domain   string `json:"domain"`
	APIToken string `json:"api_token,omitempty"` // Not stored in files, from env only

	// HTTP Client Configuration
	RequestTimeout  time.Duration `json:"request_timeout"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	IdleConnTimeout time.Duration `json:"idle_conn_timeout"`
	TLSVerify       bool          `json:"tls_verify"`

	// Pagination
	PageSize        int `json:"page_size"`         // records per request when paging through everything
	MaxPages        int `json:"max_pages"`         // safety valve for kintone_query
	CommentMaxPages int `json:"comment_max_pages"` // safety valve for kintone_get_record_comments

	// Rate Limiting
	RateLimit       int  `json:"rate_limit"`       // requests per second
	RateLimitBurst  int  `json:"rate_limit_burst"` // burst size
	EnableRateLimit bool `json:"enable_rate_limit"`

	// Observability
	EnableTracing   bool   `json:"enable_tracing"`
	MetricsEndpoint bool   `json:"metrics_endpoint"`
	HealthPort      int    `json:"health_port"` // 0 disables the health HTTP server
	HealthBindAddr  string `json:"health_bind_addr"`
	AuditAllTools   bool   `json:"audit_all_tools"` // record reads too; writes are always audited

	// Logging
	LogLevel        string        `json:"log_level"`
	LogFormat       string        `json:"log_format"` // json or console
	LogFile         string        `json:"log_file"`   // empty = stderr
	LogMaxSizeMB    int           `json:"log_max_size_mb"`
	LogMaxBackups   int           `json:"log_max_backups"`
	LogMaxAgeDays   int           `json:"log_max_age_days"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// Load configuration from environment variables and the file named by CONFIG_FILE
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom layers defaults, the JSON file at path (if any) and the
// environment, in increasing precedence.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Defaults()

	if configFile != "" {
		if err := LoadFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (these take precedence)
	loadFromEnv(cfg)

	return cfg, nil
}

// Defaults returns a configuration populated with default values.
func Defaults() *Config {
	return &Config{
		RequestTimeout:  30 * time.Second,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
		TLSVerify:       true,
		PageSize:        MaxRecordsPageSize,
		MaxPages:        1000,
		CommentMaxPages: 1000,
		RateLimit:       10,
		RateLimitBurst:  5,
		EnableRateLimit: true,
		EnableTracing:   false,
		MetricsEndpoint: false,
		HealthBindAddr:  "127.0.0.1",
		LogLevel:        "info",
		LogFormat:       "json",
		LogMaxSizeMB:    100,
		LogMaxBackups:   3,
		LogMaxAgeDays:   28,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadFile merges a JSON config file into cfg.
func LoadFile(cfg *Config, path string) error {
	cleanPath := filepath.Clean(path)

	// Prevent path traversal by checking for ".." components
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid file path: path traversal detected")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileCfg fileConfig
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	fileCfg.apply(cfg)
	return nil
}

// fileConfig mirrors Config with durations spelled as strings ("30s").
type fileConfig struct {
	Domain          *string `json:"domain"`
	RequestTimeout  *string `json:"request_timeout"`
	MaxIdleConns    *int    `json:"max_idle_conns"`
	IdleConnTimeout *string `json:"idle_conn_timeout"`
	TLSVerify       *bool   `json:"tls_verify"`
	PageSize        *int    `json:"page_size"`
	MaxPages        *int    `json:"max_pages"`
	CommentMaxPages *int    `json:"comment_max_pages"`
	RateLimit       *int    `json:"rate_limit"`
	RateLimitBurst  *int    `json:"rate_limit_burst"`
	EnableRateLimit *bool   `json:"enable_rate_limit"`
	EnableTracing   *bool   `json:"enable_tracing"`
	MetricsEndpoint *bool   `json:"metrics_endpoint"`
	HealthPort      *int    `json:"health_port"`
	HealthBindAddr  *string `json:"health_bind_addr"`
	AuditAllTools   *bool   `json:"audit_all_tools"`
	LogLevel        *string `json:"log_level"`
	LogFormat       *string `json:"log_format"`
	LogFile         *string `json:"log_file"`
}

func (f fileConfig) apply(cfg *Config) {
	setString(&cfg.Domain, f.Domain)
	setDuration(&cfg.RequestTimeout, f.RequestTimeout)
	setInt(&cfg.MaxIdleConns, f.MaxIdleConns)
	setDuration(&cfg.IdleConnTimeout, f.IdleConnTimeout)
	setBool(&cfg.TLSVerify, f.TLSVerify)
	setInt(&cfg.PageSize, f.PageSize)
	setInt(&cfg.MaxPages, f.MaxPages)
	setInt(&cfg.CommentMaxPages, f.CommentMaxPages)
	setInt(&cfg.RateLimit, f.RateLimit)
	setInt(&cfg.RateLimitBurst, f.RateLimitBurst)
	setBool(&cfg.EnableRateLimit, f.EnableRateLimit)
	setBool(&cfg.EnableTracing, f.EnableTracing)
	setBool(&cfg.MetricsEndpoint, f.MetricsEndpoint)
	setInt(&cfg.HealthPort, f.HealthPort)
	setString(&cfg.HealthBindAddr, f.HealthBindAddr)
	setBool(&cfg.AuditAllTools, f.AuditAllTools)
	setString(&cfg.LogLevel, f.LogLevel)
	setString(&cfg.LogFormat, f.LogFormat)
	setString(&cfg.LogFile, f.LogFile)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string) {
	if v == nil {
		return
	}
	if d, err := time.ParseDuration(*v); err == nil {
		*dst = d
	}
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("KINTONE_DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv("KINTONE_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	envDuration("KINTONE_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	envDuration("KINTONE_IDLE_CONN_TIMEOUT", &cfg.IdleConnTimeout)
	envDuration("KINTONE_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	envInt("KINTONE_MAX_IDLE_CONNS", &cfg.MaxIdleConns)
	envInt("KINTONE_PAGE_SIZE", &cfg.PageSize)
	envInt("KINTONE_MAX_PAGES", &cfg.MaxPages)
	envInt("KINTONE_COMMENT_MAX_PAGES", &cfg.CommentMaxPages)
	envInt("KINTONE_RATE_LIMIT", &cfg.RateLimit)
	envInt("KINTONE_RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	envInt("KINTONE_HEALTH_PORT", &cfg.HealthPort)
	envBool("KINTONE_ENABLE_RATE_LIMIT", &cfg.EnableRateLimit)
	envBool("KINTONE_TLS_VERIFY", &cfg.TLSVerify)
	envBool("KINTONE_ENABLE_TRACING", &cfg.EnableTracing)
	envBool("KINTONE_METRICS_ENDPOINT", &cfg.MetricsEndpoint)
	envBool("KINTONE_AUDIT_ALL_TOOLS", &cfg.AuditAllTools)
	if v := os.Getenv("KINTONE_HEALTH_BIND_ADDR"); v != "" {
		cfg.HealthBindAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	envInt("LOG_MAX_SIZE_MB", &cfg.LogMaxSizeMB)
	envInt("LOG_MAX_BACKUPS", &cfg.LogMaxBackups)
	envInt("LOG_MAX_AGE_DAYS", &cfg.LogMaxAgeDays)
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Domain) == "" && strings.TrimSpace(c.APIToken) == "" {
		return errors.New("KINTONE_DOMAIN or KINTONE_API_TOKEN is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.PageSize <= 0 || c.PageSize > MaxRecordsPageSize {
		return fmt.Errorf("page_size must be between 1 and %d", MaxRecordsPageSize)
	}
	if c.MaxPages <= 0 {
		return errors.New("max_pages must be positive")
	}
	if c.CommentMaxPages <= 0 {
		return errors.New("comment_max_pages must be positive")
	}
	if c.RateLimit <= 0 && c.EnableRateLimit {
		return errors.New("rate_limit must be positive when rate limiting is enabled")
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("invalid health port: %d", c.HealthPort)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	return nil
}

// Redact returns a copy of the config with sensitive data removed
func (c *Config) Redact() *Config {
	redacted := *c
	redacted.APIToken = security.MaskAPIToken(redacted.APIToken)
	return &redacted
}
