package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/auth"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check result
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Checker inspects the server-level kintone defaults. Tools accept a domain
// and token per call, so missing defaults degrade the server rather than
// break it; a malformed default token does break it.
type Checker struct {
	cfg    *config.Config
	logger *zap.Logger
}

// New creates a new health checker
func New(cfg *config.Config, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{cfg: cfg, logger: logger}
}

// CheckAll performs all health checks
func (c *Checker) CheckAll(ctx context.Context) (Status, []Check) {
	checks := []Check{
		c.checkConfiguration(ctx),
		c.checkCredentials(ctx),
	}

	overallStatus := StatusHealthy
	for _, check := range checks {
		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return overallStatus, checks
}

func (c *Checker) checkConfiguration(_ context.Context) Check {
	start := time.Now()
	check := Check{
		Name:      "configuration",
		Timestamp: start,
	}

	if c.cfg == nil {
		check.Status = StatusUnhealthy
		check.Message = "configuration not loaded"
	} else if err := c.cfg.Validate(); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Invalid configuration: %v", err)
	} else if strings.TrimSpace(c.cfg.Domain) == "" {
		check.Status = StatusDegraded
		check.Message = "KINTONE_DOMAIN not set; callers must pass kintone_domain"
	} else {
		check.Status = StatusHealthy
		check.Message = "Default domain configured"
	}
	check.Duration = time.Since(start)

	c.log(check)
	return check
}

func (c *Checker) checkCredentials(_ context.Context) Check {
	start := time.Now()
	check := Check{
		Name:      "credentials",
		Timestamp: start,
	}

	switch {
	case c.cfg == nil:
		check.Status = StatusUnhealthy
		check.Message = "configuration not loaded"
	case strings.TrimSpace(c.cfg.APIToken) == "":
		check.Status = StatusDegraded
		check.Message = "KINTONE_API_TOKEN not set; callers must pass kintone_api_token"
	default:
		if _, err := auth.NewTokenAuthenticator(c.cfg.APIToken); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Invalid API token: %v", err)
		} else {
			check.Status = StatusHealthy
			check.Message = "Default API token is well-formed"
		}
	}
	check.Duration = time.Since(start)

	c.log(check)
	return check
}

func (c *Checker) log(check Check) {
	fields := []zap.Field{
		zap.String("check", check.Name),
		zap.String("status", string(check.Status)),
		zap.Duration("duration", check.Duration),
	}
	if check.Status == StatusHealthy {
		c.logger.Debug("Health check passed", fields...)
		return
	}
	c.logger.Warn("Health check not healthy", append(fields, zap.String("message", check.Message))...)
}
