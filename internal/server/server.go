// Package server wires the kintone tools into an MCP server over stdio.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/audit"
	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	"github.com/tareqmamari/kintone-mcp-server/internal/health"
	"github.com/tareqmamari/kintone-mcp-server/internal/metrics"
	"github.com/tareqmamari/kintone-mcp-server/internal/prompts"
	"github.com/tareqmamari/kintone-mcp-server/internal/resources"
	"github.com/tareqmamari/kintone-mcp-server/internal/security"
	"github.com/tareqmamari/kintone-mcp-server/internal/tracing"
	"github.com/tareqmamari/kintone-mcp-server/internal/tools"
)

// Server represents the MCP server
type Server struct {
	mcpServer    *mcp.Server
	apiClient    *client.Client
	config       *config.Config
	logger       *zap.Logger
	metrics      *metrics.Metrics
	audit        *audit.Logger
	checker      *health.Checker
	version      string
	healthServer *health.Server
	tools        []tools.Tool
}

// New creates a new MCP server instance.
func New(cfg *config.Config, logger *zap.Logger, version string) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	metricsTracker := metrics.New(logger)

	apiClient := client.New(cfg, logger, version)
	apiClient.SetObserver(metricsTracker)

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "kintone MCP Server",
		Version: version,
	}, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   true,
		HasResources: true,
	})

	s := &Server{
		mcpServer: mcpServer,
		apiClient: apiClient,
		config:    cfg,
		logger:    logger,
		metrics:   metricsTracker,
		audit:     audit.NewLogger(logger, cfg.AuditAllTools),
		checker:   health.New(cfg, logger),
		version:   version,
	}

	if cfg.HealthPort > 0 {
		if cfg.MetricsEndpoint {
			s.healthServer = health.NewServer(s.checker, logger, cfg.HealthPort, cfg.HealthBindAddr, metricsTracker.Registry())
		} else {
			s.healthServer = health.NewServer(s.checker, logger, cfg.HealthPort, cfg.HealthBindAddr, nil)
		}
	}

	s.registerTools()
	s.registerPrompts()
	s.registerResources()

	return s, nil
}

func (s *Server) registerTools() {
	s.tools = tools.GetAllTools(s.apiClient, s.config, s.metrics, s.logger)
	for _, t := range s.tools {
		s.registerTool(t)
	}
	s.logger.Info("Registered all MCP tools", zap.Int("count", len(s.tools)))
}

func (s *Server) registerTool(t tools.Tool) {
	mcpTool := &mcp.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.InputSchema(),
		Annotations: t.Annotations(),
	}

	s.mcpServer.AddTool(mcpTool, s.handler(t))
	s.logger.Debug("Registered tool", zap.String("tool", mcpTool.Name))
}

// handler adapts a tool to the MCP call signature, adding the caller's
// session and progress token to the context. Every call gets a span, metrics and an audit entry.
func (s *Server) handler(t tools.Tool) mcp.ToolHandler {
	toolName := t.Name()
	operation := audit.OperationFor(t.Annotations())

	return func(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		ctx, span := tracing.ToolSpan(ctx, toolName)
		defer span.End()

		ctx = tools.WithSession(ctx, request.Session)
		if request.Params != nil {
			ctx = tools.WithProgressToken(ctx, request.Params.GetProgressToken())
		}

		var args map[string]interface{}
		if request.Params != nil && len(request.Params.Arguments) > 0 {
			if err := json.Unmarshal(request.Params.Arguments, &args); err != nil {
				s.metrics.RecordToolExecution(toolName, false, time.Since(start))
				tracing.RecordError(span, err)
				return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
			}
		}
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := t.Execute(ctx, args)
		success := err == nil && (result == nil || !result.IsError)
		elapsed := time.Since(start)
		s.metrics.RecordToolExecution(toolName, success, elapsed)
		s.audit.Log(ctx, auditEntry(toolName, operation, args, success, elapsed, result, err))

		switch {
		case err != nil:
			tracing.RecordError(span, err)
		case result != nil && result.IsError:
			tracing.SetToolResult(span, "error", len(result.Content))
		case result != nil:
			tracing.SetToolResult(span, "success", len(result.Content))
		}

		return result, err
	}
}

func (s *Server) registerPrompts() {
	registry := prompts.NewRegistry(s.logger)
	for _, p := range registry.GetPrompts() {
		s.mcpServer.AddPrompt(p.Prompt, p.Handler)
		s.logger.Debug("Registered prompt", zap.String("prompt", p.Prompt.Name))
	}
	s.logger.Info("Registered all MCP prompts", zap.Int("count", len(registry.GetPrompts())))
}

func (s *Server) registerResources() {
	names := make([]string, 0, len(s.tools))
	for _, t := range s.tools {
		names = append(names, t.Name())
	}
	registry := resources.NewRegistry(s.config, s.metrics, s.checker, s.logger, s.version, names)

	for _, r := range registry.GetResources() {
		s.mcpServer.AddResource(r.Resource, r.Handler)
		s.logger.Debug("Registered resource", zap.String("uri", r.Resource.URI))
	}
	templateHandler := registry.GetTemplateHandler()
	for _, t := range registry.GetResourceTemplates() {
		s.mcpServer.AddResourceTemplate(t, templateHandler)
		s.logger.Debug("Registered resource template", zap.String("uri_template", t.URITemplate))
	}
}

// Start serves MCP over stdio until ctx is cancelled or the client hangs up.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting MCP server")

	if s.healthServer != nil {
		go func() {
			if err := s.healthServer.Start(); err != nil {
				s.logger.Error("Health server error", zap.Error(err))
			}
		}()
		s.healthServer.SetReady(true)
	}

	defer func() {
		s.metrics.LogStats()
		if stats := s.audit.GetStats(); stats.TotalEntries > 0 {
			s.logger.Info("Audit summary",
				zap.Int("entries", stats.TotalEntries),
				zap.Float64("success_rate_pct", stats.SuccessRate),
				zap.Any("operations", stats.OperationCounts),
			)
		}

		if s.healthServer != nil {
			s.healthServer.SetReady(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.healthServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("Failed to shutdown health server", zap.Error(err))
			}
		}

		if err := s.apiClient.Close(); err != nil {
			s.logger.Error("Failed to close API client", zap.Error(err))
		}
	}()

	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// GetMetrics returns the server's metrics tracker for external access
func (s *Server) GetMetrics() *metrics.Metrics {
	return s.metrics
}

// Tools returns the registered tools in registration order.
func (s *Server) Tools() []tools.Tool {
	return s.tools
}

// GetAudit returns the audit trail.
func (s *Server) GetAudit() *audit.Logger {
	return s.audit
}

func auditEntry(tool, operation string, args map[string]interface{}, success bool, elapsed time.Duration, result *mcp.CallToolResult, err error) audit.Entry {
	entry := audit.Entry{
		Tool:      tool,
		Operation: operation,
		Success:   success,
		Duration:  elapsed,
	}
	if v, ok := tools.GetStringParam(args, "kintone_domain"); ok {
		entry.Domain = v
	}
	if v, ok := tools.GetStringParam(args, "kintone_app_id"); ok {
		entry.AppID = v
	}
	switch {
	case err != nil:
		entry.ErrorMsg = security.SanitizeError(err)
	case result != nil && result.IsError:
		for _, c := range result.Content {
			if text, ok := c.(*mcp.TextContent); ok {
				entry.ErrorMsg = security.MaskSensitiveData(text.Text)
				break
			}
		}
	}
	return entry
}
