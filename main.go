// Package main implements the kintone MCP (Model Context Protocol) server.
//
// The server exposes kintone record queries, form field lookups, record
// comments, record creation and a JSON flattening helper as MCP tools over
// stdio.
//
// Configuration comes from a .env file, environment variables, an optional
// JSON file and command-line flags, in increasing precedence:
//   - KINTONE_DOMAIN: default kintone domain (e.g. example.cybozu.com)
//   - KINTONE_API_TOKEN: default API token(s), comma-separated  // pragma: allowlist secret
//   - LOG_LEVEL, LOG_FORMAT, LOG_FILE: logging
//   - KINTONE_HEALTH_PORT: enables the /health, /ready, /live, /metrics server
//
// Tools accept kintone_domain and kintone_api_token per call, so neither
// default is strictly required.
//
// Example usage:
//
//	export KINTONE_DOMAIN="example.cybozu.com"
//	export KINTONE_API_TOKEN="<your-api-token>"
//	./kintone-mcp-server --log-level debug
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	"github.com/tareqmamari/kintone-mcp-server/internal/logging"
	"github.com/tareqmamari/kintone-mcp-server/internal/server"
	"github.com/tareqmamari/kintone-mcp-server/internal/tracing"
)

// Build information, set at build time via ldflags:
// -X main.version=... -X main.commit=... -X main.builtBy=...
var (
	version = "dev"
	commit  = "unknown"
	builtBy = "manual"
)

const serviceName = "kintone-mcp-server"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a JSON config file (overrides CONFIG_FILE)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	healthPort := fs.Int("health-port", -1, "port for the health/metrics HTTP server, 0 disables (overrides KINTONE_HEALTH_PORT)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Printf("%s %s (commit %s, built by %s)\n", serviceName, version, commit, builtBy)
		return 0
	}

	// .env is optional and never overrides variables already set
	_ = godotenv.Load()

	if *configPath == "" {
		*configPath = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *healthPort >= 0 {
		cfg.HealthPort = *healthPort
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logger, closeLog, err := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
		_ = closeLog()
	}()

	logger.Info("Starting kintone MCP Server",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("built_by", builtBy),
		zap.Any("config", cfg.Redact()),
	)

	shutdownTracing, err := tracing.InitOTel(tracing.OTelConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.EnableTracing,
	})
	if err != nil {
		logger.Error("Failed to initialize tracing", zap.Error(err))
		return 1
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	mcpServer, err := server.New(cfg, logger, version)
	if err != nil {
		logger.Error("Failed to create MCP server", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- mcpServer.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverDone:
		if err != nil && ctx.Err() == nil {
			logger.Error("Server error", zap.Error(err))
			return 1
		}
		return 0
	}

	logger.Info("Initiating graceful shutdown", zap.Duration("timeout", cfg.ShutdownTimeout))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-serverDone:
		logger.Info("Server shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit",
			zap.Duration("timeout", cfg.ShutdownTimeout))
	}

	// give the health server and exporters a moment to flush
	time.Sleep(100 * time.Millisecond)
	return 0
}
