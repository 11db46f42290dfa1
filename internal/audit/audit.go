// Package audit keeps a structured trail of tool calls, with write
// operations against kintone always recorded.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Operations
const (
	OpRead      = "read"
	OpCreate    = "create"
	OpUpdate    = "update"
	OpTransform = "transform"
)

const defaultMaxEntries = 1000

// Entry represents a single audit log entry
type Entry struct {
	Timestamp time.Time     `json:"timestamp"`
	TraceID   string        `json:"trace_id,omitempty"`
	SpanID    string        `json:"span_id,omitempty"`
	Tool      string        `json:"tool"`
	Operation string        `json:"operation"`
	Domain    string        `json:"domain,omitempty"`
	AppID     string        `json:"app_id,omitempty"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration_ms"`
	ErrorMsg  string        `json:"error_message,omitempty"`
}

// Logger writes audit entries to a named zap logger and keeps the most
// recent ones in memory.
type Logger struct {
	enabled bool
	logger  *zap.Logger

	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
}

// NewLogger creates a new audit logger. When disabled, only create and
// update operations are recorded.
func NewLogger(logger *zap.Logger, enabled bool) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		enabled:    enabled,
		logger:     logger.Named("audit"),
		entries:    make([]Entry, 0, 64),
		maxEntries: defaultMaxEntries,
	}
}

// OperationFor classifies a tool by its annotations.
func OperationFor(ann *mcp.ToolAnnotations) string {
	switch {
	case ann == nil:
		return OpRead
	case ann.OpenWorldHint != nil && !*ann.OpenWorldHint:
		return OpTransform
	case ann.ReadOnlyHint:
		return OpRead
	case ann.DestructiveHint != nil && *ann.DestructiveHint:
		return OpUpdate
	default:
		return OpCreate
	}
}

func isWrite(op string) bool {
	return op == OpCreate || op == OpUpdate
}

// Log records an audit entry
func (l *Logger) Log(ctx context.Context, entry Entry) {
	if !l.enabled && !isWrite(entry.Operation) {
		return
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("tool", entry.Tool),
		zap.String("operation", entry.Operation),
		zap.Bool("success", entry.Success),
		zap.Duration("duration", entry.Duration),
	}
	if entry.TraceID != "" {
		fields = append(fields, zap.String("trace_id", entry.TraceID), zap.String("span_id", entry.SpanID))
	}
	if entry.Domain != "" {
		fields = append(fields, zap.String("domain", entry.Domain))
	}
	if entry.AppID != "" {
		fields = append(fields, zap.String("app_id", entry.AppID))
	}
	if entry.ErrorMsg != "" {
		fields = append(fields, zap.String("error_message", entry.ErrorMsg))
	}
	l.logger.Info("audit", fields...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.maxEntries {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
}

// GetRecentEntries returns up to limit entries, newest first. A
// non-positive limit returns everything held.
func (l *Logger) GetRecentEntries(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	result := make([]Entry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, l.entries[i])
	}
	return result
}

// Stats contains aggregated audit statistics
type Stats struct {
	TotalEntries    int            `json:"total_entries"`
	SuccessRate     float64        `json:"success_rate_pct"`
	OperationCounts map[string]int `json:"operation_counts"`
	FailuresByTool  map[string]int `json:"failures_by_tool"`
}

// GetStats returns statistics about held entries
func (l *Logger) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		TotalEntries:    len(l.entries),
		OperationCounts: make(map[string]int),
		FailuresByTool:  make(map[string]int),
	}
	var successCount int
	for _, entry := range l.entries {
		stats.OperationCounts[entry.Operation]++
		if entry.Success {
			successCount++
		} else {
			stats.FailuresByTool[entry.Tool]++
		}
	}
	if len(l.entries) > 0 {
		stats.SuccessRate = float64(successCount) / float64(len(l.entries)) * 100
	}
	return stats
}

// IsEnabled returns whether every tool call is recorded
func (l *Logger) IsEnabled() bool {
	return l.enabled
}
