// Package metrics provides metrics collection and reporting for the MCP server.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Prometheus metric labels
const (
	labelTool     = "tool"
	labelStatus   = "status"
	labelEndpoint = "endpoint"
	labelStrategy = "strategy"
)

const namespace = "kintone_mcp"

// Metrics tracks operational metrics with both internal counters and Prometheus metrics
type Metrics struct {
	// Request metrics (internal atomic counters for fast access)
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
	failedRequests     atomic.Uint64

	// Latency tracking
	totalLatency atomic.Int64 // microseconds
	latencyCount atomic.Uint64
	maxLatency   atomic.Int64
	minLatency   atomic.Int64

	// Pagination
	pagesFetched   atomic.Uint64
	recordsFetched atomic.Uint64
	truncatedRuns  atomic.Uint64

	// Error tracking by status code
	errorsMu       sync.RWMutex
	errorsByStatus map[int]uint64

	// Tool usage tracking
	toolsMu    sync.RWMutex
	toolUsage  map[string]uint64
	toolErrors map[string]uint64

	logger   *zap.Logger
	registry *prometheus.Registry

	promRequests       *prometheus.CounterVec
	promRequestLatency *prometheus.HistogramVec
	promPages          *prometheus.CounterVec
	promRecords        *prometheus.CounterVec
	promTruncated      prometheus.Counter
	promToolCalls      *prometheus.CounterVec
	promToolErrors     *prometheus.CounterVec
	promToolLatency    *prometheus.HistogramVec
}

// New creates a new metrics tracker backed by its own Prometheus registry.
func New(logger *zap.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		errorsByStatus: make(map[int]uint64),
		toolUsage:      make(map[string]uint64),
		toolErrors:     make(map[string]uint64),
		logger:         logger,
		registry:       reg,

		promRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "kintone REST API requests, labeled by endpoint and HTTP status (0 for transport failures)",
		}, []string{labelEndpoint, labelStatus}),
		promRequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_latency_seconds",
			Help:      "kintone REST API request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{labelEndpoint}),
		promPages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Result pages fetched by paginating tools, labeled by pagination strategy",
		}, []string{labelStrategy}),
		promRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Records fetched by paginating tools, labeled by pagination strategy",
		}, []string{labelStrategy}),
		promTruncated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pagination_truncated_total",
			Help:      "Runs stopped by the page-count ceiling",
		}),
		promToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls, labeled by tool name",
		}, []string{labelTool}),
		promToolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_errors_total",
			Help:      "Total number of tool errors, labeled by tool name",
		}, []string{labelTool}),
		promToolLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_seconds",
			Help:      "Tool execution latency in seconds, labeled by tool name",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}, []string{labelTool}),
	}

	m.minLatency.Store(int64(time.Hour))

	return m
}

// Registry returns the registry holding this tracker's collectors, for promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAPIRequest records one kintone API call. statusCode is 0 when no
// response was received.
func (m *Metrics) ObserveAPIRequest(endpoint string, statusCode int, latency time.Duration, err error) {
	m.totalRequests.Add(1)
	m.promRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", statusCode)).Inc()
	m.promRequestLatency.WithLabelValues(endpoint).Observe(latency.Seconds())

	if err == nil && statusCode < 400 {
		m.successfulRequests.Add(1)
	} else {
		m.failedRequests.Add(1)
		m.recordErrorStatus(statusCode)
	}

	m.recordLatency(latency)
}

// ObservePage records one fetched page of n records.
func (m *Metrics) ObservePage(strategy string, n int) {
	m.pagesFetched.Add(1)
	m.recordsFetched.Add(uint64(n)) // #nosec G115 -- n is a slice length
	m.promPages.WithLabelValues(strategy).Inc()
	m.promRecords.WithLabelValues(strategy).Add(float64(n))
}

// ObserveTruncation records a run stopped by the page-count ceiling.
func (m *Metrics) ObserveTruncation() {
	m.truncatedRuns.Add(1)
	m.promTruncated.Inc()
}

// RecordToolExecution records tool usage (both internal counters and Prometheus)
func (m *Metrics) RecordToolExecution(toolName string, success bool, latency time.Duration) {
	m.toolsMu.Lock()
	m.toolUsage[toolName]++
	if !success {
		m.toolErrors[toolName]++
	}
	m.toolsMu.Unlock()

	m.promToolCalls.WithLabelValues(toolName).Inc()
	m.promToolLatency.WithLabelValues(toolName).Observe(latency.Seconds())
	if !success {
		m.promToolErrors.WithLabelValues(toolName).Inc()
	}
}

func (m *Metrics) recordLatency(latency time.Duration) {
	latencyUs := latency.Microseconds()

	m.totalLatency.Add(latencyUs)
	m.latencyCount.Add(1)

	for {
		currentMax := m.maxLatency.Load()
		if latencyUs <= currentMax {
			break
		}
		if m.maxLatency.CompareAndSwap(currentMax, latencyUs) {
			break
		}
	}

	for {
		currentMin := m.minLatency.Load()
		if latencyUs >= currentMin {
			break
		}
		if m.minLatency.CompareAndSwap(currentMin, latencyUs) {
			break
		}
	}
}

func (m *Metrics) recordErrorStatus(statusCode int) {
	if statusCode == 0 {
		return
	}
	m.errorsMu.Lock()
	m.errorsByStatus[statusCode]++
	m.errorsMu.Unlock()
}

// GetStats returns current statistics
func (m *Metrics) GetStats() Stats {
	m.errorsMu.RLock()
	errorsByStatus := make(map[int]uint64, len(m.errorsByStatus))
	for k, v := range m.errorsByStatus {
		errorsByStatus[k] = v
	}
	m.errorsMu.RUnlock()

	m.toolsMu.RLock()
	toolUsage := make(map[string]uint64, len(m.toolUsage))
	toolErrors := make(map[string]uint64, len(m.toolErrors))
	for k, v := range m.toolUsage {
		toolUsage[k] = v
	}
	for k, v := range m.toolErrors {
		toolErrors[k] = v
	}
	m.toolsMu.RUnlock()

	latencyCount := m.latencyCount.Load()
	var avgLatency time.Duration
	if latencyCount > 0 {
		avgLatencyMicros := float64(m.totalLatency.Load()) / float64(latencyCount)
		avgLatency = time.Duration(avgLatencyMicros) * time.Microsecond
	}

	minLatency := time.Duration(m.minLatency.Load()) * time.Microsecond
	if latencyCount == 0 {
		minLatency = 0
	}

	return Stats{
		TotalRequests:      m.totalRequests.Load(),
		SuccessfulRequests: m.successfulRequests.Load(),
		FailedRequests:     m.failedRequests.Load(),
		PagesFetched:       m.pagesFetched.Load(),
		RecordsFetched:     m.recordsFetched.Load(),
		TruncatedRuns:      m.truncatedRuns.Load(),
		AverageLatency:     avgLatency,
		MaxLatency:         time.Duration(m.maxLatency.Load()) * time.Microsecond,
		MinLatency:         minLatency,
		ErrorsByStatus:     errorsByStatus,
		ToolUsage:          toolUsage,
		ToolErrors:         toolErrors,
	}
}

// LogStats logs current statistics
func (m *Metrics) LogStats() {
	stats := m.GetStats()

	var errorRate float64
	if stats.TotalRequests > 0 {
		errorRate = float64(stats.FailedRequests) / float64(stats.TotalRequests) * 100
	}

	m.logger.Info("Operational metrics",
		zap.Uint64("total_requests", stats.TotalRequests),
		zap.Uint64("successful_requests", stats.SuccessfulRequests),
		zap.Uint64("failed_requests", stats.FailedRequests),
		zap.Float64("error_rate_pct", errorRate),
		zap.Uint64("pages_fetched", stats.PagesFetched),
		zap.Uint64("records_fetched", stats.RecordsFetched),
		zap.Uint64("truncated_runs", stats.TruncatedRuns),
		zap.Duration("avg_latency", stats.AverageLatency),
		zap.Duration("max_latency", stats.MaxLatency),
		zap.Any("errors_by_status", stats.ErrorsByStatus),
		zap.Any("tool_usage", stats.ToolUsage),
	)
}

// Stats represents current metrics
type Stats struct {
	TotalRequests      uint64
	SuccessfulRequests uint64
	FailedRequests     uint64
	PagesFetched       uint64
	RecordsFetched     uint64
	TruncatedRuns      uint64
	AverageLatency     time.Duration
	MaxLatency         time.Duration
	MinLatency         time.Duration
	ErrorsByStatus     map[int]uint64
	ToolUsage          map[string]uint64
	ToolErrors         map[string]uint64
}
