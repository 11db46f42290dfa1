// Package resources provides read-only MCP resources describing the server
// and the kintone query language.
package resources

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	"github.com/tareqmamari/kintone-mcp-server/internal/health"
	"github.com/tareqmamari/kintone-mcp-server/internal/metrics"
)

// Resource URIs
const (
	URIAbout   = "about://service"
	URIConfig  = "config://current"
	URIMetrics = "metrics://server"
	URIHealth  = "health://status"

	queryExamplesPrefix = "kintone://query-examples/"
)

// Registry holds all registered resources and their handlers
type Registry struct {
	config  *config.Config
	metrics *metrics.Metrics
	checker *health.Checker
	logger  *zap.Logger
	version string
	tools   []string
}

// NewRegistry creates a new resource registry. toolNames is listed by about://service.
func NewRegistry(cfg *config.Config, m *metrics.Metrics, checker *health.Checker, logger *zap.Logger, version string, toolNames []string) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		config:  cfg,
		metrics: m,
		checker: checker,
		logger:  logger,
		version: version,
		tools:   toolNames,
	}
}

// RegisteredResource represents a resource with its definition and handler
type RegisteredResource struct {
	Resource *mcp.Resource
	Handler  mcp.ResourceHandler
}

// GetResources returns all registered resources with their handlers
func (r *Registry) GetResources() []RegisteredResource {
	return []RegisteredResource{
		r.static(URIAbout, "About this server", "Service information, tools and query language summary", r.about),
		r.static(URIConfig, "Server Configuration", "Current kintone MCP server configuration (API tokens masked)", r.currentConfig),
		r.static(URIMetrics, "Server Metrics", "API request counts, latency, pagination and tool usage statistics", r.serverMetrics),
		r.static(URIHealth, "Health Status", "Configuration and credential checks", r.healthStatus),
	}
}

func (r *Registry) static(uri, title, description string, build func(context.Context) interface{}) RegisteredResource {
	return RegisteredResource{
		Resource: &mcp.Resource{
			URI:         uri,
			Name:        uri,
			Title:       title,
			Description: description,
			MIMEType:    "application/json",
		},
		Handler: func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return r.jsonResult(uri, build(ctx))
		},
	}
}

func (r *Registry) jsonResult(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		r.logger.Error("Failed to marshal resource", zap.String("uri", uri), zap.Error(err))
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}

func (r *Registry) about(context.Context) interface{} {
	tools := append([]string(nil), r.tools...)
	sort.Strings(tools)
	return map[string]interface{}{
		"service": map[string]interface{}{
			"name":        "kintone",
			"description": "Cybozu kintone business application platform, accessed through its REST API with API tokens",
		},
		"query_language": map[string]interface{}{
			"example":  `status in ("進行中") and amount >= 1000 order by $id desc limit 100`,
			"clauses":  []string{"order by", "limit", "offset"},
			"examples": queryExamplesPrefix + "{field_type}",
			"notes":    "limit is capped at 500 per request; omit it and kintone_query pages through every match",
		},
		"mcp_server": map[string]interface{}{
			"version":      r.version,
			"tools":        tools,
			"capabilities": []string{"tools", "prompts", "resources"},
		},
	}
}

func (r *Registry) currentConfig(context.Context) interface{} {
	if r.config == nil {
		return map[string]interface{}{}
	}
	c := r.config.Redact()
	return map[string]interface{}{
		"domain":            c.Domain,
		"api_token":         c.APIToken,
		"request_timeout":   c.RequestTimeout.String(),
		"tls_verify":        c.TLSVerify,
		"page_size":         c.PageSize,
		"max_pages":         c.MaxPages,
		"comment_max_pages": c.CommentMaxPages,
		"rate_limit":        c.RateLimit,
		"rate_limit_burst":  c.RateLimitBurst,
		"rate_limit_on":     c.EnableRateLimit,
		"tracing":           c.EnableTracing,
		"health_port":       c.HealthPort,
		"log_level":         c.LogLevel,
		"log_format":        c.LogFormat,
	}
}

func (r *Registry) serverMetrics(context.Context) interface{} {
	if r.metrics == nil {
		return map[string]interface{}{}
	}
	stats := r.metrics.GetStats()
	return map[string]interface{}{
		"requests": map[string]interface{}{
			"total":      stats.TotalRequests,
			"successful": stats.SuccessfulRequests,
			"failed":     stats.FailedRequests,
		},
		"latency": map[string]interface{}{
			"average_ms": stats.AverageLatency.Milliseconds(),
			"max_ms":     stats.MaxLatency.Milliseconds(),
			"min_ms":     stats.MinLatency.Milliseconds(),
		},
		"pagination": map[string]interface{}{
			"pages":     stats.PagesFetched,
			"records":   stats.RecordsFetched,
			"truncated": stats.TruncatedRuns,
		},
		"errors_by_status": stats.ErrorsByStatus,
		"tools": map[string]interface{}{
			"usage":  stats.ToolUsage,
			"errors": stats.ToolErrors,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

func (r *Registry) healthStatus(ctx context.Context) interface{} {
	if r.checker == nil {
		return map[string]interface{}{"status": health.StatusUnhealthy}
	}
	status, checks := r.checker.CheckAll(ctx)
	return health.Response{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
}

// GetResourceTemplates returns the parameterized resources.
func (r *Registry) GetResourceTemplates() []*mcp.ResourceTemplate {
	return []*mcp.ResourceTemplate{
		{
			URITemplate: queryExamplesPrefix + "{field_type}",
			Name:        "kintone Query Examples",
			Description: "Operators and example conditions for one kind of field: " + strings.Join(QueryExampleKinds(), ", "),
			MIMEType:    "application/json",
		},
	}
}

// GetTemplateHandler returns a handler for resource templates
func (r *Registry) GetTemplateHandler() mcp.ResourceHandler {
	return func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := req.Params.URI

		var content interface{}
		if kind, ok := strings.CutPrefix(uri, queryExamplesPrefix); ok {
			if ex, found := queryExamples[strings.ToLower(kind)]; found {
				content = ex
			}
		}
		if content == nil {
			content = map[string]interface{}{
				"error":     "Unknown field type",
				"available": QueryExampleKinds(),
			}
		}
		return r.jsonResult(uri, content)
	}
}

// QueryExample documents the operators one group of field types accepts.
type QueryExample struct {
	FieldTypes []string `json:"field_types"`
	Operators  []string `json:"operators"`
	Functions  []string `json:"functions,omitempty"`
	Examples   []string `json:"examples"`
}

var queryExamples = map[string]QueryExample{
	"text": {
		FieldTypes: []string{"SINGLE_LINE_TEXT", "LINK", "MULTI_LINE_TEXT", "RICH_TEXT"},
		Operators:  []string{"=", "!=", "in", "not in", "like", "not like"},
		Examples: []string{
			`title = "月次報告"`,
			`title like "報告"`,
			`customer not in ("A社", "B社")`,
		},
	},
	"number": {
		FieldTypes: []string{"NUMBER", "CALC", "RECORD_NUMBER", "__ID__"},
		Operators:  []string{"=", "!=", ">", "<", ">=", "<=", "in", "not in"},
		Examples: []string{
			`amount >= 1000`,
			`$id > 100 order by $id asc`,
		},
	},
	"date": {
		FieldTypes: []string{"DATE", "DATETIME", "TIME", "CREATED_TIME", "UPDATED_TIME"},
		Operators:  []string{"=", "!=", ">", "<", ">=", "<="},
		Functions:  []string{"TODAY()", "NOW()", "FROM_TODAY(n, DAYS)", "THIS_WEEK()", "THIS_MONTH()", "LAST_MONTH()", "THIS_YEAR()"},
		Examples: []string{
			`due_date < TODAY()`,
			`更新日時 >= FROM_TODAY(-7, DAYS)`,
			`due_date = THIS_MONTH()`,
		},
	},
	"choice": {
		FieldTypes: []string{"DROP_DOWN", "RADIO_BUTTON", "CHECK_BOX", "MULTI_SELECT", "STATUS"},
		Operators:  []string{"in", "not in"},
		Examples: []string{
			`status in ("未着手", "進行中")`,
			`tags not in ("archive")`,
		},
	},
	"user": {
		FieldTypes: []string{"USER_SELECT", "CREATOR", "MODIFIER", "STATUS_ASSIGNEE"},
		Operators:  []string{"in", "not in"},
		Functions:  []string{"LOGINUSER()"},
		Examples: []string{
			`作成者 in (LOGINUSER())`,
			`owner in ("sato")`,
		},
	},
}

// QueryExampleKinds lists the {field_type} values the template accepts.
func QueryExampleKinds() []string {
	kinds := make([]string, 0, len(queryExamples))
	for k := range queryExamples {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
