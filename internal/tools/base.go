package tools

import (
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
	"github.com/tareqmamari/kintone-mcp-server/internal/query"
	"github.com/tareqmamari/kintone-mcp-server/internal/security"
)

// Per-tool request timeouts used when request_timeout is blank.
const (
	DefaultSchemaTimeout   = 10 * time.Second
	DefaultCommentsTimeout = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
)

// BaseTool provides common functionality for all tools
type BaseTool struct {
	client   *client.Client
	cfg      *config.Config
	logger   *zap.Logger
	observer query.Observer
}

// NewBaseTool creates a new base tool
func NewBaseTool(c *client.Client, cfg *config.Config, logger *zap.Logger) *BaseTool {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseTool{
		client: c,
		cfg:    cfg,
		logger: logger,
	}
}

// DefaultTimeout returns 0: use the configured request timeout.
func (t *BaseTool) DefaultTimeout() time.Duration {
	return 0
}

// SetPageObserver attaches pagination metrics.
func (t *BaseTool) SetPageObserver(o query.Observer) {
	t.observer = o
}

func (t *BaseTool) credentials(arguments map[string]interface{}, defaultTimeout time.Duration) (*Credentials, error) {
	return ResolveCredentials(arguments, t.cfg, defaultTimeout)
}

func (t *BaseTool) api(creds *Credentials) *client.API {
	return t.client.API(creds.Endpoint())
}

// fail logs err and converts it into a terminal result.
func (t *BaseTool) fail(tool string, err error) *mcp.CallToolResult {
	result := ErrorResult(err)
	t.logger.Warn("Tool call failed",
		zap.String("tool", tool),
		zap.String("error", security.SanitizeError(err)),
	)
	return result
}

// failRecord is fail for calls that target one record: a 404 names the
// record as well as the app.
func (t *BaseTool) failRecord(tool string, err error) *mcp.CallToolResult {
	return t.failNotFound(tool, err, mcperrors.NewRecordNotFound)
}

// failNotFound is fail with the 404 message replaced by notFound.
func (t *BaseTool) failNotFound(tool string, err error, notFound func(body string) *mcperrors.StructuredError) *mcp.CallToolResult {
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		err = notFound(httpErr.Body)
	}
	return t.fail(tool, err)
}

// connectionProperties are the input schema properties shared by every
// tool that calls kintone.
func connectionProperties() map[string]interface{} {
	return map[string]interface{}{
		"kintone_domain": map[string]interface{}{
			"type":        "string",
			"description": "kintone domain such as example.cybozu.com. Falls back to KINTONE_DOMAIN when blank.",
		},
		"kintone_app_id": map[string]interface{}{
			"type":        []string{"integer", "string"},
			"description": "Numeric kintone app ID (positive integer).",
		},
		"kintone_api_token": map[string]interface{}{
			"type":        []string{"string", "array"},
			"items":       map[string]interface{}{"type": "string"},
			"description": "One to nine API tokens, comma-separated or as a list. Falls back to KINTONE_API_TOKEN when blank.",
		},
		"request_timeout": map[string]interface{}{
			"type":        []string{"number", "string"},
			"description": "Per-request timeout in seconds.",
		},
	}
}

// objectSchema builds an object schema from the connection properties plus extra.
func objectSchema(extra map[string]interface{}, required ...string) map[string]interface{} {
	props := connectionProperties()
	for k, v := range extra {
		props[k] = v
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// connectionSchema is objectSchema for tools that are not scoped to an app.
func connectionSchema(extra map[string]interface{}, required ...string) map[string]interface{} {
	schema := objectSchema(extra, required...)
	delete(schema["properties"].(map[string]interface{}), "kintone_app_id")
	return schema
}
