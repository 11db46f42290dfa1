package tools

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	"github.com/tareqmamari/kintone-mcp-server/internal/query"
	"github.com/tareqmamari/kintone-mcp-server/internal/records"
)

// QueryRecordsTool runs a kintone query and pages through the result.
type QueryRecordsTool struct {
	*BaseTool
}

// NewQueryRecordsTool creates a new tool instance
func NewQueryRecordsTool(c *client.Client, cfg *config.Config, logger *zap.Logger) *QueryRecordsTool {
	return &QueryRecordsTool{
		BaseTool: NewBaseTool(c, cfg, logger),
	}
}

// Name returns the tool name
func (t *QueryRecordsTool) Name() string {
	return "kintone_query"
}

// Annotations returns tool hints for LLMs
func (t *QueryRecordsTool) Annotations() *mcp.ToolAnnotations {
	return ReadOnlyAnnotations("Query kintone Records")
}

// Description returns the tool description
func (t *QueryRecordsTool) Description() string {
	return `Query records of a kintone app.

**Query syntax:** kintone query language, e.g. status = "open" and amount > 100 order by date desc

**Pagination:**
- With "limit N" in the query exactly one request is made (N must be 500 or less).
- Without a limit every matching record is fetched. Without "order by" the tool pages by record id ($id), which never skips or repeats records when the app changes during the run. With "order by" it pages by offset.

**output_mode:**
- both (default): JSON {summary, records} plus a text digest
- text_only: text digest only
- flattened_json: records with subtable rows flattened
- json_stream: one JSON message per page, then the summary. With a progress token each page also sends a progress notification.

Text digests list each record's fields in field code order, not form order.

**Related tools:**
- kintone_get_fields: field codes to use in query and fields
- kintone_flatten_json: flatten a raw records payload`
}

// InputSchema returns the input schema
func (t *QueryRecordsTool) InputSchema() interface{} {
	return objectSchema(map[string]interface{}{
		"query": map[string]interface{}{
			"type":        "string",
			"description": "kintone query. May contain order by, limit and offset clauses. Empty matches every record.",
		},
		"fields": map[string]interface{}{
			"type":        []string{"string", "array"},
			"items":       map[string]interface{}{"type": "string"},
			"description": "Field codes to return: comma separated, a JSON array string or an array. $id is always added.",
		},
		"output_mode": map[string]interface{}{
			"type":        "string",
			"enum":        query.OutputModeNames(),
			"default":     query.ModeBoth.String(),
			"description": "Shape of the result",
		},
	}, "kintone_app_id")
}

// Execute executes the tool
func (t *QueryRecordsTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	creds, err := t.credentials(arguments, t.DefaultTimeout())
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	fields, err := ParseFields(arguments["fields"])
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	modeText, _ := GetStringParam(arguments, "output_mode")
	mode, err := query.ParseOutputMode(modeText)
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	queryText, _ := GetStringParam(arguments, "query")
	n := query.Normalize(queryText)

	out := NewOutput(ctx, t.Name(), t.logger)
	out.Log(ctx, "Received parameters", map[string]interface{}{
		"kintone_domain":    creds.BaseURL,
		"kintone_app_id":    creds.AppID,
		"kintone_api_token": creds.Auth.Tokens,
		"query_present":     strings.TrimSpace(queryText) != "",
		"output_mode":       mode.String(),
		"user_limit":        optionalInt(n.HasLimit, n.Limit),
		"user_offset":       optionalInt(n.HasOffset, n.Offset),
	})

	api := t.api(creds)
	fetch := query.FetcherFunc(func(ctx context.Context, q string, fields []string) ([]records.Record, error) {
		return api.GetRecords(ctx, client.GetRecordsRequest{
			App:    creds.AppID,
			Query:  q,
			Fields: fields,
		})
	})

	driver := query.NewDriver(fetch, t.logger)
	if t.observer != nil {
		driver.SetObserver(t.observer)
	}
	engine := query.NewEngine(driver, t.cfg.PageSize, t.cfg.MaxPages)

	if _, err := engine.Execute(ctx, query.Request{Query: queryText, Fields: fields, Mode: mode}, out); err != nil {
		return t.fail(t.Name(), err), nil
	}
	return out.Result(), nil
}

func optionalInt(ok bool, v int) interface{} {
	if !ok {
		return nil
	}
	return v
}
