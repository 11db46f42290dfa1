package tools

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// Field definition messages.
const (
	MsgNoFieldDefinitions = "フィールド定義が見つかりませんでした。アプリ設定を確認してください。"
	MsgDetailLevelInvalid = "detail_level には真偽値（true/false）を指定してください。"
)

// basicExcludedTypes are layout-only or system fields hidden from the basic view.
var basicExcludedTypes = map[string]bool{
	"GROUP":           true,
	"RECORD_NUMBER":   true,
	"REFERENCE_TABLE": true,
}

// FieldSummary is the basic view of one field definition.
type FieldSummary struct {
	Code     string                  `json:"code"`
	Type     string                  `json:"type"`
	Required interface{}             `json:"required,omitempty"`
	Unique   interface{}             `json:"unique,omitempty"`
	Options  interface{}             `json:"options,omitempty"`
	Fields   map[string]FieldSummary `json:"fields,omitempty"`
}

// GetFieldsTool returns the form field definitions of an app.
type GetFieldsTool struct {
	*BaseTool
}

// NewGetFieldsTool creates a new tool instance
func NewGetFieldsTool(c *client.Client, cfg *config.Config, logger *zap.Logger) *GetFieldsTool {
	return &GetFieldsTool{
		BaseTool: NewBaseTool(c, cfg, logger),
	}
}

// Name returns the tool name
func (t *GetFieldsTool) Name() string {
	return "kintone_get_fields"
}

// Annotations returns tool hints for LLMs
func (t *GetFieldsTool) Annotations() *mcp.ToolAnnotations {
	return ReadOnlyAnnotations("Get kintone Fields")
}

// DefaultTimeout returns the request timeout used when request_timeout is blank.
func (t *GetFieldsTool) DefaultTimeout() time.Duration {
	return DefaultSchemaTimeout
}

// Description returns the tool description
func (t *GetFieldsTool) Description() string {
	return `Get the field definitions of a kintone app.

By default returns a basic view keyed by field code: code, type, required, unique, options and, for subtables, the nested fields. Group, record number and related-records fields are left out.

Set detail_level to true for the complete "properties" object returned by kintone.

Use this before kintone_query or kintone_add_record to learn the field codes.`
}

// InputSchema returns the input schema
func (t *GetFieldsTool) InputSchema() interface{} {
	return objectSchema(map[string]interface{}{
		"detail_level": map[string]interface{}{
			"type":        []string{"boolean", "string"},
			"default":     false,
			"description": "true for the complete field definitions, false for the basic view",
		},
	}, "kintone_app_id")
}

// Execute executes the tool
func (t *GetFieldsTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	creds, err := t.credentials(arguments, t.DefaultTimeout())
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	full, ok := ParseFlag(arguments["detail_level"])
	if !ok {
		return t.fail(t.Name(), mcperrors.NewInvalidInput(MsgDetailLevelInvalid)), nil
	}

	properties, err := t.api(creds).GetFormFields(ctx, creds.AppID)
	if err != nil {
		return t.fail(t.Name(), err), nil
	}
	if len(properties) == 0 {
		return NewToolResultError(MsgNoFieldDefinitions), nil
	}

	var body interface{} = properties
	if !full {
		body = BasicFieldView(properties)
	}

	out := NewOutput(ctx, t.Name(), t.logger)
	out.JSON(body)
	out.Text(encodeJSON(body))
	return out.Result(), nil
}

// BasicFieldView summarizes form field properties keyed by field code.
// Subtable fields are summarized one level deep.
func BasicFieldView(properties map[string]interface{}) map[string]FieldSummary {
	summary := make(map[string]FieldSummary, len(properties))
	for code, raw := range properties {
		def, _ := raw.(map[string]interface{})
		field := summarizeField(code, def)
		if basicExcludedTypes[field.Type] {
			continue
		}
		if nested, ok := def["fields"].(map[string]interface{}); ok {
			field.Fields = make(map[string]FieldSummary, len(nested))
			for nestedCode, nestedRaw := range nested {
				nestedDef, _ := nestedRaw.(map[string]interface{})
				field.Fields[nestedCode] = summarizeField(nestedCode, nestedDef)
			}
		}
		summary[code] = field
	}
	return summary
}

func summarizeField(key string, def map[string]interface{}) FieldSummary {
	field := FieldSummary{Code: key, Type: "UNKNOWN"}
	if code, ok := def["code"].(string); ok {
		field.Code = code
	}
	if typ, ok := def["type"].(string); ok {
		field.Type = typ
	}
	field.Required = def["required"]
	field.Unique = def["unique"]
	field.Options = def["options"]
	return field
}
