package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// Record creation messages.
const (
	MsgRecordDataMissing   = "レコードデータが見つかりません。record_dataパラメータを確認してください。"
	MsgRecordDataBadJSON   = "レコードデータが有効なJSON形式ではありません。正しいJSON形式で入力してください。"
	MsgRecordDataStructure = "レコードデータの構造が不正です:"
	MsgRecordDataNotObject = "レコードデータは辞書型である必要があります"
	MsgRecordIDMissing     = "レコードの追加に成功しましたが、レコードIDを取得できませんでした。"
)

// AddRecordTool creates one record in an app.
type AddRecordTool struct {
	*BaseTool
}

// NewAddRecordTool creates a new tool instance
func NewAddRecordTool(c *client.Client, cfg *config.Config, logger *zap.Logger) *AddRecordTool {
	return &AddRecordTool{
		BaseTool: NewBaseTool(c, cfg, logger),
	}
}

// Name returns the tool name
func (t *AddRecordTool) Name() string {
	return "kintone_add_record"
}

// Annotations returns tool hints for LLMs
func (t *AddRecordTool) Annotations() *mcp.ToolAnnotations {
	return CreateAnnotations("Add kintone Record")
}

// DefaultTimeout returns the request timeout used when request_timeout is blank.
func (t *AddRecordTool) DefaultTimeout() time.Duration {
	return DefaultWriteTimeout
}

// Description returns the tool description
func (t *AddRecordTool) Description() string {
	return `Add one record to a kintone app.

record_data is a JSON object keyed by field code; every field must be an object with a "value" key:
{"title": {"value": "Hello"}, "amount": {"value": "100"}}

Use kintone_get_fields first to find the field codes and types.`
}

// InputSchema returns the input schema
func (t *AddRecordTool) InputSchema() interface{} {
	return objectSchema(map[string]interface{}{
		"record_data": map[string]interface{}{
			"type":        []string{"string", "object"},
			"description": `Record as JSON: {"field_code": {"value": ...}}`,
		},
	}, "kintone_app_id", "record_data")
}

// Execute executes the tool
func (t *AddRecordTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	creds, err := t.credentials(arguments, t.DefaultTimeout())
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	record, err := ParseRecordData(arguments["record_data"])
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	result, err := t.api(creds).AddRecord(ctx, creds.AppID, record)
	if err != nil {
		return t.fail(t.Name(), err), nil
	}
	if result.ID == "" {
		return NewToolResultError(MsgRecordIDMissing), nil
	}

	t.logger.Info("Record added",
		zap.Int64("app", creds.AppID),
		zap.String("id", result.ID),
		zap.String("revision", result.Revision),
	)

	out := NewOutput(ctx, t.Name(), t.logger)
	out.JSON(result)
	out.Text(fmt.Sprintf("レコードが正常に追加されました。レコードID: %s", result.ID))
	return out.Result(), nil
}

// ParseRecordData reads record_data given as JSON text or an object and
// checks that every field is an object with a "value" key. All violations
// are reported together.
func ParseRecordData(v interface{}) (map[string]interface{}, error) {
	if IsBlank(v) {
		return nil, mcperrors.NewMissingParameter("record_data", MsgRecordDataMissing)
	}

	payload := v
	if text, ok := v.(string); ok {
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil || dec.More() {
			return nil, mcperrors.NewInvalidInput(MsgRecordDataBadJSON)
		}
	}

	record, ok := payload.(map[string]interface{})
	if !ok {
		return nil, recordStructureError([]string{MsgRecordDataNotObject})
	}
	if len(record) == 0 {
		return nil, mcperrors.NewMissingParameter("record_data", MsgRecordDataMissing)
	}

	codes := make([]string, 0, len(record))
	for code := range record {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var problems []string
	for _, code := range codes {
		field, isObject := record[code].(map[string]interface{})
		if !isObject {
			problems = append(problems, fmt.Sprintf("フィールド '%s' のデータは辞書型である必要があります", code))
			continue
		}
		if _, hasValue := field["value"]; !hasValue {
			problems = append(problems, fmt.Sprintf("フィールド '%s' に 'value' キーがありません", code))
		}
	}
	if len(problems) > 0 {
		return nil, recordStructureError(problems)
	}
	return record, nil
}

func recordStructureError(problems []string) error {
	return mcperrors.NewInvalidInput(MsgRecordDataStructure + "\n" + strings.Join(problems, "\n")).
		WithDetails(map[string]interface{}{"problems": problems})
}
