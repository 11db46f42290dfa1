package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// Record update messages.
const (
	MsgUpdateTargetMissing  = "record_id または updateKey のいずれかを指定してください。"
	MsgUpdateKeyEmpty       = "updateKey は空にできません。"
	MsgUpdateKeyBadType     = "updateKey はJSONオブジェクトまたは文字列で指定してください。"
	MsgUpdateKeyNotObject   = "updateKey はJSONオブジェクトで指定してください。"
	MsgUpdateKeyField       = "updateKey.field を文字列で指定してください。"
	MsgUpdateKeyValue       = "updateKey.value を指定してください。"
	MsgUpdateKeyValueNeeded = "updateKey がフィールドコードのみの場合は updateKeyValue を指定してください。"
)

// UpdateRecordTool overwrites fields of one existing record.
type UpdateRecordTool struct {
	*BaseTool
}

// NewUpdateRecordTool creates a new tool instance
func NewUpdateRecordTool(c *client.Client, cfg *config.Config, logger *zap.Logger) *UpdateRecordTool {
	return &UpdateRecordTool{
		BaseTool: NewBaseTool(c, cfg, logger),
	}
}

// Name returns the tool name
func (t *UpdateRecordTool) Name() string {
	return "kintone_update_record"
}

// Annotations returns tool hints for LLMs
func (t *UpdateRecordTool) Annotations() *mcp.ToolAnnotations {
	return UpdateAnnotations("Update kintone Record")
}

// Description returns the tool description
func (t *UpdateRecordTool) Description() string {
	return `Update one record in a kintone app.

Identify the record with record_id, or with updateKey (a field with the unique option):
- updateKey as {"field": "customer_code", "value": "C-001"}
- or updateKey "customer_code" together with updateKeyValue "C-001"

record_data uses the same format as kintone_add_record and only needs the fields to change.`
}

// InputSchema returns the input schema
func (t *UpdateRecordTool) InputSchema() interface{} {
	return objectSchema(map[string]interface{}{
		"record_id": map[string]interface{}{
			"type":        []string{"integer", "string"},
			"description": "Record ID. Either record_id or updateKey is required.",
		},
		"updateKey": map[string]interface{}{
			"type":        []string{"object", "string"},
			"description": `{"field": "...", "value": "..."} or a field code used with updateKeyValue`,
		},
		"updateKeyValue": map[string]interface{}{
			"type":        []string{"string", "number"},
			"description": "Value for updateKey when updateKey is a bare field code",
		},
		"record_data": map[string]interface{}{
			"type":        []string{"string", "object"},
			"description": `Fields to change as JSON: {"field_code": {"value": ...}}`,
		},
	}, "kintone_app_id", "record_data")
}

// Execute executes the tool
func (t *UpdateRecordTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	creds, err := t.credentials(arguments, t.DefaultTimeout())
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	rawID, rawKey := arguments["record_id"], arguments["updateKey"]
	if IsBlank(rawID) && IsBlank(rawKey) {
		return t.fail(t.Name(), mcperrors.NewMissingParameter("record_id", MsgUpdateTargetMissing)), nil
	}

	req := client.UpdateRecordRequest{App: creds.AppID}
	if !IsBlank(rawID) {
		id, ok := ParsePositiveInt(rawID)
		if !ok {
			return t.fail(t.Name(), mcperrors.NewInvalidInput(MsgRecordIDInvalid)), nil
		}
		req.ID = id
	}
	if !IsBlank(rawKey) {
		key, err := ParseUpdateKey(rawKey, arguments["updateKeyValue"])
		if err != nil {
			return t.fail(t.Name(), err), nil
		}
		req.UpdateKey = key
	}

	req.Record, err = ParseRecordData(arguments["record_data"])
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	out := NewOutput(ctx, t.Name(), t.logger)
	out.Log(ctx, "Received parameters", map[string]interface{}{
		"kintone_domain": creds.BaseURL,
		"kintone_app_id": creds.AppID,
		"record_id":      optionalInt(req.ID > 0, int(req.ID)),
		"has_update_key": req.UpdateKey != nil,
		"field_count":    len(req.Record),
	})

	resp, err := t.api(creds).UpdateRecord(ctx, req)
	if err != nil {
		return t.failRecord(t.Name(), err), nil
	}
	revision := stringValue(resp["revision"])

	t.logger.Info("Record updated",
		zap.Int64("app", creds.AppID),
		zap.Int64("id", req.ID),
		zap.Bool("update_key", req.UpdateKey != nil),
		zap.String("revision", revision),
	)

	summary := map[string]interface{}{
		"app_id":    creds.AppID,
		"record_id": optionalInt(req.ID > 0, int(req.ID)),
		"revision":  optionalString(revision),
	}
	if req.UpdateKey != nil {
		summary["updateKey"] = req.UpdateKey
	}
	out.JSON(summary)

	target := fmt.Sprintf("レコードID %d", req.ID)
	if req.ID == 0 {
		target = fmt.Sprintf("updateKey %s=%v", req.UpdateKey.Field, req.UpdateKey.Value)
	}
	suffix := ""
	if revision != "" {
		suffix = " / リビジョン: " + revision
	}
	out.Text(fmt.Sprintf("%s の更新が完了しました%s。", target, suffix))
	return out.Result(), nil
}

// ParseUpdateKey reads updateKey as an object, JSON text of an object, or a
// bare field code whose value comes from fallback.
func ParseUpdateKey(v interface{}, fallback interface{}) (*client.UpdateKey, error) {
	var parsed interface{}
	switch typed := v.(type) {
	case map[string]interface{}:
		parsed = typed
	case string:
		text := strings.TrimSpace(typed)
		if text == "" {
			return nil, mcperrors.NewInvalidInput(MsgUpdateKeyEmpty)
		}
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		if err := dec.Decode(&parsed); err != nil || dec.More() {
			parsed = text
		}
		if code, isText := parsed.(string); isText {
			code = strings.TrimSpace(code)
			if code == "" {
				return nil, mcperrors.NewInvalidInput(MsgUpdateKeyField)
			}
			if IsBlank(fallback) {
				return nil, mcperrors.NewMissingParameter("updateKeyValue", MsgUpdateKeyValueNeeded)
			}
			return &client.UpdateKey{Field: code, Value: fallback}, nil
		}
	default:
		return nil, mcperrors.NewInvalidInput(MsgUpdateKeyBadType)
	}

	object, ok := parsed.(map[string]interface{})
	if !ok {
		return nil, mcperrors.NewInvalidInput(MsgUpdateKeyNotObject)
	}
	field, _ := object["field"].(string)
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, mcperrors.NewInvalidInput(MsgUpdateKeyField)
	}
	if IsBlank(object["value"]) {
		return nil, mcperrors.NewInvalidInput(MsgUpdateKeyValue)
	}
	return &client.UpdateKey{Field: field, Value: object["value"]}, nil
}

func optionalString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
