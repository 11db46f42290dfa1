package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
	"github.com/tareqmamari/kintone-mcp-server/internal/records"
)

// Flatten parameter messages.
const (
	MsgRecordsJSONInvalid   = "records_json には有効なJSONオブジェクト/配列を指定してください。"
	MsgRecordsNotFound      = "records_json からレコード配列を抽出できませんでした。`records` キーを含むJSON、またはレコード配列を指定してください。"
	MsgSubtableCodeNotText  = "subtable_field_code には文字列を指定してください。"
	MsgSubtableCodeMultiple = "subtable_field_code には単一のフィールドコードのみ指定できます。"
	MsgFlattenFieldsInvalid = "fields にはカンマ区切りの文字列を指定してください。"
	MsgJQNotText            = "jq には文字列を指定してください。"
)

// FlattenJSONTool flattens kintone records passed in as JSON.
type FlattenJSONTool struct {
	*BaseTool
}

// NewFlattenJSONTool creates a new tool instance
func NewFlattenJSONTool(cfg *config.Config, logger *zap.Logger) *FlattenJSONTool {
	return &FlattenJSONTool{
		BaseTool: NewBaseTool(nil, cfg, logger),
	}
}

// Name returns the tool name
func (t *FlattenJSONTool) Name() string {
	return "kintone_flatten_json"
}

// Annotations returns tool hints for LLMs
func (t *FlattenJSONTool) Annotations() *mcp.ToolAnnotations {
	return TransformAnnotations("Flatten kintone JSON")
}

// Description returns the tool description
func (t *FlattenJSONTool) Description() string {
	return `Flatten kintone records into plain objects ({field_code: value}). No API call is made.

records_json accepts the output of kintone_query or any JSON holding a "records" array (also nested under json, data, result, results, response or payload), or a bare array of records.

**Options:**
- subtable_field_code: return the rows of that subtable across all records instead of the records
- fields: comma separated field codes to keep (copied into each row in subtable mode)
- jq: jq expression applied to the flattened array, e.g. map(select(.status == "open"))`
}

// InputSchema returns the input schema
func (t *FlattenJSONTool) InputSchema() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"records_json": map[string]interface{}{
				"type":        []string{"string", "object", "array"},
				"description": "kintone records as JSON text or a JSON value",
			},
			"subtable_field_code": map[string]interface{}{
				"type":        "string",
				"description": "Field code of one subtable whose rows should be returned",
			},
			"fields": map[string]interface{}{
				"type":        "string",
				"description": "Comma separated field codes to keep",
			},
			"jq": map[string]interface{}{
				"type":        "string",
				"description": "Optional jq expression applied to the flattened records array",
			},
		},
		"required": []string{"records_json"},
	}
}

// Execute executes the tool
func (t *FlattenJSONTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	subtable, err := parseSubtableCode(arguments["subtable_field_code"])
	if err != nil {
		return t.fail(t.Name(), err), nil
	}
	fields, err := parseFieldFilter(arguments["fields"])
	if err != nil {
		return t.fail(t.Name(), err), nil
	}
	expression, err := parseJQ(arguments["jq"])
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	payload, err := decodeRecordsJSON(arguments["records_json"])
	if err != nil {
		return t.fail(t.Name(), err), nil
	}
	recs, ok := records.ExtractRecords(payload)
	if !ok {
		return NewToolResultError(MsgRecordsNotFound), nil
	}

	var result interface{}
	if subtable != "" {
		result = records.CollectSubtableRows(recs, subtable, fields)
	} else {
		flattened := make([]interface{}, 0, len(recs))
		for _, r := range recs {
			rec, isRecord := r.(map[string]interface{})
			if !isRecord {
				flattened = append(flattened, r)
				continue
			}
			flattened = append(flattened, records.FilterFields(records.FlattenRecord(rec), fields))
		}
		result = flattened
	}

	if expression != "" {
		result, err = ApplyJQ(expression, result)
		if err != nil {
			return t.fail(t.Name(), err), nil
		}
	}

	t.logger.Debug("Flattened records",
		zap.Int("input_records", len(recs)),
		zap.String("subtable_field_code", subtable),
		zap.Bool("jq", expression != ""),
	)

	out := NewOutput(ctx, t.Name(), t.logger)
	out.JSON(map[string]interface{}{"records": result})
	out.Text(records.CompactJSON(result))
	return out.Result(), nil
}

func parseSubtableCode(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", mcperrors.NewInvalidInput(MsgSubtableCodeNotText)
	}
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		return "", mcperrors.NewInvalidInput(MsgSubtableCodeMultiple)
	}
	return s, nil
}

// parseFieldFilter reads a comma separated list, dropping blanks and duplicates.
func parseFieldFilter(v interface{}) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, mcperrors.NewInvalidInput(MsgFlattenFieldsInvalid)
	}
	var fields []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		fields = append(fields, part)
	}
	return fields, nil
}

func parseJQ(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", mcperrors.NewInvalidInput(MsgJQNotText)
	}
	return strings.TrimSpace(s), nil
}

// decodeRecordsJSON accepts JSON text or an already decoded value.
func decodeRecordsJSON(v interface{}) (interface{}, error) {
	text, isText := v.(string)
	if !isText {
		return v, nil
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var payload interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, mcperrors.NewInvalidInput(MsgRecordsJSONInvalid)
	}
	if dec.More() {
		return nil, mcperrors.NewInvalidInput(MsgRecordsJSONInvalid)
	}
	return payload, nil
}

// ApplyJQ runs expression against input. A single output is returned as is;
// zero or several outputs are returned as a list.
func ApplyJQ(expression string, input interface{}) (interface{}, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, mcperrors.NewInvalidInput(fmt.Sprintf("jq 式が不正です: %v", err))
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, mcperrors.NewInvalidInput(fmt.Sprintf("jq 式をコンパイルできません: %v", err))
	}

	// gojq only accepts plain JSON types, so json.Number values are decoded again.
	plain, err := plainJSON(input)
	if err != nil {
		return nil, mcperrors.NewUnexpected(err)
	}

	results := []interface{}{}
	iter := code.Run(plain)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			var haltErr *gojq.HaltError
			if errors.As(err, &haltErr) && haltErr.Value() == nil {
				break
			}
			return nil, mcperrors.NewInvalidInput(fmt.Sprintf("jq 式の実行に失敗しました: %v", err))
		}
		results = append(results, v)
	}

	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

func plainJSON(v interface{}) (interface{}, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		return nil, err
	}
	return out, nil
}
