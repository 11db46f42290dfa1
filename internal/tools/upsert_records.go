package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// Upsert messages.
const (
	MsgRecordsDataMissing = "レコードデータが見つかりません。records_dataパラメータを確認してください。"
	MsgUpsertTooMany      = "kintone 一括更新APIで送信できるレコード数は最大100件です。リクエストを分割してください。"
	MsgUpsertNothingDone  = "レコードの更新/追加処理は完了しましたが、処理されたレコードはありませんでした。"
)

// MaxUpsertRecords is the per-request record limit of the bulk update API.
const MaxUpsertRecords = 100

// UpsertCounts summarizes what kintone did with an upsert request.
type UpsertCounts struct {
	Added         int `json:"add"`
	Updated       int `json:"updated"`
	Requested     int `json:"requested"`
	WithUpdateKey int `json:"with_update_key"`
}

// UpsertRecordsTool updates records matched by updateKey and inserts the rest.
type UpsertRecordsTool struct {
	*BaseTool
}

// NewUpsertRecordsTool creates a new tool instance
func NewUpsertRecordsTool(c *client.Client, cfg *config.Config, logger *zap.Logger) *UpsertRecordsTool {
	return &UpsertRecordsTool{
		BaseTool: NewBaseTool(c, cfg, logger),
	}
}

// Name returns the tool name
func (t *UpsertRecordsTool) Name() string {
	return "kintone_upsert_records"
}

// Annotations returns tool hints for LLMs
func (t *UpsertRecordsTool) Annotations() *mcp.ToolAnnotations {
	return UpdateAnnotations("Upsert kintone Records")
}

// Description returns the tool description
func (t *UpsertRecordsTool) Description() string {
	return `Update or insert up to 100 records in one request.

records_data is {"records": [{"updateKey": {"field": "code", "value": "C-001"}, "record": {"title": {"value": "x"}}}, ...]}.
Records whose updateKey matches an existing record are updated; the others are added.
A {"records_data": {...}} wrapper is accepted as well.`
}

// InputSchema returns the input schema
func (t *UpsertRecordsTool) InputSchema() interface{} {
	return objectSchema(map[string]interface{}{
		"records_data": map[string]interface{}{
			"type":        []string{"string", "object", "array"},
			"description": `{"records": [{"updateKey": {...}, "record": {...}}]}`,
		},
	}, "kintone_app_id", "records_data")
}

// Execute executes the tool
func (t *UpsertRecordsTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	creds, err := t.credentials(arguments, t.DefaultTimeout())
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	records, err := ParseRecordsData(arguments["records_data"])
	if err != nil {
		return t.fail(t.Name(), err), nil
	}
	if len(records) > MaxUpsertRecords {
		return t.fail(t.Name(), mcperrors.NewInvalidInput(MsgUpsertTooMany)), nil
	}

	counts := UpsertCounts{Requested: len(records)}
	for _, item := range records {
		if key, ok := item.(map[string]interface{})["updateKey"]; ok && key != nil {
			counts.WithUpdateKey++
		}
	}

	out := NewOutput(ctx, t.Name(), t.logger)
	out.Log(ctx, "Received parameters", map[string]interface{}{
		"kintone_domain":   creds.BaseURL,
		"kintone_app_id":   creds.AppID,
		"record_count":     counts.Requested,
		"update_key_count": counts.WithUpdateKey,
	})

	resp, err := t.api(creds).UpsertRecords(ctx, creds.AppID, records)
	if err != nil {
		return t.fail(t.Name(), err), nil
	}
	counts.Added, counts.Updated = countUpsert(resp)

	t.logger.Info("Records upserted",
		zap.Int64("app", creds.AppID),
		zap.Int("requested", counts.Requested),
		zap.Int("added", counts.Added),
		zap.Int("updated", counts.Updated),
	)

	out.JSON(map[string]interface{}{
		"app_id":       creds.AppID,
		"processed":    counts,
		"raw_response": resp,
	})
	if counts.Added+counts.Updated == 0 {
		out.Text(MsgUpsertNothingDone)
	} else {
		out.Text(fmt.Sprintf("アップサート完了: 追加 %d 件 / 更新 %d 件 (リクエスト: %d 件)",
			counts.Added, counts.Updated, counts.Requested))
	}
	return out.Result(), nil
}

// ParseRecordsData reads records_data as an object or JSON text and returns
// its records list after checking every entry. A {"records_data": {...}}
// wrapper, or a list holding one, is unwrapped first.
func ParseRecordsData(v interface{}) ([]interface{}, error) {
	if v == nil {
		return nil, mcperrors.NewMissingParameter("records_data", MsgRecordsDataMissing)
	}

	payload := v
	if text, ok := v.(string); ok {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, mcperrors.NewInvalidInput(MsgRecordDataBadJSON)
		}
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil || dec.More() {
			return nil, mcperrors.NewInvalidInput(MsgRecordDataBadJSON)
		}
	}

	if list, ok := payload.([]interface{}); ok {
		payload = nil
		for _, item := range list {
			entry, isObject := item.(map[string]interface{})
			if !isObject {
				continue
			}
			if _, hasRecords := entry["records"].([]interface{}); hasRecords {
				payload = entry
				break
			}
			if inner, wrapped := entry["records_data"].(map[string]interface{}); wrapped {
				payload = inner
				break
			}
		}
	}

	data, ok := payload.(map[string]interface{})
	if !ok {
		return nil, mcperrors.NewInvalidInput(MsgRecordDataBadJSON)
	}
	if _, hasRecords := data["records"]; !hasRecords {
		if inner, wrapped := data["records_data"].(map[string]interface{}); wrapped {
			data = inner
		}
	}

	raw, hasRecords := data["records"]
	if !hasRecords {
		return nil, recordStructureError([]string{"レコードデータに 'records' キーがありません"})
	}
	records, ok := raw.([]interface{})
	if !ok {
		return nil, recordStructureError([]string{"'records' は配列である必要があります"})
	}
	if problems := upsertProblems(records); len(problems) > 0 {
		return nil, recordStructureError(problems)
	}
	return records, nil
}

func upsertProblems(records []interface{}) []string {
	var problems []string
	for i, item := range records {
		n := i + 1
		entry, ok := item.(map[string]interface{})
		if !ok {
			problems = append(problems, fmt.Sprintf("レコード #%d は辞書型である必要があります", n))
			continue
		}
		rawRecord, ok := entry["record"]
		if !ok {
			problems = append(problems, fmt.Sprintf("レコード #%d に 'record' キーがありません", n))
			continue
		}
		record, ok := rawRecord.(map[string]interface{})
		if !ok {
			problems = append(problems, fmt.Sprintf("レコード #%d の 'record' は辞書型である必要があります", n))
			continue
		}
		if rawKey, hasKey := entry["updateKey"]; hasKey {
			key, ok := rawKey.(map[string]interface{})
			if !ok {
				problems = append(problems, fmt.Sprintf("レコード #%d の 'updateKey' は辞書型である必要があります", n))
				continue
			}
			if _, ok := key["field"]; !ok {
				problems = append(problems, fmt.Sprintf("レコード #%d の 'updateKey' に 'field' キーがありません", n))
				continue
			}
			if _, ok := key["value"]; !ok {
				problems = append(problems, fmt.Sprintf("レコード #%d の 'updateKey' に 'value' キーがありません", n))
				continue
			}
		}

		codes := make([]string, 0, len(record))
		for code := range record {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			field, ok := record[code].(map[string]interface{})
			if !ok {
				problems = append(problems, fmt.Sprintf("レコード #%d のフィールド '%s' のデータは辞書型である必要があります", n, code))
				continue
			}
			if _, ok := field["value"]; !ok {
				problems = append(problems, fmt.Sprintf("レコード #%d のフィールド '%s' に 'value' キーがありません", n, code))
			}
		}
	}
	return problems
}

// countUpsert counts inserted and updated records from the per-record
// operations, falling back to the ids and revisions lists.
func countUpsert(resp map[string]interface{}) (added, updated int) {
	entries, hasEntries := resp["records"].([]interface{})
	counted := false
	for _, item := range entries {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		op, _ := entry["operation"].(string)
		switch strings.ToUpper(strings.TrimSpace(op)) {
		case "INSERT":
			added++
			counted = true
		case "UPDATE":
			updated++
			counted = true
		}
	}
	if counted {
		return added, updated
	}

	if ids, ok := resp["ids"].([]interface{}); ok {
		added = len(ids)
	}
	if revisions, ok := resp["revisions"].([]interface{}); ok {
		updated = len(revisions)
	}
	if added == 0 && updated == 0 && hasEntries {
		updated = len(entries)
	}
	return added, updated
}
