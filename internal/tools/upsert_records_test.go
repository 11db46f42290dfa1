package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

func newUpsertRecordsTool(serverURL string) *UpsertRecordsTool {
	cfg := newTestConfig(serverURL)
	return NewUpsertRecordsTool(newTestClient(cfg), cfg, zap.NewNop())
}

const upsertPayload = `{"records": [
	{"updateKey": {"field": "code", "value": "A"}, "record": {"name": {"value": "alpha"}}},
	{"updateKey": {"field": "code", "value": "B"}, "record": {"name": {"value": "beta"}}}
]}`

func TestUpsertRecordsSuccess(t *testing.T) {
	rec := &apiRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/k/v1/records.json", r.URL.Path)
		assert.Equal(t, http.MethodPut, r.Header.Get("X-HTTP-Method-Override"))
		_, _ = w.Write([]byte(`{"records":[{"id":"1","revision":"3","operation":"UPDATE"},{"id":"8","revision":"1","operation":"INSERT"}]}`))
	}))
	defer server.Close()

	result, err := newUpsertRecordsTool(server.URL).Execute(context.Background(), baseArgs(map[string]interface{}{
		"records_data": upsertPayload,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultTexts(t, result))

	texts := resultTexts(t, result)
	require.Len(t, texts, 2)
	summary := decodeText(t, texts[0])
	assert.Equal(t, float64(7), summary["app_id"])
	assert.Equal(t, map[string]interface{}{
		"add": float64(1), "updated": float64(1), "requested": float64(2), "with_update_key": float64(2),
	}, summary["processed"])
	assert.Contains(t, summary, "raw_response")
	assert.Equal(t, "アップサート完了: 追加 1 件 / 更新 1 件 (リクエスト: 2 件)", texts[1])

	require.Equal(t, 1, rec.count())
	body := rec.bodies[0]
	assert.Equal(t, float64(7), body["app"])
	assert.Equal(t, true, body["upsert"])
	assert.Len(t, body["records"], 2)
}

func TestUpsertRecordsNothingProcessed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	result, err := newUpsertRecordsTool(server.URL).Execute(context.Background(), baseArgs(map[string]interface{}{
		"records_data": map[string]interface{}{"records_data": map[string]interface{}{"records": []interface{}{}}},
	}))
	require.NoError(t, err)
	texts := resultTexts(t, result)
	assert.Equal(t, MsgUpsertNothingDone, texts[len(texts)-1])
}

func TestUpsertRecordsRejectsOversizedBatch(t *testing.T) {
	rec := &apiRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
	}))
	defer server.Close()

	entries := make([]string, MaxUpsertRecords+1)
	for i := range entries {
		entries[i] = fmt.Sprintf(`{"updateKey": {"field": "code", "value": "%d"}, "record": {}}`, i)
	}
	result, err := newUpsertRecordsTool(server.URL).Execute(context.Background(), baseArgs(map[string]interface{}{
		"records_data": `{"records": [` + strings.Join(entries, ",") + `]}`,
	}))
	require.NoError(t, err)
	assert.Equal(t, MsgUpsertTooMany, errorText(t, result))
	assert.Zero(t, rec.count())
}

func TestParseRecordsData(t *testing.T) {
	t.Run("accepted shapes", func(t *testing.T) {
		inner := map[string]interface{}{"records": []interface{}{
			map[string]interface{}{"record": map[string]interface{}{"a": map[string]interface{}{"value": "1"}}},
		}}
		inputs := map[string]interface{}{
			"object":       inner,
			"json text":    `{"records": [{"record": {"a": {"value": "1"}}}]}`,
			"wrapper":      map[string]interface{}{"records_data": inner},
			"list wrapper": `[{"records_data": {"records": [{"record": {"a": {"value": "1"}}}]}}]`,
			"list":         `[{"records": [{"record": {"a": {"value": "1"}}}]}]`,
		}
		for name, input := range inputs {
			records, err := ParseRecordsData(input)
			require.NoError(t, err, name)
			assert.Len(t, records, 1, name)
		}
	})

	tests := []struct {
		name  string
		input interface{}
		want  string
	}{
		{"missing", nil, MsgRecordsDataMissing},
		{"bad json", `{"records": [`, MsgRecordDataBadJSON},
		{"blank", "  ", MsgRecordDataBadJSON},
		{"no records key", `{"foo": 1}`, MsgRecordDataStructure + "\nレコードデータに 'records' キーがありません"},
		{"records not list", `{"records": {}}`, MsgRecordDataStructure + "\n'records' は配列である必要があります"},
		{"entry problems", `{"records": [
			"x",
			{"updateKey": {"field": "code"}, "record": {}},
			{"record": {"a": {"v": 1}, "b": 2}}
		]}`, MsgRecordDataStructure + "\n" + strings.Join([]string{
			"レコード #1 は辞書型である必要があります",
			"レコード #2 の 'updateKey' に 'value' キーがありません",
			"レコード #3 のフィールド 'a' に 'value' キーがありません",
			"レコード #3 のフィールド 'b' のデータは辞書型である必要があります",
		}, "\n")},
		{"missing record", `{"records": [{"updateKey": {"field": "c", "value": 1}}]}`,
			MsgRecordDataStructure + "\nレコード #1 に 'record' キーがありません"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecordsData(tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.want, mcperrors.UserMessage(err))
		})
	}
}

func TestCountUpsert(t *testing.T) {
	tests := []struct {
		name          string
		resp          map[string]interface{}
		added, update int
	}{
		{"operations", map[string]interface{}{"records": []interface{}{
			map[string]interface{}{"operation": "insert"},
			map[string]interface{}{"operation": "UPDATE"},
			map[string]interface{}{"operation": "UPDATE"},
		}}, 1, 2},
		{"ids and revisions", map[string]interface{}{"ids": []interface{}{"1", "2"}, "revisions": []interface{}{"3"}}, 2, 1},
		{"records without operation", map[string]interface{}{"records": []interface{}{
			map[string]interface{}{"id": "1"}, map[string]interface{}{"id": "2"},
		}}, 0, 2},
		{"empty", map[string]interface{}{}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, updated := countUpsert(tt.resp)
			assert.Equal(t, tt.added, added)
			assert.Equal(t, tt.update, updated)
		})
	}
}
