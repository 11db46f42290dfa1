package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

func newUpdateRecordTool(serverURL string) *UpdateRecordTool {
	cfg := newTestConfig(serverURL)
	return NewUpdateRecordTool(newTestClient(cfg), cfg, zap.NewNop())
}

func TestUpdateRecordByID(t *testing.T) {
	rec := &apiRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/k/v1/record.json", r.URL.Path)
		assert.Equal(t, http.MethodPut, r.Header.Get("X-HTTP-Method-Override"))
		_, _ = w.Write([]byte(`{"revision":"5"}`))
	}))
	defer server.Close()

	result, err := newUpdateRecordTool(server.URL).Execute(context.Background(), baseArgs(map[string]interface{}{
		"record_id":   "42",
		"record_data": `{"status": {"value": "done"}}`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultTexts(t, result))

	texts := resultTexts(t, result)
	require.Len(t, texts, 2)
	assert.Equal(t, map[string]interface{}{
		"app_id":    float64(7),
		"record_id": float64(42),
		"revision":  "5",
	}, decodeText(t, texts[0]))
	assert.Equal(t, "レコードID 42 の更新が完了しました / リビジョン: 5。", texts[1])

	require.Equal(t, 1, rec.count())
	body := rec.bodies[0]
	assert.Equal(t, float64(7), body["app"])
	assert.Equal(t, float64(42), body["id"])
	assert.NotContains(t, body, "updateKey")
	assert.Equal(t, map[string]interface{}{"status": map[string]interface{}{"value": "done"}}, body["record"])
}

func TestUpdateRecordByUpdateKey(t *testing.T) {
	rec := &apiRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
		_, _ = w.Write([]byte(`{"revision":"2"}`))
	}))
	defer server.Close()

	result, err := newUpdateRecordTool(server.URL).Execute(context.Background(), baseArgs(map[string]interface{}{
		"updateKey":      "customer_code",
		"updateKeyValue": "C-001",
		"record_data":    map[string]interface{}{"name": map[string]interface{}{"value": "ACME"}},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultTexts(t, result))

	texts := resultTexts(t, result)
	summary := decodeText(t, texts[0])
	assert.Nil(t, summary["record_id"])
	assert.Equal(t, map[string]interface{}{"field": "customer_code", "value": "C-001"}, summary["updateKey"])
	assert.Equal(t, "updateKey customer_code=C-001 の更新が完了しました / リビジョン: 2。", texts[1])

	require.Equal(t, 1, rec.count())
	body := rec.bodies[0]
	assert.NotContains(t, body, "id")
	assert.Equal(t, map[string]interface{}{"field": "customer_code", "value": "C-001"}, body["updateKey"])
}

func TestUpdateRecordErrors(t *testing.T) {
	t.Run("not found names the record", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"GAIA_RE01"}`))
		}))
		defer server.Close()

		result, err := newUpdateRecordTool(server.URL).Execute(context.Background(), baseArgs(map[string]interface{}{
			"record_id": 9, "record_data": `{"a": {"value": 1}}`,
		}))
		require.NoError(t, err)
		assert.Equal(t, mcperrors.MsgRecordNotFound+` 詳細: {"code":"GAIA_RE01"}`, errorText(t, result))
	})

	t.Run("invalid input never calls kintone", func(t *testing.T) {
		rec := &apiRecorder{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec.record(t, r)
		}))
		defer server.Close()
		tool := newUpdateRecordTool(server.URL)

		cases := []struct {
			args map[string]interface{}
			want string
		}{
			{map[string]interface{}{"record_data": `{"a": {"value": 1}}`}, MsgUpdateTargetMissing},
			{map[string]interface{}{"record_id": "abc", "record_data": `{"a": {"value": 1}}`}, MsgRecordIDInvalid},
			{map[string]interface{}{"updateKey": "code", "record_data": `{"a": {"value": 1}}`}, MsgUpdateKeyValueNeeded},
			{map[string]interface{}{"record_id": 1}, MsgRecordDataMissing},
		}
		for _, tc := range cases {
			result, err := tool.Execute(context.Background(), baseArgs(tc.args))
			require.NoError(t, err)
			assert.Equal(t, tc.want, errorText(t, result))
		}
		assert.Zero(t, rec.count())
	})
}

func TestParseUpdateKey(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		fallback interface{}
		want     *client.UpdateKey
		wantErr  string
	}{
		{name: "object", input: map[string]interface{}{"field": " code ", "value": "A"}, want: &client.UpdateKey{Field: "code", Value: "A"}},
		{name: "json text", input: `{"field": "code", "value": 10}`, want: &client.UpdateKey{Field: "code", Value: json.Number("10")}},
		{name: "bare field code", input: "code", fallback: "A", want: &client.UpdateKey{Field: "code", Value: "A"}},
		{name: "quoted field code", input: `"code"`, fallback: "A", want: &client.UpdateKey{Field: "code", Value: "A"}},
		{name: "bare code without value", input: "code", wantErr: MsgUpdateKeyValueNeeded},
		{name: "blank text", input: "  ", wantErr: MsgUpdateKeyEmpty},
		{name: "number", input: 3.0, wantErr: MsgUpdateKeyBadType},
		{name: "json array", input: `[1, 2]`, wantErr: MsgUpdateKeyNotObject},
		{name: "object without field", input: map[string]interface{}{"value": "A"}, wantErr: MsgUpdateKeyField},
		{name: "object without value", input: map[string]interface{}{"field": "code"}, wantErr: MsgUpdateKeyValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUpdateKey(tt.input, tt.fallback)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, mcperrors.UserMessage(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
