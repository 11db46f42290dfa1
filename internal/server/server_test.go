package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	"github.com/tareqmamari/kintone-mcp-server/internal/tools"
)

func testConfig(domain string) *config.Config {
	cfg := config.Defaults()
	cfg.Domain = domain
	cfg.APIToken = "test-token"
	cfg.EnableRateLimit = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, zap.NewNop(), "test")
	require.NoError(t, err)
	return s
}

func findTool(t *testing.T, s *Server, name string) tools.Tool {
	t.Helper()
	for _, tool := range s.Tools() {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %s not registered", name)
	return nil
}

func call(s *Server, tool tools.Tool, args string) (*mcp.CallToolResult, error) {
	return s.handler(tool)(context.Background(), &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      tool.Name(),
			Arguments: json.RawMessage(args),
		},
	})
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, nil, "test")
	require.Error(t, err)
}

func TestNewRegistersTools(t *testing.T) {
	s := newTestServer(t, testConfig("example.cybozu.com"))

	names := make([]string, 0, len(s.Tools()))
	for _, tool := range s.Tools() {
		names = append(names, tool.Name())
	}
	assert.ElementsMatch(t, []string{
		"kintone_query",
		"kintone_add_record",
		"kintone_update_record",
		"kintone_upsert_records",
		"kintone_get_fields",
		"kintone_get_record_comments",
		"kintone_add_record_comment",
		"kintone_upload_file",
		"kintone_download_file",
		"kintone_flatten_json",
	}, names)
	assert.NotNil(t, s.GetMetrics())
	assert.Nil(t, s.healthServer, "health server is off without a port")
}

func TestNewWithHealthServer(t *testing.T) {
	cfg := testConfig("example.cybozu.com")
	cfg.HealthPort = 18080
	cfg.MetricsEndpoint = true

	s := newTestServer(t, cfg)
	require.NotNil(t, s.healthServer)

	rec := httptest.NewRecorder()
	s.healthServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerRecordsMetrics(t *testing.T) {
	s := newTestServer(t, testConfig("example.cybozu.com"))
	flatten := findTool(t, s, "kintone_flatten_json")

	t.Run("success", func(t *testing.T) {
		result, err := call(s, flatten, `{"records_json": "{\"records\": [{\"title\": {\"type\": \"SINGLE_LINE_TEXT\", \"value\": \"x\"}}]}"}`)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.False(t, result.IsError)
	})

	t.Run("tool error result", func(t *testing.T) {
		result, err := call(s, flatten, `{"records_json": "not json"}`)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, result.IsError)
	})

	t.Run("malformed arguments", func(t *testing.T) {
		result, err := call(s, flatten, `{"records_json":`)
		require.Error(t, err)
		assert.Nil(t, result)
	})

	stats := s.GetMetrics().GetStats()
	assert.Equal(t, uint64(3), stats.ToolUsage["kintone_flatten_json"])
	assert.Equal(t, uint64(2), stats.ToolErrors["kintone_flatten_json"])
}

func TestHandlerEmptyArguments(t *testing.T) {
	s := newTestServer(t, testConfig("example.cybozu.com"))
	result, err := call(s, findTool(t, s, "kintone_query"), ``)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError, "kintone_app_id is required")
}

func TestHandlerObservesAPIRequests(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Cybozu-API-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records": []}`))
	}))
	defer api.Close()

	s := newTestServer(t, testConfig(api.URL))
	result, err := call(s, findTool(t, s, "kintone_query"), `{"kintone_app_id": 3}`)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	stats := s.GetMetrics().GetStats()
	assert.GreaterOrEqual(t, stats.TotalRequests, uint64(1))
	assert.Equal(t, uint64(1), stats.ToolUsage["kintone_query"])
	assert.Zero(t, stats.ToolErrors["kintone_query"])
}

func TestHandlerAuditsWrites(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"GAIA_NO01","message":"no permission"}`))
	}))
	defer api.Close()

	s := newTestServer(t, testConfig(api.URL))
	require.False(t, s.GetAudit().IsEnabled())

	_, err := call(s, findTool(t, s, "kintone_flatten_json"), `{"records_json": "[]"}`)
	require.NoError(t, err)
	result, err := call(s, findTool(t, s, "kintone_add_record"), `{"kintone_app_id": 9, "record_data": {"title": {"value": "x"}}}`)
	require.NoError(t, err)
	require.True(t, result.IsError)

	entries := s.GetAudit().GetRecentEntries(0)
	require.Len(t, entries, 1, "only the write is audited by default")
	assert.Equal(t, "kintone_add_record", entries[0].Tool)
	assert.Equal(t, "create", entries[0].Operation)
	assert.Equal(t, "9", entries[0].AppID)
	assert.False(t, entries[0].Success)
	assert.NotEmpty(t, entries[0].ErrorMsg)
}

func TestHandlerAuditsEverythingWhenEnabled(t *testing.T) {
	cfg := testConfig("example.cybozu.com")
	cfg.AuditAllTools = true
	s := newTestServer(t, cfg)

	_, err := call(s, findTool(t, s, "kintone_flatten_json"), `{"records_json": "[]"}`)
	require.NoError(t, err)

	entries := s.GetAudit().GetRecentEntries(0)
	require.Len(t, entries, 1)
	assert.Equal(t, "transform", entries[0].Operation)
}

func connectClient(t *testing.T, s *Server, opts *mcp.ClientOptions) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ss, err := s.mcpServer.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, opts)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func newSingleRecordAPI(t *testing.T, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/k/v1/records.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records": [{"$id": {"type": "__ID__", "value": "1"}, "title": {"type": "SINGLE_LINE_TEXT", "value": "hello"}}]}`))
	}))
}

func contentTexts(t *testing.T, result *mcp.CallToolResult) []string {
	t.Helper()
	texts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		text, ok := c.(*mcp.TextContent)
		require.True(t, ok, "unexpected content %T", c)
		texts = append(texts, text.Text)
	}
	return texts
}

func TestJSONStreamDeliversPagesOverSession(t *testing.T) {
	var calls atomic.Int32
	api := newSingleRecordAPI(t, &calls)
	defer api.Close()

	var (
		mu       sync.Mutex
		progress []*mcp.ProgressNotificationParams
	)
	// The client never sets a logging level, so notifications/message is off.
	cs := connectClient(t, newTestServer(t, testConfig(api.URL)), &mcp.ClientOptions{
		ProgressNotificationHandler: func(_ context.Context, req *mcp.ProgressNotificationClientRequest) {
			mu.Lock()
			progress = append(progress, req.Params)
			mu.Unlock()
		},
	})

	t.Run("without progress token", func(t *testing.T) {
		result, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
			Name:      "kintone_query",
			Arguments: map[string]any{"kintone_app_id": 3, "output_mode": "json_stream"},
		})
		require.NoError(t, err)
		require.False(t, result.IsError)

		texts := contentTexts(t, result)
		require.Len(t, texts, 2, "one page and the summary")
		var page map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(texts[0]), &page))
		assert.Equal(t, float64(1), page["page"])
		assert.Len(t, page["records"], 1)
		assert.Contains(t, texts[0], "hello")
		assert.Contains(t, texts[1], `"total_records": 1`)
	})

	t.Run("with progress token", func(t *testing.T) {
		params := &mcp.CallToolParams{
			Name:      "kintone_query",
			Arguments: map[string]any{"kintone_app_id": 3, "output_mode": "json_stream"},
		}
		params.SetProgressToken("query-1")

		result, err := cs.CallTool(context.Background(), params)
		require.NoError(t, err)
		require.False(t, result.IsError)

		texts := contentTexts(t, result)
		require.Len(t, texts, 2)
		assert.True(t, strings.Contains(texts[0], "hello"), "the page is part of the result")

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(progress) == 1
		}, 2*time.Second, 10*time.Millisecond)
		mu.Lock()
		assert.Equal(t, "query-1", progress[0].ProgressToken)
		assert.Equal(t, float64(1), progress[0].Progress)
		mu.Unlock()
	})

	assert.Equal(t, int32(2), calls.Load())
}
