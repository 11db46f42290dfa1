package tools

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
)

// newTestConfig returns a configuration pointing at serverURL without rate limiting.
func newTestConfig(serverURL string) *config.Config {
	cfg := config.Defaults()
	cfg.EnableRateLimit = false
	cfg.Domain = serverURL
	cfg.APIToken = "test-token"
	return cfg
}

func newTestClient(cfg *config.Config) *client.Client {
	return client.New(cfg, zap.NewNop(), "test")
}

// baseArgs returns arguments with an app id; domain and token come from the config.
func baseArgs(extra map[string]interface{}) map[string]interface{} {
	args := map[string]interface{}{"kintone_app_id": float64(7)}
	for k, v := range extra {
		args[k] = v
	}
	return args
}

// resultTexts returns the text of every content item.
func resultTexts(t *testing.T, result *mcp.CallToolResult) []string {
	t.Helper()
	require.NotNil(t, result)
	texts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		tc, ok := c.(*mcp.TextContent)
		require.True(t, ok, "expected text content, got %T", c)
		texts = append(texts, tc.Text)
	}
	return texts
}

// errorText asserts result is an error result and returns its single message.
func errorText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	texts := resultTexts(t, result)
	require.True(t, result.IsError, "expected error result, got %v", texts)
	require.Len(t, texts, 1)
	return texts[0]
}

// decodeText unmarshals a JSON text message.
func decodeText(t *testing.T, text string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &out), text)
	return out
}

// apiRecorder captures request bodies sent to a fake kintone API.
type apiRecorder struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]interface{}
	tokens []string
}

func (r *apiRecorder) record(t *testing.T, req *http.Request) map[string]interface{} {
	raw, err := io.ReadAll(req.Body)
	assert.NoError(t, err)
	var body map[string]interface{}
	if len(raw) > 0 {
		assert.NoError(t, json.Unmarshal(raw, &body))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, req.URL.Path)
	r.bodies = append(r.bodies, body)
	r.tokens = append(r.tokens, req.Header.Get("X-Cybozu-API-Token"))
	return body
}

func (r *apiRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
