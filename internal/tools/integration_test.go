//go:build integration

// Integration tests against a live kintone app. They need:
//
//	export KINTONE_DOMAIN=example.cybozu.com
//	export KINTONE_API_TOKEN=your-api-token  // pragma: allowlist secret
//	export KINTONE_TEST_APP_ID=123
//	go test -v -tags=integration ./internal/tools/...
//
// Set KINTONE_TEST_WRITE=1 to also exercise the record and comment writes; the app then
// needs a SINGLE_LINE_TEXT field whose code is in KINTONE_TEST_TEXT_FIELD.
package tools

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
)

type liveEnv struct {
	cfg    *config.Config
	client *client.Client
	logger *zap.Logger
	args   map[string]interface{}
}

func newLiveEnv(t *testing.T) *liveEnv {
	t.Helper()
	_ = godotenv.Load("../../.env")

	cfg, err := config.Load()
	require.NoError(t, err)
	appID := os.Getenv("KINTONE_TEST_APP_ID")
	if cfg.Domain == "" || cfg.APIToken == "" || appID == "" {
		t.Skip("KINTONE_DOMAIN, KINTONE_API_TOKEN and KINTONE_TEST_APP_ID must be set")
	}

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	return &liveEnv{
		cfg:    cfg,
		client: client.New(cfg, logger, "integration"),
		logger: logger,
		args:   map[string]interface{}{"kintone_app_id": appID},
	}
}

func (e *liveEnv) with(extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(e.args)+len(extra))
	for k, v := range e.args {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func TestLiveGetFields(t *testing.T) {
	env := newLiveEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := NewGetFieldsTool(env.client, env.cfg, env.logger).Execute(ctx, env.args)
	require.NoError(t, err)
	require.False(t, result.IsError, resultTexts(t, result))

	body := decodeText(t, resultTexts(t, result)[0])
	assert.NotEmpty(t, body)
}

func TestLiveQuery(t *testing.T) {
	env := newLiveEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	tool := NewQueryRecordsTool(env.client, env.cfg, env.logger)

	t.Run("single page", func(t *testing.T) {
		result, err := tool.Execute(ctx, env.with(map[string]interface{}{"query": "order by $id desc limit 3"}))
		require.NoError(t, err)
		require.False(t, result.IsError, resultTexts(t, result))
	})

	t.Run("all records", func(t *testing.T) {
		result, err := tool.Execute(ctx, env.with(map[string]interface{}{"fields": "$id", "output_mode": "text_only"}))
		require.NoError(t, err)
		require.False(t, result.IsError, resultTexts(t, result))
	})
}

func TestLiveAddRecordAndComments(t *testing.T) {
	env := newLiveEnv(t)
	field := os.Getenv("KINTONE_TEST_TEXT_FIELD")
	if os.Getenv("KINTONE_TEST_WRITE") != "1" || field == "" {
		t.Skip("set KINTONE_TEST_WRITE=1 and KINTONE_TEST_TEXT_FIELD to run write tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := NewAddRecordTool(env.client, env.cfg, env.logger).Execute(ctx, env.with(map[string]interface{}{
		"record_data": map[string]interface{}{
			field: map[string]interface{}{"value": "integration " + time.Now().UTC().Format(time.RFC3339)},
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultTexts(t, result))

	id := decodeText(t, resultTexts(t, result)[0])["id"]
	require.NotEmpty(t, id)

	updated, err := NewUpdateRecordTool(env.client, env.cfg, env.logger).Execute(ctx, env.with(map[string]interface{}{
		"record_id":   id,
		"record_data": map[string]interface{}{field: map[string]interface{}{"value": "integration updated"}},
	}))
	require.NoError(t, err)
	require.False(t, updated.IsError, resultTexts(t, updated))

	posted, err := NewAddRecordCommentTool(env.client, env.cfg, env.logger).Execute(ctx, env.with(map[string]interface{}{
		"record_id":    id,
		"comment_text": "integration comment",
	}))
	require.NoError(t, err)
	require.False(t, posted.IsError, resultTexts(t, posted))

	comments, err := NewGetRecordCommentsTool(env.client, env.cfg, env.logger).Execute(ctx, env.with(map[string]interface{}{
		"record_id": id,
	}))
	require.NoError(t, err)
	require.False(t, comments.IsError, resultTexts(t, comments))
	assert.Contains(t, resultTexts(t, comments)[0], "integration comment")
}
