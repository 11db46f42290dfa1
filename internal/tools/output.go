package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/security"
)

// Output collects the messages of one tool call. Text, JSON and page
// messages become result content; log messages go to zap and, when the
// caller's session is known, to the client as notifications/message.
type Output struct {
	tool          string
	logger        *zap.Logger
	session       *mcp.ServerSession
	progressToken any
	pages         int
	content       []mcp.Content
	structured    interface{}
}

// NewOutput creates an output for tool, picking up the session from ctx.
func NewOutput(ctx context.Context, tool string, logger *zap.Logger) *Output {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Output{
		tool:          tool,
		logger:        logger,
		session:       SessionFromContext(ctx),
		progressToken: ProgressTokenFromContext(ctx),
	}
}

// Log records a labelled diagnostic. data is sanitized first.
func (o *Output) Log(ctx context.Context, label string, data map[string]interface{}) {
	sanitized := security.SanitizeForLogging(data)
	o.logger.Info(label, zap.String("tool", o.tool), zap.Any("data", sanitized))

	if o.session == nil {
		return
	}
	err := o.session.Log(ctx, &mcp.LoggingMessageParams{
		Logger: o.tool,
		Level:  "info",
		Data:   map[string]interface{}{"label": label, "data": sanitized},
	})
	if err != nil {
		o.logger.Debug("Failed to send log notification", zap.String("tool", o.tool), zap.Error(err))
	}
}

// Text adds a text message.
func (o *Output) Text(text string) {
	o.content = append(o.content, &mcp.TextContent{Text: text})
}

// JSON adds a JSON message. The last one is also the structured content of
// the result.
func (o *Output) JSON(v interface{}) {
	o.content = append(o.content, &mcp.TextContent{Text: encodeJSON(v)})
	o.structured = v
}

// Stream adds one page to the result in the order pages are produced. When
// the caller sent a progress token, a progress notification is also sent as
// soon as the page is added. A failed notification does not fail the call.
func (o *Output) Stream(ctx context.Context, v interface{}) error {
	o.pages++
	o.content = append(o.content, &mcp.TextContent{Text: encodeJSON(v)})

	if o.session == nil || o.progressToken == nil {
		return nil
	}
	err := o.session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
		ProgressToken: o.progressToken,
		Progress:      float64(o.pages),
		Message:       fmt.Sprintf("%s: page %d", o.tool, o.pages),
	})
	if err != nil {
		o.logger.Debug("Failed to send progress notification",
			zap.String("tool", o.tool), zap.Int("page", o.pages), zap.Error(err))
	}
	return ctx.Err()
}

// Resource adds an embedded resource such as a downloaded file.
func (o *Output) Resource(rc *mcp.ResourceContents) {
	o.content = append(o.content, &mcp.EmbeddedResource{Resource: rc})
}

// Result builds the successful tool result.
func (o *Output) Result() *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content:           o.content,
		StructuredContent: o.structured,
	}
}

// encodeJSON pretty-prints v without escaping non-ASCII or HTML characters.
func encodeJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return strings.TrimRight(buf.String(), "\n")
}
