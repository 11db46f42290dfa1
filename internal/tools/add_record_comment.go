package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// Comment posting messages.
const (
	MsgCommentTextMissing  = "comment_text を指定してください。"
	MsgCommentTextBlank    = "comment_text には空でない文字列を指定してください。"
	MsgCommentTextTooLong  = "comment_text は10000文字以内に収めてください。"
	MsgMentionsBadJSON     = "mentions には有効なJSON文字列または配列を指定してください。"
	MsgMentionsBadType     = "mentions にはリスト、オブジェクト、またはJSON文字列を指定してください。"
	MsgMentionNotObject    = "mentions の各要素はcode/typeを含むオブジェクトである必要があります。"
	MsgMentionsTooMany     = "mentions は最大10件まで指定できます。"
	MsgCommentIDMissing    = "コメントの投稿に成功しましたが、コメントIDを取得できませんでした。"
	mentionTypesForMessage = "GROUP, ORGANIZATION, USER"
)

// Comment limits enforced before calling kintone.
const (
	MaxCommentTextLength = 10000
	MaxMentions          = 10
)

var mentionTypes = map[string]bool{"USER": true, "GROUP": true, "ORGANIZATION": true}

// AddRecordCommentTool posts a comment on one record.
type AddRecordCommentTool struct {
	*BaseTool
}

// NewAddRecordCommentTool creates a new tool instance
func NewAddRecordCommentTool(c *client.Client, cfg *config.Config, logger *zap.Logger) *AddRecordCommentTool {
	return &AddRecordCommentTool{
		BaseTool: NewBaseTool(c, cfg, logger),
	}
}

// Name returns the tool name
func (t *AddRecordCommentTool) Name() string {
	return "kintone_add_record_comment"
}

// Annotations returns tool hints for LLMs
func (t *AddRecordCommentTool) Annotations() *mcp.ToolAnnotations {
	return CreateAnnotations("Add kintone Record Comment")
}

// DefaultTimeout returns the request timeout used when request_timeout is blank.
func (t *AddRecordCommentTool) DefaultTimeout() time.Duration {
	return DefaultWriteTimeout
}

// Description returns the tool description
func (t *AddRecordCommentTool) Description() string {
	return `Post a comment on a kintone record.

comment_text is required (up to 10000 characters).
mentions is optional, up to 10 entries of {"code": "...", "type": "USER" | "GROUP" | "ORGANIZATION"},
given as a list, a single object or JSON text.`
}

// InputSchema returns the input schema
func (t *AddRecordCommentTool) InputSchema() interface{} {
	return objectSchema(map[string]interface{}{
		"record_id": map[string]interface{}{
			"type":        []string{"integer", "string"},
			"description": "Record ID",
		},
		"comment_text": map[string]interface{}{
			"type":        "string",
			"description": "Comment body",
		},
		"mentions": map[string]interface{}{
			"type":        []string{"array", "object", "string"},
			"description": `Mentions as [{"code": "user1", "type": "USER"}]`,
		},
	}, "kintone_app_id", "record_id", "comment_text")
}

// Execute executes the tool
func (t *AddRecordCommentTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	creds, err := t.credentials(arguments, t.DefaultTimeout())
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	record, ok := ParsePositiveInt(arguments["record_id"])
	if !ok {
		return t.fail(t.Name(), mcperrors.NewInvalidInput(MsgRecordIDInvalid)), nil
	}
	text, err := parseCommentText(arguments["comment_text"])
	if err != nil {
		return t.fail(t.Name(), err), nil
	}
	mentions, err := ParseMentions(arguments["mentions"])
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	out := NewOutput(ctx, t.Name(), t.logger)
	out.Log(ctx, "Received parameters", map[string]interface{}{
		"kintone_domain": creds.BaseURL,
		"kintone_app_id": creds.AppID,
		"record_id":      record,
		"comment_length": utf8.RuneCountInString(text),
		"mentions_count": len(mentions),
	})

	resp, err := t.api(creds).AddComment(ctx, client.AddCommentRequest{
		App:     creds.AppID,
		Record:  record,
		Comment: client.Comment{Text: text, Mentions: mentions},
	})
	if err != nil {
		return t.failRecord(t.Name(), err), nil
	}

	commentID := stringValue(resp["id"])
	if commentID == "" {
		return NewToolResultError(MsgCommentIDMissing), nil
	}

	t.logger.Info("Comment added",
		zap.Int64("app", creds.AppID),
		zap.Int64("record", record),
		zap.String("comment", commentID),
	)

	summary := map[string]interface{}{
		"comment_id":     commentID,
		"record_id":      record,
		"app_id":         creds.AppID,
		"mentions_count": len(mentions),
	}
	if createdAt, ok := resp["createdAt"]; ok {
		summary["created_at"] = createdAt
	}
	if creator, ok := resp["creator"].(map[string]interface{}); ok {
		summary["creator"] = creator
	}
	out.JSON(summary)

	suffix := ""
	if len(mentions) > 0 {
		suffix = fmt.Sprintf(" / メンション %d 件", len(mentions))
	}
	out.Text(fmt.Sprintf("レコードID %d へのコメント投稿が完了しました (コメントID: %s%s)", record, commentID, suffix))
	return out.Result(), nil
}

func parseCommentText(v interface{}) (string, error) {
	if v == nil {
		return "", mcperrors.NewMissingParameter("comment_text", MsgCommentTextMissing)
	}
	text, ok := v.(string)
	if !ok {
		text = fmt.Sprint(v)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", mcperrors.NewInvalidInput(MsgCommentTextBlank)
	}
	if utf8.RuneCountInString(text) > MaxCommentTextLength {
		return "", mcperrors.NewInvalidInput(MsgCommentTextTooLong)
	}
	return text, nil
}

// ParseMentions reads mentions given as a list, a single object or JSON
// text of either. Types are upper-cased. A blank value means no mentions.
func ParseMentions(v interface{}) ([]client.Mention, error) {
	if IsBlank(v) {
		return nil, nil
	}

	if text, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, mcperrors.NewInvalidInput(MsgMentionsBadJSON)
		}
	}

	var items []interface{}
	switch typed := v.(type) {
	case []interface{}:
		items = typed
	case map[string]interface{}:
		items = []interface{}{typed}
	default:
		return nil, mcperrors.NewInvalidInput(MsgMentionsBadType)
	}

	mentions := make([]client.Mention, 0, len(items))
	for i, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, mcperrors.NewInvalidInput(MsgMentionNotObject)
		}
		code := strings.TrimSpace(stringValue(entry["code"]))
		kind := strings.ToUpper(strings.TrimSpace(stringValue(entry["type"])))
		if code == "" {
			return nil, mcperrors.NewInvalidInput(fmt.Sprintf("mentions[%d] のcodeが空です。", i+1))
		}
		if !mentionTypes[kind] {
			return nil, mcperrors.NewInvalidInput(fmt.Sprintf("mentions[%d] のtypeは %s から指定してください。", i+1, mentionTypesForMessage))
		}
		mentions = append(mentions, client.Mention{Code: code, Type: kind})
	}
	if len(mentions) > MaxMentions {
		return nil, mcperrors.NewInvalidInput(MsgMentionsTooMany)
	}
	return mentions, nil
}

// stringValue renders scalar JSON values as text and returns "" for nil.
func stringValue(v interface{}) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
