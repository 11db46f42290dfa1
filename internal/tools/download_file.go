package tools

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// File download messages.
const (
	MsgFileKeyMissing = "ファイルキーが見つかりません。file_keyパラメータを確認してください。"
	MsgFileTooLarge   = "ファイルサイズが大きすぎます。15MB以下のファイルを指定してください。"
)

// MaxDownloadBytes bounds a single downloaded file.
const MaxDownloadBytes = 15 * 1024 * 1024

// DownloadFileTool fetches an attachment by fileKey and returns it as an
// embedded resource.
type DownloadFileTool struct {
	*BaseTool
}

// NewDownloadFileTool creates a new tool instance
func NewDownloadFileTool(c *client.Client, cfg *config.Config, logger *zap.Logger) *DownloadFileTool {
	return &DownloadFileTool{
		BaseTool: NewBaseTool(c, cfg, logger),
	}
}

// Name returns the tool name
func (t *DownloadFileTool) Name() string {
	return "kintone_download_file"
}

// Annotations returns tool hints for LLMs
func (t *DownloadFileTool) Annotations() *mcp.ToolAnnotations {
	return ReadOnlyAnnotations("Download kintone File")
}

// Description returns the tool description
func (t *DownloadFileTool) Description() string {
	return `Download a file attached to a kintone record.

file_key is the fileKey found in the value of an attachment field returned by kintone_query.
The file is returned as an embedded resource followed by its metadata. Files larger than 15MB are rejected.`
}

// InputSchema returns the input schema
func (t *DownloadFileTool) InputSchema() interface{} {
	return connectionSchema(map[string]interface{}{
		"file_key": map[string]interface{}{
			"type":        "string",
			"description": "fileKey of the attachment",
		},
	}, "file_key")
}

// Execute executes the tool
func (t *DownloadFileTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	creds, err := ResolveConnection(arguments, t.cfg, t.DefaultTimeout())
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	fileKey, _ := GetStringParam(arguments, "file_key")
	fileKey = strings.TrimSpace(fileKey)
	if fileKey == "" {
		return t.fail(t.Name(), mcperrors.NewMissingParameter("file_key", MsgFileKeyMissing)), nil
	}

	out := NewOutput(ctx, t.Name(), t.logger)
	out.Log(ctx, "Received parameters", map[string]interface{}{
		"kintone_domain": creds.BaseURL,
		"file_key":       fileKey,
	})

	file, err := t.api(creds).DownloadFile(ctx, fileKey, MaxDownloadBytes)
	if errors.Is(err, client.ErrResponseTooLarge) {
		return t.fail(t.Name(), mcperrors.NewInvalidInput(MsgFileTooLarge)), nil
	}
	if err != nil {
		return t.failNotFound(t.Name(), err, mcperrors.NewFileNotFound), nil
	}

	downloadURL := strings.TrimRight(creds.BaseURL, "/") + client.PathFile + "?fileKey=" + url.QueryEscape(fileKey)
	if len(file.Data) > MaxDownloadBytes*9/10 {
		t.logger.Info("Large file download",
			zap.Int("size", len(file.Data)),
			zap.Int("threshold", MaxDownloadBytes),
		)
	}

	out.Resource(&mcp.ResourceContents{
		URI:      downloadURL,
		MIMEType: file.ContentType,
		Blob:     file.Data,
	})
	out.JSON(map[string]interface{}{
		"file_key":     fileKey,
		"mime_type":    file.ContentType,
		"size":         len(file.Data),
		"file_name":    optionalString(file.FileName),
		"download_url": downloadURL,
	})
	return out.Result(), nil
}
