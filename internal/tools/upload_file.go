package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// File upload messages.
const (
	MsgUploadMissing      = "アップロードするファイルが見つかりません。content_base64パラメータを確認してください。"
	MsgUploadNameMissing  = "file_name を指定してください。"
	MsgUploadBadBase64    = "ファイルデータをbase64として解釈できませんでした。"
	MsgUploadNameInvalid  = "ファイル名に使用できない文字が含まれています。"
	MsgUploadNameTooLong  = "ファイル名が長すぎます。255バイト以下にしてください。"
	MsgUploadFileKeyEmpty = "ファイルはアップロードされましたが、fileKeyを取得できませんでした。"
)

// File transfer limits.
const (
	MaxUploadBytes   = 32 * 1024 * 1024
	MaxFileNameBytes = 255
)

var fileNamePattern = regexp.MustCompile(`^[^\\/:*?"<>|]+$`)

// UploadedFile describes one stored temporary file.
type UploadedFile struct {
	FileKey  string `json:"fileKey"`
	FileName string `json:"file_name"`
	Size     int    `json:"size"`
	MIMEType string `json:"mime_type"`
}

// UploadFileTool stores a file in kintone and returns its fileKey for use in
// an attachment field.
type UploadFileTool struct {
	*BaseTool
}

// NewUploadFileTool creates a new tool instance
func NewUploadFileTool(c *client.Client, cfg *config.Config, logger *zap.Logger) *UploadFileTool {
	return &UploadFileTool{
		BaseTool: NewBaseTool(c, cfg, logger),
	}
}

// Name returns the tool name
func (t *UploadFileTool) Name() string {
	return "kintone_upload_file"
}

// Annotations returns tool hints for LLMs
func (t *UploadFileTool) Annotations() *mcp.ToolAnnotations {
	return CreateAnnotations("Upload File to kintone")
}

// Description returns the tool description
func (t *UploadFileTool) Description() string {
	return `Upload one file to kintone and return its fileKey.

content_base64 holds the file bytes as base64 (a data: URL is accepted).
The fileKey is temporary: attach it to a record within three days, e.g. with kintone_add_record:
{"attachment": {"value": [{"fileKey": "<fileKey>"}]}}

Files up to 32MB are accepted. content_type is detected from the bytes when blank.`
}

// InputSchema returns the input schema
func (t *UploadFileTool) InputSchema() interface{} {
	return connectionSchema(map[string]interface{}{
		"file_name": map[string]interface{}{
			"type":        "string",
			"description": "File name stored in kintone; directories are dropped",
		},
		"content_base64": map[string]interface{}{
			"type":        "string",
			"description": "File content encoded as base64",
		},
		"content_type": map[string]interface{}{
			"type":        "string",
			"description": "MIME type. Detected from the content when blank.",
		},
	}, "file_name", "content_base64")
}

// Execute executes the tool
func (t *UploadFileTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	creds, err := ResolveConnection(arguments, t.cfg, t.DefaultTimeout())
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	rawName, _ := GetStringParam(arguments, "file_name")
	name, err := NormalizeFileName(rawName)
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	encoded, _ := GetStringParam(arguments, "content_base64")
	data, declaredType, err := DecodeFileContent(encoded)
	if err != nil {
		return t.fail(t.Name(), err), nil
	}
	if len(data) == 0 {
		return t.fail(t.Name(), mcperrors.NewInvalidInput(fmt.Sprintf("ファイル '%s' の内容が空です。別のファイルを指定してください。", name))), nil
	}
	if len(data) > MaxUploadBytes {
		return t.fail(t.Name(), mcperrors.NewInvalidInput(fmt.Sprintf("ファイル '%s' のサイズが大きすぎます。32MB 以下のファイルを指定してください。", name))), nil
	}

	contentType, _ := GetStringParam(arguments, "content_type")
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = declaredType
	}
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	out := NewOutput(ctx, t.Name(), t.logger)
	out.Log(ctx, "Received parameters", map[string]interface{}{
		"kintone_domain": creds.BaseURL,
		"file_name":      name,
		"size":           len(data),
		"mime_type":      contentType,
	})

	fileKey, err := t.api(creds).UploadFile(ctx, name, contentType, data)
	if err != nil {
		return t.failNotFound(t.Name(), err, mcperrors.NewEndpointNotFound), nil
	}
	if fileKey == "" {
		return NewToolResultError(MsgUploadFileKeyEmpty), nil
	}

	t.logger.Info("File uploaded",
		zap.String("file_name", name),
		zap.Int("size", len(data)),
		zap.String("mime_type", contentType),
	)

	uploaded := UploadedFile{FileKey: fileKey, FileName: name, Size: len(data), MIMEType: contentType}
	out.JSON(map[string]interface{}{
		"uploaded_files": []map[string]string{{"fileKey": fileKey}},
		"details":        []UploadedFile{uploaded},
	})
	out.Text(fmt.Sprintf("ファイル '%s' のアップロードに成功しました。fileKey: %s", name, fileKey))
	return out.Result(), nil
}

// NormalizeFileName keeps the last path segment of name and checks it
// against the characters and length kintone accepts.
func NormalizeFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", mcperrors.NewMissingParameter("file_name", MsgUploadNameMissing)
	}
	name = strings.ReplaceAll(name, `\`, "/")
	name = name[strings.LastIndex(name, "/")+1:]
	if !fileNamePattern.MatchString(name) {
		return "", mcperrors.NewInvalidInput(MsgUploadNameInvalid)
	}
	if len(name) > MaxFileNameBytes {
		return "", mcperrors.NewInvalidInput(MsgUploadNameTooLong)
	}
	return name, nil
}

// DecodeFileContent decodes base64 file content. A data: URL prefix is
// stripped and its media type returned.
func DecodeFileContent(encoded string) ([]byte, string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, "", mcperrors.NewMissingParameter("content_base64", MsgUploadMissing)
	}

	var mediaType string
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 || !strings.HasSuffix(encoded[:comma], ";base64") {
			return nil, "", mcperrors.NewInvalidInput(MsgUploadBadBase64)
		}
		mediaType = strings.TrimSuffix(strings.TrimPrefix(encoded[:comma], "data:"), ";base64")
		encoded = encoded[comma+1:]
	}
	encoded = strings.Join(strings.Fields(encoded), "")

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(encoded); err == nil {
			return data, mediaType, nil
		}
	}
	return nil, "", mcperrors.NewInvalidInput(MsgUploadBadBase64)
}
