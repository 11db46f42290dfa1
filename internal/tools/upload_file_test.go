package tools

import (
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

func newUploadFileTool(serverURL string) *UploadFileTool {
	cfg := newTestConfig(serverURL)
	return NewUploadFileTool(newTestClient(cfg), cfg, zap.NewNop())
}

// uploadedPart is the single multipart part received by the fake API.
type uploadedPart struct {
	fileName    string
	contentType string
	data        string
}

func readUploadedPart(t *testing.T, r *http.Request) uploadedPart {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	assert.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	part, err := multipart.NewReader(r.Body, params["boundary"]).NextPart()
	if !assert.NoError(t, err) {
		return uploadedPart{}
	}
	assert.Equal(t, "file", part.FormName())
	data, err := io.ReadAll(part)
	assert.NoError(t, err)
	return uploadedPart{fileName: part.FileName(), contentType: part.Header.Get("Content-Type"), data: string(data)}
}

func TestUploadFileSuccess(t *testing.T) {
	var got uploadedPart
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/k/v1/file.json", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Cybozu-API-Token"))
		got = readUploadedPart(t, r)
		_, _ = w.Write([]byte(`{"fileKey":"c15b3870-7505-4ab6-9d8d-b9bdbc74af6d"}`))
	}))
	defer server.Close()

	result, err := newUploadFileTool(server.URL).Execute(context.Background(), map[string]interface{}{
		"file_name":      `C:\reports\memo.txt`,
		"content_base64": base64.StdEncoding.EncodeToString([]byte("hello kintone")),
	})
	require.NoError(t, err)
	require.False(t, result.IsError, resultTexts(t, result))

	assert.Equal(t, "memo.txt", got.fileName)
	assert.Equal(t, "hello kintone", got.data)
	assert.True(t, strings.HasPrefix(got.contentType, "text/plain"), got.contentType)

	texts := resultTexts(t, result)
	require.Len(t, texts, 2)
	summary := decodeText(t, texts[0])
	assert.Equal(t, []interface{}{map[string]interface{}{"fileKey": "c15b3870-7505-4ab6-9d8d-b9bdbc74af6d"}}, summary["uploaded_files"])
	details := summary["details"].([]interface{})
	require.Len(t, details, 1)
	assert.Equal(t, float64(13), details[0].(map[string]interface{})["size"])
	assert.Equal(t, "ファイル 'memo.txt' のアップロードに成功しました。fileKey: c15b3870-7505-4ab6-9d8d-b9bdbc74af6d", texts[1])
}

func TestUploadFileContentType(t *testing.T) {
	var got uploadedPart
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = readUploadedPart(t, r)
		_, _ = w.Write([]byte(`{"fileKey":"k"}`))
	}))
	defer server.Close()
	tool := newUploadFileTool(server.URL)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	t.Run("detected from content", func(t *testing.T) {
		_, err := tool.Execute(context.Background(), map[string]interface{}{
			"file_name":      "chart.png",
			"content_base64": base64.StdEncoding.EncodeToString(png),
		})
		require.NoError(t, err)
		assert.Equal(t, "image/png", got.contentType)
	})

	t.Run("taken from data url", func(t *testing.T) {
		_, err := tool.Execute(context.Background(), map[string]interface{}{
			"file_name":      "data.csv",
			"content_base64": "data:text/csv;base64," + base64.StdEncoding.EncodeToString([]byte("a,b\n1,2\n")),
		})
		require.NoError(t, err)
		assert.Equal(t, "text/csv", got.contentType)
		assert.Equal(t, "a,b\n1,2\n", got.data)
	})

	t.Run("explicit value wins", func(t *testing.T) {
		_, err := tool.Execute(context.Background(), map[string]interface{}{
			"file_name":      "chart.bin",
			"content_base64": base64.StdEncoding.EncodeToString(png),
			"content_type":   "application/octet-stream",
		})
		require.NoError(t, err)
		assert.Equal(t, "application/octet-stream", got.contentType)
	})
}

func TestUploadFileErrors(t *testing.T) {
	t.Run("missing fileKey", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer server.Close()

		result, err := newUploadFileTool(server.URL).Execute(context.Background(), map[string]interface{}{
			"file_name": "a.txt", "content_base64": "YQ==",
		})
		require.NoError(t, err)
		assert.Equal(t, MsgUploadFileKeyEmpty, errorText(t, result))
	})

	t.Run("not found points at the domain", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		result, err := newUploadFileTool(server.URL).Execute(context.Background(), map[string]interface{}{
			"file_name": "a.txt", "content_base64": "YQ==",
		})
		require.NoError(t, err)
		assert.Equal(t, mcperrors.MsgEndpoint, errorText(t, result))
	})

	t.Run("invalid input never calls kintone", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()
		tool := newUploadFileTool(server.URL)

		cases := []struct {
			args map[string]interface{}
			want string
		}{
			{map[string]interface{}{"content_base64": "YQ=="}, MsgUploadNameMissing},
			{map[string]interface{}{"file_name": "a.txt"}, MsgUploadMissing},
			{map[string]interface{}{"file_name": "a.txt", "content_base64": "***"}, MsgUploadBadBase64},
			{map[string]interface{}{"file_name": "a.txt", "content_base64": "data:text/plain;base64,"}, "ファイル 'a.txt' の内容が空です。別のファイルを指定してください。"},
			{map[string]interface{}{"file_name": "what?.txt", "content_base64": "YQ=="}, MsgUploadNameInvalid},
		}
		for _, tc := range cases {
			result, err := tool.Execute(context.Background(), tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.want, errorText(t, result))
		}
		assert.Zero(t, calls.Load())
	})
}

func TestNormalizeFileName(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr string
	}{
		{input: "report.pdf", want: "report.pdf"},
		{input: " dir/sub/報告書.xlsx ", want: "報告書.xlsx"},
		{input: `C:\tmp\a.txt`, want: "a.txt"},
		{input: "", wantErr: MsgUploadNameMissing},
		{input: "dir/", wantErr: MsgUploadNameInvalid},
		{input: "a<b>.txt", wantErr: MsgUploadNameInvalid},
		{input: strings.Repeat("あ", 86), wantErr: MsgUploadNameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeFileName(tt.input)
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

func TestDecodeFileContent(t *testing.T) {
	for _, encoded := range []string{"aGVsbG8=", "aGVsbG8", "aGVs\nbG8=", "data:text/plain;base64,aGVsbG8="} {
		data, _, err := DecodeFileContent(encoded)
		require.NoError(t, err, encoded)
		assert.Equal(t, "hello", string(data), encoded)
	}

	_, mediaType, err := DecodeFileContent("data:image/gif;base64,R0lGODlh")
	require.NoError(t, err)
	assert.Equal(t, "image/gif", mediaType)

	_, _, err = DecodeFileContent("data:text/plain,hello")
	require.Error(t, err)
	assert.Equal(t, MsgUploadBadBase64, mcperrors.UserMessage(err))
}
