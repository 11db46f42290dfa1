package client

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/IBM/go-sdk-core/v5/core"
)

// kintone REST API paths
const (
	PathRecords     = "/k/v1/records.json"
	PathRecord      = "/k/v1/record.json"
	PathFormFields  = "/k/v1/app/form/fields.json"
	PathRecComments = "/k/v1/record/comments.json"
	PathRecComment  = "/k/v1/record/comment.json"
	PathFile        = "/k/v1/file.json"
)

// Endpoint identifies one kintone domain and the credentials used against it.
type Endpoint struct {
	BaseURL string
	Auth    core.Authenticator
	Timeout time.Duration
}

// API issues kintone calls against a single Endpoint.
type API struct {
	client   *Client
	endpoint Endpoint
}

// API binds the shared client to an endpoint for the duration of one tool call.
func (c *Client) API(ep Endpoint) *API {
	return &API{client: c, endpoint: ep}
}

func (a *API) request(method, path, override string, body interface{}) *Request {
	return &Request{
		Method:         method,
		BaseURL:        a.endpoint.BaseURL,
		Path:           path,
		Body:           body,
		MethodOverride: override,
		Timeout:        a.endpoint.Timeout,
		Auth:           a.endpoint.Auth,
	}
}

// GetRecordsRequest is the body of a records query.
type GetRecordsRequest struct {
	App    int64    `json:"app"`
	Query  string   `json:"query"`
	Fields []string `json:"fields,omitempty"`
}

type getRecordsResponse struct {
	Records []map[string]interface{} `json:"records"`
}

// GetRecords runs one records query. A response without "records" yields an
// empty page.
func (a *API) GetRecords(ctx context.Context, in GetRecordsRequest) ([]map[string]interface{}, error) {
	var out getRecordsResponse
	req := a.request(http.MethodPost, PathRecords, http.MethodGet, in)
	if err := a.client.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// GetFormFields returns the "properties" map of an app's form fields.
func (a *API) GetFormFields(ctx context.Context, app int64) (map[string]interface{}, error) {
	var out struct {
		Properties map[string]interface{} `json:"properties"`
	}
	req := a.request(http.MethodPost, PathFormFields, http.MethodGet, map[string]interface{}{"app": app})
	if err := a.client.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out.Properties, nil
}

// CommentsRequest is the body of a record comments query.
type CommentsRequest struct {
	App    int64  `json:"app"`
	Record int64  `json:"record"`
	Order  string `json:"order"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// CommentsPage is one page of record comments.
type CommentsPage struct {
	Comments []map[string]interface{} `json:"comments"`
	Older    bool                     `json:"older"`
	Newer    bool                     `json:"newer"`
}

// GetComments fetches one page of comments on a record.
func (a *API) GetComments(ctx context.Context, in CommentsRequest) (*CommentsPage, error) {
	var out CommentsPage
	req := a.request(http.MethodPost, PathRecComments, http.MethodGet, in)
	if err := a.client.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddRecordResult is the response of a record creation. kintone sends both
// values as JSON strings.
type AddRecordResult struct {
	ID       string `json:"id"`
	Revision string `json:"revision"`
}

// AddRecord creates one record.
func (a *API) AddRecord(ctx context.Context, app int64, record map[string]interface{}) (*AddRecordResult, error) {
	var out AddRecordResult
	body := map[string]interface{}{"app": app, "record": record}
	req := a.request(http.MethodPost, PathRecord, "", body)
	if err := a.client.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mention addresses a comment to a user, group or organization.
type Mention struct {
	Code string `json:"code"`
	Type string `json:"type"`
}

// Comment is the body of a new record comment.
type Comment struct {
	Text     string    `json:"text"`
	Mentions []Mention `json:"mentions,omitempty"`
}

// AddCommentRequest is the body of a comment creation.
type AddCommentRequest struct {
	App     int64   `json:"app"`
	Record  int64   `json:"record"`
	Comment Comment `json:"comment"`
}

// AddComment posts a comment on a record and returns the raw response.
func (a *API) AddComment(ctx context.Context, in AddCommentRequest) (map[string]interface{}, error) {
	var out map[string]interface{}
	req := a.request(http.MethodPost, PathRecComment, "", in)
	if err := a.client.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateKey identifies a record by a unique field instead of its id.
type UpdateKey struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// UpdateRecordRequest is the body of a single record update. Exactly one of
// ID and UpdateKey is normally set.
type UpdateRecordRequest struct {
	App       int64                  `json:"app"`
	ID        int64                  `json:"id,omitempty"`
	UpdateKey *UpdateKey             `json:"updateKey,omitempty"`
	Record    map[string]interface{} `json:"record"`
}

// UpdateRecord updates one record and returns the raw response.
func (a *API) UpdateRecord(ctx context.Context, in UpdateRecordRequest) (map[string]interface{}, error) {
	var out map[string]interface{}
	req := a.request(http.MethodPost, PathRecord, http.MethodPut, in)
	if err := a.client.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertRecords updates or inserts up to 100 records in one call. Each entry
// is {"updateKey": {...}, "record": {...}}.
func (a *API) UpsertRecords(ctx context.Context, app int64, records []interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	body := map[string]interface{}{"app": app, "records": records, "upsert": true}
	req := a.request(http.MethodPost, PathRecords, http.MethodPut, body)
	if err := a.client.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// UploadFile stores data as a temporary kintone file and returns its fileKey.
// An empty key with a nil error means kintone answered without one.
func (a *API) UploadFile(ctx context.Context, name, contentType string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	req := a.request(http.MethodPost, PathFile, "", nil)
	req.RawBody = buf.Bytes()
	req.ContentType = w.FormDataContentType()

	var out struct {
		FileKey string `json:"fileKey"`
	}
	if err := a.client.DoJSON(ctx, req, &out); err != nil {
		return "", err
	}
	return out.FileKey, nil
}

// File is a downloaded kintone file.
type File struct {
	Data        []byte
	ContentType string
	FileName    string
}

// DownloadFile fetches the file behind fileKey. Files larger than maxBytes
// fail with ErrResponseTooLarge.
func (a *API) DownloadFile(ctx context.Context, fileKey string, maxBytes int64) (*File, error) {
	req := a.request(http.MethodGet, PathFile, "", nil)
	req.Query = url.Values{"fileKey": {fileKey}}
	req.Headers = map[string]string{"Accept": "*/*"}
	req.MaxResponseBytes = maxBytes

	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &File{
		Data:        resp.Body,
		ContentType: contentType,
		FileName:    FileNameFromDisposition(resp.Headers.Get("Content-Disposition")),
	}, nil
}

// FileNameFromDisposition returns the filename of a Content-Disposition
// header, preferring the RFC 5987 filename* form. It returns "" when absent.
func FileNameFromDisposition(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
