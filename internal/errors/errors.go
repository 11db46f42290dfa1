// Package mcperrors defines the structured errors surfaced to MCP clients,
// including the user-facing messages for kintone API failures.
package mcperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrorCategory classifies the type of error
type ErrorCategory string

const (
	// ClientError indicates the error was caused by the client (4xx or bad input)
	ClientError ErrorCategory = "CLIENT_ERROR"
	// ServerError indicates the error was caused by the server (5xx)
	ServerError ErrorCategory = "SERVER_ERROR"
	// ExternalError indicates the error was caused by an external dependency
	ExternalError ErrorCategory = "EXTERNAL_ERROR"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Client errors
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeLimitTooLarge    ErrorCode = "LIMIT_TOO_LARGE"
	CodeAppNotFound      ErrorCode = "APP_NOT_FOUND"
	CodeRecordNotFound   ErrorCode = "RECORD_NOT_FOUND"
	CodeFileNotFound     ErrorCode = "FILE_NOT_FOUND"
	CodeEndpointNotFound ErrorCode = "ENDPOINT_NOT_FOUND"
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	CodeForbidden        ErrorCode = "FORBIDDEN"

	// Server errors
	CodeInternalError ErrorCode = "INTERNAL_ERROR"
	CodeTimeout       ErrorCode = "TIMEOUT"

	// External errors
	CodeAPIError        ErrorCode = "API_ERROR"
	CodeNetworkError    ErrorCode = "NETWORK_ERROR"
	CodeParseError      ErrorCode = "PARSE_ERROR"
	CodeCursorLost      ErrorCode = "CURSOR_LOST"
	CodeUnexpectedError ErrorCode = "UNEXPECTED_ERROR"
)

// User-facing messages.
const (
	MsgTimeout        = "kintone APIへのリクエストがタイムアウトしました。ネットワーク接続を確認してください。"
	MsgParse          = "kintone APIからの応答を解析できませんでした。無効なJSONレスポンスです。"
	MsgAuth           = "kintone APIの認証に失敗しました。APIトークンを確認してください。"
	MsgForbidden      = "kintone APIへのアクセス権限がありません。APIトークンの権限を確認してください。"
	MsgNotFound       = "指定されたkintoneアプリが見つかりません。アプリIDを確認してください。"
	MsgRecordNotFound = "対象のkintoneアプリまたはレコードが見つかりません。app_idとrecord_idを確認してください。"
	MsgFileNotFound   = "指定されたファイルが見つかりません。file_keyを確認してください。"
	MsgEndpoint       = "kintone APIのエンドポイントが見つかりません。ドメイン設定を確認してください。"
	MsgCursorLost     = "$id フィールドを取得できなかったためページネーションを継続できません。fields パラメータをご確認ください。"
	MsgLimitCap       = "kintone REST APIのlimit上限は500です。全件取得する場合はlimitを省略してください。"
)

// MaxDetailLength bounds the response-body excerpt appended to HTTP error messages.
const MaxDetailLength = 200

// StructuredError represents a detailed error with category, code, and recovery suggestion
type StructuredError struct {
	Code       ErrorCode     `json:"code"`
	Category   ErrorCategory `json:"category"`
	Message    string        `json:"message"`
	Details    interface{}   `json:"details,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// ToJSON converts the error to JSON string
func (e *StructuredError) ToJSON() string {
	bytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"code":"%s","category":"%s","message":"%s"}`, e.Code, e.Category, e.Message)
	}
	return string(bytes)
}

// New creates a new structured error
func New(code ErrorCode, category ErrorCategory, message string) *StructuredError {
	return &StructuredError{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

// WithDetails adds details to the error
func (e *StructuredError) WithDetails(details interface{}) *StructuredError {
	e.Details = details
	return e
}

// WithSuggestion adds a recovery suggestion to the error
func (e *StructuredError) WithSuggestion(suggestion string) *StructuredError {
	e.Suggestion = suggestion
	return e
}

// UserMessage returns the text shown to the caller for err: the Message of a
// StructuredError, or the generic unexpected-error wording for anything else.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Message
	}
	return NewUnexpected(err).Message
}

// NewInvalidInput creates an invalid input error
func NewInvalidInput(message string) *StructuredError {
	return New(CodeInvalidInput, ClientError, message)
}

// NewMissingParameter creates a missing parameter error carrying a user-facing message.
func NewMissingParameter(param, message string) *StructuredError {
	return New(CodeMissingParameter, ClientError, message).
		WithDetails(map[string]interface{}{"parameter": param})
}

// NewLimitTooLarge is returned when a query asks for more than one request can carry.
func NewLimitTooLarge(limit int) *StructuredError {
	return New(CodeLimitTooLarge, ClientError, MsgLimitCap).
		WithDetails(map[string]interface{}{"limit": limit})
}

// NewTimeout creates a timeout error
func NewTimeout() *StructuredError {
	return New(CodeTimeout, ServerError, MsgTimeout).
		WithSuggestion("Increase request_timeout or check network connectivity")
}

// NewNetworkError creates a network error
func NewNetworkError(err error) *StructuredError {
	return New(CodeNetworkError, ExternalError, fmt.Sprintf("kintone APIへの接続中にエラーが発生しました: %v", err))
}

// NewParseError creates an error for a response body that is not JSON.
func NewParseError() *StructuredError {
	return New(CodeParseError, ExternalError, MsgParse)
}

// NewCursorLost is returned when a page lacks the $id needed to request the next one.
func NewCursorLost() *StructuredError {
	return New(CodeCursorLost, ClientError, MsgCursorLost).
		WithSuggestion("Include $id in fields or leave fields empty")
}

// NewUnexpected wraps an unclassified failure.
func NewUnexpected(err error) *StructuredError {
	return New(CodeUnexpectedError, ServerError, fmt.Sprintf("kintone API 呼び出し中に予期しないエラーが発生しました: %v", err))
}

// FromHTTPStatus creates an appropriate error from HTTP status code. A
// non-empty response body is appended to the message as a short detail.
func FromHTTPStatus(statusCode int, responseBody string) *StructuredError {
	var se *StructuredError
	switch {
	case statusCode == http.StatusUnauthorized:
		se = New(CodeUnauthorized, ClientError, MsgAuth)
	case statusCode == http.StatusForbidden:
		se = New(CodeForbidden, ClientError, MsgForbidden)
	case statusCode == http.StatusNotFound:
		se = New(CodeAppNotFound, ClientError, MsgNotFound)
	case statusCode >= 500:
		se = New(CodeAPIError, ServerError, fmt.Sprintf("kintoneサーバーでエラーが発生しました（ステータスコード: %d）。", statusCode))
	default:
		status := strings.TrimSpace(fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)))
		se = New(CodeAPIError, ClientError, fmt.Sprintf("kintone APIリクエスト中にHTTPエラーが発生しました: %s", status))
	}

	detail := Detail(responseBody)
	if detail != "" {
		se.Message = se.Message + " 詳細: " + detail
	}
	return se.WithDetails(map[string]interface{}{
		"status_code": statusCode,
	})
}

// NewRecordNotFound is the 404 of a call that targets one record, where
// either the app or the record may be missing.
func NewRecordNotFound(responseBody string) *StructuredError {
	return notFound(CodeRecordNotFound, MsgRecordNotFound, responseBody)
}

// NewFileNotFound is the 404 of a file download.
func NewFileNotFound(responseBody string) *StructuredError {
	return notFound(CodeFileNotFound, MsgFileNotFound, responseBody)
}

// NewEndpointNotFound is the 404 of a call that is not scoped to an app,
// which usually means a wrong domain.
func NewEndpointNotFound(responseBody string) *StructuredError {
	return notFound(CodeEndpointNotFound, MsgEndpoint, responseBody)
}

func notFound(code ErrorCode, message, responseBody string) *StructuredError {
	se := New(code, ClientError, message)
	if detail := Detail(responseBody); detail != "" {
		se.Message = se.Message + " 詳細: " + detail
	}
	return se.WithDetails(map[string]interface{}{"status_code": http.StatusNotFound})
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Detail collapses whitespace in a response body and shortens it to
// MaxDetailLength characters.
func Detail(body string) string {
	text := strings.TrimSpace(body)
	if text == "" {
		return ""
	}
	text = whitespaceRun.ReplaceAllString(text, " ")
	if utf8.RuneCountInString(text) > MaxDetailLength {
		runes := []rune(text)
		text = string(runes[:MaxDetailLength-3]) + "..."
	}
	return text
}
