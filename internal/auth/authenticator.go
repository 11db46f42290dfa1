// Package auth implements kintone API token authentication.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/IBM/go-sdk-core/v5/core"
)

const (
	// HeaderAPIToken carries one or more comma-joined kintone API tokens.
	HeaderAPIToken = "X-Cybozu-API-Token"

	// AuthTypeAPIToken is reported by TokenAuthenticator.AuthenticationType.
	AuthTypeAPIToken = "kintoneApiToken"

	// MaxTokens is the number of API tokens kintone accepts in one request.
	MaxTokens = 9
)

// User-facing token validation messages.
const (
	MsgTokenRequired   = "kintone APIトークンを指定してください。"
	MsgTooManyTokens   = "kintone APIトークンは最大9件まで指定できます。"
	MsgTokenNotString  = "kintone APIトークンには文字列のみを指定してください。"
	MsgTokenWrongShape = "kintone APIトークンには文字列または文字列の配列を指定してください。"
)

// TokenError is a token validation failure with a user-facing message.
type TokenError struct {
	Message string
}

func (e *TokenError) Error() string { return e.Message }

// TokenAuthenticator authenticates requests with kintone API tokens.
// It satisfies core.Authenticator so the client can treat it like any
// other IBM SDK authenticator.
type TokenAuthenticator struct {
	Tokens string
}

var _ core.Authenticator = (*TokenAuthenticator)(nil)

// NewTokenAuthenticator normalizes raw and returns a validated authenticator.
func NewTokenAuthenticator(raw any) (*TokenAuthenticator, error) {
	tokens, err := NormalizeTokens(raw)
	if err != nil {
		return nil, err
	}
	a := &TokenAuthenticator{Tokens: tokens}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// AuthenticationType implements core.Authenticator.
func (a *TokenAuthenticator) AuthenticationType() string {
	return AuthTypeAPIToken
}

// Authenticate sets the API token header on req.
func (a *TokenAuthenticator) Authenticate(req *http.Request) error {
	if req == nil {
		return fmt.Errorf("request cannot be nil")
	}
	req.Header.Set(HeaderAPIToken, a.Tokens)
	return nil
}

// Validate implements core.Authenticator.
func (a *TokenAuthenticator) Validate() error {
	if a.Tokens == "" {
		return &TokenError{Message: MsgTokenRequired}
	}
	parts := strings.Split(a.Tokens, ",")
	if len(parts) > MaxTokens {
		return &TokenError{Message: MsgTooManyTokens}
	}
	for _, p := range parts {
		if p == "" || core.HasBadFirstOrLastChar(p) {
			return fmt.Errorf("invalid kintone API token format")
		}
	}
	return nil
}

// NormalizeTokens accepts a comma-separated string or a list of strings,
// trims each token, drops blanks and returns them comma-joined.
func NormalizeTokens(raw any) (string, error) {
	var tokens []string

	switch v := raw.(type) {
	case nil:
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tokens = append(tokens, part)
			}
		}
	case []string:
		for _, item := range v {
			if item = strings.TrimSpace(item); item != "" {
				tokens = append(tokens, item)
			}
		}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", &TokenError{Message: MsgTokenNotString}
			}
			if s = strings.TrimSpace(s); s != "" {
				tokens = append(tokens, s)
			}
		}
	default:
		return "", &TokenError{Message: MsgTokenWrongShape}
	}

	if len(tokens) == 0 {
		return "", &TokenError{Message: MsgTokenRequired}
	}
	if len(tokens) > MaxTokens {
		return "", &TokenError{Message: MsgTooManyTokens}
	}
	return strings.Join(tokens, ","), nil
}
