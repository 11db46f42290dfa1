package tools

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/tareqmamari/kintone-mcp-server/internal/auth"
	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// Credential validation messages.
const (
	MsgDomainMissing = "kintone ドメインが見つかりません。kintone_domainパラメータを確認してください。"
	MsgAppIDMissing  = "kintone アプリIDが見つかりません。kintone_app_idパラメータを確認してください。"
	MsgAppIDInvalid  = "kintone アプリIDには正の整数を指定してください。"
)

// Credentials are the resolved connection parameters of one tool call.
type Credentials struct {
	BaseURL string
	AppID   int64
	Auth    *auth.TokenAuthenticator
	Timeout time.Duration
}

// Endpoint returns the client endpoint for these credentials.
func (c *Credentials) Endpoint() client.Endpoint {
	return client.Endpoint{BaseURL: c.BaseURL, Auth: c.Auth, Timeout: c.Timeout}
}

// resolveParameter returns arguments[name], or fallback when the argument is blank.
func resolveParameter(arguments map[string]interface{}, name string, fallback string) interface{} {
	v := arguments[name]
	if IsBlank(v) && strings.TrimSpace(fallback) != "" {
		return fallback
	}
	return v
}

// ResolveCredentials validates the connection parameters shared by every
// kintone tool. Blank domain and token fall back to the configured provider
// credentials.
func ResolveCredentials(arguments map[string]interface{}, cfg *config.Config, defaultTimeout time.Duration) (*Credentials, error) {
	return resolveCredentials(arguments, cfg, defaultTimeout, true)
}

// ResolveConnection is ResolveCredentials for calls that are not scoped to
// an app, such as file transfers. AppID is left zero.
func ResolveConnection(arguments map[string]interface{}, cfg *config.Config, defaultTimeout time.Duration) (*Credentials, error) {
	return resolveCredentials(arguments, cfg, defaultTimeout, false)
}

func resolveCredentials(arguments map[string]interface{}, cfg *config.Config, defaultTimeout time.Duration, withApp bool) (*Credentials, error) {
	rawDomain := resolveParameter(arguments, "kintone_domain", cfg.Domain)
	domainText, _ := rawDomain.(string)
	baseURL, err := NormalizeDomain(domainText)
	if err != nil {
		return nil, err
	}

	var appID int64
	if withApp {
		rawApp := arguments["kintone_app_id"]
		if IsBlank(rawApp) {
			return nil, mcperrors.NewMissingParameter("kintone_app_id", MsgAppIDMissing)
		}
		var ok bool
		if appID, ok = ParsePositiveInt(rawApp); !ok {
			return nil, mcperrors.NewInvalidInput(MsgAppIDInvalid)
		}
	}

	authenticator, err := auth.NewTokenAuthenticator(resolveParameter(arguments, "kintone_api_token", cfg.APIToken))
	if err != nil {
		var tokenErr *auth.TokenError
		if errors.As(err, &tokenErr) {
			return nil, mcperrors.NewInvalidInput(tokenErr.Message)
		}
		return nil, mcperrors.NewInvalidInput(err.Error())
	}

	if defaultTimeout <= 0 {
		defaultTimeout = cfg.RequestTimeout
	}
	timeout, err := ParseTimeout(arguments["request_timeout"], defaultTimeout)
	if err != nil {
		return nil, err
	}

	return &Credentials{
		BaseURL: baseURL,
		AppID:   appID,
		Auth:    authenticator,
		Timeout: timeout,
	}, nil
}

// NormalizeDomain turns a domain such as "example.cybozu.com" or
// "https://example.cybozu.com/" into a base URL. An explicit http or https
// scheme is kept; anything else gets https.
func NormalizeDomain(raw string) (string, error) {
	domain := strings.TrimSpace(raw)
	if domain == "" {
		return "", mcperrors.NewMissingParameter("kintone_domain", MsgDomainMissing)
	}

	lower := strings.ToLower(domain)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		domain = "https://" + domain
	}

	u, err := url.Parse(strings.TrimRight(domain, "/"))
	if err != nil || u.Host == "" {
		return "", mcperrors.NewMissingParameter("kintone_domain", MsgDomainMissing)
	}
	return strings.ToLower(u.Scheme) + "://" + u.Host, nil
}
