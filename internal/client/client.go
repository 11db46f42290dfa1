// Package client provides HTTP client functionality for the kintone REST API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/IBM/go-sdk-core/v5/core"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	"github.com/tareqmamari/kintone-mcp-server/internal/security"
	"github.com/tareqmamari/kintone-mcp-server/internal/tracing"
)

// HeaderMethodOverride lets a POST carry a GET so long queries fit in the body.
const HeaderMethodOverride = "X-HTTP-Method-Override"

// Observer receives one call per completed API request.
type Observer interface {
	ObserveAPIRequest(endpoint string, statusCode int, latency time.Duration, err error)
}

// Client is an HTTP client for the kintone REST API. It is shared by all tool
// calls; domain, credentials and timeout are supplied per request.
type Client struct {
	httpClient  *http.Client
	logger      *zap.Logger
	rateLimiter *rate.Limiter
	observer    Observer
	version     string
}

// New creates a new API client
func New(cfg *config.Config, logger *zap.Logger, version string) *Client {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if !cfg.TLSVerify {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- opt-in via KINTONE_TLS_VERIFY=false
		logger.Warn("TLS certificate verification is DISABLED - this is insecure and should only be used for testing")
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}

	var rateLimiter *rate.Limiter
	if cfg.EnableRateLimit {
		rateLimiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	}

	if version == "" {
		version = "dev"
	}

	return &Client{
		httpClient:  &http.Client{Transport: transport},
		logger:      logger,
		rateLimiter: rateLimiter,
		version:     version,
	}
}

// SetObserver installs a request observer (metrics). Nil disables observation.
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// ErrResponseTooLarge is returned when a response body exceeds
// Request.MaxResponseBytes.
var ErrResponseTooLarge = errors.New("response body exceeds the size limit")

// Request represents an HTTP request
type Request struct {
	Method         string
	BaseURL        string // scheme://host of the kintone domain
	Path           string
	Query          url.Values
	Body           interface{}
	RawBody        []byte // sent as is with ContentType instead of JSON-encoding Body
	ContentType    string
	Headers        map[string]string
	MethodOverride string
	Timeout        time.Duration // zero means no per-request deadline
	Auth           core.Authenticator

	// MaxResponseBytes bounds the response body; zero means unbounded.
	MaxResponseBytes int64
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Do executes a single HTTP request. There are no automatic retries: any
// failure is returned as a *TimeoutError, *TransportError or *HTTPError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	ctx, span := tracing.APISpan(ctx, req.Method, req.Path)
	defer span.End()

	start := time.Now()
	resp, err := c.doRequest(ctx, req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		tracing.SetStatus(span, status)
	}
	if err == nil && status >= 400 {
		err = &HTTPError{StatusCode: status, Body: string(resp.Body)}
	}
	tracing.RecordError(span, err)
	if c.observer != nil {
		c.observer.ObserveAPIRequest(endpointName(req.Path), status, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DoJSON executes req and decodes a JSON response body into out. Numbers
// are decoded as json.Number so ids and numeric field values keep their
// textual form.
func (c *Client) DoJSON(ctx context.Context, req *Request, out interface{}) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &ParseError{Err: err}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, req *Request) (*Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, classifyTransport(ctx, fmt.Errorf("rate limit wait failed: %w", err))
		}
	}

	requestURL := strings.TrimRight(req.BaseURL, "/") + req.Path
	if len(req.Query) > 0 {
		requestURL += "?" + req.Query.Encode()
	}

	contentType := "application/json"
	var bodyReader io.Reader
	switch {
	case req.RawBody != nil:
		bodyReader = bytes.NewReader(req.RawBody)
		if req.ContentType != "" {
			contentType = req.ContentType
		}
	case req.Body != nil:
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, requestURL, bodyReader)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", fmt.Sprintf("kintone-mcp-server/%s", c.version))
	if req.MethodOverride != "" {
		httpReq.Header.Set(HeaderMethodOverride, req.MethodOverride)
	}

	if req.Auth != nil {
		if err := req.Auth.Authenticate(httpReq); err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if ce := c.logger.Check(zap.DebugLevel, "Executing HTTP request"); ce != nil {
		ce.Write(
			zap.String("method", req.Method),
			zap.String("url", requestURL),
			zap.Any("headers", security.MaskSensitiveHeaders(httpReq.Header)),
		)
	}

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("HTTP request failed",
			zap.Error(err),
			zap.String("method", req.Method),
			zap.String("url", requestURL),
			zap.Duration("duration", duration),
		)
		return nil, classifyTransport(ctx, err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", zap.Error(closeErr))
		}
	}()

	var reader io.Reader = httpResp.Body
	if req.MaxResponseBytes > 0 {
		reader = io.LimitReader(httpResp.Body, req.MaxResponseBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, classifyTransport(ctx, fmt.Errorf("failed to read response body: %w", err))
	}
	if req.MaxResponseBytes > 0 && int64(len(body)) > req.MaxResponseBytes && httpResp.StatusCode < 400 {
		return nil, ErrResponseTooLarge
	}

	c.logger.Debug("HTTP request completed",
		zap.String("method", req.Method),
		zap.String("url", requestURL),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", duration),
		zap.Int("response_size", len(body)),
	)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
	}, nil
}

// classifyTransport turns a failed round trip into a TimeoutError when a
// deadline fired and a TransportError otherwise.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}
	return &TransportError{Err: err}
}

// endpointName reduces "/k/v1/records.json" to "records" for metric labels.
func endpointName(path string) string {
	name := strings.TrimPrefix(path, "/k/v1/")
	name = strings.TrimSuffix(name, ".json")
	if name == "" {
		return "unknown"
	}
	return name
}

// Close closes the client and releases resources
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
