package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cardsync/internal/config"
	"cardsync/internal/logging"
	"cardsync/internal/requestcache"
	"cardsync/internal/services"
)

const (
	stageContent = "content"

	maxResponseBytes = 16 << 20
	maxErrorBytes    = 4096
)

// TokenSource supplies bearer tokens. ForceRefresh replaces a token the API
// rejected.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context, stale string) (string, error)
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// StatusError is a non-2xx response from the content API or upload host.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s returned %d", e.Method, e.URL, e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the client used for API requests.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		c.http = client
	}
}

// WithUploadClient overrides the client used for pre-signed uploads.
func WithUploadClient(client HTTPDoer) Option {
	return func(c *Client) {
		c.upload = client
	}
}

// WithCache routes idempotent reads through cache.
func WithCache(cache *requestcache.Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock overrides the clock used for updatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client talks to the cloud content API on behalf of an authenticated
// session.
type Client struct {
	baseURL *url.URL
	tokens  TokenSource
	http    HTTPDoer
	upload  HTTPDoer
	cache   *requestcache.Cache
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a Client from configuration.
func New(cfg *config.Config, tokens TokenSource, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if tokens == nil {
		return nil, errors.New("content: token source is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.Content.BaseURL), "/")
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageContent, "new client", fmt.Sprintf("invalid content.base_url %q", cfg.Content.BaseURL), err)
	}

	c := &Client{
		baseURL: baseURL,
		tokens:  tokens,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.ContentTimeout()}
	}
	if c.upload == nil {
		c.upload = &http.Client{Timeout: cfg.UploadTimeout()}
	}
	c.logger = logging.NewComponentLogger(c.logger, stageContent)
	return c, nil
}

// Cache returns the request cache, which may be nil.
func (c *Client) Cache() *requestcache.Cache {
	return c.cache
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := c.baseURL.JoinPath(segments...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do performs an authenticated JSON request. A 401 triggers one forced token
// refresh and a single retry.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var body []byte
	contentType := ""
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = encoded
		contentType = "application/json"
	}
	return c.doRaw(ctx, method, endpoint, body, contentType)
}

// doRaw is do for a pre-encoded body. body is replayed as-is on the retry.
func (c *Client) doRaw(ctx context.Context, method, endpoint string, body []byte, contentType string) ([]byte, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		data, status, err := c.send(ctx, method, endpoint, token, body, contentType)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			if attempt > 0 {
				return nil, services.Wrap(services.ErrAuthRequired, stageContent, method+" "+endpoint, "token rejected after refresh", nil)
			}
			c.logger.Debug("access token rejected; refreshing", logging.String("url", endpoint))
			token, err = c.tokens.ForceRefresh(ctx, token)
			if err != nil {
				return nil, err
			}
			continue
		}
		if status >= 400 {
			serr := &StatusError{Method: method, URL: endpoint, StatusCode: status, Body: strings.TrimSpace(string(data))}
			if status == http.StatusNotFound {
				return nil, services.Wrap(services.ErrNotFound, stageContent, method+" "+endpoint, "", serr)
			}
			return nil, serr
		}
		return data, nil
	}
}

func (c *Client) send(ctx context.Context, method, endpoint, token string, body []byte, contentType string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	limit := int64(maxResponseBytes)
	if resp.StatusCode >= 400 {
		limit = maxErrorBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// getCached performs an authenticated GET through the request cache.
func (c *Client) getCached(ctx context.Context, endpoint string) ([]byte, error) {
	data, hit, err := c.cache.Fetch(ctx, http.MethodGet, endpoint, nil, nil, 0, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	if hit {
		c.logger.Debug("served from cache", logging.String("url", endpoint))
	}
	return data, nil
}

func (c *Client) invalidate(ctx context.Context, endpoints ...string) {
	for _, endpoint := range endpoints {
		if err := c.cache.InvalidateRequest(ctx, http.MethodGet, endpoint, nil, nil); err != nil {
			c.logger.Debug("cache invalidation failed", logging.String("url", endpoint), logging.Error(err))
		}
	}
}

// unwrap returns the value of key when data is an object that has it, and
// data itself otherwise.
func unwrap(data []byte, key string) json.RawMessage {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err == nil {
		if inner, ok := envelope[key]; ok && len(inner) > 0 && string(inner) != "null" {
			return inner
		}
	}
	return data
}
