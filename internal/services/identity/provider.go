package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	grantTypeDeviceCode   = "urn:ietf:params:oauth:grant-type:device_code"
	grantTypeRefreshToken = "refresh_token"

	defaultPollInterval = 5 * time.Second
	defaultCodeLifetime = 300 * time.Second
)

// OAuth error codes the session reacts to.
const (
	CodeAuthorizationPending = "authorization_pending"
	CodeSlowDown             = "slow_down"
	CodeExpiredToken         = "expired_token"
	CodeAccessDenied         = "access_denied"
	CodeInvalidGrant         = "invalid_grant"
)

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// DeviceAuthorization describes one device authorization attempt. It is
// immutable once issued.
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Interval                time.Duration
	ExpiresIn               time.Duration
	IssuedAt                time.Time
}

// ExpiresAt returns the wall-clock instant after which the codes are invalid.
func (a DeviceAuthorization) ExpiresAt() time.Time {
	return a.IssuedAt.Add(a.ExpiresIn)
}

// ProviderError is a structured OAuth error returned by the identity provider.
type ProviderError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("identity provider returned %d", e.StatusCode)
}

// Provider performs the identity provider requests the session needs.
type Provider interface {
	RequestDeviceCode(ctx context.Context, clientID string) (*DeviceAuthorization, error)
	ExchangeDeviceCode(ctx context.Context, clientID, deviceCode string) (Token, error)
	RefreshToken(ctx context.Context, clientID, refreshToken string) (Token, error)
}

// httpProvider implements Provider with form-encoded OAuth requests.
type httpProvider struct {
	deviceCodeURL string
	tokenURL      string
	audience      string
	scope         string
	client        HTTPDoer
}

// NewHTTPProvider constructs a Provider against the given endpoints.
func NewHTTPProvider(deviceCodeURL, tokenURL, audience, scope string, client HTTPDoer) Provider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpProvider{
		deviceCodeURL: deviceCodeURL,
		tokenURL:      tokenURL,
		audience:      audience,
		scope:         scope,
		client:        client,
	}
}

type deviceCodeResponse struct {
	DeviceCode              string  `json:"device_code"`
	UserCode                string  `json:"user_code"`
	VerificationURI         string  `json:"verification_uri"`
	VerificationURIComplete string  `json:"verification_uri_complete"`
	Interval                float64 `json:"interval"`
	ExpiresIn               float64 `json:"expires_in"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
}

func (p *httpProvider) RequestDeviceCode(ctx context.Context, clientID string) (*DeviceAuthorization, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	if p.scope != "" {
		form.Set("scope", p.scope)
	}
	if p.audience != "" {
		form.Set("audience", p.audience)
	}

	var resp deviceCodeResponse
	if err := p.postForm(ctx, p.deviceCodeURL, form, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.DeviceCode) == "" {
		return nil, errors.New("device code response missing device_code")
	}

	return &DeviceAuthorization{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		Interval:                seconds(resp.Interval, defaultPollInterval),
		ExpiresIn:               seconds(resp.ExpiresIn, defaultCodeLifetime),
	}, nil
}

func (p *httpProvider) ExchangeDeviceCode(ctx context.Context, clientID, deviceCode string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeDeviceCode)
	form.Set("device_code", deviceCode)
	form.Set("client_id", clientID)
	if p.audience != "" {
		form.Set("audience", p.audience)
	}
	return p.requestToken(ctx, form)
}

func (p *httpProvider) RefreshToken(ctx context.Context, clientID, refreshToken string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeRefreshToken)
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	return p.requestToken(ctx, form)
}

func (p *httpProvider) requestToken(ctx context.Context, form url.Values) (Token, error) {
	var resp tokenResponse
	if err := p.postForm(ctx, p.tokenURL, form, &resp); err != nil {
		return Token{}, err
	}
	if resp.AccessToken == "" {
		return Token{}, errors.New("token response missing access_token")
	}
	return Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
	}, nil
}

func (p *httpProvider) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return decodeProviderError(resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeProviderError(status int, body []byte) error {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	perr := &ProviderError{StatusCode: status}
	if err := json.Unmarshal(body, &payload); err == nil {
		perr.Code = payload.Error
		perr.Description = payload.ErrorDescription
	}
	if perr.Code == "" && perr.Description == "" {
		perr.Description = strings.TrimSpace(string(body))
	}
	return perr
}

func seconds(value float64, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value * float64(time.Second))
}
