package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"pixieauth/core"
)

const (
	deviceCodePath  = "/v1/auth/device/code"
	deviceTokenPath = "/v1/auth/device/token"
	revokePath      = "/v1/auth/revoke"

	maxResponseBytes = 1 << 20
)

// HTTPBackend talks to the Pixie API over HTTPS
type HTTPBackend struct {
	baseURL    string
	clientType string
	httpClient *http.Client
}

func NewHTTPBackend(config *core.Config) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    strings.TrimRight(config.APIURL, "/"),
		clientType: config.ClientType,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
	}
}

// WithHTTPClient replaces the underlying client, mainly for tests
func (b *HTTPBackend) WithHTTPClient(client *http.Client) *HTTPBackend {
	b.httpClient = client
	return b
}

type credentialResponse struct {
	APIKey   string `json:"api_key"`
	UserID   string `json:"user_id"`
	Provider string `json:"provider,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
}

func (b *HTTPBackend) AuthorizeURL(provider core.Provider, state, redirectURI string) (string, error) {
	spec, err := core.SpecFor(provider)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(b.baseURL + spec.AuthorizePath)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("state", state)
	q.Set("redirect_uri", redirectURI)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *HTTPBackend) ExchangeCode(ctx context.Context, provider core.Provider, req core.CodeExchange) (*core.Credential, error) {
	spec, err := core.SpecFor(provider)
	if err != nil {
		return nil, err
	}

	var resp credentialResponse
	if err := b.postJSON(ctx, "exchange code", spec.CallbackPath, req, "", &resp); err != nil {
		return nil, err
	}
	return resp.credential(provider), nil
}

func (b *HTTPBackend) ExchangeNativeToken(ctx context.Context, provider core.Provider, token core.NativeToken) (*core.Credential, error) {
	spec, err := core.SpecFor(provider)
	if err != nil {
		return nil, err
	}
	if spec.TokenExchangePath == "" {
		return nil, fmt.Errorf("%w: native sign-in for %s", core.ErrUnsupportedMethod, provider)
	}

	body := map[string]string{spec.NativeTokenField: token.IDToken}
	if token.AuthorizationCode != "" {
		body["authorization_code"] = token.AuthorizationCode
	}

	var resp credentialResponse
	if err := b.postJSON(ctx, "exchange token", spec.TokenExchangePath, body, "", &resp); err != nil {
		return nil, err
	}
	return resp.credential(provider), nil
}

func (b *HTTPBackend) RequestDeviceCode(ctx context.Context, provider core.Provider) (*core.DeviceAuthorization, error) {
	body := map[string]string{
		"client_type": b.clientType,
		"provider":    string(provider),
	}

	var auth core.DeviceAuthorization
	if err := b.postJSON(ctx, "request device code", deviceCodePath, body, "", &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

func (b *HTTPBackend) PollDeviceToken(ctx context.Context, deviceCode string) (*core.Credential, error) {
	body := map[string]string{
		"device_code": deviceCode,
		"client_type": b.clientType,
	}

	var resp credentialResponse
	if err := b.postJSON(ctx, "poll device token", deviceTokenPath, body, "", &resp); err != nil {
		return nil, err
	}
	return resp.credential(""), nil
}

func (b *HTTPBackend) RevokeSession(ctx context.Context, apiKey string) error {
	return b.postJSON(ctx, "revoke session", revokePath, struct{}{}, apiKey, nil)
}

func (r credentialResponse) credential(provider core.Provider) *core.Credential {
	cred := &core.Credential{
		APIKey:   r.APIKey,
		UserID:   r.UserID,
		Provider: provider,
	}
	if r.Provider != "" {
		cred.Provider = core.Provider(r.Provider)
	}
	return cred
}

func (b *HTTPBackend) postJSON(ctx context.Context, op, path string, body any, bearer string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &core.AuthError{Kind: core.KindProtocol, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &core.AuthError{Kind: core.KindProtocol, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &core.AuthError{Kind: core.KindUserCancelled, Op: op, Err: ctx.Err()}
		}
		return &core.AuthError{Kind: core.KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &core.AuthError{Kind: core.KindNetwork, Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyError(op, resp.StatusCode, data)
	}

	// some endpoints answer 200 with an error body while a device grant is pending
	var apiErr errorResponse
	if json.Unmarshal(data, &apiErr) == nil && (apiErr.Error != "" || apiErr.pending()) {
		return classifyError(op, resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &core.AuthError{Kind: core.KindProtocol, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// pending reports whether the message text says the grant is still pending. Some
// deployments only say so there.
func (e errorResponse) pending() bool {
	return strings.Contains(strings.ToLower(e.Message+" "+e.ErrorDescription), "pending")
}

// classifyError maps an error response onto the poll sentinels and error kinds
func classifyError(op string, status int, data []byte) error {
	var apiErr errorResponse
	_ = json.Unmarshal(data, &apiErr)

	code := strings.ToLower(apiErr.Error)
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.ErrorDescription
	}
	if msg == "" {
		msg = apiErr.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case strings.Contains(code, "pending"):
		return core.ErrAuthorizationPending
	case status < 500 && apiErr.pending():
		return core.ErrAuthorizationPending
	case code == "slow_down":
		return core.ErrSlowDown
	case code == "expired_token" || code == "expired":
		return &core.AuthError{Kind: core.KindServerDenied, Op: op, Err: core.ErrDeviceCodeExpired}
	case code == "access_denied":
		return &core.AuthError{Kind: core.KindServerDenied, Op: op, Err: fmt.Errorf("%w: %s", core.ErrAccessDenied, msg)}
	}

	err := fmt.Errorf("status %d: %s", status, msg)
	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return &core.AuthError{Kind: core.KindNetwork, Op: op, Err: err}
	case status >= 400:
		return &core.AuthError{Kind: core.KindServerDenied, Op: op, Err: err}
	}
	return &core.AuthError{Kind: core.KindProtocol, Op: op, Err: errors.New(msg)}
}
