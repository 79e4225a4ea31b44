package backend

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"pixieauth/core"
)

// Predefined test authorization codes
const (
	ValidCode1 = "mock_auth_code_1"
	ValidCode2 = "mock_auth_code_2"
)

// Predefined test credentials
var (
	Credential1 = &core.Credential{APIKey: "pixie_mock_key_1", UserID: "mock_user_1"}
	Credential2 = &core.Credential{APIKey: "pixie_mock_key_2", UserID: "mock_user_2"}
)

// DefaultDeviceAuthorization is returned by RequestDeviceCode unless overridden
var DefaultDeviceAuthorization = core.DeviceAuthorization{
	DeviceCode:      "mock_device_code",
	UserCode:        "ABCD-1234",
	VerificationURI: "https://pixie.example/device",
	ExpiresIn:       900,
	Interval:        5,
}

// PollResult is one scripted answer of PollDeviceToken
type PollResult struct {
	Credential *core.Credential
	Err        error
}

// PendingPolls scripts n pending answers followed by final
func PendingPolls(n int, final PollResult) []PollResult {
	out := make([]PollResult, 0, n+1)
	for range n {
		out = append(out, PollResult{Err: core.ErrAuthorizationPending})
	}
	return append(out, final)
}

// MockBackend is an in-memory Backend with scripted answers and call counters
type MockBackend struct {
	BaseURL string

	// ExchangeGate, when set, blocks ExchangeCode until it is closed or ctx ends
	ExchangeGate chan struct{}

	mu           sync.Mutex
	codes        map[string]*core.Credential
	native       *core.Credential
	device       *core.DeviceAuthorization
	polls        []PollResult
	exchangeErr  error
	nativeErr    error
	deviceErr    error
	revokeErr    error
	calls        map[string]int
	exchanges    []core.CodeExchange
	nativeTokens []core.NativeToken
	revoked      []string
}

func NewMockBackend() *MockBackend {
	device := DefaultDeviceAuthorization
	return &MockBackend{
		BaseURL: "https://pixie.example",
		codes: map[string]*core.Credential{
			ValidCode1: Credential1,
			ValidCode2: Credential2,
		},
		native: Credential1,
		device: &device,
		calls:  make(map[string]int),
	}
}

func (m *MockBackend) SetExchangeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchangeErr = err
}

func (m *MockBackend) SetNativeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nativeErr = err
}

func (m *MockBackend) SetNativeCredential(cred *core.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.native = cred
}

func (m *MockBackend) SetDeviceAuthorization(auth *core.DeviceAuthorization, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = auth
	m.deviceErr = err
}

// SetPolls replaces the scripted poll answers. Once they run out every poll is pending.
func (m *MockBackend) SetPolls(results []PollResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls = append([]PollResult(nil), results...)
}

func (m *MockBackend) SetRevokeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeErr = err
}

// Calls returns how many times method was invoked
func (m *MockBackend) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockBackend) Exchanges() []core.CodeExchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.CodeExchange(nil), m.exchanges...)
}

func (m *MockBackend) NativeTokens() []core.NativeToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.NativeToken(nil), m.nativeTokens...)
}

func (m *MockBackend) Revoked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.revoked...)
}

func (m *MockBackend) AuthorizeURL(provider core.Provider, state, redirectURI string) (string, error) {
	spec, err := core.SpecFor(provider)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.calls["AuthorizeURL"]++
	m.mu.Unlock()

	q := url.Values{}
	q.Set("state", state)
	q.Set("redirect_uri", redirectURI)
	return m.BaseURL + spec.AuthorizePath + "?" + q.Encode(), nil
}

func (m *MockBackend) ExchangeCode(ctx context.Context, provider core.Provider, req core.CodeExchange) (*core.Credential, error) {
	m.mu.Lock()
	m.calls["ExchangeCode"]++
	m.exchanges = append(m.exchanges, req)
	gate := m.ExchangeGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &core.AuthError{Kind: core.KindUserCancelled, Op: "exchange code", Err: ctx.Err()}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	cred, ok := m.codes[req.Code]
	if !ok {
		return nil, &core.AuthError{Kind: core.KindServerDenied, Op: "exchange code", Err: errors.New("invalid authorization code")}
	}
	out := *cred
	out.Provider = provider
	return &out, nil
}

func (m *MockBackend) ExchangeNativeToken(_ context.Context, provider core.Provider, token core.NativeToken) (*core.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ExchangeNativeToken"]++
	m.nativeTokens = append(m.nativeTokens, token)

	if m.nativeErr != nil {
		return nil, m.nativeErr
	}
	if m.native == nil {
		return &core.Credential{Provider: provider}, nil
	}
	out := *m.native
	out.Provider = provider
	return &out, nil
}

func (m *MockBackend) RequestDeviceCode(_ context.Context, _ core.Provider) (*core.DeviceAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["RequestDeviceCode"]++

	if m.deviceErr != nil {
		return nil, m.deviceErr
	}
	out := *m.device
	return &out, nil
}

func (m *MockBackend) PollDeviceToken(_ context.Context, deviceCode string) (*core.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["PollDeviceToken"]++

	if m.device != nil && deviceCode != m.device.DeviceCode {
		return nil, &core.AuthError{Kind: core.KindServerDenied, Op: "poll device token", Err: core.ErrDeviceCodeExpired}
	}
	if len(m.polls) == 0 {
		return nil, core.ErrAuthorizationPending
	}
	next := m.polls[0]
	m.polls = m.polls[1:]
	if next.Err != nil {
		return nil, next.Err
	}
	out := *next.Credential
	return &out, nil
}

func (m *MockBackend) RevokeSession(_ context.Context, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["RevokeSession"]++
	m.revoked = append(m.revoked, apiKey)
	return m.revokeErr
}
