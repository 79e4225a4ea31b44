package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

type mockUser struct {
	APIKey string
	UserID string
}

var mockUsers = map[string]mockUser{
	"code_github": {APIKey: "pk_github_1", UserID: "gh_user_1"},
	"code_google": {APIKey: "pk_google_1", UserID: "google_user_1"},
	"code_apple":  {APIKey: "pk_apple_1", UserID: "apple_user_1"},
}

var deviceUser = mockUser{APIKey: "pk_device_1", UserID: "device_user_1"}

// MockPixieAPI stands in for the Pixie auth endpoints. Its authorize endpoint plays
// the provider consent screen by redirecting straight back with a code.
type MockPixieAPI struct {
	server *httptest.Server

	mu             sync.Mutex
	denyAuthorize  bool
	pendingPolls   int
	polls          int
	deviceProvider map[string]string
	revokeStatus   int
	revoked        []string
	exchanges      []map[string]string
	nativeTokens   map[string]string
}

func NewMockPixieAPI() *MockPixieAPI {
	m := &MockPixieAPI{
		deviceProvider: make(map[string]string),
		nativeTokens:   make(map[string]string),
		revokeStatus:   http.StatusNoContent,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/auth/{provider}", m.handleAuthorize)
	mux.HandleFunc("POST /v1/auth/{provider}/callback", m.handleExchange)
	mux.HandleFunc("POST /v1/auth/apple/callback/json", m.handleExchange)
	mux.HandleFunc("POST /v1/auth/{provider}/token", m.handleNativeToken)
	mux.HandleFunc("POST /v1/auth/device/code", m.handleDeviceCode)
	mux.HandleFunc("POST /v1/auth/device/token", m.handleDeviceToken)
	mux.HandleFunc("POST /v1/auth/revoke", m.handleRevoke)
	mux.HandleFunc("GET /device", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("enter your code"))
	})

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockPixieAPI) URL() string {
	return m.server.URL
}

func (m *MockPixieAPI) Close() {
	m.server.Close()
}

// DenyAuthorize makes the consent screen redirect back with access_denied
func (m *MockPixieAPI) DenyAuthorize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denyAuthorize = true
}

// SetPendingPolls sets how many device polls answer authorization_pending
func (m *MockPixieAPI) SetPendingPolls(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingPolls = n
}

func (m *MockPixieAPI) SetRevokeStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeStatus = status
}

func (m *MockPixieAPI) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

func (m *MockPixieAPI) Revoked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.revoked...)
}

func (m *MockPixieAPI) Exchanges() []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]string(nil), m.exchanges...)
}

func (m *MockPixieAPI) NativeToken(provider string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nativeTokens[provider]
}

func (m *MockPixieAPI) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	redirectURI, err := url.Parse(r.URL.Query().Get("redirect_uri"))
	if err != nil || redirectURI.Scheme == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is required")
		return
	}

	m.mu.Lock()
	deny := m.denyAuthorize
	m.mu.Unlock()

	q := url.Values{}
	q.Set("state", r.URL.Query().Get("state"))
	if deny {
		q.Set("error", "access_denied")
		q.Set("error_description", "The user denied access")
	} else {
		q.Set("code", "code_"+r.PathValue("provider"))
	}
	redirectURI.RawQuery = q.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (m *MockPixieAPI) handleExchange(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}

	m.mu.Lock()
	m.exchanges = append(m.exchanges, body)
	m.mu.Unlock()

	user, ok := mockUsers[body["code"]]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_grant", "unknown authorization code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"api_key": user.APIKey, "user_id": user.UserID})
}

func (m *MockPixieAPI) handleNativeToken(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	field := "id_token"
	if provider == "apple" {
		field = "identity_token"
	}

	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body[field] == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", field+" is required")
		return
	}

	m.mu.Lock()
	m.nativeTokens[provider] = body[field]
	m.mu.Unlock()

	user := mockUsers["code_"+provider]
	writeJSON(w, http.StatusOK, map[string]string{"api_key": user.APIKey, "user_id": user.UserID})
}

func (m *MockPixieAPI) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	json.NewDecoder(r.Body).Decode(&body)

	m.mu.Lock()
	deviceCode := fmt.Sprintf("device_%d", len(m.deviceProvider)+1)
	m.deviceProvider[deviceCode] = body["provider"]
	m.mu.Unlock()

	// interval 0 leaves the cadence to the client configuration
	writeJSON(w, http.StatusOK, map[string]any{
		"device_code":      deviceCode,
		"user_code":        "WDJB-MJHT",
		"verification_uri": m.server.URL + "/device",
		"expires_in":       900,
		"interval":         0,
	})
}

func (m *MockPixieAPI) handleDeviceToken(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	json.NewDecoder(r.Body).Decode(&body)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++

	provider, ok := m.deviceProvider[body["device_code"]]
	if !ok {
		writeError(w, http.StatusBadRequest, "expired_token", "unknown device code")
		return
	}
	if m.pendingPolls > 0 {
		m.pendingPolls--
		writeError(w, http.StatusBadRequest, "authorization_pending", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"api_key":  deviceUser.APIKey,
		"user_id":  deviceUser.UserID,
		"provider": provider,
	})
}

func (m *MockPixieAPI) handleRevoke(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing bearer token")
		return
	}

	m.mu.Lock()
	m.revoked = append(m.revoked, token)
	status := m.revokeStatus
	m.mu.Unlock()

	if status >= 400 {
		writeError(w, status, "server_error", "revocation unavailable")
		return
	}
	w.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
