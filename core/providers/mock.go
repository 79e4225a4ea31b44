package providers

import (
	"context"
	"sync"
	"time"

	"pixieauth/core"

	"github.com/golang-jwt/jwt/v5"
)

// Issuers of provider identity tokens
const (
	GoogleIssuer = "https://accounts.google.com"
	AppleIssuer  = "https://appleid.apple.com"
)

// Predefined test identities
const (
	MockSubject  = "mock_subject_1"
	MockEmail    = "mock_user_1@example.com"
	MockAudience = "pixie.mock.client"
)

var mockSigningKey = []byte("pixieauth-mock-signing-key")

// MintIdentityToken signs a provider-shaped identity token with a throwaway key.
// The client never verifies signatures, so these pass local inspection.
func MintIdentityToken(provider core.Provider, audience string, expiresAt time.Time) (string, error) {
	issuer := GoogleIssuer
	if provider == core.ProviderApple {
		issuer = AppleIssuer
	}

	claims := jwt.MapClaims{
		"iss":   issuer,
		"sub":   MockSubject,
		"email": MockEmail,
		"exp":   expiresAt.Unix(),
		"iat":   expiresAt.Add(-time.Hour).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(mockSigningKey)
}

// MockSignIn is a scripted NativeSignIn. By default it echoes the request state
// and returns Token.
type MockSignIn struct {
	Token        *core.NativeToken
	Err          error
	Unavailable  error
	DropState    bool          // do not echo the request state back
	Gate         chan struct{} // when set, SignIn waits for it to close

	mu       sync.Mutex
	requests []core.NativeRequest
}

// NewMockSignIn returns a sign-in that yields a fresh identity token for provider
func NewMockSignIn(provider core.Provider, audience string, expiresAt time.Time) (*MockSignIn, error) {
	token, err := MintIdentityToken(provider, audience, expiresAt)
	if err != nil {
		return nil, err
	}
	return &MockSignIn{Token: &core.NativeToken{IDToken: token}}, nil
}

func (m *MockSignIn) Available() error {
	return m.Unavailable
}

func (m *MockSignIn) SignIn(ctx context.Context, req core.NativeRequest) (*core.NativeToken, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, core.ErrSignInCancelled
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Token == nil {
		return nil, nil
	}
	out := *m.Token
	if !m.DropState {
		out.State = req.State
	}
	return &out, nil
}

// Requests returns every request SignIn received
func (m *MockSignIn) Requests() []core.NativeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.NativeRequest(nil), m.requests...)
}
