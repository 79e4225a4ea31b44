package core

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StateValidity is how long an OAuthState may be round-tripped through a browser
const StateValidity = 600 * time.Second

// OAuthState is the anti-CSRF token sent with a redirect and checked on callback
type OAuthState struct {
	Token     string
	Provider  Provider
	CreatedAt time.Time
}

// NewOAuthState creates a fresh random state for provider
func NewOAuthState(provider Provider, now time.Time) (*OAuthState, error) {
	token, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate oauth state: %w", err)
	}

	return &OAuthState{
		Token:     token.String(),
		Provider:  provider,
		CreatedAt: now,
	}, nil
}

// IsValid reports whether the state is younger than StateValidity at now
func (s *OAuthState) IsValid(now time.Time) bool {
	if s == nil {
		return false
	}
	return now.Sub(s.CreatedAt) < StateValidity
}

// Matches reports whether token belongs to this state and the state is still valid
func (s *OAuthState) Matches(token string, now time.Time) bool {
	if s == nil || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) == 1 && s.IsValid(now)
}
