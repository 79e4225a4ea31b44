package core

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidIdentityToken = errors.New("invalid identity token")
)

// IdentityClaims are the fields of a provider identity token the client looks at
type IdentityClaims struct {
	Subject   string
	Email     string
	Issuer    string
	ExpiresAt time.Time
}

type identityTokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// InspectIdentityToken decodes a provider-issued identity token without checking
// its signature; the backend verifies it on exchange. It rejects tokens that are
// malformed, already expired at now, or issued for another audience.
func InspectIdentityToken(raw string, now time.Time, audience string) (*IdentityClaims, error) {
	var claims identityTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentityToken, err)
	}

	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: expired at %s", ErrInvalidIdentityToken, claims.ExpiresAt.Time.Format(time.RFC3339))
	}

	if audience != "" && !slices.Contains(claims.Audience, audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidIdentityToken)
	}

	out := &IdentityClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Issuer:  claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
