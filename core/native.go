package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// NativeRequest is passed to a platform sign-in SDK
type NativeRequest struct {
	Provider Provider
	State    string // set for providers whose SDK round-trips a state value
}

// NativeSignIn wraps a platform sign-in SDK (Google Sign-In, Sign in with Apple).
// SignIn returns ErrSignInCancelled when the user backs out of the SDK UI.
type NativeSignIn interface {
	// Available reports why the SDK cannot be used, or nil
	Available() error

	SignIn(ctx context.Context, req NativeRequest) (*NativeToken, error)
}

// NativeProviderAdapter obtains a provider identity token from a NativeSignIn and
// exchanges it for a Pixie credential.
type NativeProviderAdapter struct {
	provider Provider
	spec     ProviderSpec
	sdk      NativeSignIn
	backend  Backend
	clock    clockwork.Clock
	audience string
	logger   *slog.Logger
}

func NewNativeProviderAdapter(provider Provider, sdk NativeSignIn, backend Backend, clock clockwork.Clock, audience string, logger *slog.Logger) (*NativeProviderAdapter, error) {
	spec, err := SpecFor(provider)
	if err != nil {
		return nil, err
	}
	if !spec.SupportsNative {
		return nil, fmt.Errorf("%w: native sign-in for %s", ErrUnsupportedMethod, provider)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &NativeProviderAdapter{
		provider: provider,
		spec:     spec,
		sdk:      sdk,
		backend:  backend,
		clock:    clock,
		audience: audience,
		logger:   logger,
	}, nil
}

func (a *NativeProviderAdapter) Provider() Provider {
	return a.provider
}

// Available returns a ProviderSDK error when the SDK is missing or unconfigured
func (a *NativeProviderAdapter) Available() error {
	if a.sdk == nil {
		return newAuthError(KindProviderSDK, "native sign-in", fmt.Errorf("%w: %s", ErrProviderNotConfigured, a.provider))
	}
	if err := a.sdk.Available(); err != nil {
		return newAuthError(KindProviderSDK, "native sign-in", fmt.Errorf("%w: %s: %v", ErrProviderNotConfigured, a.provider, err))
	}
	return nil
}

func (a *NativeProviderAdapter) Authenticate(ctx context.Context) (*Credential, error) {
	if err := a.Available(); err != nil {
		return nil, err
	}

	req := NativeRequest{Provider: a.provider}
	var state *OAuthState
	if a.spec.NativeState {
		var err error
		state, err = NewOAuthState(a.provider, a.clock.Now())
		if err != nil {
			return nil, err
		}
		req.State = state.Token
	}

	token, err := a.sdk.SignIn(ctx, req)
	if err != nil {
		if errors.Is(err, ErrSignInCancelled) || ctx.Err() != nil {
			return nil, newAuthError(KindUserCancelled, "native sign-in", err)
		}
		return nil, newAuthError(KindProviderSDK, "native sign-in", err)
	}
	if token == nil || token.IDToken == "" {
		return nil, newAuthError(KindProviderSDK, "native sign-in", errors.New("sdk returned no identity token"))
	}

	if state != nil && !state.Matches(token.State, a.clock.Now()) {
		return nil, newAuthError(KindStateValidation, "native sign-in", ErrInvalidState)
	}

	claims, err := InspectIdentityToken(token.IDToken, a.clock.Now(), a.audience)
	if err != nil {
		return nil, newAuthError(KindProviderSDK, "native sign-in", err)
	}
	a.logger.Debug("native sign-in completed", "provider", a.provider, "issuer", claims.Issuer)

	cred, err := a.backend.ExchangeNativeToken(ctx, a.provider, *token)
	if err != nil {
		return nil, fmt.Errorf("exchange %s token: %w", a.provider, err)
	}
	if !cred.Complete() {
		return nil, newAuthError(KindProtocol, "exchange token", errors.New("response is missing api_key or user_id"))
	}
	if cred.Provider == "" {
		cred.Provider = a.provider
	}
	return cred, nil
}
