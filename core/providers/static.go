package providers

import (
	"context"
	"errors"

	"pixieauth/core"
)

var ErrNoIdentityToken = errors.New("no identity token supplied")

// StaticSignIn hands out an identity token obtained out of band, for example one
// passed on the command line by a companion app.
type StaticSignIn struct {
	IDToken           string
	AuthorizationCode string
}

func (s StaticSignIn) Available() error {
	if s.IDToken == "" {
		return ErrNoIdentityToken
	}
	return nil
}

func (s StaticSignIn) SignIn(_ context.Context, req core.NativeRequest) (*core.NativeToken, error) {
	if s.IDToken == "" {
		return nil, ErrNoIdentityToken
	}
	return &core.NativeToken{
		IDToken:           s.IDToken,
		AuthorizationCode: s.AuthorizationCode,
		State:             req.State,
	}, nil
}

// Unavailable is a NativeSignIn for platforms without the provider SDK
type Unavailable struct {
	Reason string
}

func (u Unavailable) Available() error {
	if u.Reason == "" {
		return errors.New("sdk not installed")
	}
	return errors.New(u.Reason)
}

func (u Unavailable) SignIn(context.Context, core.NativeRequest) (*core.NativeToken, error) {
	return nil, u.Available()
}
