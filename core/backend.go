package core

import (
	"context"
)

// CodeExchange is the body of an authorization-code callback exchange
type CodeExchange struct {
	Code        string `json:"code"`
	State       string `json:"state,omitempty"`
	RedirectURI string `json:"redirect_uri"`
}

// NativeToken is what a native sign-in SDK hands back
type NativeToken struct {
	IDToken           string
	AuthorizationCode string
	State             string
}

// Backend is the Pixie API surface the authentication flows talk to
type Backend interface {
	// AuthorizeURL builds the browser entry point for a redirect flow
	AuthorizeURL(provider Provider, state, redirectURI string) (string, error)

	ExchangeCode(ctx context.Context, provider Provider, req CodeExchange) (*Credential, error)

	ExchangeNativeToken(ctx context.Context, provider Provider, token NativeToken) (*Credential, error)

	RequestDeviceCode(ctx context.Context, provider Provider) (*DeviceAuthorization, error)

	// PollDeviceToken returns ErrAuthorizationPending or ErrSlowDown while the user
	// has not yet approved the device.
	PollDeviceToken(ctx context.Context, deviceCode string) (*Credential, error)

	RevokeSession(ctx context.Context, apiKey string) error
}
