package core

import (
	"fmt"
	"sort"
)

// ProviderSpec describes how the Pixie API authenticates one provider
type ProviderSpec struct {
	AuthorizePath     string // redirect-flow entry point
	CallbackPath      string // authorization-code exchange
	TokenExchangePath string // native identity-token exchange, empty if unsupported
	NativeTokenField  string // JSON field carrying the native identity token
	SupportsNative    bool
	SupportsDevice    bool
	NativeState       bool // native SDK request round-trips an OAuthState
}

var providerSpecs = map[Provider]ProviderSpec{
	ProviderGitHub: {
		AuthorizePath:  "/v1/auth/github",
		CallbackPath:   "/v1/auth/github/callback",
		SupportsDevice: true,
	},
	ProviderGoogle: {
		AuthorizePath:     "/v1/auth/google",
		CallbackPath:      "/v1/auth/google/callback",
		TokenExchangePath: "/v1/auth/google/token",
		NativeTokenField:  "id_token",
		SupportsNative:    true,
		SupportsDevice:    true,
	},
	ProviderApple: {
		AuthorizePath:     "/v1/auth/apple",
		CallbackPath:      "/v1/auth/apple/callback/json",
		TokenExchangePath: "/v1/auth/apple/token",
		NativeTokenField:  "identity_token",
		SupportsNative:    true,
		NativeState:       true,
	},
}

// SpecFor returns the configuration table entry for provider
func SpecFor(provider Provider) (ProviderSpec, error) {
	spec, ok := providerSpecs[provider]
	if !ok {
		return ProviderSpec{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	return spec, nil
}

// Providers lists every provider in the table, sorted by name
func Providers() []Provider {
	out := make([]Provider, 0, len(providerSpecs))
	for p := range providerSpecs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Method selects the authentication flow
type Method string

const (
	MethodAuto     Method = "auto"
	MethodRedirect Method = "redirect"
	MethodDevice   Method = "device"
	MethodNative   Method = "native"
)

// ParseMethod converts user input into a Method
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodAuto, MethodRedirect, MethodDevice, MethodNative:
		return m, nil
	case "":
		return MethodAuto, nil
	default:
		return "", fmt.Errorf("unknown authentication method %q", s)
	}
}
