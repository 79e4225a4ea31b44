package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidState          = errors.New("invalid oauth state")
	ErrMissingParameters     = errors.New("missing required parameters")
	ErrTimeout               = errors.New("timeout")
	ErrCancelled             = errors.New("authentication cancelled")
	ErrUnsupportedProvider   = errors.New("unsupported provider")
	ErrUnsupportedMethod     = errors.New("authentication method not supported for provider")
	ErrProviderNotConfigured = errors.New("provider sign-in is not configured")
	ErrSignInCancelled       = errors.New("sign-in cancelled by user")
	ErrBrowserDismissed      = errors.New("browser dismissed")
)

// Device flow poll results reported by the backend
var (
	ErrAuthorizationPending = errors.New("authorization pending")
	ErrSlowDown             = errors.New("slow down")
	ErrDeviceCodeExpired    = errors.New("device code expired")
	ErrAccessDenied         = errors.New("access denied")
)

// ErrorKind classifies authentication failures
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindProtocol
	KindStateValidation
	KindUserCancelled
	KindProviderSDK
	KindServerDenied
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindStateValidation:
		return "state_validation"
	case KindUserCancelled:
		return "user_cancelled"
	case KindProviderSDK:
		return "provider_sdk"
	case KindServerDenied:
		return "server_denied"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// AuthError tags an underlying error with its kind and the operation that failed
type AuthError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func newAuthError(kind ErrorKind, op string, err error) *AuthError {
	return &AuthError{Kind: kind, Op: op, Err: err}
}

// KindOf classifies err. Errors that carry no kind are treated as protocol errors
// unless they come from the network stack.
func KindOf(err error) ErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}

	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrMissingParameters):
		return KindStateValidation
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrSignInCancelled),
		errors.Is(err, ErrBrowserDismissed), errors.Is(err, context.Canceled):
		return KindUserCancelled
	case errors.Is(err, ErrProviderNotConfigured):
		return KindProviderSDK
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrDeviceCodeExpired):
		return KindServerDenied
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindProtocol
}

// UserMessage renders err for display on the sign-in screen
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "authentication timed out"
	case errors.Is(err, ErrInvalidState):
		return ErrInvalidState.Error()
	case errors.Is(err, ErrMissingParameters):
		return ErrMissingParameters.Error()
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Err.Error()
	}
	return err.Error()
}
