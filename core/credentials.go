package core

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
)

// CredentialStore is the single-slot persistence for the active credential.
// Save replaces any stored credential atomically.
type CredentialStore interface {
	Save(ctx context.Context, cred *Credential) error

	// Load returns ErrNotFound when nothing is stored
	Load(ctx context.Context) (*Credential, error)

	Clear(ctx context.Context) error
}
