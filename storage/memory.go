package storage

import (
	"context"
	"sync"

	"pixieauth/core"
)

// MemoryCredentialStore keeps the credential in process memory
type MemoryCredentialStore struct {
	mu    sync.Mutex
	cred  *core.Credential
	saves int

	// SaveErr, when set, is returned by Save
	SaveErr error
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (m *MemoryCredentialStore) Save(_ context.Context, cred *core.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	cp := *cred
	m.cred = &cp
	m.saves++
	return nil
}

func (m *MemoryCredentialStore) Load(_ context.Context) (*core.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cred == nil {
		return nil, core.ErrNotFound
	}
	cp := *m.cred
	return &cp, nil
}

func (m *MemoryCredentialStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	return nil
}

// Saves returns how many credentials have been written
func (m *MemoryCredentialStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
