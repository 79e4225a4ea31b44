package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pixieauth/core"
	"pixieauth/core/backend"
	"pixieauth/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusController(t *testing.T, store core.CredentialStore) *core.AuthSessionController {
	cfg := core.DefaultConfig()
	controller, err := core.NewAuthSessionController(backend.NewMockBackend(), store, &cfg, core.Capabilities{},
		core.WithBrowser(core.NoBrowser{}))
	require.NoError(t, err)
	return controller
}

func TestRunStatus(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryCredentialStore()
	controller := newStatusController(t, store)

	var buf bytes.Buffer
	require.NoError(t, runStatus(ctx, controller, "https://pixie.example", &buf, false))
	assert.Equal(t, "Not signed in to https://pixie.example\n", buf.String())

	require.NoError(t, store.Save(ctx, &core.Credential{APIKey: "pk", UserID: "u_7", Provider: core.ProviderApple}))

	buf.Reset()
	require.NoError(t, runStatus(ctx, controller, "https://pixie.example", &buf, true))

	var out statusOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.True(t, out.Authenticated)
	assert.Equal(t, core.ProviderApple, out.Provider)
	assert.Equal(t, "u_7", out.UserID)
	assert.NotContains(t, buf.String(), `"pk"`)
}

func TestNativeSignIns(t *testing.T) {
	sdks := nativeSignIns("token", "", core.ProviderGoogle)

	assert.NoError(t, sdks[core.ProviderGoogle].Available())
	assert.Error(t, sdks[core.ProviderApple].Available())
	_, ok := sdks[core.ProviderGitHub]
	assert.False(t, ok)
}
