package core_test

import (
	"testing"
	"time"

	"pixieauth/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "pixie://auth", cfg.RedirectURI)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 300*time.Second, cfg.Device.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Device.PollInterval)
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv("PIXIE_API_URL", "http://127.0.0.1:9999/")
	t.Setenv("PIXIE_DEVICE_TIMEOUT", "90s")
	t.Setenv("PIXIE_GOOGLE_AUDIENCE", "client.apps.googleusercontent.com")

	cfg := core.DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://127.0.0.1:9999", cfg.APIURL)
	assert.Equal(t, 90*time.Second, cfg.Device.Timeout)
	assert.Equal(t, "client.apps.googleusercontent.com", cfg.Audience(core.ProviderGoogle))
	assert.Equal(t, "", cfg.Audience(core.ProviderGitHub))
}

func TestConfig_Validate(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.APIURL = ""
	assert.Error(t, cfg.Validate())

	cfg = core.DefaultConfig()
	cfg.Device.PollInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = core.DefaultConfig()
	cfg.APIURL = "not a url"
	assert.Error(t, cfg.Validate())
}
