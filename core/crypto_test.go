package core_test

import (
	"testing"

	"pixieauth/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoService_RoundTrip(t *testing.T) {
	cs, err := core.NewCryptoService("a-long-enough-test-secret", []byte("salt"))
	require.NoError(t, err)

	ciphertext, err := cs.EncryptToken("pixie_api_key")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "pixie_api_key")

	plaintext, err := cs.DecryptToken(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "pixie_api_key", plaintext)
}

func TestCryptoService_FreshNoncePerCall(t *testing.T) {
	cs, err := core.NewCryptoService("a-long-enough-test-secret", nil)
	require.NoError(t, err)

	a, err := cs.EncryptToken("same")
	require.NoError(t, err)
	b, err := cs.EncryptToken("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCryptoService_SaltChangesKey(t *testing.T) {
	cs1, err := core.NewCryptoService("a-long-enough-test-secret", []byte("salt-1"))
	require.NoError(t, err)
	cs2, err := core.NewCryptoService("a-long-enough-test-secret", []byte("salt-2"))
	require.NoError(t, err)

	ciphertext, err := cs1.EncryptToken("secret")
	require.NoError(t, err)

	_, err = cs2.DecryptToken(ciphertext)
	assert.Error(t, err)
}

func TestCryptoService_ShortSecret(t *testing.T) {
	_, err := core.NewCryptoService("short", nil)
	assert.ErrorIs(t, err, core.ErrInvalidEncryptionKey)
}

func TestCryptoService_TruncatedCiphertext(t *testing.T) {
	cs, err := core.NewCryptoService("a-long-enough-test-secret", nil)
	require.NoError(t, err)

	_, err = cs.DecryptToken("AAAA")
	assert.ErrorIs(t, err, core.ErrInvalidCiphertext)

	_, err = cs.DecryptToken("not base64!")
	assert.Error(t, err)
}
