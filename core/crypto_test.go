package core

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "12345678901234567890123456789012"

func TestCryptoService_RoundTrip(t *testing.T) {
	cs, err := NewCryptoService(testKey)
	require.NoError(t, err)

	sealed, err := cs.EncryptToken("provider-access-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "provider-access-token")

	again, err := cs.EncryptToken("provider-access-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ between seals")

	plain, err := cs.DecryptToken(sealed)
	require.NoError(t, err)
	assert.Equal(t, "provider-access-token", plain)
}

func TestCryptoService_EmptyPassesThrough(t *testing.T) {
	cs, err := NewCryptoService(testKey)
	require.NoError(t, err)

	sealed, err := cs.EncryptToken("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	plain, err := cs.DecryptToken("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestCryptoService_InvalidKey(t *testing.T) {
	_, err := NewCryptoService("short")
	assert.ErrorIs(t, err, ErrInvalidEncryptionKey)

	_, err = NewCryptoServiceFromSecret("too-short")
	assert.ErrorIs(t, err, ErrInvalidEncryptionKey)
}

func TestCryptoService_DerivedKey(t *testing.T) {
	a, err := NewCryptoServiceFromSecret("a-long-enough-passphrase")
	require.NoError(t, err)
	b, err := NewCryptoServiceFromSecret("a-long-enough-passphrase")
	require.NoError(t, err)

	sealed, err := a.EncryptToken("tok")
	require.NoError(t, err)
	plain, err := b.DecryptToken(sealed)
	require.NoError(t, err)
	assert.Equal(t, "tok", plain)

	other, err := NewCryptoServiceFromSecret("another-long-passphrase")
	require.NoError(t, err)
	_, err = other.DecryptToken(sealed)
	assert.Error(t, err)
}

func TestCryptoService_Tampered(t *testing.T) {
	cs, err := NewCryptoService(testKey)
	require.NoError(t, err)

	_, err = cs.DecryptToken("not base64 !!")
	assert.Error(t, err)

	_, err = cs.DecryptToken("AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	sealed, err := cs.EncryptToken("tok")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = cs.DecryptToken(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
