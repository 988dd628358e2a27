package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretKey_EncryptDecrypt(t *testing.T) {
	t.Setenv(secretKeyEnv, "test-secret-key-for-unit-tests")

	sk, err := NewSecretKey()
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"api_key", "sk-abc123def456xyz"},
		{"empty", ""},
		{"long_key", "sk-proj-very-long-api-key-that-might-be-used-by-some-providers-1234567890"},
		{"special_chars", "sk-+/=!@#$%^&*()"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := sk.Encrypt(tt.plaintext)
			require.NoError(t, err)

			if tt.plaintext == "" {
				assert.Empty(t, encrypted)
				return
			}
			assert.True(t, strings.HasPrefix(encrypted, "enc:"))
			assert.NotEqual(t, tt.plaintext, encrypted)

			decrypted, err := sk.Decrypt(encrypted)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestSecretKey_PlaintextPassthrough(t *testing.T) {
	sk := NewSecretKeyFromPassphrase("k")
	out, err := sk.Decrypt("sk-plain")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", out)
}

func TestSecretKey_WrongKey(t *testing.T) {
	enc, err := NewSecretKeyFromPassphrase("one").Encrypt("sk-secret")
	require.NoError(t, err)

	_, err = NewSecretKeyFromPassphrase("two").Decrypt(enc)
	assert.ErrorContains(t, err, "decryption failed")

	_, err = NewSecretKeyFromPassphrase("two").Decrypt("enc:!!!")
	assert.ErrorContains(t, err, "base64")
}

func TestSecretKey_GeneratedKeyPersists(t *testing.T) {
	t.Setenv(secretKeyEnv, "")
	t.Setenv("HOME", t.TempDir())

	first, err := NewSecretKey()
	require.NoError(t, err)
	enc, err := first.Encrypt("sk-persisted")
	require.NoError(t, err)

	second, err := NewSecretKey()
	require.NoError(t, err)
	dec, err := second.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "sk-persisted", dec)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "****6xyz", MaskSecret("sk-abc123def456xyz"))
}
