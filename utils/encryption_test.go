package utils

import (
	"testing"

	"mailreach/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	sealed, err := Encrypt("smtp-secret-password")
	require.NoError(t, err)
	assert.NotEqual(t, "smtp-secret-password", sealed)

	plain, err := Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "smtp-secret-password", plain)
}

func TestEncryptEmptyStringPassesThrough(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef"

	sealed, err := Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", sealed)

	plain, err := Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", plain)
}

func TestEncryptRejectsBadKeyLength(t *testing.T) {
	config.AppConfig.EncryptionKey = "too-short"

	_, err := Encrypt("anything")
	assert.Error(t, err)

	_, err = Decrypt("anything")
	assert.Error(t, err)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef"

	_, err := Decrypt("YWJj")
	assert.ErrorIs(t, err, errCiphertextTooShort)
}

func TestValidateEncryptionKey(t *testing.T) {
	assert.NoError(t, ValidateEncryptionKey("0123456789abcdef"))
	assert.NoError(t, ValidateEncryptionKey("0123456789abcdef01234567"))
	assert.NoError(t, ValidateEncryptionKey("0123456789abcdef0123456789abcdef"))
	assert.Error(t, ValidateEncryptionKey(""))
	assert.Error(t, ValidateEncryptionKey("0123456789abcde"))
}
