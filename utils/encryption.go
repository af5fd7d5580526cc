package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"mailreach/config"
)

// SMTP and IMAP passwords are stored encrypted at rest. The key comes
// from ENCRYPTION_KEY and must be 16, 24 or 32 bytes for AES.

var errCiphertextTooShort = errors.New("ciphertext too short")

// ValidateEncryptionKey reports whether key is a usable AES key length.
func ValidateEncryptionKey(key string) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("encryption key must be 16, 24 or 32 bytes, got %d", len(key))
	}
}

func encryptionCipher() (cipher.Block, error) {
	key := config.AppConfig.EncryptionKey
	if err := ValidateEncryptionKey(key); err != nil {
		return nil, err
	}
	return aes.NewCipher([]byte(key))
}

// Encrypt seals plaintext with AES-CFB under the configured key and
// returns the IV-prefixed ciphertext, base64 URL-encoded. The empty
// string passes through so optional credential fields stay empty.
func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := encryptionCipher()
	if err != nil {
		return "", err
	}

	sealed := make([]byte, aes.BlockSize+len(plaintext))
	iv := sealed[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	cipher.NewCFBEncrypter(block, iv).XORKeyStream(sealed[aes.BlockSize:], []byte(plaintext))

	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input passes through unchanged.
func Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	block, err := encryptionCipher()
	if err != nil {
		return "", err
	}

	sealed, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(sealed) < aes.BlockSize {
		return "", errCiphertextTooShort
	}

	iv, body := sealed[:aes.BlockSize], sealed[aes.BlockSize:]
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(body, body)

	return string(body), nil
}
