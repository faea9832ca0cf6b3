package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// deriveSettingsKey produces a deterministic 32-byte AES-256 key from
// machine-specific attributes (hostname + working directory), so the
// embedding-provider keys persisted in settings.json aren't sitting
// around in plaintext without requiring the operator to manage a
// separate passphrase.
func deriveSettingsKey() []byte {
	hostname, _ := os.Hostname()
	cwd, _ := os.Getwd()
	seed := fmt.Sprintf("rag-core:%s:%s", hostname, cwd)
	hash := sha256.Sum256([]byte(seed))
	return hash[:]
}

// Encrypt encrypts an embedding-provider API key using AES-256-GCM and
// returns a base64-encoded string. Returns empty string for empty input.
func Encrypt(apiKey string) (string, error) {
	if apiKey == "" {
		return "", nil
	}

	key := deriveSettingsKey()
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypto: cipher init: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: gcm init: %w", err)
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}

	sealed := aesGCM.Seal(nonce, nonce, []byte(apiKey), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt, recovering the stored API key. Returns
// empty string for empty input.
func Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("crypto: base64 decode: %w", err)
	}

	key := deriveSettingsKey()
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypto: cipher init: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: gcm init: %w", err)
	}

	nonceSize := aesGCM.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("crypto: ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	apiKey, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt: %w", err)
	}

	return string(apiKey), nil
}
