// Package vault is the encryption boundary for sensitive profile fields.
// Proxy passwords pass through here on their way to and from disk; the
// ciphertext is the only form the store ever sees.
//
// The symmetric key is generated on first use and kept in a key file
// readable only by the owning user. Losing the key file invalidates every
// stored credential; there is no recovery path.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

const keyLen = chacha20poly1305.KeySize

// Vault encrypts and decrypts small byte strings with XChaCha20-Poly1305.
type Vault struct {
	key []byte
}

// Open loads the key file at keyPath, generating it on first use. The key
// file is created with mode 0600 and an existing file with looser
// permissions is tightened.
func Open(keyPath string) (*Vault, error) {
	key, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(key) != keyLen {
			return nil, fmt.Errorf("vault: key file %s has %d bytes, want %d", keyPath, len(key), keyLen)
		}
		if err := os.Chmod(keyPath, 0600); err != nil {
			return nil, fmt.Errorf("vault: failed to tighten key file mode: %w", err)
		}
	case os.IsNotExist(err):
		key = make([]byte, keyLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("vault: failed to generate key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
			return nil, fmt.Errorf("vault: failed to create key directory: %w", err)
		}
		if err := os.WriteFile(keyPath, key, 0600); err != nil {
			return nil, fmt.Errorf("vault: failed to write key file: %w", err)
		}
	default:
		return nil, fmt.Errorf("vault: failed to read key file: %w", err)
	}

	return &Vault{key: key}, nil
}

// Encrypt seals plaintext with a random nonce. Returns nonce || ciphertext.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}

	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("vault: ciphertext too short")
	}

	plaintext, err := aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptString seals s and returns the base64 form stored in documents.
// Empty input stays empty so absent credentials round-trip cleanly.
func (v *Vault) EncryptString(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	ct, err := v.Encrypt([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString.
func (v *Vault) DecryptString(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("vault: decode ciphertext: %w", err)
	}
	pt, err := v.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
