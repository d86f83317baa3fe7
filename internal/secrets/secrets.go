// Package secrets decrypts tenant credentials stored by the dashboard.
// Payloads are AES-256-GCM, serialized as iv_hex:authTag_hex:ciphertext_hex.
// Plaintext only ever lives on the stack of a pipeline invocation; it is
// never persisted and never logged.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const ivSize = 16

// ErrMalformedPayload indicates the stored ciphertext is not in the
// expected iv:tag:ciphertext format.
var ErrMalformedPayload = errors.New("malformed encrypted payload")

// Box performs authenticated encryption with a fixed 32-byte key.
type Box struct {
	key []byte
}

// NewBox builds a Box from a hex-encoded 32-byte key.
func NewBox(keyHex string) (*Box, error) {
	key, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes, got %d", len(key))
	}
	return &Box{key: key}, nil
}

// Open decrypts an iv_hex:authTag_hex:ciphertext_hex payload.
func (b *Box) Open(payload string) (string, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return "", ErrMalformedPayload
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", ErrMalformedPayload
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedPayload
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedPayload
	}

	gcm, err := b.gcm(len(iv))
	if err != nil {
		return "", err
	}
	// GCM in the standard library expects the tag appended to the ciphertext.
	plain, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("decrypt credential: %w", err)
	}
	return string(plain), nil
}

// Seal encrypts plaintext into the stored payload format. Used by seeding
// scripts and tests; the orchestrator itself only decrypts.
func (b *Box) Seal(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	gcm, err := b.gcm(ivSize)
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ct, tag := sealed[:tagStart], sealed[tagStart:]
	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(iv), hex.EncodeToString(tag), hex.EncodeToString(ct)), nil
}

func (b *Box) gcm(nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if nonceSize <= 0 {
		return nil, ErrMalformedPayload
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
