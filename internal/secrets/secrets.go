// Package secrets provides envelope encryption for sensitive values that the
// core must persist: one-time login codes and stored refresh material.
// Callers never see plaintext on disk and never see garbage on a bad key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const algGCM = "gcm"

var (
	// ErrDecryptFailed covers tampered ciphertext and key mismatch alike.
	ErrDecryptFailed = errors.New("secrets: decryption failed")
	// ErrMalformedEnvelope means the stored encoding could not be parsed.
	ErrMalformedEnvelope = errors.New("secrets: malformed envelope")
)

// Envelope wraps an encrypted value together with its algorithm tag. The
// plaintext it protects is never persisted.
type Envelope struct {
	Alg        string
	Nonce      []byte
	Ciphertext []byte
}

// Encode renders the envelope as alg$nonce$ciphertext for storage.
func (e Envelope) Encode() string {
	return fmt.Sprintf("%s$%s$%s",
		e.Alg,
		base64.RawStdEncoding.EncodeToString(e.Nonce),
		base64.RawStdEncoding.EncodeToString(e.Ciphertext),
	)
}

// DecodeEnvelope parses the stored encoding produced by Encode.
func DecodeEnvelope(raw string) (Envelope, error) {
	parts := strings.Split(raw, "$")
	if len(parts) != 3 || parts[0] != algGCM {
		return Envelope{}, ErrMalformedEnvelope
	}
	nonce, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return Envelope{}, ErrMalformedEnvelope
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return Envelope{}, ErrMalformedEnvelope
	}
	return Envelope{Alg: algGCM, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Cipher seals and opens envelopes with one process-wide AES-256 key. The key
// comes from configuration and must be stable across restarts; envelopes
// sealed under a previous key cannot be opened.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secrets: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: new gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Cipher) Seal(plaintext []byte) (Envelope, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("secrets: generate nonce: %w", err)
	}
	return Envelope{
		Alg:        algGCM,
		Nonce:      nonce,
		Ciphertext: c.aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Open decrypts an envelope. Any authentication failure surfaces as
// ErrDecryptFailed; corrupted plaintext is never returned.
func (c *Cipher) Open(e Envelope) ([]byte, error) {
	if e.Alg != algGCM || len(e.Nonce) != c.aead.NonceSize() {
		return nil, ErrDecryptFailed
	}
	plaintext, err := c.aead.Open(nil, e.Nonce, e.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
