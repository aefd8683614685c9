package pubsub

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// deriveKey turns the shared auth_key into a 32-byte AEAD key. Per spec §9's
// open question, this replaces the reference's DES-like XOR with a real
// AEAD without changing the wire envelope shape (base64 over encrypted
// bytes); it does not try to reproduce the reference's exact ciphertext.
func deriveKey(authKey string) [32]byte {
	return sha256.Sum256([]byte(authKey))
}

// Seal encrypts payload with ChaCha20-Poly1305 under authKey and returns the
// base64-encoded envelope (nonce || ciphertext).
func Seal(authKey string, payload []byte) (string, error) {
	key := deriveKey(authKey)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return "", fmt.Errorf("pubsub: aead init: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("pubsub: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, payload, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts an envelope produced by Seal.
func Open(authKey string, envelope string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("pubsub: base64 decode: %w", err)
	}
	key := deriveKey(authKey)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("pubsub: aead init: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, errors.New("pubsub: envelope too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
