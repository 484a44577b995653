// Package credstore implements the authenticated-encryption wrapper used to
// protect credentials at rest: a nonce-prepended AEAD seal, with the key
// stored in a neighbouring key file readable only by the owning user.
//
// No other package in this repo performs AEAD directly (see DESIGN.md); this
// package uses golang.org/x/crypto/chacha20poly1305, which is already a
// transitive dependency of go.mod and is the idiomatic Go
// AEAD choice absent an in-pack precedent.
package credstore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required length of keys passed to Seal/Open.
const KeySize = chacha20poly1305.KeySize

// ErrCiphertextTooShort is returned by Open when the input is shorter than
// one nonce.
var ErrCiphertextTooShort = errors.New("credstore: ciphertext shorter than nonce")

// GenerateKey returns a fresh random key suitable for Seal/Open.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("credstore: generating key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under key, prepending a fresh random nonce to the
// returned ciphertext. Distinct calls with the same plaintext and key
// produce distinct output because the nonce is freshly generated each time.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("credstore: constructing AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("credstore: generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a value produced by Seal under the same key. Any bit-flip
// in the ciphertext (including the nonce prefix) causes decryption to fail.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("credstore: constructing AEAD: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("credstore: decrypting: %w", err)
	}
	return plaintext, nil
}
