// Package seal provides authenticated encryption of record payloads with
// NaCl secretbox (XSalsa20-Poly1305).
//
// Sealed output is the 24-byte random nonce followed by the box. The key a
// Box is built with lives only in memory: with Generate it is new for every
// process, so records sealed by an earlier process can no longer be opened.
// Use FromSecret to derive a stable key from a secret the caller manages.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
	// Overhead is the number of bytes Seal adds to the plaintext.
	Overhead = NonceSize + secretbox.Overhead
)

var (
	// ErrOpen is returned when a sealed payload fails authentication,
	// was truncated or was sealed under a different key.
	ErrOpen = errors.New("seal: message authentication failed")

	// randReadFunc populates a byte array with random data, and can be
	// replaced during testing
	randReadFunc = rand.Read

	hkdfInfo = []byte("udstore record key v1")
)

// Cipher seals and opens payloads.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Box is a secretbox Cipher. Safe for concurrent use.
type Box struct {
	key [KeySize]byte
}

var _ Cipher = (*Box)(nil)

// Generate creates a Box with a fresh random key.
func Generate() (*Box, error) {
	b := &Box{}
	if _, err := randReadFunc(b.key[:]); err != nil {
		return nil, fmt.Errorf("seal: generating key: %w", err)
	}
	return b, nil
}

// FromSecret derives the key from secret with HKDF-SHA256.
// The same secret and salt always give the same key.
func FromSecret(secret, salt []byte) (*Box, error) {
	if len(secret) == 0 {
		return nil, errors.New("seal: empty secret")
	}
	b := &Box{}
	kdf := hkdf.New(sha256.New, secret, salt, hkdfInfo)
	if _, err := io.ReadFull(kdf, b.key[:]); err != nil {
		return nil, fmt.Errorf("seal: deriving key: %w", err)
	}
	return b, nil
}

// Seal encrypts plaintext under a new random nonce.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := randReadFunc(nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: generating nonce: %w", err)
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &b.key), nil
}

// Open authenticates and decrypts a payload produced by Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, ErrOpen
	}
	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])
	msg, ok := secretbox.Open(nil, sealed[NonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrOpen
	}
	if msg == nil {
		msg = []byte{}
	}
	return msg, nil
}
