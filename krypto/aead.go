package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32
	// NonceSize is the AES-GCM nonce size in bytes.
	NonceSize = 12
	// TagSize is the AES-GCM tag size in bytes.
	TagSize = 16
)

// randReader is the randomness source for nonces, salts and one-time keys.
var randReader io.Reader = rand.Reader

// EncryptAESGCM encrypts plaintext using AES-256-GCM under a freshly drawn
// nonce, returning the nonce and ciphertext||tag. Callers cannot choose the
// nonce.
func EncryptAESGCM(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

// DecryptAESGCM authenticates and decrypts ciphertext. On a tag mismatch it
// returns ErrAuthentication and no plaintext.
func DecryptAESGCM(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrConfiguration, NonceSize, len(nonce))
	}
	if len(ciphertext) < TagSize {
		return nil, ErrAuthentication
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// NewRandomKey returns a fresh 256-bit key.
func NewRandomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(randReader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: aes-gcm requires a %d-byte key, got %d", ErrConfiguration, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
