package krypto

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// AgeX25519 wraps keys as an age file for a single X25519 recipient. Public
// keys are "age1..." strings, private keys "AGE-SECRET-KEY-1..." strings.
type AgeX25519 struct{}

// Scheme implements KeyWrapper.
func (AgeX25519) Scheme() WrapScheme { return SchemeAgeX25519 }

// GenerateKeyPair implements KeyWrapper.
func (AgeX25519) GenerateKeyPair() (*KeyPair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate age identity: %w", err)
	}
	return &KeyPair{
		Scheme:     SchemeAgeX25519,
		PublicKey:  []byte(identity.Recipient().String()),
		PrivateKey: []byte(identity.String()),
	}, nil
}

// Wrap implements KeyWrapper.
func (AgeX25519) Wrap(publicKey, key []byte) ([]byte, error) {
	if err := checkWrapKey(key); err != nil {
		return nil, err
	}
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(string(publicKey)))
	if err != nil {
		return nil, fmt.Errorf("%w: parse age recipient: %v", ErrConfiguration, err)
	}

	var out bytes.Buffer
	w, err := age.Encrypt(&out, recipient)
	if err != nil {
		return nil, fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := w.Write(key); err != nil {
		return nil, fmt.Errorf("write age payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize age payload: %w", err)
	}
	return out.Bytes(), nil
}

// Unwrap implements KeyWrapper.
func (AgeX25519) Unwrap(privateKey, wrapped []byte) ([]byte, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(privateKey)))
	if err != nil {
		return nil, ErrAuthentication
	}
	r, err := age.Decrypt(bytes.NewReader(wrapped), identity)
	if err != nil {
		return nil, ErrAuthentication
	}
	key, err := io.ReadAll(io.LimitReader(r, KeySize+1))
	if err != nil || len(key) != KeySize {
		wipe(key)
		return nil, ErrAuthentication
	}
	return key, nil
}
