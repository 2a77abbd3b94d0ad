package krypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the length of freshly generated salts.
	SaltSize = 16
	// MinPBKDF2Iterations is the floor for the master-key stretch.
	MinPBKDF2Iterations = 600_000

	masterKeyInfo = "vaultcore/master/key/v1"
	verifierInfo  = "vaultcore/master/verifier/v1"
)

// PBKDF2Params configures the master passphrase stretch.
type PBKDF2Params struct {
	Iterations int
}

// DefaultPBKDF2Params returns the minimum accepted parameters.
func DefaultPBKDF2Params() PBKDF2Params {
	return PBKDF2Params{Iterations: MinPBKDF2Iterations}
}

func (p PBKDF2Params) validate() error {
	if p.Iterations < MinPBKDF2Iterations {
		return fmt.Errorf("%w: pbkdf2 iterations must be >= %d, got %d", ErrConfiguration, MinPBKDF2Iterations, p.Iterations)
	}
	return nil
}

// MasterKeys is the output of one passphrase stretch. Key encrypts vault
// entries; Verifier is persisted to check the passphrase. The two are
// independent HKDF outputs, so the verifier reveals nothing usable as key.
type MasterKeys struct {
	Key      []byte
	Verifier []byte
	Salt     []byte
}

// Wipe zeroes the key material.
func (m *MasterKeys) Wipe() {
	for i := range m.Key {
		m.Key[i] = 0
	}
}

// DeriveMasterKeys stretches passphrase with PBKDF2-HMAC-SHA256 and splits
// the result into an encryption key and a verifier. A nil salt draws a new
// random one.
func DeriveMasterKeys(passphrase, salt []byte, p PBKDF2Params) (*MasterKeys, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase is required", ErrConfiguration)
	}
	if salt == nil {
		var err error
		if salt, err = NewRandomSalt(SaltSize); err != nil {
			return nil, err
		}
	} else if len(salt) < SaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes, got %d", ErrConfiguration, SaltSize, len(salt))
	}

	stretched := pbkdf2.Key(passphrase, salt, p.Iterations, KeySize, sha256.New)
	defer wipe(stretched)

	key, err := HKDFSHA256(stretched, salt, []byte(masterKeyInfo), KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	verifier, err := HKDFSHA256(stretched, salt, []byte(verifierInfo), KeySize)
	if err != nil {
		wipe(key)
		return nil, fmt.Errorf("derive verifier: %w", err)
	}
	return &MasterKeys{Key: key, Verifier: verifier, Salt: salt}, nil
}

// DeriveKey returns only the encryption key and the salt it was derived
// with.
func DeriveKey(passphrase, salt []byte, p PBKDF2Params) (key, usedSalt []byte, err error) {
	mk, err := DeriveMasterKeys(passphrase, salt, p)
	if err != nil {
		return nil, nil, err
	}
	return mk.Key, mk.Salt, nil
}

// HashForVerification returns the stored verifier for passphrase.
func HashForVerification(passphrase, salt []byte, p PBKDF2Params) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt is required", ErrConfiguration)
	}
	mk, err := DeriveMasterKeys(passphrase, salt, p)
	if err != nil {
		return nil, err
	}
	mk.Wipe()
	return mk.Verifier, nil
}

// VerifyPassphrase re-derives the verifier and compares it in constant
// time. A mismatch is (false, nil); only configuration problems error.
func VerifyPassphrase(passphrase, verifier, salt []byte, p PBKDF2Params) (bool, error) {
	if len(salt) == 0 {
		return false, fmt.Errorf("%w: salt is required", ErrConfiguration)
	}
	if len(passphrase) == 0 {
		return false, nil
	}
	mk, err := DeriveMasterKeys(passphrase, salt, p)
	if err != nil {
		return false, err
	}
	mk.Wipe()
	return ConstantTimeEqual(mk.Verifier, verifier), nil
}

// ConstantTimeEqual compares two byte slices without leaking where they
// differ.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Argon2Params captures tunable parameters for Argon2id.
type Argon2Params struct {
	MemoryMB    uint32 `json:"memoryMB" yaml:"memory_mb"`
	Time        uint32 `json:"time" yaml:"time"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
	KeyLen      uint32 `json:"keyLen" yaml:"key_len"`
}

// DefaultArgon2Params returns sane defaults for deriving a 256-bit key.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		MemoryMB:    64,
		Time:        3,
		Parallelism: 1,
		KeyLen:      KeySize,
	}
}

// DeriveKeyArgon2id derives a key using Argon2id with the provided parameters.
func DeriveKeyArgon2id(password []byte, salt []byte, p Argon2Params) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password is required", ErrConfiguration)
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrConfiguration, SaltSize)
	}
	if p.KeyLen == 0 || p.MemoryMB == 0 || p.Time == 0 || p.Parallelism == 0 {
		return nil, fmt.Errorf("%w: argon2 parameters must be positive", ErrConfiguration)
	}

	key := argon2.IDKey(password, salt, p.Time, p.MemoryMB*1024, p.Parallelism, p.KeyLen)
	if uint32(len(key)) != p.KeyLen {
		return nil, fmt.Errorf("derived key has unexpected length %d", len(key))
	}
	return key, nil
}

// NewRandomSalt returns a cryptographically secure random salt of length n
// bytes, never shorter than SaltSize.
func NewRandomSalt(n int) ([]byte, error) {
	if n < SaltSize {
		n = SaltSize
	}
	salt := make([]byte, n)
	if _, err := io.ReadFull(randReader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
