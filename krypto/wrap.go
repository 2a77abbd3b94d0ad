package krypto

import (
	"bytes"
	"encoding/pem"
	"fmt"
)

// WrapScheme names the asymmetric primitive a one-time key was wrapped
// with. It is persisted next to the wrapped key.
type WrapScheme string

const (
	// SchemeRSAOAEP is RSA-OAEP with SHA-256, keys in PEM (PKIX / PKCS#8).
	SchemeRSAOAEP WrapScheme = "rsa-oaep-sha256"
	// SchemeAgeX25519 is an age file with a single X25519 recipient.
	SchemeAgeX25519 WrapScheme = "age-x25519"
	// SchemeMLKEM768 is ML-KEM-768 encapsulation feeding HKDF-SHA256 and
	// AES-256-GCM, keys in PEM.
	SchemeMLKEM768 WrapScheme = "mlkem768-hkdf-aesgcm"
)

// KeyWrapper wraps symmetric keys under a recipient's public key. Keys are
// opaque exportable bytes; each wrapper documents its encoding.
type KeyWrapper interface {
	Scheme() WrapScheme
	GenerateKeyPair() (*KeyPair, error)
	Wrap(publicKey, key []byte) ([]byte, error)
	// Unwrap returns ErrAuthentication for any wrapped blob or private key
	// that does not open, without distinguishing the cause.
	Unwrap(privateKey, wrapped []byte) ([]byte, error)
}

// KeyPair is an exportable asymmetric key pair.
type KeyPair struct {
	Scheme     WrapScheme
	PublicKey  []byte
	PrivateKey []byte
}

// Wipe zeroes the private key.
func (k *KeyPair) Wipe() { wipe(k.PrivateKey) }

var wrappers = map[WrapScheme]KeyWrapper{
	SchemeRSAOAEP:   RSAOAEP{Bits: 3072},
	SchemeAgeX25519: AgeX25519{},
	SchemeMLKEM768:  MLKEM768{},
}

// WrapperFor returns the wrapper registered for scheme.
func WrapperFor(scheme WrapScheme) (KeyWrapper, error) {
	w, ok := wrappers[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return w, nil
}

// GenerateKeyPair creates a key pair for scheme.
func GenerateKeyPair(scheme WrapScheme) (*KeyPair, error) {
	w, err := WrapperFor(scheme)
	if err != nil {
		return nil, err
	}
	return w.GenerateKeyPair()
}

// DetectScheme infers the wrap scheme from a public key encoding.
func DetectScheme(publicKey []byte) (WrapScheme, error) {
	trimmed := bytes.TrimSpace(publicKey)
	if bytes.HasPrefix(trimmed, []byte("age1")) {
		return SchemeAgeX25519, nil
	}
	block, _ := pem.Decode(trimmed)
	if block == nil {
		return "", fmt.Errorf("%w: public key is neither PEM nor age", ErrUnsupportedScheme)
	}
	switch block.Type {
	case pemRSAPublic:
		return SchemeRSAOAEP, nil
	case pemMLKEMPublic:
		return SchemeMLKEM768, nil
	default:
		return "", fmt.Errorf("%w: pem type %q", ErrUnsupportedScheme, block.Type)
	}
}

// WrapKey detects the recipient's scheme and wraps key for it.
func WrapKey(publicKey, key []byte) (WrapScheme, []byte, error) {
	scheme, err := DetectScheme(publicKey)
	if err != nil {
		return "", nil, err
	}
	w, err := WrapperFor(scheme)
	if err != nil {
		return "", nil, err
	}
	wrapped, err := w.Wrap(publicKey, key)
	if err != nil {
		return "", nil, err
	}
	return scheme, wrapped, nil
}

// UnwrapKey opens a key wrapped with scheme.
func UnwrapKey(scheme WrapScheme, privateKey, wrapped []byte) ([]byte, error) {
	w, err := WrapperFor(scheme)
	if err != nil {
		return nil, err
	}
	return w.Unwrap(privateKey, wrapped)
}

func checkWrapKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: wrapped key must be %d bytes, got %d", ErrConfiguration, KeySize, len(key))
	}
	return nil
}
