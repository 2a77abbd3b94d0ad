package krypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

const (
	pemRSAPublic  = "PUBLIC KEY"
	pemRSAPrivate = "PRIVATE KEY"

	minRSABits = 2048
)

var oaepLabel = []byte("vaultcore/share-key/v1")

// RSAOAEP wraps keys with RSA-OAEP-SHA256.
type RSAOAEP struct {
	// Bits is the modulus size used by GenerateKeyPair.
	Bits int
}

// Scheme implements KeyWrapper.
func (RSAOAEP) Scheme() WrapScheme { return SchemeRSAOAEP }

// GenerateKeyPair returns PEM-encoded PKIX public and PKCS#8 private keys.
func (r RSAOAEP) GenerateKeyPair() (*KeyPair, error) {
	bits := r.Bits
	if bits == 0 {
		bits = 3072
	}
	if bits < minRSABits {
		return nil, fmt.Errorf("%w: rsa modulus must be >= %d bits", ErrConfiguration, minRSABits)
	}
	priv, err := rsa.GenerateKey(randReader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal rsa public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal rsa private key: %w", err)
	}
	defer wipe(privDER)
	return &KeyPair{
		Scheme:     SchemeRSAOAEP,
		PublicKey:  pem.EncodeToMemory(&pem.Block{Type: pemRSAPublic, Bytes: pubDER}),
		PrivateKey: pem.EncodeToMemory(&pem.Block{Type: pemRSAPrivate, Bytes: privDER}),
	}, nil
}

// Wrap implements KeyWrapper.
func (RSAOAEP) Wrap(publicKey, key []byte) ([]byte, error) {
	if err := checkWrapKey(key); err != nil {
		return nil, err
	}
	block, _ := pem.Decode(publicKey)
	if block == nil || block.Type != pemRSAPublic {
		return nil, fmt.Errorf("%w: expected PEM %q", ErrConfiguration, pemRSAPublic)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrConfiguration)
	}
	if pub.N.BitLen() < minRSABits {
		return nil, fmt.Errorf("%w: rsa modulus must be >= %d bits", ErrConfiguration, minRSABits)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), randReader, pub, key, oaepLabel)
	if err != nil {
		return nil, fmt.Errorf("rsa-oaep wrap: %w", err)
	}
	return wrapped, nil
}

// Unwrap implements KeyWrapper.
func (RSAOAEP) Unwrap(privateKey, wrapped []byte) ([]byte, error) {
	block, _ := pem.Decode(privateKey)
	if block == nil || block.Type != pemRSAPrivate {
		return nil, ErrAuthentication
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, ErrAuthentication
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrAuthentication
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, oaepLabel)
	if err != nil || len(key) != KeySize {
		wipe(key)
		return nil, ErrAuthentication
	}
	return key, nil
}
