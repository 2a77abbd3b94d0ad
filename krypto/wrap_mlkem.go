package krypto

import (
	"encoding/pem"
	"fmt"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

const (
	pemMLKEMPublic  = "ML-KEM-768 PUBLIC KEY"
	pemMLKEMPrivate = "ML-KEM-768 PRIVATE KEY"

	mlkemWrapInfo = "vaultcore/share-key/mlkem768/v1"
)

// MLKEM768 wraps keys with ML-KEM-768: the encapsulated shared secret is
// expanded with HKDF-SHA256 into an AES-256-GCM key that seals the payload
// key, with the KEM ciphertext bound as associated data. Wire layout:
// kemCiphertext || nonce || sealedKey.
type MLKEM768 struct{}

// Scheme implements KeyWrapper.
func (MLKEM768) Scheme() WrapScheme { return SchemeMLKEM768 }

// GenerateKeyPair implements KeyWrapper.
func (MLKEM768) GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := mlkem768.GenerateKeyPair(randReader)
	if err != nil {
		return nil, fmt.Errorf("generate ml-kem key: %w", err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ml-kem public key: %w", err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ml-kem private key: %w", err)
	}
	defer wipe(privBytes)
	return &KeyPair{
		Scheme:     SchemeMLKEM768,
		PublicKey:  pem.EncodeToMemory(&pem.Block{Type: pemMLKEMPublic, Bytes: pubBytes}),
		PrivateKey: pem.EncodeToMemory(&pem.Block{Type: pemMLKEMPrivate, Bytes: privBytes}),
	}, nil
}

// Wrap implements KeyWrapper.
func (MLKEM768) Wrap(publicKey, key []byte) ([]byte, error) {
	if err := checkWrapKey(key); err != nil {
		return nil, err
	}
	block, _ := pem.Decode(publicKey)
	if block == nil || block.Type != pemMLKEMPublic {
		return nil, fmt.Errorf("%w: expected PEM %q", ErrConfiguration, pemMLKEMPublic)
	}
	scheme := mlkem768.Scheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse ml-kem public key: %v", ErrConfiguration, err)
	}

	kemCT, shared, err := scheme.Encapsulate(pub)
	if err != nil {
		return nil, fmt.Errorf("ml-kem encapsulate: %w", err)
	}
	defer wipe(shared)

	kek, err := HKDFSHA256(shared, kemCT, []byte(mlkemWrapInfo), KeySize)
	if err != nil {
		return nil, err
	}
	defer wipe(kek)

	nonce, sealed, err := EncryptAESGCM(kek, key, kemCT)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(kemCT)+len(nonce)+len(sealed))
	out = append(out, kemCT...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Unwrap implements KeyWrapper.
func (MLKEM768) Unwrap(privateKey, wrapped []byte) ([]byte, error) {
	block, _ := pem.Decode(privateKey)
	if block == nil || block.Type != pemMLKEMPrivate {
		return nil, ErrAuthentication
	}
	scheme := mlkem768.Scheme()
	priv, err := scheme.UnmarshalBinaryPrivateKey(block.Bytes)
	if err != nil {
		return nil, ErrAuthentication
	}

	ctSize := scheme.CiphertextSize()
	if len(wrapped) < ctSize+NonceSize+TagSize {
		return nil, ErrAuthentication
	}
	kemCT := wrapped[:ctSize]
	nonce := wrapped[ctSize : ctSize+NonceSize]
	sealed := wrapped[ctSize+NonceSize:]

	shared, err := scheme.Decapsulate(priv, kemCT)
	if err != nil {
		return nil, ErrAuthentication
	}
	defer wipe(shared)

	kek, err := HKDFSHA256(shared, kemCT, []byte(mlkemWrapInfo), KeySize)
	if err != nil {
		return nil, err
	}
	defer wipe(kek)

	key, err := DecryptAESGCM(kek, nonce, sealed, kemCT)
	if err != nil || len(key) != KeySize {
		wipe(key)
		return nil, ErrAuthentication
	}
	return key, nil
}
