package krypto

import "errors"

var (
	// ErrAuthentication is returned when an AEAD tag or a key unwrap does
	// not verify. The data was tampered with, corrupted, or opened with the
	// wrong key; retrying with the same key cannot succeed.
	ErrAuthentication = errors.New("authentication failed: ciphertext rejected")

	// ErrConfiguration is returned for key, nonce, salt or parameter sizes
	// the primitives refuse to operate on. It indicates a programming or
	// setup error, not bad input data.
	ErrConfiguration = errors.New("invalid cryptographic configuration")

	// ErrUnsupportedScheme is returned for unknown key wrap schemes or key
	// encodings.
	ErrUnsupportedScheme = errors.New("unsupported key wrap scheme")
)
