package share

import "errors"

var (
	// ErrShareRevoked is returned for any use of a revoked share.
	ErrShareRevoked = errors.New("share revoked")
	// ErrShareExpired is returned once the share's expiry has passed.
	ErrShareExpired = errors.New("share expired")
	// ErrShareExhausted is returned once every allowed use is consumed.
	ErrShareExhausted = errors.New("share exhausted")
	// ErrNotAuthorized is returned when a principal acts on a share it does
	// not own.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrPassphraseRequired is returned when consuming a gated share
	// without a passphrase.
	ErrPassphraseRequired = errors.New("share passphrase required")
	// ErrInvalidRequest reports a malformed CreateRequest.
	ErrInvalidRequest = errors.New("invalid share request")
)
