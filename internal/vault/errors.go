package vault

import "errors"

var (
	// ErrLocked is returned by keyed operations while no key is held.
	ErrLocked = errors.New("vault locked")
	// ErrAuthenticationFailed is returned for a wrong passphrase. It carries
	// no information about how close the guess was.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrUnlockThrottled is returned when too many unlock attempts failed
	// recently.
	ErrUnlockThrottled = errors.New("too many failed unlock attempts")
	// ErrNotInitialized is returned before a master key record exists.
	ErrNotInitialized = errors.New("vault not initialised")
	// ErrAlreadyInitialized is returned by Initialize on an existing vault.
	ErrAlreadyInitialized = errors.New("vault already initialised")
	// ErrRotationAborted wraps every rotation failure. The stored vault is
	// unchanged when it is returned.
	ErrRotationAborted = errors.New("master key rotation aborted")
	// ErrInvalidEntry reports an entry that cannot be sealed.
	ErrInvalidEntry = errors.New("invalid entry")
)
