// Package vault holds the master key and encrypts credential entries.
//
// A Cipher starts Locked. Unlock derives the key from the passphrase and
// keeps it in a locked secret buffer until Lock, an idle timeout or
// process exit.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Hussein-Mazeh/vaultcore/internal/clock"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/port"
	"github.com/Hussein-Mazeh/vaultcore/internal/secret"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

// PassphrasePolicy validates a new master passphrase.
type PassphrasePolicy interface {
	Validate(ctx context.Context, passphrase string) error
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithLogger sets the logger. Secrets are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cipher) { c.log = l }
}

// WithClock injects the time source used for timestamps, throttling and
// the idle timer.
func WithClock(clk clock.Clock) Option {
	return func(c *Cipher) { c.clock = clk }
}

// WithKDFParams sets the stretch applied to new master key records.
func WithKDFParams(p krypto.PBKDF2Params) Option {
	return func(c *Cipher) { c.kdf = p }
}

// WithIdleTimeout locks the vault after d without a keyed operation.
// Zero disables auto-lock.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Cipher) { c.idleTimeout = d }
}

// WithPassphrasePolicy validates passphrases passed to Initialize and
// RotateMasterKey.
func WithPassphrasePolicy(p PassphrasePolicy) Option {
	return func(c *Cipher) { c.policy = p }
}

// WithUnlockLimiter allows burst failed unlocks, refilling one every
// interval.
func WithUnlockLimiter(interval time.Duration, burst int) Option {
	return func(c *Cipher) { c.limiter = rate.NewLimiter(rate.Every(interval), burst) }
}

// Cipher is the VaultCipher: it owns the in-memory master key and every
// encrypt/decrypt of vault entries.
type Cipher struct {
	store       port.VaultStore
	log         *slog.Logger
	clock       clock.Clock
	kdf         krypto.PBKDF2Params
	idleTimeout time.Duration
	policy      PassphrasePolicy
	limiter     *rate.Limiter

	// mu guards key. Rotation and Lock take it exclusively.
	mu  sync.RWMutex
	key *secret.Buffer

	idleMu  sync.Mutex
	idle    clock.Timer
	idleGen uint64

	// beforeReencrypt, when set, runs before entry i of a rotation is
	// re-encrypted. Tests use it to inject failures.
	beforeReencrypt func(i int, id string) error
}

// New returns a locked Cipher over store.
func New(store port.VaultStore, opts ...Option) *Cipher {
	c := &Cipher{
		store:   store,
		log:     slog.Default(),
		clock:   clock.Real(),
		kdf:     krypto.DefaultPBKDF2Params(),
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize creates the master key record for a new vault. The vault
// stays locked.
func (c *Cipher) Initialize(ctx context.Context, passphrase []byte) error {
	if _, err := c.store.LoadMasterRecord(ctx); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("load master record: %w", err)
	}
	if err := c.checkPolicy(ctx, passphrase); err != nil {
		return err
	}

	mk, err := krypto.DeriveMasterKeys(passphrase, nil, c.kdf)
	if err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}
	mk.Wipe()

	now := c.clock.Now()
	rec := &model.MasterKeyRecord{
		Salt:          mk.Salt,
		Verifier:      mk.Verifier,
		KDFIterations: c.kdf.Iterations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.store.SaveMasterRecord(ctx, rec); err != nil {
		return fmt.Errorf("save master record: %w", err)
	}
	c.log.Info("vault initialised", "kdf_iterations", rec.KDFIterations)
	return nil
}

// Initialized reports whether a master key record exists.
func (c *Cipher) Initialized(ctx context.Context) (bool, error) {
	_, err := c.store.LoadMasterRecord(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, model.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("load master record: %w", err)
	}
}

func (c *Cipher) checkPolicy(ctx context.Context, passphrase []byte) error {
	if len(passphrase) == 0 {
		return fmt.Errorf("%w: passphrase is required", krypto.ErrConfiguration)
	}
	if c.policy == nil {
		return nil
	}
	if err := c.policy.Validate(ctx, string(passphrase)); err != nil {
		return fmt.Errorf("passphrase policy: %w", err)
	}
	return nil
}

// Unlock verifies passphrase against the stored record and, on success,
// holds the derived key. On failure the vault stays locked and
// ErrAuthenticationFailed is returned.
func (c *Cipher) Unlock(ctx context.Context, passphrase []byte) error {
	now := c.clock.Now()
	if c.limiter.TokensAt(now) < 1 {
		return ErrUnlockThrottled
	}

	rec, err := c.store.LoadMasterRecord(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return ErrNotInitialized
	}
	if err != nil {
		return fmt.Errorf("load master record: %w", err)
	}

	mk, err := c.verify(rec, passphrase)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			c.limiter.AllowN(now, 1)
			c.log.Warn("unlock failed")
		}
		return err
	}

	buf, err := secret.NewFromBytes(mk.Key)
	if err != nil {
		mk.Wipe()
		return fmt.Errorf("hold master key: %w", err)
	}

	c.mu.Lock()
	if c.key != nil {
		_ = c.key.Close()
	}
	c.key = buf
	c.mu.Unlock()

	c.touch()
	c.log.Info("vault unlocked", "mlocked", buf.Locked())
	return nil
}

// verify derives the master keys from passphrase and checks them against
// rec. The caller owns the returned key.
func (c *Cipher) verify(rec *model.MasterKeyRecord, passphrase []byte) (*krypto.MasterKeys, error) {
	if len(passphrase) == 0 {
		return nil, ErrAuthenticationFailed
	}
	mk, err := krypto.DeriveMasterKeys(passphrase, rec.Salt, krypto.PBKDF2Params{Iterations: rec.KDFIterations})
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	if !krypto.ConstantTimeEqual(mk.Verifier, rec.Verifier) {
		mk.Wipe()
		return nil, ErrAuthenticationFailed
	}
	return mk, nil
}

// Lock zeroes and discards the key. It is safe to call when locked.
func (c *Cipher) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockLocked()
}

func (c *Cipher) lockLocked() {
	c.idleMu.Lock()
	c.idleGen++
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
	c.idleMu.Unlock()

	if c.key == nil {
		return
	}
	_ = c.key.Close()
	c.key = nil
	c.log.Info("vault locked")
}

// IsUnlocked reports whether a key is held.
func (c *Cipher) IsUnlocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key != nil
}

// touch restarts the idle timer.
func (c *Cipher) touch() {
	if c.idleTimeout <= 0 {
		return
	}
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idle != nil {
		c.idle.Stop()
	}
	c.idleGen++
	gen := c.idleGen
	c.idle = c.clock.AfterFunc(c.idleTimeout, func() {
		c.idleMu.Lock()
		current := gen == c.idleGen
		c.idleMu.Unlock()
		if current {
			c.log.Info("idle timeout reached")
			c.Lock()
		}
	})
}

// withKey runs fn with the master key under the read lock. Store writes
// made by fn finish before a rotation can start. fn must not take c.mu.
func (c *Cipher) withKey(fn func(key []byte) error) error {
	c.mu.RLock()
	if c.key == nil {
		c.mu.RUnlock()
		return ErrLocked
	}
	key, err := c.key.Bytes()
	if err != nil {
		c.mu.RUnlock()
		return ErrLocked
	}
	err = fn(key)
	c.mu.RUnlock()
	c.touch()
	return err
}

// EncryptEntry seals every secret field of e independently.
func (c *Cipher) EncryptEntry(e *model.Entry) (*model.VaultEntry, error) {
	var out *model.VaultEntry
	err := c.withKey(func(key []byte) error {
		var err error
		out, err = sealEntry(key, e)
		return err
	})
	return out, err
}

// DecryptEntry opens every sealed field of v. When some fields fail
// authentication the entry is returned with the remaining fields together
// with an error naming each failed field (see FailedFields); every such
// error matches krypto.ErrAuthentication.
func (c *Cipher) DecryptEntry(v *model.VaultEntry) (*model.Entry, error) {
	var (
		out     *model.Entry
		openErr error
	)
	err := c.withKey(func(key []byte) error {
		out, openErr = openEntry(key, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, openErr
}

// WrapVaultKey wraps the current master key for publicKey, detecting the
// scheme from its encoding. Used to approve emergency access.
func (c *Cipher) WrapVaultKey(publicKey []byte) (krypto.WrapScheme, []byte, error) {
	var (
		scheme  krypto.WrapScheme
		wrapped []byte
	)
	err := c.withKey(func(key []byte) error {
		var err error
		scheme, wrapped, err = krypto.WrapKey(publicKey, key)
		return err
	})
	if err != nil {
		return "", nil, fmt.Errorf("wrap vault key: %w", err)
	}
	return scheme, wrapped, nil
}

// OpenWithKey decrypts v with an externally supplied master key, such as
// one released through emergency access.
func OpenWithKey(key []byte, v *model.VaultEntry) (*model.Entry, error) {
	return openEntry(key, v)
}
