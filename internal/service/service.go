// Package service wires the vault, sharing, access-request and emergency
// components over one configured backend. It is the composition root the
// CLI builds on.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Hussein-Mazeh/vaultcore/auth"
	"github.com/Hussein-Mazeh/vaultcore/internal/access"
	"github.com/Hussein-Mazeh/vaultcore/internal/clock"
	"github.com/Hussein-Mazeh/vaultcore/internal/config"
	"github.com/Hussein-Mazeh/vaultcore/internal/db"
	"github.com/Hussein-Mazeh/vaultcore/internal/emergency"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/port"
	"github.com/Hussein-Mazeh/vaultcore/internal/share"
	"github.com/Hussein-Mazeh/vaultcore/internal/vault"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
	"github.com/Hussein-Mazeh/vaultcore/store"
)

// DatabaseFile is the SQLite file name inside the vault directory.
const DatabaseFile = "vault.db"

// Option configures New.
type Option func(*options)

type options struct {
	log      *slog.Logger
	clock    clock.Clock
	store    port.Store
	breaches auth.BreachChecker
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock injects the time source handed to every component.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithStore uses st instead of opening the configured backend. The
// Service takes ownership and closes it.
func WithStore(st port.Store) Option {
	return func(o *options) { o.store = st }
}

// WithBreachChecker overrides the HIBP client used when breach checks are
// enabled.
func WithBreachChecker(b auth.BreachChecker) Option {
	return func(o *options) { o.breaches = b }
}

// Service exposes high-level vault operations for the CLI.
type Service struct {
	Store     port.Store
	Vault     *vault.Cipher
	Shares    *share.Service
	Access    *access.Workflow
	Emergency *emergency.Service

	cfg *config.Config
	log *slog.Logger
}

// OpenBackend opens the store selected by cfg.Vault.Backend.
func OpenBackend(cfg *config.Config) (port.Store, error) {
	switch cfg.Vault.Backend {
	case config.BackendSQLite:
		st, err := db.OpenStore(filepath.Join(cfg.Vault.Dir, DatabaseFile))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case config.BackendFile:
		st, err := store.Open(cfg.Vault.Dir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Vault.Backend)
}

// New builds every component from cfg.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	o := options{log: slog.Default(), clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	st := o.store
	if st == nil {
		var err error
		if st, err = OpenBackend(cfg); err != nil {
			return nil, err
		}
	}

	policyOpts := auth.DefaultValidateOptions()
	policyOpts.EnableHIBP = cfg.Vault.CheckBreaches
	policyOpts.Breaches = o.breaches

	cipher := vault.New(st,
		vault.WithLogger(o.log.With("component", "vault")),
		vault.WithClock(o.clock),
		vault.WithKDFParams(krypto.PBKDF2Params{Iterations: cfg.Vault.KDFIterations}),
		vault.WithIdleTimeout(cfg.Vault.IdleTimeout),
		vault.WithUnlockLimiter(cfg.Vault.UnlockInterval, cfg.Vault.UnlockBurst),
		vault.WithPassphrasePolicy(auth.NewPolicy(policyOpts)),
	)
	shares := share.New(st,
		share.WithLogger(o.log.With("component", "share")),
		share.WithClock(o.clock),
	)

	return &Service{
		Store:  st,
		Vault:  cipher,
		Shares: shares,
		Access: access.New(st, shares, cipher,
			access.WithLogger(o.log.With("component", "access")),
			access.WithClock(o.clock),
		),
		Emergency: emergency.New(st,
			emergency.WithLogger(o.log.With("component", "emergency")),
			emergency.WithClock(o.clock),
			emergency.WithRequestTimeout(cfg.Emergency.RequestTimeout),
		),
		cfg: cfg,
		log: o.log,
	}, nil
}

// Close locks the vault and closes the store.
func (s *Service) Close() error {
	s.Vault.Lock()
	return s.Store.Close()
}

// ShareOptions are the caller-tunable parts of a share. Zero TTL uses the
// configured default.
type ShareOptions struct {
	Permissions model.Permissions
	TTL         time.Duration
	MaxUses     int
	Message     string
	Passphrase  []byte
}

// ShareEntry decrypts entryID from the unlocked vault and shares it with
// recipient.
func (s *Service) ShareEntry(ctx context.Context, entryID, from, to string, recipientPublicKey []byte, o ShareOptions) (*model.ShareRecord, error) {
	entry, err := s.Vault.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	ttl := o.TTL
	if ttl <= 0 {
		ttl = s.cfg.Share.TTL
	}
	return s.Shares.Create(ctx, share.CreateRequest{
		Entry:              entry,
		From:               from,
		To:                 to,
		RecipientPublicKey: recipientPublicKey,
		Permissions:        o.Permissions,
		TTL:                ttl,
		MaxUses:            o.MaxUses,
		Message:            o.Message,
		Passphrase:         o.Passphrase,
	})
}

// ApproveEmergency releases the unlocked vault's key to the contact behind
// requestID once their wait elapses.
func (s *Service) ApproveEmergency(ctx context.Context, requestID, owner string) error {
	if !s.Vault.IsUnlocked() {
		return vault.ErrLocked
	}
	return s.Emergency.ApproveWith(ctx, requestID, owner, s.Vault)
}

// OpenEmergencyVault opens every entry with a granted emergency key.
// Entries that fail to decrypt are reported in the joined error.
func (s *Service) OpenEmergencyVault(ctx context.Context, contactID string, privateKey []byte) ([]*model.Entry, error) {
	acc, err := s.Emergency.GetAccess(ctx, contactID)
	if err != nil {
		return nil, err
	}
	key, err := emergency.OpenGrant(acc, privateKey)
	if err != nil {
		return nil, err
	}
	defer key.Close()
	raw, err := key.Bytes()
	if err != nil {
		return nil, err
	}

	sealed, err := s.Store.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	var (
		out  []*model.Entry
		errs []error
	)
	for _, v := range sealed {
		e, err := vault.OpenWithKey(raw, v)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %s: %w", v.ID, err))
			continue
		}
		out = append(out, e)
	}
	return out, errors.Join(errs...)
}
