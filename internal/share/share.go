// Package share implements hybrid-encrypted, time-bounded, revocable
// sharing of single vault entries.
//
// Each share encrypts one entry under a fresh one-time key and wraps that
// key for the recipient's public key. Only the share id travels to the
// recipient; without the matching private key it opens nothing.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Hussein-Mazeh/vaultcore/internal/clock"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/port"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

const (
	payloadAADPrefix = "vaultcore/share/v1:"
	gateInfo         = "vaultcore/share/gate/v1"
)

// Store is the persistence a Service needs.
type Store interface {
	port.ShareStore
	port.AuditStore
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock injects the time source for expiry and audit timestamps.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

// WithGateParams sets the Argon2id cost for passphrase-gated shares.
func WithGateParams(p krypto.Argon2Params) Option {
	return func(s *Service) { s.gate = p }
}

// Service is the HybridShare component.
type Service struct {
	store Store
	log   *slog.Logger
	clock clock.Clock
	gate  krypto.Argon2Params
}

// New returns a Service over st.
func New(st Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		log:   slog.Default(),
		clock: clock.Real(),
		gate:  krypto.DefaultArgon2Params(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest describes a new share.
type CreateRequest struct {
	Entry *model.Entry
	From  string
	To    string
	// RecipientPublicKey selects the wrap scheme by its encoding: RSA PEM,
	// age recipient or ML-KEM-768 PEM.
	RecipientPublicKey []byte
	Permissions        model.Permissions
	TTL                time.Duration
	// MaxUses of zero means unlimited.
	MaxUses int
	Message string
	// Passphrase, when set, is also required to consume the share.
	Passphrase []byte
}

func (r *CreateRequest) validate() error {
	switch {
	case r.Entry == nil || r.Entry.ID == "":
		return fmt.Errorf("%w: entry is required", ErrInvalidRequest)
	case strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "":
		return fmt.Errorf("%w: sender and recipient are required", ErrInvalidRequest)
	case r.From == r.To:
		return fmt.Errorf("%w: cannot share with yourself", ErrInvalidRequest)
	case r.TTL <= 0:
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidRequest)
	case r.MaxUses < 0:
		return fmt.Errorf("%w: max uses must not be negative", ErrInvalidRequest)
	case len(r.RecipientPublicKey) == 0:
		return fmt.Errorf("%w: recipient public key is required", ErrInvalidRequest)
	}
	return nil
}

func payloadAAD(shareID string) []byte {
	return []byte(payloadAADPrefix + shareID)
}

// payloadKey returns the key the payload is sealed under: the one-time key
// itself, or for gated shares an HKDF of it salted with the Argon2id
// stretch of the passphrase.
func (s *Service) payloadKey(oneTime, passphrase, gateSalt []byte) ([]byte, error) {
	if len(gateSalt) == 0 {
		return append([]byte(nil), oneTime...), nil
	}
	stretched, err := krypto.DeriveKeyArgon2id(passphrase, gateSalt, s.gate)
	if err != nil {
		return nil, fmt.Errorf("stretch share passphrase: %w", err)
	}
	defer wipe(stretched)
	return krypto.HKDFSHA256(oneTime, stretched, []byte(gateInfo), krypto.KeySize)
}

// Create encrypts req.Entry for req.To and stores the share with a
// `created` audit row.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.ShareRecord, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	oneTime, err := krypto.NewRandomKey()
	if err != nil {
		return nil, fmt.Errorf("generate share key: %w", err)
	}
	defer wipe(oneTime)

	var gateSalt []byte
	if len(req.Passphrase) > 0 {
		if gateSalt, err = krypto.NewRandomSalt(krypto.SaltSize); err != nil {
			return nil, err
		}
	}
	key, err := s.payloadKey(oneTime, req.Passphrase, gateSalt)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	plain, err := marshalPayload(&Payload{Entry: req.Entry, Permissions: req.Permissions, Message: req.Message})
	if err != nil {
		return nil, err
	}
	defer wipe(plain)

	id := model.NewID()
	nonce, ct, err := krypto.EncryptAESGCM(key, plain, payloadAAD(id))
	if err != nil {
		return nil, fmt.Errorf("encrypt share payload: %w", err)
	}

	scheme, wrapped, err := krypto.WrapKey(req.RecipientPublicKey, oneTime)
	if err != nil {
		return nil, fmt.Errorf("wrap share key: %w", err)
	}

	now := s.clock.Now()
	rec := &model.ShareRecord{
		ID:            id,
		EntryID:       req.Entry.ID,
		FromPrincipal: req.From,
		ToPrincipal:   req.To,
		WrapScheme:    string(scheme),
		WrappedKey:    wrapped,
		Ciphertext:    ct,
		Nonce:         nonce,
		GateSalt:      gateSalt,
		Permissions:   req.Permissions,
		CreatedAt:     now,
		ExpiresAt:     now.Add(req.TTL),
		MaxUses:       req.MaxUses,
	}
	ev := &model.AuditEvent{ShareID: id, Action: model.AuditCreated, Actor: req.From, At: now}
	if err := s.store.InsertShare(ctx, rec, ev); err != nil {
		return nil, fmt.Errorf("store share: %w", err)
	}

	s.log.Info("share created",
		"share_id", id,
		"entry_id", rec.EntryID,
		"to", rec.ToPrincipal,
		"scheme", scheme,
		"expires_at", rec.ExpiresAt,
		"max_uses", rec.MaxUses,
		"gated", rec.Gated(),
	)
	return rec, nil
}

// ConsumeOption adjusts a Consume call.
type ConsumeOption func(*consumeOptions)

type consumeOptions struct {
	passphrase []byte
	actor      string
}

// WithPassphrase supplies the passphrase of a gated share.
func WithPassphrase(p []byte) ConsumeOption {
	return func(o *consumeOptions) { o.passphrase = p }
}

// WithActor names the principal consuming the share in the audit trail.
// It defaults to the share's recipient.
func WithActor(principal string) ConsumeOption {
	return func(o *consumeOptions) { o.actor = principal }
}

// Consume opens a share with the recipient's private key.
//
// Revocation, expiry and exhaustion are checked, in that order, before any
// key material is touched. A successful open increments the use count and
// records a `viewed` row in the same store transaction; the payload is
// returned only once that commit succeeded.
func (s *Service) Consume(ctx context.Context, shareID string, privateKey []byte, opts ...ConsumeOption) (*Payload, error) {
	var o consumeOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		payload *Payload
		actor   = o.actor
	)
	err := s.store.UpdateShare(ctx, shareID, func(rec *model.ShareRecord) (*model.AuditEvent, error) {
		now := s.clock.Now()
		if actor == "" {
			actor = rec.ToPrincipal
		}
		switch {
		case rec.Revoked:
			return nil, ErrShareRevoked
		case rec.Expired(now):
			return nil, ErrShareExpired
		case rec.Exhausted():
			return nil, ErrShareExhausted
		}

		p, err := s.open(rec, privateKey, o.passphrase)
		if err != nil {
			return nil, err
		}
		rec.UseCount++
		payload = p
		return &model.AuditEvent{ShareID: rec.ID, Action: model.AuditViewed, Actor: actor, At: now}, nil
	})
	if err == nil {
		s.log.Info("share consumed", "share_id", shareID, "actor", actor)
		return payload, nil
	}

	switch {
	case errors.Is(err, ErrShareExpired):
		err = errors.Join(err, s.record(ctx, shareID, model.AuditExpired, actor, "consume after expiry"))
	case errors.Is(err, krypto.ErrAuthentication):
		err = errors.Join(err, s.record(ctx, shareID, model.AuditUnauthorizedAccess, actor, "share key did not open"))
	}
	s.log.Warn("share consume refused", "share_id", shareID, "error", err)
	return nil, fmt.Errorf("consume share %s: %w", shareID, err)
}

// open unwraps the one-time key and decrypts the payload. Every failure to
// open is reported as krypto.ErrAuthentication.
func (s *Service) open(rec *model.ShareRecord, privateKey, passphrase []byte) (*Payload, error) {
	if rec.Gated() && len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}

	oneTime, err := krypto.UnwrapKey(krypto.WrapScheme(rec.WrapScheme), privateKey, rec.WrappedKey)
	if err != nil {
		return nil, err
	}
	defer wipe(oneTime)

	key, err := s.payloadKey(oneTime, passphrase, rec.GateSalt)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	plain, err := krypto.DecryptAESGCM(key, rec.Nonce, rec.Ciphertext, payloadAAD(rec.ID))
	if err != nil {
		return nil, err
	}
	defer wipe(plain)

	p, err := unmarshalPayload(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", krypto.ErrAuthentication, err)
	}
	return p, nil
}

var errAlreadyRevoked = errors.New("already revoked")

// Revoke permanently disables a share. Only the sharing principal may
// revoke; anyone else gets ErrNotAuthorized and an `unauthorized_access`
// audit row. Revoking twice is a no-op. An expired share is immutable and
// returns ErrShareExpired.
func (s *Service) Revoke(ctx context.Context, shareID, requester string) error {
	err := s.store.UpdateShare(ctx, shareID, func(rec *model.ShareRecord) (*model.AuditEvent, error) {
		now := s.clock.Now()
		switch {
		case rec.FromPrincipal != requester:
			return nil, ErrNotAuthorized
		case rec.Revoked:
			return nil, errAlreadyRevoked
		case rec.Expired(now):
			return nil, ErrShareExpired
		}
		rec.Revoked = true
		rec.RevokedAt = &now
		return &model.AuditEvent{ShareID: rec.ID, Action: model.AuditRevoked, Actor: requester, At: now}, nil
	})
	switch {
	case err == nil:
		s.log.Info("share revoked", "share_id", shareID)
		return nil
	case errors.Is(err, errAlreadyRevoked):
		return nil
	case errors.Is(err, ErrNotAuthorized):
		err = errors.Join(err, s.record(ctx, shareID, model.AuditUnauthorizedAccess, requester, "revoke by non-owner"))
		s.log.Warn("share revoke refused", "share_id", shareID, "requester", requester)
	}
	return fmt.Errorf("revoke share %s: %w", shareID, err)
}

func (s *Service) record(ctx context.Context, shareID string, action model.AuditAction, actor, detail string) error {
	ev := &model.AuditEvent{ShareID: shareID, Action: action, Actor: actor, Detail: detail, At: s.clock.Now()}
	if err := s.store.AppendAudit(ctx, ev); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// Get returns a share record.
func (s *Service) Get(ctx context.Context, shareID string) (*model.ShareRecord, error) {
	return s.store.GetShare(ctx, shareID)
}

// ListForEntry returns every share of an entry, oldest first.
func (s *Service) ListForEntry(ctx context.Context, entryID string) ([]*model.ShareRecord, error) {
	return s.store.ListSharesByEntry(ctx, entryID)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
