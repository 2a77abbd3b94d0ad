// Package emergency implements delayed whole-vault access for designated
// contacts.
//
// The owner names a contact and a wait time. Once the contact accepts,
// they may request access; the owner approves by wrapping the vault key
// for the contact's public key. The wrapped key is released only after the
// wait time has passed since approval, and a revoked contact never
// receives it.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Hussein-Mazeh/vaultcore/internal/clock"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/port"
	"github.com/Hussein-Mazeh/vaultcore/internal/secret"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

// DefaultRequestTimeout is how long a request may stay pending.
const DefaultRequestTimeout = 30 * 24 * time.Hour

var (
	// ErrContactRevoked is returned for every operation on a revoked
	// contact.
	ErrContactRevoked = errors.New("emergency contact revoked")
	// ErrNotAuthorized is returned when the caller is not the principal
	// the operation belongs to.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotGranted is returned by GetAccess before any approval.
	ErrNotGranted = errors.New("emergency access not granted")
	// ErrStillWaiting is returned by OpenGrant during the wait window.
	ErrStillWaiting = errors.New("emergency wait time has not elapsed")
	// ErrInvalidContact reports a malformed contact.
	ErrInvalidContact = errors.New("invalid emergency contact")
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock injects the time source.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

// WithRequestTimeout sets how long requests stay pending before they
// expire.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) { s.requestTimeout = d }
}

// Service is the EmergencyAccess component.
type Service struct {
	store          port.EmergencyStore
	log            *slog.Logger
	clock          clock.Clock
	requestTimeout time.Duration

	// mu serialises the find-then-insert in Request.
	mu sync.Mutex
}

// New returns a Service.
func New(st port.EmergencyStore, opts ...Option) *Service {
	s := &Service{
		store:          st,
		log:            slog.Default(),
		clock:          clock.Real(),
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddContact designates contact as an emergency contact of owner. The
// contact starts pending until they accept.
func (s *Service) AddContact(ctx context.Context, owner, contact string, contactPublicKey []byte, waitTimeDays int) (*model.EmergencyContact, error) {
	switch {
	case strings.TrimSpace(owner) == "" || strings.TrimSpace(contact) == "":
		return nil, fmt.Errorf("%w: owner and contact are required", ErrInvalidContact)
	case owner == contact:
		return nil, fmt.Errorf("%w: owner cannot be their own contact", ErrInvalidContact)
	case waitTimeDays < 0:
		return nil, fmt.Errorf("%w: wait time must not be negative", ErrInvalidContact)
	}
	if _, err := krypto.DetectScheme(contactPublicKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContact, err)
	}

	now := s.clock.Now()
	c := &model.EmergencyContact{
		ID:               model.NewID(),
		Owner:            owner,
		Contact:          contact,
		ContactPublicKey: contactPublicKey,
		Status:           model.ContactPending,
		WaitTimeDays:     waitTimeDays,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.InsertContact(ctx, c); err != nil {
		return nil, fmt.Errorf("store contact: %w", err)
	}
	s.log.Info("emergency contact added", "contact_id", c.ID, "wait_days", waitTimeDays)
	return c, nil
}

// AcceptContact is called by the contact to accept the designation.
func (s *Service) AcceptContact(ctx context.Context, contactID, contact string) error {
	err := s.store.UpdateContact(ctx, contactID, func(c *model.EmergencyContact) error {
		switch {
		case c.Contact != contact:
			return ErrNotAuthorized
		case c.Status == model.ContactRevoked:
			return ErrContactRevoked
		case c.Status != model.ContactPending:
			return fmt.Errorf("accept %s contact: %w", c.Status, model.ErrInvalidState)
		}
		c.Status = model.ContactAccepted
		c.UpdatedAt = s.clock.Now()
		return nil
	})
	if err != nil {
		return fmt.Errorf("accept contact %s: %w", contactID, err)
	}
	return nil
}

// RevokeContact permanently removes a contact's ability to obtain access.
// Revoking twice is a no-op.
func (s *Service) RevokeContact(ctx context.Context, contactID, owner string) error {
	err := s.store.UpdateContact(ctx, contactID, func(c *model.EmergencyContact) error {
		if c.Owner != owner {
			return ErrNotAuthorized
		}
		if c.Status == model.ContactRevoked {
			return nil
		}
		c.Status = model.ContactRevoked
		c.UpdatedAt = s.clock.Now()
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke contact %s: %w", contactID, err)
	}
	s.log.Info("emergency contact revoked", "contact_id", contactID)
	return nil
}

// ListContacts returns owner's contacts.
func (s *Service) ListContacts(ctx context.Context, owner string) ([]*model.EmergencyContact, error) {
	return s.store.ListContacts(ctx, owner)
}

// Request starts an emergency access request. Only the accepted contact
// may call it. An open request is returned as-is: a pending one that has
// not timed out, or an approved one.
func (s *Service) Request(ctx context.Context, contactID, requester string) (*model.EmergencyAccessRequest, error) {
	c, err := s.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("load contact %s: %w", contactID, err)
	}
	switch {
	case c.Status == model.ContactRevoked:
		return nil, ErrContactRevoked
	case c.Contact != requester:
		return nil, ErrNotAuthorized
	case c.Status != model.ContactAccepted:
		return nil, fmt.Errorf("request on %s contact: %w", c.Status, model.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.openRequest(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now()
	r := &model.EmergencyAccessRequest{
		ID:          model.NewID(),
		ContactID:   contactID,
		Requester:   requester,
		Status:      model.EmergencyPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(s.requestTimeout),
	}
	if err := s.store.InsertEmergencyRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("store emergency request: %w", err)
	}
	s.log.Info("emergency access requested", "request_id", r.ID, "contact_id", contactID)
	return r, nil
}

// openRequest returns the contact's live pending or approved request,
// expiring timed-out pending requests on the way.
func (s *Service) openRequest(ctx context.Context, contactID string) (*model.EmergencyAccessRequest, error) {
	list, err := s.store.ListEmergencyRequests(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("list emergency requests: %w", err)
	}
	for _, r := range list {
		switch r.Status {
		case model.EmergencyApproved:
			return r, nil
		case model.EmergencyPending:
			expired, err := s.expireIfDue(ctx, r)
			if err != nil {
				return nil, err
			}
			if !expired {
				return r, nil
			}
		}
	}
	return nil, nil
}

// expireIfDue marks r expired when its timeout passed.
func (s *Service) expireIfDue(ctx context.Context, r *model.EmergencyAccessRequest) (bool, error) {
	if s.clock.Now().Before(r.ExpiresAt) {
		return false, nil
	}
	err := s.store.UpdateEmergencyRequest(ctx, r.ID, func(cur *model.EmergencyAccessRequest) error {
		if cur.Status == model.EmergencyPending {
			cur.Status = model.EmergencyExpired
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("expire emergency request %s: %w", r.ID, err)
	}
	r.Status = model.EmergencyExpired
	return true, nil
}

// VaultKeyWrapper wraps the vault key for a public key; the unlocked
// vault.Cipher satisfies it.
type VaultKeyWrapper interface {
	WrapVaultKey(publicKey []byte) (krypto.WrapScheme, []byte, error)
}

// ApproveWith wraps the vault key for the contact's registered public key
// and approves the request.
func (s *Service) ApproveWith(ctx context.Context, requestID, owner string, w VaultKeyWrapper) error {
	r, err := s.store.GetEmergencyRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load emergency request %s: %w", requestID, err)
	}
	c, err := s.store.GetContact(ctx, r.ContactID)
	if err != nil {
		return fmt.Errorf("load contact %s: %w", r.ContactID, err)
	}
	if c.Owner != owner {
		return ErrNotAuthorized
	}
	scheme, wrapped, err := w.WrapVaultKey(c.ContactPublicKey)
	if err != nil {
		return err
	}
	return s.Approve(ctx, requestID, owner, scheme, wrapped)
}

// Approve stores the wrapped vault key and starts the wait window. Only
// the contact's owner may approve, and only a pending request.
func (s *Service) Approve(ctx context.Context, requestID, owner string, scheme krypto.WrapScheme, wrappedVaultKey []byte) error {
	if _, err := krypto.WrapperFor(scheme); err != nil {
		return err
	}
	if len(wrappedVaultKey) == 0 {
		return fmt.Errorf("%w: wrapped vault key is required", krypto.ErrConfiguration)
	}
	return s.respond(ctx, requestID, owner, func(r *model.EmergencyAccessRequest, now time.Time) {
		r.Status = model.EmergencyApproved
		r.GrantedAt = &now
		r.WrapScheme = string(scheme)
		r.WrappedVaultKey = wrappedVaultKey
	})
}

// Deny rejects a pending request.
func (s *Service) Deny(ctx context.Context, requestID, owner string) error {
	return s.respond(ctx, requestID, owner, func(r *model.EmergencyAccessRequest, _ time.Time) {
		r.Status = model.EmergencyDenied
	})
}

func (s *Service) respond(ctx context.Context, requestID, owner string, apply func(*model.EmergencyAccessRequest, time.Time)) error {
	r, err := s.store.GetEmergencyRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load emergency request %s: %w", requestID, err)
	}
	c, err := s.store.GetContact(ctx, r.ContactID)
	if err != nil {
		return fmt.Errorf("load contact %s: %w", r.ContactID, err)
	}
	switch {
	case c.Owner != owner:
		return ErrNotAuthorized
	case c.Status == model.ContactRevoked:
		return ErrContactRevoked
	}
	if r.Status == model.EmergencyPending {
		if _, err := s.expireIfDue(ctx, r); err != nil {
			return err
		}
	}

	err = s.store.UpdateEmergencyRequest(ctx, requestID, func(cur *model.EmergencyAccessRequest) error {
		if cur.Status != model.EmergencyPending {
			return fmt.Errorf("respond to %s request: %w", cur.Status, model.ErrInvalidState)
		}
		apply(cur, s.clock.Now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("update emergency request %s: %w", requestID, err)
	}
	s.log.Info("emergency request answered", "request_id", requestID)
	return nil
}

// State is where an approved grant stands.
type State string

const (
	StateWaiting State = "waiting"
	StateGranted State = "granted"
)

// Access is the contact's view of an approved request.
type Access struct {
	State     State
	RequestID string
	// Remaining is the time left in the wait window; zero once granted.
	Remaining time.Duration
	// WrapScheme and WrappedVaultKey are set only when State is
	// StateGranted.
	WrapScheme      krypto.WrapScheme
	WrappedVaultKey []byte
}

// GetAccess reports the state of the contact's approved request. The
// wrapped key is withheld until GrantedAt plus the wait time.
func (s *Service) GetAccess(ctx context.Context, contactID string) (*Access, error) {
	c, err := s.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("load contact %s: %w", contactID, err)
	}
	if c.Status == model.ContactRevoked {
		return nil, ErrContactRevoked
	}

	list, err := s.store.ListEmergencyRequests(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("list emergency requests: %w", err)
	}
	for _, r := range list {
		if r.Status != model.EmergencyApproved || r.GrantedAt == nil {
			continue
		}
		releaseAt := r.GrantedAt.Add(c.WaitTime())
		now := s.clock.Now()
		if now.Before(releaseAt) {
			return &Access{State: StateWaiting, RequestID: r.ID, Remaining: releaseAt.Sub(now)}, nil
		}
		return &Access{
			State:           StateGranted,
			RequestID:       r.ID,
			WrapScheme:      krypto.WrapScheme(r.WrapScheme),
			WrappedVaultKey: r.WrappedVaultKey,
		}, nil
	}
	return nil, ErrNotGranted
}

// OpenGrant unwraps a granted vault key with the contact's private key.
// The caller must Close the returned buffer.
func OpenGrant(a *Access, privateKey []byte) (*secret.Buffer, error) {
	if a == nil || a.State != StateGranted {
		return nil, ErrStillWaiting
	}
	key, err := krypto.UnwrapKey(a.WrapScheme, privateKey, a.WrappedVaultKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap vault key: %w", err)
	}
	return secret.NewFromBytes(key)
}
