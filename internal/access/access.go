// Package access lets a principal ask a share's owner for their own copy
// of the shared entry.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Hussein-Mazeh/vaultcore/internal/clock"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/port"
	"github.com/Hussein-Mazeh/vaultcore/internal/share"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

var (
	// ErrAlreadyRecipient is returned when the requester already holds the
	// share.
	ErrAlreadyRecipient = errors.New("requester is already the share recipient")
	// ErrInvalidRequest reports a malformed access request.
	ErrInvalidRequest = errors.New("invalid access request")
)

// EntrySource decrypts vault entries; the unlocked vault.Cipher satisfies
// it.
type EntrySource interface {
	GetEntry(ctx context.Context, id string) (*model.Entry, error)
}

// Shares is the part of share.Service the workflow drives.
type Shares interface {
	Get(ctx context.Context, shareID string) (*model.ShareRecord, error)
	Create(ctx context.Context, req share.CreateRequest) (*model.ShareRecord, error)
	Revoke(ctx context.Context, shareID, requester string) error
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) { w.log = l }
}

// WithClock injects the time source.
func WithClock(clk clock.Clock) Option {
	return func(w *Workflow) { w.clock = clk }
}

// Workflow is the AccessRequestWorkflow.
type Workflow struct {
	requests port.AccessRequestStore
	shares   Shares
	entries  EntrySource
	log      *slog.Logger
	clock    clock.Clock

	// mu serialises the find-then-insert in RequestAccess.
	mu sync.Mutex
}

// New returns a Workflow.
func New(requests port.AccessRequestStore, shares Shares, entries EntrySource, opts ...Option) *Workflow {
	w := &Workflow{
		requests: requests,
		shares:   shares,
		entries:  entries,
		log:      slog.Default(),
		clock:    clock.Real(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Request is an access request as submitted.
type Request struct {
	ShareID            string
	Requester          string
	RequesterPublicKey []byte
	Message            string
}

// RequestAccess records a pending request. A requester with a pending
// request for the same share gets that request back unchanged.
func (w *Workflow) RequestAccess(ctx context.Context, r Request) (*model.AccessRequest, error) {
	if strings.TrimSpace(r.Requester) == "" {
		return nil, fmt.Errorf("%w: requester is required", ErrInvalidRequest)
	}

	rec, err := w.shares.Get(ctx, r.ShareID)
	if err != nil {
		return nil, fmt.Errorf("load share %s: %w", r.ShareID, err)
	}
	switch {
	case rec.Revoked:
		return nil, share.ErrShareRevoked
	case r.Requester == rec.ToPrincipal:
		return nil, ErrAlreadyRecipient
	case r.Requester == rec.FromPrincipal:
		return nil, fmt.Errorf("%w: owner cannot request their own share", ErrInvalidRequest)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	existing, err := w.requests.FindPendingAccessRequest(ctx, r.ShareID, r.Requester)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("find pending request: %w", err)
	}

	if _, err := krypto.DetectScheme(r.RequesterPublicKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	req := &model.AccessRequest{
		ID:                 model.NewID(),
		ShareID:            r.ShareID,
		Requester:          r.Requester,
		RequesterPublicKey: r.RequesterPublicKey,
		Message:            r.Message,
		Status:             model.RequestPending,
		RequestedAt:        w.clock.Now(),
	}
	if err := w.requests.InsertAccessRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("store access request: %w", err)
	}
	w.log.Info("access requested", "request_id", req.ID, "share_id", req.ShareID, "requester", req.Requester)
	return req, nil
}

// Respond approves or rejects a pending request. Only the share's owner
// may respond. Approval creates a new share for the requester with the
// original entry, permissions, use limit and time-to-live; the original
// share is left as it is. A revoked or expired original is not
// re-granted and the request stays pending.
func (w *Workflow) Respond(ctx context.Context, requestID, responder string, approve bool, message string) (*model.AccessRequest, error) {
	req, err := w.requests.GetAccessRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load access request %s: %w", requestID, err)
	}
	if req.Status != model.RequestPending {
		return nil, fmt.Errorf("respond to %s request: %w", req.Status, model.ErrInvalidState)
	}

	rec, err := w.shares.Get(ctx, req.ShareID)
	if err != nil {
		return nil, fmt.Errorf("load share %s: %w", req.ShareID, err)
	}
	if responder != rec.FromPrincipal {
		return nil, share.ErrNotAuthorized
	}

	if !approve {
		return w.finish(ctx, req.ID, model.RequestRejected, message, "")
	}

	switch {
	case rec.Revoked:
		return nil, fmt.Errorf("re-grant: %w", share.ErrShareRevoked)
	case rec.Expired(w.clock.Now()):
		return nil, fmt.Errorf("re-grant: %w", share.ErrShareExpired)
	}
	entry, err := w.entries.GetEntry(ctx, rec.EntryID)
	if err != nil {
		return nil, fmt.Errorf("load entry %s: %w", rec.EntryID, err)
	}

	granted, err := w.shares.Create(ctx, share.CreateRequest{
		Entry:              entry,
		From:               rec.FromPrincipal,
		To:                 req.Requester,
		RecipientPublicKey: req.RequesterPublicKey,
		Permissions:        rec.Permissions,
		TTL:                rec.ExpiresAt.Sub(rec.CreatedAt),
		MaxUses:            rec.MaxUses,
		Message:            message,
	})
	if err != nil {
		return nil, fmt.Errorf("create granted share: %w", err)
	}

	out, err := w.finish(ctx, req.ID, model.RequestApproved, message, granted.ID)
	if err != nil {
		if rerr := w.shares.Revoke(ctx, granted.ID, rec.FromPrincipal); rerr != nil {
			err = errors.Join(err, fmt.Errorf("revoke orphaned share %s: %w", granted.ID, rerr))
		}
		return nil, err
	}
	w.log.Info("access granted", "request_id", req.ID, "share_id", granted.ID)
	return out, nil
}

func (w *Workflow) finish(ctx context.Context, id string, status model.RequestStatus, message, grantedShareID string) (*model.AccessRequest, error) {
	var out model.AccessRequest
	err := w.requests.UpdateAccessRequest(ctx, id, func(r *model.AccessRequest) error {
		if r.Status != model.RequestPending {
			return fmt.Errorf("respond to %s request: %w", r.Status, model.ErrInvalidState)
		}
		now := w.clock.Now()
		r.Status = status
		r.ResponseMessage = message
		r.GrantedShareID = grantedShareID
		r.RespondedAt = &now
		out = *r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update access request %s: %w", id, err)
	}
	return &out, nil
}

// ListForShare returns every request made against a share.
func (w *Workflow) ListForShare(ctx context.Context, shareID string) ([]*model.AccessRequest, error) {
	return w.requests.ListAccessRequests(ctx, shareID)
}
