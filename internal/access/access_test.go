package access

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/vaultcore/internal/clock"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/port"
	"github.com/Hussein-Mazeh/vaultcore/internal/share"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
	"github.com/Hussein-Mazeh/vaultcore/store"
)

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

type entryMap map[string]*model.Entry

func (m entryMap) GetEntry(_ context.Context, id string) (*model.Entry, error) {
	e, ok := m[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return e, nil
}

type fixture struct {
	wf     *Workflow
	shares *share.Service
	store  *store.Store
	clock  *clock.FakeClock
	bob    *krypto.KeyPair
	carol  *krypto.KeyPair
	orig   *model.ShareRecord
}

func newFixture(t *testing.T, requests port.AccessRequestStore) *fixture {
	t.Helper()
	st := store.NewMemory()
	if requests == nil {
		requests = st
	}
	clk := clock.Fake(t0)
	discard := slog.New(slog.DiscardHandler)
	shares := share.New(st, share.WithClock(clk), share.WithLogger(discard))

	entry := &model.Entry{ID: "entry-1", Title: "wifi", Secrets: map[string]string{"password": "guest-pass"}}
	bob, err := krypto.GenerateKeyPair(krypto.SchemeAgeX25519)
	require.NoError(t, err)
	carol, err := krypto.GenerateKeyPair(krypto.SchemeAgeX25519)
	require.NoError(t, err)

	orig, err := shares.Create(context.Background(), share.CreateRequest{
		Entry: entry, From: "alice", To: "bob", RecipientPublicKey: bob.PublicKey,
		Permissions: model.Permissions{View: true, Edit: true}, TTL: 48 * time.Hour, MaxUses: 3,
	})
	require.NoError(t, err)

	return &fixture{
		wf:     New(requests, shares, entryMap{entry.ID: entry}, WithClock(clk), WithLogger(discard)),
		shares: shares,
		store:  st,
		clock:  clk,
		bob:    bob,
		carol:  carol,
		orig:   orig,
	}
}

func (f *fixture) carolRequest() Request {
	return Request{ShareID: f.orig.ID, Requester: "carol", RequesterPublicKey: f.carol.PublicKey, Message: "need the wifi"}
}

func TestRequestAccessIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.wf.RequestAccess(ctx, f.carolRequest())
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, first.Status)

	second, err := f.wf.RequestAccess(ctx, f.carolRequest())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := f.wf.ListForShare(ctx, f.orig.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRequestAccessRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.wf.RequestAccess(ctx, Request{ShareID: f.orig.ID, Requester: "bob", RequesterPublicKey: f.bob.PublicKey})
	assert.ErrorIs(t, err, ErrAlreadyRecipient)

	_, err = f.wf.RequestAccess(ctx, Request{ShareID: f.orig.ID, Requester: "alice", RequesterPublicKey: f.bob.PublicKey})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.wf.RequestAccess(ctx, Request{ShareID: f.orig.ID, Requester: "carol", RequesterPublicKey: []byte("junk")})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.wf.RequestAccess(ctx, Request{ShareID: "missing", Requester: "carol", RequesterPublicKey: f.carol.PublicKey})
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, f.shares.Revoke(ctx, f.orig.ID, "alice"))
	_, err = f.wf.RequestAccess(ctx, f.carolRequest())
	assert.ErrorIs(t, err, share.ErrShareRevoked)

	list, err := f.wf.ListForShare(ctx, f.orig.ID)
	require.NoError(t, err)
	assert.Empty(t, list, "rejected requests leave no record")
}

func TestApproveCreatesNewShare(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req, err := f.wf.RequestAccess(ctx, f.carolRequest())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	out, err := f.wf.Respond(ctx, req.ID, "alice", true, "enjoy")
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, out.Status)
	assert.Equal(t, "enjoy", out.ResponseMessage)
	require.NotEmpty(t, out.GrantedShareID)
	require.NotNil(t, out.RespondedAt)

	granted, err := f.shares.Get(ctx, out.GrantedShareID)
	require.NoError(t, err)
	assert.Equal(t, "carol", granted.ToPrincipal)
	assert.Equal(t, "alice", granted.FromPrincipal)
	assert.Equal(t, f.orig.Permissions, granted.Permissions)
	assert.Equal(t, f.orig.MaxUses, granted.MaxUses)
	assert.Equal(t, 48*time.Hour, granted.ExpiresAt.Sub(granted.CreatedAt))

	p, err := f.shares.Consume(ctx, granted.ID, f.carol.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "guest-pass", p.Entry.Secrets["password"])
	assert.Equal(t, "enjoy", p.Message)

	orig, err := f.shares.Get(ctx, f.orig.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", orig.ToPrincipal)
	assert.Zero(t, orig.UseCount, "original share untouched")

	_, err = f.wf.Respond(ctx, req.ID, "alice", false, "")
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestRejectRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req, err := f.wf.RequestAccess(ctx, f.carolRequest())
	require.NoError(t, err)

	_, err = f.wf.Respond(ctx, req.ID, "bob", false, "")
	assert.ErrorIs(t, err, share.ErrNotAuthorized)

	out, err := f.wf.Respond(ctx, req.ID, "alice", false, "no")
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, out.Status)
	assert.Empty(t, out.GrantedShareID)

	_, err = f.wf.Respond(ctx, req.ID, "alice", true, "")
	assert.ErrorIs(t, err, model.ErrInvalidState)

	again, err := f.wf.RequestAccess(ctx, f.carolRequest())
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, again.ID, "a new request may follow a rejection")
}

func TestRevokedOriginalCannotBeRegranted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req, err := f.wf.RequestAccess(ctx, f.carolRequest())
	require.NoError(t, err)
	require.NoError(t, f.shares.Revoke(ctx, f.orig.ID, "alice"))

	_, err = f.wf.Respond(ctx, req.ID, "alice", true, "")
	assert.ErrorIs(t, err, share.ErrShareRevoked)

	got, err := f.store.GetAccessRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)
}

func TestExpiredOriginalCannotBeRegranted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req, err := f.wf.RequestAccess(ctx, f.carolRequest())
	require.NoError(t, err)
	f.clock.Advance(49 * time.Hour)

	_, err = f.wf.Respond(ctx, req.ID, "alice", true, "")
	assert.ErrorIs(t, err, share.ErrShareExpired)

	got, err := f.store.GetAccessRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)
	assert.Empty(t, got.GrantedShareID)

	shares, err := f.shares.ListForEntry(ctx, f.orig.EntryID)
	require.NoError(t, err)
	assert.Len(t, shares, 1, "no new share was created")

	rejected, err := f.wf.Respond(ctx, req.ID, "alice", false, "expired")
	require.NoError(t, err, "an expired original can still be rejected")
	assert.Equal(t, model.RequestRejected, rejected.Status)
}

type failingUpdates struct {
	*store.Store
}

func (failingUpdates) UpdateAccessRequest(context.Context, string, func(*model.AccessRequest) error) error {
	return errors.New("write failed")
}

func TestApproveCompensatesWhenRequestUpdateFails(t *testing.T) {
	st := store.NewMemory()
	f := newFixture(t, failingUpdates{st})
	ctx := context.Background()
	req, err := f.wf.RequestAccess(ctx, f.carolRequest())
	require.NoError(t, err)

	_, err = f.wf.Respond(ctx, req.ID, "alice", true, "")
	require.ErrorContains(t, err, "write failed")

	shares, err := f.store.ListSharesByEntry(ctx, "entry-1")
	require.NoError(t, err)
	require.Len(t, shares, 2)
	for _, s := range shares {
		if s.ID != f.orig.ID {
			assert.True(t, s.Revoked, "orphaned grant is revoked")
		}
	}
}
