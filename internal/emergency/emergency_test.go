package emergency

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/vaultcore/internal/clock"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/vault"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
	"github.com/Hussein-Mazeh/vaultcore/store"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *store.Store
	clock *clock.FakeClock
	carol *krypto.KeyPair
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	clk := clock.Fake(t0)
	carol, err := krypto.GenerateKeyPair(krypto.SchemeAgeX25519)
	require.NoError(t, err)
	return &fixture{
		svc:   New(st, WithClock(clk), WithLogger(slog.New(slog.DiscardHandler))),
		store: st,
		clock: clk,
		carol: carol,
	}
}

// acceptedContact adds carol as alice's contact with a seven day wait.
func (f *fixture) acceptedContact(t *testing.T) *model.EmergencyContact {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.AddContact(ctx, "alice", "carol", f.carol.PublicKey, 7)
	require.NoError(t, err)
	assert.Equal(t, model.ContactPending, c.Status)
	require.NoError(t, f.svc.AcceptContact(ctx, c.ID, "carol"))
	return c
}

func (f *fixture) approve(t *testing.T, c *model.EmergencyContact) *model.EmergencyAccessRequest {
	t.Helper()
	ctx := context.Background()
	r, err := f.svc.Request(ctx, c.ID, "carol")
	require.NoError(t, err)

	vaultKey, err := krypto.NewRandomKey()
	require.NoError(t, err)
	scheme, wrapped, err := krypto.WrapKey(c.ContactPublicKey, vaultKey)
	require.NoError(t, err)
	require.NoError(t, f.svc.Approve(ctx, r.ID, "alice", scheme, wrapped))
	return r
}

func TestWaitWindowHoldsKeyUntilElapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.acceptedContact(t)
	f.approve(t, c)

	f.clock.Advance(6*24*time.Hour + 23*time.Hour)
	a, err := f.svc.GetAccess(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, a.State)
	assert.Equal(t, time.Hour, a.Remaining)
	assert.Empty(t, a.WrappedVaultKey)

	_, err = OpenGrant(a, f.carol.PrivateKey)
	assert.ErrorIs(t, err, ErrStillWaiting)

	f.clock.Advance(time.Hour)
	a, err = f.svc.GetAccess(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StateGranted, a.State)
	assert.Zero(t, a.Remaining)

	buf, err := OpenGrant(a, f.carol.PrivateKey)
	require.NoError(t, err)
	defer buf.Close()
	assert.Equal(t, krypto.KeySize, buf.Len())
}

func TestRevokedContactIsBlockedForever(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.acceptedContact(t)
	f.approve(t, c)

	assert.ErrorIs(t, f.svc.RevokeContact(ctx, c.ID, "carol"), ErrNotAuthorized)
	require.NoError(t, f.svc.RevokeContact(ctx, c.ID, "alice"))
	require.NoError(t, f.svc.RevokeContact(ctx, c.ID, "alice"))

	for _, d := range []time.Duration{0, 7 * 24 * time.Hour, 365 * 24 * time.Hour} {
		f.clock.Advance(d)
		_, err := f.svc.GetAccess(ctx, c.ID)
		assert.ErrorIs(t, err, ErrContactRevoked)
	}
	_, err := f.svc.Request(ctx, c.ID, "carol")
	assert.ErrorIs(t, err, ErrContactRevoked)
	assert.ErrorIs(t, f.svc.AcceptContact(ctx, c.ID, "carol"), ErrContactRevoked)
}

func TestRequestRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.AddContact(ctx, "alice", "carol", f.carol.PublicKey, 3)
	require.NoError(t, err)

	_, err = f.svc.Request(ctx, c.ID, "carol")
	assert.ErrorIs(t, err, model.ErrInvalidState, "pending contacts cannot request")

	assert.ErrorIs(t, f.svc.AcceptContact(ctx, c.ID, "mallory"), ErrNotAuthorized)
	require.NoError(t, f.svc.AcceptContact(ctx, c.ID, "carol"))
	assert.ErrorIs(t, f.svc.AcceptContact(ctx, c.ID, "carol"), model.ErrInvalidState)

	_, err = f.svc.Request(ctx, c.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	first, err := f.svc.Request(ctx, c.ID, "carol")
	require.NoError(t, err)
	second, err := f.svc.Request(ctx, c.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "pending request is reused")

	_, err = f.svc.GetAccess(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotGranted)
}

func TestPendingRequestExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.acceptedContact(t)

	first, err := f.svc.Request(ctx, c.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(DefaultRequestTimeout), first.ExpiresAt)

	f.clock.Advance(DefaultRequestTimeout)
	err = f.svc.Approve(ctx, first.ID, "alice", krypto.SchemeAgeX25519, []byte("wrapped"))
	assert.ErrorIs(t, err, model.ErrInvalidState)

	stored, err := f.store.GetEmergencyRequest(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EmergencyExpired, stored.Status)

	second, err := f.svc.Request(ctx, c.ID, "carol")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestApproveAndDenyRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.acceptedContact(t)
	r, err := f.svc.Request(ctx, c.ID, "carol")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Approve(ctx, r.ID, "carol", krypto.SchemeAgeX25519, []byte("k")), ErrNotAuthorized)
	assert.ErrorIs(t, f.svc.Approve(ctx, r.ID, "alice", "rot13", []byte("k")), krypto.ErrUnsupportedScheme)

	require.NoError(t, f.svc.Deny(ctx, r.ID, "alice"))
	assert.ErrorIs(t, f.svc.Deny(ctx, r.ID, "alice"), model.ErrInvalidState)
	assert.ErrorIs(t, f.svc.Approve(ctx, r.ID, "alice", krypto.SchemeAgeX25519, []byte("k")), model.ErrInvalidState)

	_, err = f.svc.GetAccess(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotGranted)
}

func TestAddContactValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddContact(ctx, "alice", "alice", f.carol.PublicKey, 1)
	assert.ErrorIs(t, err, ErrInvalidContact)
	_, err = f.svc.AddContact(ctx, "alice", "carol", f.carol.PublicKey, -1)
	assert.ErrorIs(t, err, ErrInvalidContact)
	_, err = f.svc.AddContact(ctx, "alice", "carol", []byte("nope"), 1)
	assert.ErrorIs(t, err, ErrInvalidContact)

	list, err := f.svc.ListContacts(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestApproveWithVaultReleasesWorkingKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	vaultStore := store.NewMemory()
	cipher := vault.New(vaultStore, vault.WithClock(f.clock), vault.WithLogger(slog.New(slog.DiscardHandler)))
	t.Cleanup(cipher.Lock)
	pass := []byte("correct horse battery staple")
	require.NoError(t, cipher.Initialize(ctx, pass))
	require.NoError(t, cipher.Unlock(ctx, pass))
	id, err := cipher.AddEntry(ctx, &model.Entry{Title: "bank", Secrets: map[string]string{"pin": "2468"}})
	require.NoError(t, err)

	c := f.acceptedContact(t)
	r, err := f.svc.Request(ctx, c.ID, "carol")
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.ApproveWith(ctx, r.ID, "mallory", cipher), ErrNotAuthorized)
	require.NoError(t, f.svc.ApproveWith(ctx, r.ID, "alice", cipher))

	f.clock.Advance(7 * 24 * time.Hour)
	a, err := f.svc.GetAccess(ctx, c.ID)
	require.NoError(t, err)
	buf, err := OpenGrant(a, f.carol.PrivateKey)
	require.NoError(t, err)
	defer buf.Close()

	key, err := buf.Bytes()
	require.NoError(t, err)
	sealed, err := vaultStore.GetEntry(ctx, id)
	require.NoError(t, err)
	got, err := vault.OpenWithKey(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "2468", got.Secrets["pin"])
}
