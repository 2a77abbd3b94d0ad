package share

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/vaultcore/internal/audit"
	"github.com/Hussein-Mazeh/vaultcore/internal/clock"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
	"github.com/Hussein-Mazeh/vaultcore/store"
)

var t0 = time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *store.Store
	clock *clock.FakeClock
	bob   *krypto.KeyPair
}

func newFixture(t *testing.T, st *store.Store) *fixture {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	clk := clock.Fake(t0)
	bob, err := krypto.GenerateKeyPair(krypto.SchemeAgeX25519)
	require.NoError(t, err)
	return &fixture{
		svc: New(st,
			WithClock(clk),
			WithLogger(slog.New(slog.DiscardHandler)),
			WithGateParams(krypto.Argon2Params{MemoryMB: 8, Time: 1, Parallelism: 1, KeyLen: krypto.KeySize}),
		),
		store: st,
		clock: clk,
		bob:   bob,
	}
}

func testEntry() *model.Entry {
	return &model.Entry{
		ID:       "entry-1",
		Title:    "Mail",
		Username: "alice@example.com",
		Secrets:  map[string]string{"password": "S3cr3t!"},
	}
}

func (f *fixture) create(t *testing.T, ttl time.Duration, maxUses int) *model.ShareRecord {
	t.Helper()
	rec, err := f.svc.Create(context.Background(), CreateRequest{
		Entry:              testEntry(),
		From:               "alice",
		To:                 "bob",
		RecipientPublicKey: f.bob.PublicKey,
		Permissions:        model.Permissions{View: true},
		TTL:                ttl,
		MaxUses:            maxUses,
		Message:            "for the trip",
	})
	require.NoError(t, err)
	return rec
}

func actions(t *testing.T, st *store.Store, shareID string) []model.AuditAction {
	t.Helper()
	events, err := st.ListAudit(context.Background(), shareID)
	require.NoError(t, err)
	out := make([]model.AuditAction, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Action)
	}
	return out
}

func TestCreateAndConsume(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.create(t, time.Hour, 0)

	assert.Equal(t, string(krypto.SchemeAgeX25519), rec.WrapScheme)
	assert.Equal(t, t0.Add(time.Hour), rec.ExpiresAt)
	assert.NotContains(t, string(rec.Ciphertext), "S3cr3t!")

	p, err := f.svc.Consume(context.Background(), rec.ID, f.bob.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "S3cr3t!", p.Entry.Secrets["password"])
	assert.Equal(t, "for the trip", p.Message)
	assert.True(t, p.Permissions.View)
	assert.False(t, p.Permissions.Edit)

	got, err := f.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UseCount)
	assert.Equal(t, []model.AuditAction{model.AuditCreated, model.AuditViewed}, actions(t, f.store, rec.ID))
}

func TestConsumeWithEveryScheme(t *testing.T) {
	tests := []struct {
		name    string
		wrapper krypto.KeyWrapper
	}{
		{"rsa-oaep", krypto.RSAOAEP{Bits: 2048}},
		{"age", krypto.AgeX25519{}},
		{"ml-kem-768", krypto.MLKEM768{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			kp, err := tt.wrapper.GenerateKeyPair()
			require.NoError(t, err)
			rec, err := f.svc.Create(context.Background(), CreateRequest{
				Entry: testEntry(), From: "alice", To: "bob",
				RecipientPublicKey: kp.PublicKey, TTL: time.Hour, MaxUses: 1,
			})
			require.NoError(t, err)
			assert.Equal(t, string(tt.wrapper.Scheme()), rec.WrapScheme)

			p, err := f.svc.Consume(context.Background(), rec.ID, kp.PrivateKey)
			require.NoError(t, err)
			assert.Equal(t, "S3cr3t!", p.Entry.Secrets["password"])
		})
	}
}

func TestConsumeExhausts(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.create(t, time.Hour, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Consume(ctx, rec.ID, f.bob.PrivateKey)
		require.NoError(t, err)
	}
	_, err := f.svc.Consume(ctx, rec.ID, f.bob.PrivateKey)
	assert.ErrorIs(t, err, ErrShareExhausted)

	got, err := f.svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UseCount, "use count never exceeds max uses")
	assert.Equal(t, 0, Remaining(got))
}

func TestConsumeAfterExpiry(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.create(t, time.Second, 1)

	f.clock.Advance(2 * time.Second)
	_, err := f.svc.Consume(context.Background(), rec.ID, f.bob.PrivateKey)
	assert.ErrorIs(t, err, ErrShareExpired)

	got, err := f.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UseCount)
	assert.Equal(t, []model.AuditAction{model.AuditCreated, model.AuditExpired}, actions(t, f.store, rec.ID))

	status, err := f.svc.Status(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, status)
}

func TestConsumeExpiryBoundary(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.create(t, time.Minute, 0)

	f.clock.Advance(time.Minute - time.Nanosecond)
	_, err := f.svc.Consume(context.Background(), rec.ID, f.bob.PrivateKey)
	require.NoError(t, err)

	f.clock.Advance(time.Nanosecond)
	_, err = f.svc.Consume(context.Background(), rec.ID, f.bob.PrivateKey)
	assert.ErrorIs(t, err, ErrShareExpired)
}

func TestConsumeWithWrongKeyIsAudited(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.create(t, time.Hour, 1)
	mallory, err := krypto.GenerateKeyPair(krypto.SchemeAgeX25519)
	require.NoError(t, err)

	_, err = f.svc.Consume(context.Background(), rec.ID, mallory.PrivateKey, WithActor("mallory"))
	assert.ErrorIs(t, err, krypto.ErrAuthentication)

	got, err := f.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UseCount, "failed opens do not consume a use")

	events, err := f.store.ListAudit(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.AuditUnauthorizedAccess, events[1].Action)
	assert.Equal(t, "mallory", events[1].Actor)

	_, err = f.svc.Consume(context.Background(), rec.ID, f.bob.PrivateKey)
	require.NoError(t, err)
}

func TestConsumeTamperedRecordFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.create(t, time.Hour, 0)
	ctx := context.Background()

	require.NoError(t, f.store.UpdateShare(ctx, rec.ID, func(r *model.ShareRecord) (*model.AuditEvent, error) {
		r.Ciphertext[len(r.Ciphertext)-1] ^= 0x01
		return nil, nil
	}))
	p, err := f.svc.Consume(ctx, rec.ID, f.bob.PrivateKey)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, krypto.ErrAuthentication)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.create(t, time.Hour, 0)
	ctx := context.Background()

	err := f.svc.Revoke(ctx, rec.ID, "bob")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, f.svc.Revoke(ctx, rec.ID, "alice"))
	require.NoError(t, f.svc.Revoke(ctx, rec.ID, "alice"), "revoking twice is a no-op")

	_, err = f.svc.Consume(ctx, rec.ID, f.bob.PrivateKey)
	assert.ErrorIs(t, err, ErrShareRevoked)

	got, err := f.svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	require.NotNil(t, got.RevokedAt)
	assert.WithinDuration(t, t0, *got.RevokedAt, 0)

	assert.Equal(t, []model.AuditAction{
		model.AuditCreated,
		model.AuditUnauthorizedAccess,
		model.AuditRevoked,
	}, actions(t, f.store, rec.ID))
}

func TestRevocationPrecedesExpiryAndExhaustion(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.create(t, time.Second, 1)
	ctx := context.Background()

	_, err := f.svc.Consume(ctx, rec.ID, f.bob.PrivateKey)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(ctx, rec.ID, "alice"))
	f.clock.Advance(time.Hour)

	_, err = f.svc.Consume(ctx, rec.ID, f.bob.PrivateKey)
	assert.ErrorIs(t, err, ErrShareRevoked)
}

func TestRevokeExpiredShareFails(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.create(t, time.Second, 0)
	f.clock.Advance(time.Minute)

	err := f.svc.Revoke(context.Background(), rec.ID, "alice")
	assert.ErrorIs(t, err, ErrShareExpired)

	got, err := f.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Revoked)
}

func TestPassphraseGate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, CreateRequest{
		Entry: testEntry(), From: "alice", To: "bob",
		RecipientPublicKey: f.bob.PublicKey, TTL: time.Hour,
		Passphrase: []byte("open sesame"),
	})
	require.NoError(t, err)
	assert.True(t, rec.Gated())

	_, err = f.svc.Consume(ctx, rec.ID, f.bob.PrivateKey)
	assert.ErrorIs(t, err, ErrPassphraseRequired)

	_, err = f.svc.Consume(ctx, rec.ID, f.bob.PrivateKey, WithPassphrase([]byte("open sesamE")))
	assert.ErrorIs(t, err, krypto.ErrAuthentication)

	p, err := f.svc.Consume(ctx, rec.ID, f.bob.PrivateKey, WithPassphrase([]byte("open sesame")))
	require.NoError(t, err)
	assert.Equal(t, "S3cr3t!", p.Entry.Secrets["password"])
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	base := CreateRequest{Entry: testEntry(), From: "alice", To: "bob", RecipientPublicKey: f.bob.PublicKey, TTL: time.Hour}

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"no entry", func(r *CreateRequest) { r.Entry = nil }},
		{"no recipient", func(r *CreateRequest) { r.To = "" }},
		{"self share", func(r *CreateRequest) { r.To = "alice" }},
		{"zero ttl", func(r *CreateRequest) { r.TTL = 0 }},
		{"negative uses", func(r *CreateRequest) { r.MaxUses = -1 }},
		{"no key", func(r *CreateRequest) { r.RecipientPublicKey = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := f.svc.Create(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	bad := base
	bad.RecipientPublicKey = []byte("not a key")
	_, err := f.svc.Create(context.Background(), bad)
	assert.ErrorIs(t, err, krypto.ErrUnsupportedScheme)
}

func TestShareSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)
	f := newFixture(t, st)
	rec := f.create(t, time.Hour, 1)

	reopened, err := store.Open(dir)
	require.NoError(t, err)
	f2 := newFixture(t, reopened)
	f2.bob = f.bob

	_, err = f2.svc.Consume(context.Background(), rec.ID, f.bob.PrivateKey)
	require.NoError(t, err)

	again, err := store.Open(dir)
	require.NoError(t, err)
	f3 := newFixture(t, again)
	_, err = f3.svc.Consume(context.Background(), rec.ID, f.bob.PrivateKey)
	assert.ErrorIs(t, err, ErrShareExhausted, "exhaustion persists across restarts")

	events, err := again.ListAudit(context.Background(), "")
	require.NoError(t, err)
	assert.NoError(t, audit.Verify(events))
}

func TestListForEntryAndStatus(t *testing.T) {
	f := newFixture(t, nil)
	a := f.create(t, time.Hour, 1)
	f.clock.Advance(time.Second)
	b := f.create(t, time.Hour, 0)

	list, err := f.svc.ListForEntry(context.Background(), "entry-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	assert.Equal(t, StatusActive, StatusAt(a, f.clock.Now()))
	assert.Equal(t, -1, Remaining(b))
}
