package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/vaultcore/internal/audit"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

var testTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func sampleShare(id string) *model.ShareRecord {
	return &model.ShareRecord{
		ID:            id,
		EntryID:       "entry-1",
		FromPrincipal: "alice",
		ToPrincipal:   "bob",
		WrapScheme:    "age-x25519",
		WrappedKey:    []byte{1, 2, 3},
		Ciphertext:    []byte{4, 5, 6},
		Nonce:         make([]byte, 12),
		CreatedAt:     testTime,
		ExpiresAt:     testTime.Add(time.Hour),
		MaxUses:       1,
	}
}

func TestOpenPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.SaveMasterRecord(ctx, &model.MasterKeyRecord{
		Salt: []byte("0123456789abcdef"), Verifier: []byte("v"), KDFIterations: 600_000, CreatedAt: testTime,
	}))
	require.NoError(t, s.PutEntry(ctx, &model.VaultEntry{
		ID: "entry-1", Title: "mail",
		SecretFields: map[string]model.SealedField{"password": {Ciphertext: []byte("ct"), Nonce: []byte("n")}},
	}))
	require.NoError(t, s.InsertShare(ctx, sampleShare("share-1"), &model.AuditEvent{
		ShareID: "share-1", Action: model.AuditCreated, Actor: "alice", At: testTime,
	}))
	require.NoError(t, s.UpdateShare(ctx, "share-1", func(rec *model.ShareRecord) (*model.AuditEvent, error) {
		rec.UseCount++
		return &model.AuditEvent{ShareID: rec.ID, Action: model.AuditViewed, Actor: "bob", At: testTime}, nil
	}))
	require.NoError(t, s.Close())

	info, err := os.Stat(Paths{Dir: dir}.SnapshotPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := Open(dir)
	require.NoError(t, err)

	rec, err := reopened.LoadMasterRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, 600_000, rec.KDFIterations)

	entry, err := reopened.GetEntry(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ct"), entry.SecretFields["password"].Ciphertext)

	share, err := reopened.GetShare(ctx, "share-1")
	require.NoError(t, err)
	assert.Equal(t, 1, share.UseCount)
	assert.True(t, share.Exhausted())

	events, err := reopened.ListAudit(ctx, "share-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.AuditViewed, events[1].Action)
	assert.NoError(t, audit.Verify(events))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.InsertShare(ctx, sampleShare("share-1"), nil))

	boom := errors.New("boom")
	err = s.UpdateShare(ctx, "share-1", func(rec *model.ShareRecord) (*model.AuditEvent, error) {
		rec.UseCount = 99
		rec.Revoked = true
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	share, err := s.GetShare(ctx, "share-1")
	require.NoError(t, err)
	assert.Zero(t, share.UseCount)
	assert.False(t, share.Revoked)

	events, err := s.ListAudit(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReplaceVaultSwapsEverything(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.SaveMasterRecord(ctx, &model.MasterKeyRecord{Verifier: []byte("old")}))
	require.NoError(t, s.PutEntry(ctx, &model.VaultEntry{ID: "a"}))
	require.NoError(t, s.PutEntry(ctx, &model.VaultEntry{ID: "b"}))

	require.NoError(t, s.ReplaceVault(ctx, &model.MasterKeyRecord{Verifier: []byte("new")},
		[]*model.VaultEntry{{ID: "a", Title: "resealed-a"}, {ID: "b", Title: "resealed-b"}}))

	rec, err := s.LoadMasterRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), rec.Verifier)

	entries, err := s.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "resealed-a", entries[0].Title)
	assert.Equal(t, "resealed-b", entries[1].Title)
}

func TestReplaceVaultRejectsChangedEntrySet(t *testing.T) {
	ctx := context.Background()
	master := &model.MasterKeyRecord{Verifier: []byte("new")}

	tests := []struct {
		name    string
		entries []*model.VaultEntry
	}{
		{"missing stored entry", []*model.VaultEntry{{ID: "a"}}},
		{"unknown entry", []*model.VaultEntry{{ID: "a"}, {ID: "b"}, {ID: "c"}}},
		{"duplicate id", []*model.VaultEntry{{ID: "a"}, {ID: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemory()
			require.NoError(t, s.SaveMasterRecord(ctx, &model.MasterKeyRecord{Verifier: []byte("old")}))
			require.NoError(t, s.PutEntry(ctx, &model.VaultEntry{ID: "a", Title: "kept"}))
			require.NoError(t, s.PutEntry(ctx, &model.VaultEntry{ID: "b", Title: "kept"}))

			err := s.ReplaceVault(ctx, master, tt.entries)
			require.ErrorIs(t, err, model.ErrEntrySetChanged)

			rec, err := s.LoadMasterRecord(ctx)
			require.NoError(t, err)
			assert.Equal(t, []byte("old"), rec.Verifier)
			entries, err := s.ListEntries(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			for _, e := range entries {
				assert.Equal(t, "kept", e.Title)
			}
		})
	}
}

func TestReturnedRecordsDoNotAliasStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.InsertShare(ctx, sampleShare("share-1"), nil))

	got, err := s.GetShare(ctx, "share-1")
	require.NoError(t, err)
	got.Revoked = true
	got.WrappedKey[0] = 0xff

	again, err := s.GetShare(ctx, "share-1")
	require.NoError(t, err)
	assert.False(t, again.Revoked)
	assert.Equal(t, byte(1), again.WrappedKey[0])
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.LoadMasterRecord(ctx)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetShare(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.DeleteEntry(ctx, "missing"), model.ErrNotFound)
	_, err = s.FindPendingAccessRequest(ctx, "share", "carol")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetContact(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestOpenRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Paths{Dir: dir}.SnapshotPath(), []byte(`{"version": 9}`), 0o600))
	_, err := Open(dir)
	assert.ErrorContains(t, err, "unsupported snapshot version")
}
