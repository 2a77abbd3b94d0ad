package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/port"
)

const shareColumns = `id, entry_id, from_principal, to_principal, wrap_scheme, wrapped_key, ciphertext, nonce,
	gate_salt, perm_view, perm_edit, created_at, expires_at, max_uses, use_count, revoked, revoked_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanShare(row rowScanner) (*model.ShareRecord, error) {
	var (
		r                    model.ShareRecord
		view, edit, revoked  int
		createdAt, expiresAt string
		revokedAt            sql.NullString
	)
	err := row.Scan(&r.ID, &r.EntryID, &r.FromPrincipal, &r.ToPrincipal, &r.WrapScheme, &r.WrappedKey,
		&r.Ciphertext, &r.Nonce, &r.GateSalt, &view, &edit, &createdAt, &expiresAt,
		&r.MaxUses, &r.UseCount, &revoked, &revokedAt)
	if err != nil {
		return nil, err
	}
	r.Permissions = model.Permissions{View: view == 1, Edit: edit == 1}
	r.Revoked = revoked == 1
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if r.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func getShare(ctx context.Context, q queryer, id string) (*model.ShareRecord, error) {
	r, err := scanShare(q.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "share", id)
	}
	return r, nil
}

// InsertShare implements port.ShareStore.
func (s *Store) InsertShare(ctx context.Context, rec *model.ShareRecord, ev *model.AuditEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO shares (`+shareColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.EntryID, rec.FromPrincipal, rec.ToPrincipal, rec.WrapScheme, rec.WrappedKey,
			rec.Ciphertext, rec.Nonce, rec.GateSalt, boolInt(rec.Permissions.View), boolInt(rec.Permissions.Edit),
			fmtTime(rec.CreatedAt), fmtTime(rec.ExpiresAt), rec.MaxUses, rec.UseCount, boolInt(rec.Revoked),
			fmtNullTime(rec.RevokedAt),
		)
		if err != nil {
			return fmt.Errorf("insert share: %w", err)
		}
		if ev != nil {
			return appendAudit(ctx, tx, ev)
		}
		return nil
	})
}

// GetShare implements port.ShareStore.
func (s *Store) GetShare(ctx context.Context, id string) (*model.ShareRecord, error) {
	return getShare(ctx, s.db.Reader, id)
}

// ListSharesByEntry implements port.ShareStore.
func (s *Store) ListSharesByEntry(ctx context.Context, entryID string) ([]*model.ShareRecord, error) {
	rows, err := s.db.Reader.QueryContext(ctx,
		`SELECT `+shareColumns+` FROM shares WHERE entry_id = ? ORDER BY created_at, id`, entryID)
	if err != nil {
		return nil, fmt.Errorf("select shares: %w", err)
	}
	defer rows.Close()

	var out []*model.ShareRecord
	for rows.Next() {
		r, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share rows: %w", err)
	}
	return out, nil
}

// UpdateShare implements port.ShareStore. The read, fn, the write-back and
// the audit append share one writer transaction.
func (s *Store) UpdateShare(ctx context.Context, id string, fn port.ShareMutation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getShare(ctx, tx, id)
		if err != nil {
			return err
		}
		ev, err := fn(rec)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE shares SET wrapped_key = ?, ciphertext = ?, nonce = ?, use_count = ?, revoked = ?, revoked_at = ?
			 WHERE id = ?`,
			rec.WrappedKey, rec.Ciphertext, rec.Nonce, rec.UseCount, boolInt(rec.Revoked), fmtNullTime(rec.RevokedAt), id,
		)
		if err != nil {
			return fmt.Errorf("update share %s: %w", id, err)
		}
		if ev != nil {
			return appendAudit(ctx, tx, ev)
		}
		return nil
	})
}
