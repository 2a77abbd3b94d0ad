package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

// LoadMasterRecord implements port.VaultStore.
func (s *Store) LoadMasterRecord(ctx context.Context) (*model.MasterKeyRecord, error) {
	var (
		rec                  model.MasterKeyRecord
		createdAt, updatedAt string
	)
	err := s.db.Reader.QueryRowContext(ctx,
		`SELECT salt, verifier, kdf_iterations, created_at, updated_at FROM master_key WHERE id = 1`,
	).Scan(&rec.Salt, &rec.Verifier, &rec.KDFIterations, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("master record: %w", model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select master record: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveMaster(ctx context.Context, x execer, rec *model.MasterKeyRecord) error {
	_, err := x.ExecContext(ctx,
		`INSERT INTO master_key (id, salt, verifier, kdf_iterations, created_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     salt = excluded.salt,
		     verifier = excluded.verifier,
		     kdf_iterations = excluded.kdf_iterations,
		     created_at = excluded.created_at,
		     updated_at = excluded.updated_at`,
		rec.Salt, rec.Verifier, rec.KDFIterations, fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save master record: %w", err)
	}
	return nil
}

// SaveMasterRecord implements port.VaultStore.
func (s *Store) SaveMasterRecord(ctx context.Context, rec *model.MasterKeyRecord) error {
	return saveMaster(ctx, s.db.Writer, rec)
}

func putEntry(ctx context.Context, x execer, e *model.VaultEntry) error {
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	fields, err := json.Marshal(e.SecretFields)
	if err != nil {
		return fmt.Errorf("encode sealed fields: %w", err)
	}
	_, err = x.ExecContext(ctx,
		`INSERT INTO entries (id, title, username, url, folder, tags, secret_fields, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     title = excluded.title,
		     username = excluded.username,
		     url = excluded.url,
		     folder = excluded.folder,
		     tags = excluded.tags,
		     secret_fields = excluded.secret_fields,
		     updated_at = excluded.updated_at`,
		e.ID, e.Title, e.Username, e.URL, e.Folder, string(tags), fields,
		fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert entry %s: %w", e.ID, err)
	}
	return nil
}

// PutEntry implements port.VaultStore.
func (s *Store) PutEntry(ctx context.Context, e *model.VaultEntry) error {
	return putEntry(ctx, s.db.Writer, e)
}

const entryColumns = `id, title, username, url, folder, tags, secret_fields, created_at, updated_at`

func scanEntry(row rowScanner) (*model.VaultEntry, error) {
	var (
		e                    model.VaultEntry
		tags                 string
		fields               []byte
		createdAt, updatedAt string
	)
	if err := row.Scan(&e.ID, &e.Title, &e.Username, &e.URL, &e.Folder, &tags, &fields, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(fields, &e.SecretFields); err != nil {
		return nil, fmt.Errorf("decode sealed fields: %w", err)
	}
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntry implements port.VaultStore.
func (s *Store) GetEntry(ctx context.Context, id string) (*model.VaultEntry, error) {
	row := s.db.Reader.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, notFound(err, "entry", id)
	}
	return e, nil
}

// ListEntries implements port.VaultStore.
func (s *Store) ListEntries(ctx context.Context) ([]*model.VaultEntry, error) {
	rows, err := s.db.Reader.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var out []*model.VaultEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows: %w", err)
	}
	return out, nil
}

// DeleteEntry implements port.VaultStore.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.Writer.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	return requireAffected(res, "entry", id)
}

// ReplaceVault implements port.VaultStore in a single transaction.
func (s *Store) ReplaceVault(ctx context.Context, rec *model.MasterKeyRecord, entries []*model.VaultEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := sameEntrySet(ctx, tx, entries); err != nil {
			return err
		}
		if err := saveMaster(ctx, tx, rec); err != nil {
			return err
		}
		for _, e := range entries {
			if err := putEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// sameEntrySet fails unless entries covers exactly the stored entry ids.
func sameEntrySet(ctx context.Context, tx *sql.Tx, entries []*model.VaultEntry) error {
	given := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		given[e.ID] = struct{}{}
	}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM entries`)
	if err != nil {
		return fmt.Errorf("list entry ids: %w", err)
	}
	defer rows.Close()

	stored := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan entry id: %w", err)
		}
		if _, ok := given[id]; !ok {
			return fmt.Errorf("%w: entry %s not in replacement", model.ErrEntrySetChanged, id)
		}
		stored++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entry ids: %w", err)
	}
	if stored != len(given) || len(given) != len(entries) {
		return fmt.Errorf("%w: %d stored, %d given", model.ErrEntrySetChanged, stored, len(entries))
	}
	return nil
}
