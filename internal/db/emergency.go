package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

const contactColumns = `id, owner, contact, contact_public_key, status, wait_time_days, created_at, updated_at`

func scanContact(row rowScanner) (*model.EmergencyContact, error) {
	var (
		c                    model.EmergencyContact
		status               string
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.Owner, &c.Contact, &c.ContactPublicKey, &status, &c.WaitTimeDays, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = model.ContactStatus(status)
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertContact implements port.EmergencyStore.
func (s *Store) InsertContact(ctx context.Context, c *model.EmergencyContact) error {
	_, err := s.db.Writer.ExecContext(ctx,
		`INSERT INTO emergency_contacts (`+contactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Owner, c.Contact, c.ContactPublicKey, string(c.Status), c.WaitTimeDays,
		fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert emergency contact: %w", err)
	}
	return nil
}

// GetContact implements port.EmergencyStore.
func (s *Store) GetContact(ctx context.Context, id string) (*model.EmergencyContact, error) {
	c, err := scanContact(s.db.Reader.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM emergency_contacts WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "emergency contact", id)
	}
	return c, nil
}

// UpdateContact implements port.EmergencyStore.
func (s *Store) UpdateContact(ctx context.Context, id string, fn func(*model.EmergencyContact) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := scanContact(tx.QueryRowContext(ctx,
			`SELECT `+contactColumns+` FROM emergency_contacts WHERE id = ?`, id))
		if err != nil {
			return notFound(err, "emergency contact", id)
		}
		if err := fn(c); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE emergency_contacts SET status = ?, contact_public_key = ?, wait_time_days = ?, updated_at = ?
			 WHERE id = ?`,
			string(c.Status), c.ContactPublicKey, c.WaitTimeDays, fmtTime(c.UpdatedAt), id,
		)
		if err != nil {
			return fmt.Errorf("update emergency contact %s: %w", id, err)
		}
		return nil
	})
}

// ListContacts implements port.EmergencyStore.
func (s *Store) ListContacts(ctx context.Context, owner string) ([]*model.EmergencyContact, error) {
	rows, err := s.db.Reader.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM emergency_contacts WHERE owner = ? ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("select emergency contacts: %w", err)
	}
	defer rows.Close()

	var out []*model.EmergencyContact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan emergency contact row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emergency contact rows: %w", err)
	}
	return out, nil
}

const emergencyRequestColumns = `id, contact_id, requester, status, requested_at, granted_at, expires_at,
	wrap_scheme, wrapped_vault_key`

func scanEmergencyRequest(row rowScanner) (*model.EmergencyAccessRequest, error) {
	var (
		r                      model.EmergencyAccessRequest
		status                 string
		requestedAt, expiresAt string
		grantedAt              sql.NullString
	)
	err := row.Scan(&r.ID, &r.ContactID, &r.Requester, &status, &requestedAt, &grantedAt, &expiresAt,
		&r.WrapScheme, &r.WrappedVaultKey)
	if err != nil {
		return nil, err
	}
	r.Status = model.EmergencyStatus(status)
	if r.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, err
	}
	if r.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if r.GrantedAt, err = parseNullTime(grantedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertEmergencyRequest implements port.EmergencyStore.
func (s *Store) InsertEmergencyRequest(ctx context.Context, r *model.EmergencyAccessRequest) error {
	_, err := s.db.Writer.ExecContext(ctx,
		`INSERT INTO emergency_requests (`+emergencyRequestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ContactID, r.Requester, string(r.Status), fmtTime(r.RequestedAt), fmtNullTime(r.GrantedAt),
		fmtTime(r.ExpiresAt), r.WrapScheme, r.WrappedVaultKey,
	)
	if err != nil {
		return fmt.Errorf("insert emergency request: %w", err)
	}
	return nil
}

// GetEmergencyRequest implements port.EmergencyStore.
func (s *Store) GetEmergencyRequest(ctx context.Context, id string) (*model.EmergencyAccessRequest, error) {
	r, err := scanEmergencyRequest(s.db.Reader.QueryRowContext(ctx,
		`SELECT `+emergencyRequestColumns+` FROM emergency_requests WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "emergency request", id)
	}
	return r, nil
}

// UpdateEmergencyRequest implements port.EmergencyStore.
func (s *Store) UpdateEmergencyRequest(ctx context.Context, id string, fn func(*model.EmergencyAccessRequest) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := scanEmergencyRequest(tx.QueryRowContext(ctx,
			`SELECT `+emergencyRequestColumns+` FROM emergency_requests WHERE id = ?`, id))
		if err != nil {
			return notFound(err, "emergency request", id)
		}
		if err := fn(r); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE emergency_requests SET status = ?, granted_at = ?, wrap_scheme = ?, wrapped_vault_key = ?
			 WHERE id = ?`,
			string(r.Status), fmtNullTime(r.GrantedAt), r.WrapScheme, r.WrappedVaultKey, id,
		)
		if err != nil {
			return fmt.Errorf("update emergency request %s: %w", id, err)
		}
		return nil
	})
}

// ListEmergencyRequests implements port.EmergencyStore.
func (s *Store) ListEmergencyRequests(ctx context.Context, contactID string) ([]*model.EmergencyAccessRequest, error) {
	rows, err := s.db.Reader.QueryContext(ctx,
		`SELECT `+emergencyRequestColumns+` FROM emergency_requests WHERE contact_id = ?
		 ORDER BY requested_at DESC, id DESC`, contactID)
	if err != nil {
		return nil, fmt.Errorf("select emergency requests: %w", err)
	}
	defer rows.Close()

	var out []*model.EmergencyAccessRequest
	for rows.Next() {
		r, err := scanEmergencyRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan emergency request row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emergency request rows: %w", err)
	}
	return out, nil
}
