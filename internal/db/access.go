package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

const accessColumns = `id, share_id, requester, requester_public_key, message, status, response_message,
	granted_share_id, requested_at, responded_at`

func scanAccessRequest(row rowScanner) (*model.AccessRequest, error) {
	var (
		r           model.AccessRequest
		status      string
		requestedAt string
		respondedAt sql.NullString
	)
	err := row.Scan(&r.ID, &r.ShareID, &r.Requester, &r.RequesterPublicKey, &r.Message, &status,
		&r.ResponseMessage, &r.GrantedShareID, &requestedAt, &respondedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RequestStatus(status)
	if r.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, err
	}
	if r.RespondedAt, err = parseNullTime(respondedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertAccessRequest implements port.AccessRequestStore.
func (s *Store) InsertAccessRequest(ctx context.Context, r *model.AccessRequest) error {
	_, err := s.db.Writer.ExecContext(ctx,
		`INSERT INTO access_requests (`+accessColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ShareID, r.Requester, r.RequesterPublicKey, r.Message, string(r.Status),
		r.ResponseMessage, r.GrantedShareID, fmtTime(r.RequestedAt), fmtNullTime(r.RespondedAt),
	)
	if err != nil {
		return fmt.Errorf("insert access request: %w", err)
	}
	return nil
}

// GetAccessRequest implements port.AccessRequestStore.
func (s *Store) GetAccessRequest(ctx context.Context, id string) (*model.AccessRequest, error) {
	r, err := scanAccessRequest(s.db.Reader.QueryRowContext(ctx,
		`SELECT `+accessColumns+` FROM access_requests WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "access request", id)
	}
	return r, nil
}

// FindPendingAccessRequest implements port.AccessRequestStore.
func (s *Store) FindPendingAccessRequest(ctx context.Context, shareID, requester string) (*model.AccessRequest, error) {
	r, err := scanAccessRequest(s.db.Reader.QueryRowContext(ctx,
		`SELECT `+accessColumns+` FROM access_requests WHERE share_id = ? AND requester = ? AND status = 'pending'`,
		shareID, requester))
	if err != nil {
		return nil, notFound(err, "pending access request for", requester)
	}
	return r, nil
}

// UpdateAccessRequest implements port.AccessRequestStore.
func (s *Store) UpdateAccessRequest(ctx context.Context, id string, fn func(*model.AccessRequest) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := scanAccessRequest(tx.QueryRowContext(ctx,
			`SELECT `+accessColumns+` FROM access_requests WHERE id = ?`, id))
		if err != nil {
			return notFound(err, "access request", id)
		}
		if err := fn(r); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE access_requests SET status = ?, response_message = ?, granted_share_id = ?, responded_at = ?
			 WHERE id = ?`,
			string(r.Status), r.ResponseMessage, r.GrantedShareID, fmtNullTime(r.RespondedAt), id,
		)
		if err != nil {
			return fmt.Errorf("update access request %s: %w", id, err)
		}
		return nil
	})
}

// ListAccessRequests implements port.AccessRequestStore.
func (s *Store) ListAccessRequests(ctx context.Context, shareID string) ([]*model.AccessRequest, error) {
	rows, err := s.db.Reader.QueryContext(ctx,
		`SELECT `+accessColumns+` FROM access_requests WHERE share_id = ? ORDER BY requested_at, id`, shareID)
	if err != nil {
		return nil, fmt.Errorf("select access requests: %w", err)
	}
	defer rows.Close()

	var out []*model.AccessRequest
	for rows.Next() {
		r, err := scanAccessRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access request row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access request rows: %w", err)
	}
	return out, nil
}
