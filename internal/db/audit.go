package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/vaultcore/internal/audit"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

const auditColumns = `seq, share_id, action, actor, detail, at, prev_hash, hash`

func scanAudit(row rowScanner) (*model.AuditEvent, error) {
	var (
		ev     model.AuditEvent
		action string
		at     string
	)
	if err := row.Scan(&ev.Seq, &ev.ShareID, &action, &ev.Actor, &ev.Detail, &at, &ev.PrevHash, &ev.Hash); err != nil {
		return nil, err
	}
	ev.Action = model.AuditAction(action)
	var err error
	if ev.At, err = parseTime(at); err != nil {
		return nil, err
	}
	return &ev, nil
}

// appendAudit links ev to the current chain head and inserts it inside tx.
func appendAudit(ctx context.Context, tx *sql.Tx, ev *model.AuditEvent) error {
	prev, err := scanAudit(tx.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_events ORDER BY seq DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		prev = nil
	} else if err != nil {
		return fmt.Errorf("select audit head: %w", err)
	}

	// Timestamps are stored at nanosecond precision in UTC; hash what will
	// be read back.
	ev.At = ev.At.UTC()
	audit.Link(prev, ev)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_events (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Seq, ev.ShareID, string(ev.Action), ev.Actor, ev.Detail, fmtTime(ev.At), ev.PrevHash, ev.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// AppendAudit implements port.AuditStore.
func (s *Store) AppendAudit(ctx context.Context, ev *model.AuditEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return appendAudit(ctx, tx, ev)
	})
}

// ListAudit implements port.AuditStore.
func (s *Store) ListAudit(ctx context.Context, shareID string) ([]*model.AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events`
	var args []any
	if shareID != "" {
		query += ` WHERE share_id = ?`
		args = append(args, shareID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select audit events: %w", err)
	}
	defer rows.Close()

	var out []*model.AuditEvent
	for rows.Next() {
		ev, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return out, nil
}
