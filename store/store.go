// Package store is the snapshot-file backend: the whole vault lives in one
// JSON document that is rewritten atomically on every mutation. With an
// empty directory it runs memory-only.
package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Hussein-Mazeh/vaultcore/internal/audit"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/port"
)

var _ port.Store = (*Store)(nil)

// Store implements every persistence port over a snapshot.
type Store struct {
	mu    sync.Mutex
	paths Paths
	data  *snapshot
}

// Open loads (or starts) the snapshot in dir.
func Open(dir string) (*Store, error) {
	p := Paths{Dir: dir}
	if err := p.ensureDir(); err != nil {
		return nil, err
	}
	data, err := loadSnapshot(p)
	if err != nil {
		return nil, err
	}
	return &Store{paths: p, data: data}, nil
}

// NewMemory returns a store that is never written to disk.
func NewMemory() *Store {
	return &Store{data: newSnapshot()}
}

// Close is a no-op; every mutation is already durable.
func (s *Store) Close() error { return nil }

// view runs fn against the current snapshot under the lock.
func (s *Store) view(fn func(d *snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// update applies fn to a copy of the snapshot, persists the copy and only
// then makes it current. A failure in fn or in the write leaves the store
// exactly as it was.
func (s *Store) update(ctx context.Context, fn func(d *snapshot) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.data.clone()
	if err != nil {
		return err
	}
	if err := fn(next); err != nil {
		return err
	}
	if s.paths.Dir != "" {
		if err := saveSnapshot(s.paths, next); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}
	s.data = next
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
}

func appendAudit(d *snapshot, ev *model.AuditEvent) {
	audit.Link(d.lastAudit(), ev)
	d.Audit = append(d.Audit, ev)
}

// LoadMasterRecord implements port.VaultStore.
func (s *Store) LoadMasterRecord(ctx context.Context) (*model.MasterKeyRecord, error) {
	var out *model.MasterKeyRecord
	err := s.view(func(d *snapshot) error {
		if d.Master == nil {
			return fmt.Errorf("master record: %w", model.ErrNotFound)
		}
		var err error
		out, err = cloneJSON(d.Master)
		return err
	})
	return out, err
}

// SaveMasterRecord implements port.VaultStore.
func (s *Store) SaveMasterRecord(ctx context.Context, rec *model.MasterKeyRecord) error {
	return s.update(ctx, func(d *snapshot) error {
		c, err := cloneJSON(rec)
		if err != nil {
			return err
		}
		d.Master = c
		return nil
	})
}

// PutEntry implements port.VaultStore.
func (s *Store) PutEntry(ctx context.Context, e *model.VaultEntry) error {
	return s.update(ctx, func(d *snapshot) error {
		c, err := cloneJSON(e)
		if err != nil {
			return err
		}
		d.Entries[e.ID] = c
		return nil
	})
}

// GetEntry implements port.VaultStore.
func (s *Store) GetEntry(ctx context.Context, id string) (*model.VaultEntry, error) {
	var out *model.VaultEntry
	err := s.view(func(d *snapshot) error {
		e, ok := d.Entries[id]
		if !ok {
			return notFound("entry", id)
		}
		var err error
		out, err = cloneJSON(e)
		return err
	})
	return out, err
}

// ListEntries implements port.VaultStore.
func (s *Store) ListEntries(ctx context.Context) ([]*model.VaultEntry, error) {
	var out []*model.VaultEntry
	err := s.view(func(d *snapshot) error {
		for _, e := range d.Entries {
			c, err := cloneJSON(e)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *model.VaultEntry) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}

// DeleteEntry implements port.VaultStore.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	return s.update(ctx, func(d *snapshot) error {
		if _, ok := d.Entries[id]; !ok {
			return notFound("entry", id)
		}
		delete(d.Entries, id)
		return nil
	})
}

// ReplaceVault implements port.VaultStore.
func (s *Store) ReplaceVault(ctx context.Context, rec *model.MasterKeyRecord, entries []*model.VaultEntry) error {
	return s.update(ctx, func(d *snapshot) error {
		master, err := cloneJSON(rec)
		if err != nil {
			return err
		}
		replaced := make(map[string]*model.VaultEntry, len(entries))
		for _, e := range entries {
			if _, ok := d.Entries[e.ID]; !ok {
				return fmt.Errorf("%w: entry %s is not stored", model.ErrEntrySetChanged, e.ID)
			}
			c, err := cloneJSON(e)
			if err != nil {
				return err
			}
			replaced[e.ID] = c
		}
		if len(replaced) != len(d.Entries) || len(replaced) != len(entries) {
			return fmt.Errorf("%w: %d stored, %d given", model.ErrEntrySetChanged, len(d.Entries), len(entries))
		}
		d.Master = master
		d.Entries = replaced
		return nil
	})
}

// InsertShare implements port.ShareStore.
func (s *Store) InsertShare(ctx context.Context, rec *model.ShareRecord, ev *model.AuditEvent) error {
	return s.update(ctx, func(d *snapshot) error {
		if _, ok := d.Shares[rec.ID]; ok {
			return fmt.Errorf("share %s already exists", rec.ID)
		}
		c, err := cloneJSON(rec)
		if err != nil {
			return err
		}
		d.Shares[rec.ID] = c
		if ev != nil {
			appendAudit(d, ev)
		}
		return nil
	})
}

// GetShare implements port.ShareStore.
func (s *Store) GetShare(ctx context.Context, id string) (*model.ShareRecord, error) {
	var out *model.ShareRecord
	err := s.view(func(d *snapshot) error {
		rec, ok := d.Shares[id]
		if !ok {
			return notFound("share", id)
		}
		var err error
		out, err = cloneJSON(rec)
		return err
	})
	return out, err
}

// ListSharesByEntry implements port.ShareStore.
func (s *Store) ListSharesByEntry(ctx context.Context, entryID string) ([]*model.ShareRecord, error) {
	var out []*model.ShareRecord
	err := s.view(func(d *snapshot) error {
		for _, rec := range d.Shares {
			if rec.EntryID != entryID {
				continue
			}
			c, err := cloneJSON(rec)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *model.ShareRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, err
}

// UpdateShare implements port.ShareStore.
func (s *Store) UpdateShare(ctx context.Context, id string, fn port.ShareMutation) error {
	return s.update(ctx, func(d *snapshot) error {
		rec, ok := d.Shares[id]
		if !ok {
			return notFound("share", id)
		}
		ev, err := fn(rec)
		if err != nil {
			return err
		}
		if ev != nil {
			appendAudit(d, ev)
		}
		return nil
	})
}

// AppendAudit implements port.AuditStore.
func (s *Store) AppendAudit(ctx context.Context, ev *model.AuditEvent) error {
	return s.update(ctx, func(d *snapshot) error {
		appendAudit(d, ev)
		return nil
	})
}

// ListAudit implements port.AuditStore.
func (s *Store) ListAudit(ctx context.Context, shareID string) ([]*model.AuditEvent, error) {
	var out []*model.AuditEvent
	err := s.view(func(d *snapshot) error {
		for _, ev := range d.Audit {
			if shareID != "" && ev.ShareID != shareID {
				continue
			}
			c, err := cloneJSON(ev)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// InsertAccessRequest implements port.AccessRequestStore.
func (s *Store) InsertAccessRequest(ctx context.Context, req *model.AccessRequest) error {
	return s.update(ctx, func(d *snapshot) error {
		c, err := cloneJSON(req)
		if err != nil {
			return err
		}
		d.AccessRequests[req.ID] = c
		return nil
	})
}

// GetAccessRequest implements port.AccessRequestStore.
func (s *Store) GetAccessRequest(ctx context.Context, id string) (*model.AccessRequest, error) {
	var out *model.AccessRequest
	err := s.view(func(d *snapshot) error {
		req, ok := d.AccessRequests[id]
		if !ok {
			return notFound("access request", id)
		}
		var err error
		out, err = cloneJSON(req)
		return err
	})
	return out, err
}

// FindPendingAccessRequest implements port.AccessRequestStore.
func (s *Store) FindPendingAccessRequest(ctx context.Context, shareID, requester string) (*model.AccessRequest, error) {
	var out *model.AccessRequest
	err := s.view(func(d *snapshot) error {
		for _, req := range d.AccessRequests {
			if req.ShareID == shareID && req.Requester == requester && req.Status == model.RequestPending {
				var err error
				out, err = cloneJSON(req)
				return err
			}
		}
		return fmt.Errorf("pending access request: %w", model.ErrNotFound)
	})
	return out, err
}

// UpdateAccessRequest implements port.AccessRequestStore.
func (s *Store) UpdateAccessRequest(ctx context.Context, id string, fn func(*model.AccessRequest) error) error {
	return s.update(ctx, func(d *snapshot) error {
		req, ok := d.AccessRequests[id]
		if !ok {
			return notFound("access request", id)
		}
		return fn(req)
	})
}

// ListAccessRequests implements port.AccessRequestStore.
func (s *Store) ListAccessRequests(ctx context.Context, shareID string) ([]*model.AccessRequest, error) {
	var out []*model.AccessRequest
	err := s.view(func(d *snapshot) error {
		for _, req := range d.AccessRequests {
			if req.ShareID != shareID {
				continue
			}
			c, err := cloneJSON(req)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *model.AccessRequest) int { return a.RequestedAt.Compare(b.RequestedAt) })
	return out, err
}

// InsertContact implements port.EmergencyStore.
func (s *Store) InsertContact(ctx context.Context, c *model.EmergencyContact) error {
	return s.update(ctx, func(d *snapshot) error {
		cp, err := cloneJSON(c)
		if err != nil {
			return err
		}
		d.Contacts[c.ID] = cp
		return nil
	})
}

// GetContact implements port.EmergencyStore.
func (s *Store) GetContact(ctx context.Context, id string) (*model.EmergencyContact, error) {
	var out *model.EmergencyContact
	err := s.view(func(d *snapshot) error {
		c, ok := d.Contacts[id]
		if !ok {
			return notFound("emergency contact", id)
		}
		var err error
		out, err = cloneJSON(c)
		return err
	})
	return out, err
}

// UpdateContact implements port.EmergencyStore.
func (s *Store) UpdateContact(ctx context.Context, id string, fn func(*model.EmergencyContact) error) error {
	return s.update(ctx, func(d *snapshot) error {
		c, ok := d.Contacts[id]
		if !ok {
			return notFound("emergency contact", id)
		}
		return fn(c)
	})
}

// ListContacts implements port.EmergencyStore.
func (s *Store) ListContacts(ctx context.Context, owner string) ([]*model.EmergencyContact, error) {
	var out []*model.EmergencyContact
	err := s.view(func(d *snapshot) error {
		for _, c := range d.Contacts {
			if c.Owner != owner {
				continue
			}
			cp, err := cloneJSON(c)
			if err != nil {
				return err
			}
			out = append(out, cp)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *model.EmergencyContact) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, err
}

// InsertEmergencyRequest implements port.EmergencyStore.
func (s *Store) InsertEmergencyRequest(ctx context.Context, r *model.EmergencyAccessRequest) error {
	return s.update(ctx, func(d *snapshot) error {
		c, err := cloneJSON(r)
		if err != nil {
			return err
		}
		d.EmergencyRequests[r.ID] = c
		return nil
	})
}

// GetEmergencyRequest implements port.EmergencyStore.
func (s *Store) GetEmergencyRequest(ctx context.Context, id string) (*model.EmergencyAccessRequest, error) {
	var out *model.EmergencyAccessRequest
	err := s.view(func(d *snapshot) error {
		r, ok := d.EmergencyRequests[id]
		if !ok {
			return notFound("emergency request", id)
		}
		var err error
		out, err = cloneJSON(r)
		return err
	})
	return out, err
}

// UpdateEmergencyRequest implements port.EmergencyStore.
func (s *Store) UpdateEmergencyRequest(ctx context.Context, id string, fn func(*model.EmergencyAccessRequest) error) error {
	return s.update(ctx, func(d *snapshot) error {
		r, ok := d.EmergencyRequests[id]
		if !ok {
			return notFound("emergency request", id)
		}
		return fn(r)
	})
}

// ListEmergencyRequests implements port.EmergencyStore.
func (s *Store) ListEmergencyRequests(ctx context.Context, contactID string) ([]*model.EmergencyAccessRequest, error) {
	var out []*model.EmergencyAccessRequest
	err := s.view(func(d *snapshot) error {
		for _, r := range d.EmergencyRequests {
			if r.ContactID != contactID {
				continue
			}
			c, err := cloneJSON(r)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *model.EmergencyAccessRequest) int { return b.RequestedAt.Compare(a.RequestedAt) })
	return out, err
}
