// Package port declares the persistence interfaces the vault components
// depend on. Implementations live in internal/db (SQLite) and store
// (snapshot file).
package port

import (
	"context"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

// VaultStore persists the master key record and sealed entries.
type VaultStore interface {
	// LoadMasterRecord returns model.ErrNotFound before initialisation.
	LoadMasterRecord(ctx context.Context) (*model.MasterKeyRecord, error)
	SaveMasterRecord(ctx context.Context, rec *model.MasterKeyRecord) error
	PutEntry(ctx context.Context, e *model.VaultEntry) error
	GetEntry(ctx context.Context, id string) (*model.VaultEntry, error)
	ListEntries(ctx context.Context) ([]*model.VaultEntry, error)
	DeleteEntry(ctx context.Context, id string) error
	// ReplaceVault atomically swaps the master record and rewrites every
	// entry. Either all of it is durable or none of it is. entries must
	// name exactly the stored entry ids; otherwise nothing is written and
	// the error matches model.ErrEntrySetChanged.
	ReplaceVault(ctx context.Context, rec *model.MasterKeyRecord, entries []*model.VaultEntry) error
}

// ShareMutation mutates a share inside a store transaction and returns the
// audit event to commit with it. Returning an error rolls back both.
type ShareMutation func(rec *model.ShareRecord) (*model.AuditEvent, error)

// ShareStore persists share records together with their audit rows.
type ShareStore interface {
	// InsertShare stores rec and ev atomically.
	InsertShare(ctx context.Context, rec *model.ShareRecord, ev *model.AuditEvent) error
	GetShare(ctx context.Context, id string) (*model.ShareRecord, error)
	ListSharesByEntry(ctx context.Context, entryID string) ([]*model.ShareRecord, error)
	// UpdateShare runs fn on the current record under the store's write
	// lock and commits the mutated record and returned event atomically.
	UpdateShare(ctx context.Context, id string, fn ShareMutation) error
}

// AuditStore is the append-only audit trail. Appending links the event
// into the hash chain.
type AuditStore interface {
	AppendAudit(ctx context.Context, ev *model.AuditEvent) error
	// ListAudit returns a share's events in sequence order; an empty
	// shareID returns the whole chain.
	ListAudit(ctx context.Context, shareID string) ([]*model.AuditEvent, error)
}

// AccessRequestStore persists access requests.
type AccessRequestStore interface {
	InsertAccessRequest(ctx context.Context, req *model.AccessRequest) error
	GetAccessRequest(ctx context.Context, id string) (*model.AccessRequest, error)
	// FindPendingAccessRequest returns model.ErrNotFound when the requester
	// has no pending request for the share.
	FindPendingAccessRequest(ctx context.Context, shareID, requester string) (*model.AccessRequest, error)
	UpdateAccessRequest(ctx context.Context, id string, fn func(*model.AccessRequest) error) error
	ListAccessRequests(ctx context.Context, shareID string) ([]*model.AccessRequest, error)
}

// EmergencyStore persists emergency contacts and their requests.
type EmergencyStore interface {
	InsertContact(ctx context.Context, c *model.EmergencyContact) error
	GetContact(ctx context.Context, id string) (*model.EmergencyContact, error)
	UpdateContact(ctx context.Context, id string, fn func(*model.EmergencyContact) error) error
	ListContacts(ctx context.Context, owner string) ([]*model.EmergencyContact, error)

	InsertEmergencyRequest(ctx context.Context, r *model.EmergencyAccessRequest) error
	GetEmergencyRequest(ctx context.Context, id string) (*model.EmergencyAccessRequest, error)
	UpdateEmergencyRequest(ctx context.Context, id string, fn func(*model.EmergencyAccessRequest) error) error
	// ListEmergencyRequests returns a contact's requests, newest first.
	ListEmergencyRequests(ctx context.Context, contactID string) ([]*model.EmergencyAccessRequest, error)
}

// Store is everything a backend provides.
type Store interface {
	VaultStore
	ShareStore
	AuditStore
	AccessRequestStore
	EmergencyStore
	Close() error
}
