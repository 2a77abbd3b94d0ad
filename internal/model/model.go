// Package model holds the persisted record shapes shared by the vault,
// sharing and emergency components and their stores.
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidState reports an operation not allowed from the record's
	// current status.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrEntrySetChanged reports a vault replacement whose entry ids no
	// longer match the stored ones.
	ErrEntrySetChanged = errors.New("stored entry set changed")
)

// NewID returns a fresh opaque record identifier.
func NewID() string {
	return uuid.NewString()
}

// MasterKeyRecord is the single per-vault passphrase verifier. It never
// holds the key itself and is replaced wholesale on rotation.
type MasterKeyRecord struct {
	Salt          []byte    `json:"salt"`
	Verifier      []byte    `json:"verifier"`
	KDFIterations int       `json:"kdfIterations"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SealedField is one independently encrypted secret field.
type SealedField struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// VaultEntry is the persisted form of a credential. Metadata is stored in
// the clear; every secret field is sealed.
type VaultEntry struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	Username     string                 `json:"username"`
	URL          string                 `json:"url"`
	Folder       string                 `json:"folder"`
	Tags         []string               `json:"tags"`
	SecretFields map[string]SealedField `json:"secretFields"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// Entry is the transient plaintext form of a VaultEntry.
type Entry struct {
	ID        string            `json:"id" cbor:"1,keyasint"`
	Title     string            `json:"title" cbor:"2,keyasint"`
	Username  string            `json:"username" cbor:"3,keyasint"`
	URL       string            `json:"url" cbor:"4,keyasint"`
	Folder    string            `json:"folder" cbor:"5,keyasint"`
	Tags      []string          `json:"tags" cbor:"6,keyasint"`
	Secrets   map[string]string `json:"secrets" cbor:"7,keyasint"`
	CreatedAt time.Time         `json:"createdAt" cbor:"8,keyasint"`
	UpdatedAt time.Time         `json:"updatedAt" cbor:"9,keyasint"`
}

// Permissions granted to a share recipient.
type Permissions struct {
	View bool `json:"view" cbor:"1,keyasint"`
	Edit bool `json:"edit" cbor:"2,keyasint"`
}

// ShareRecord is a hybrid-encrypted copy of one entry addressed to one
// recipient. Only UseCount and the revocation fields ever change.
type ShareRecord struct {
	ID            string      `json:"id"`
	EntryID       string      `json:"entryId"`
	FromPrincipal string      `json:"fromPrincipal"`
	ToPrincipal   string      `json:"toPrincipal"`
	WrapScheme    string      `json:"wrapScheme"`
	WrappedKey    []byte      `json:"wrappedKey"`
	Ciphertext    []byte      `json:"ciphertext"`
	Nonce         []byte      `json:"nonce"`
	GateSalt      []byte      `json:"gateSalt,omitempty"`
	Permissions   Permissions `json:"permissions"`
	CreatedAt     time.Time   `json:"createdAt"`
	ExpiresAt     time.Time   `json:"expiresAt"`
	// MaxUses of zero means unlimited.
	MaxUses   int        `json:"maxUses"`
	UseCount  int        `json:"useCount"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// Expired reports whether the share is past its expiry at now.
func (s *ShareRecord) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Exhausted reports whether every allowed use has been consumed.
func (s *ShareRecord) Exhausted() bool {
	return s.MaxUses > 0 && s.UseCount >= s.MaxUses
}

// Gated reports whether the share needs a passphrase in addition to the
// recipient's private key.
func (s *ShareRecord) Gated() bool {
	return len(s.GateSalt) > 0
}

// RequestStatus is the state of an access request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// AccessRequest asks a share's owner to grant the same entry to another
// principal.
type AccessRequest struct {
	ID                 string        `json:"id"`
	ShareID            string        `json:"shareId"`
	Requester          string        `json:"requester"`
	RequesterPublicKey []byte        `json:"requesterPublicKey"`
	Message            string        `json:"message"`
	Status             RequestStatus `json:"status"`
	ResponseMessage    string        `json:"responseMessage,omitempty"`
	GrantedShareID     string        `json:"grantedShareId,omitempty"`
	RequestedAt        time.Time     `json:"requestedAt"`
	RespondedAt        *time.Time    `json:"respondedAt,omitempty"`
}

// ContactStatus is the state of an emergency contact.
type ContactStatus string

const (
	ContactPending  ContactStatus = "pending"
	ContactAccepted ContactStatus = "accepted"
	ContactRevoked  ContactStatus = "revoked"
)

// EmergencyContact is a principal the owner has designated for delayed
// whole-vault access.
type EmergencyContact struct {
	ID               string        `json:"id"`
	Owner            string        `json:"owner"`
	Contact          string        `json:"contact"`
	ContactPublicKey []byte        `json:"contactPublicKey"`
	Status           ContactStatus `json:"status"`
	WaitTimeDays     int           `json:"waitTimeDays"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// WaitTime is the delay between approval and release.
func (c *EmergencyContact) WaitTime() time.Duration {
	return time.Duration(c.WaitTimeDays) * 24 * time.Hour
}

// EmergencyStatus is the state of an emergency access request.
type EmergencyStatus string

const (
	EmergencyPending  EmergencyStatus = "pending"
	EmergencyApproved EmergencyStatus = "approved"
	EmergencyDenied   EmergencyStatus = "denied"
	EmergencyExpired  EmergencyStatus = "expired"
)

// EmergencyAccessRequest is one activation of an emergency contact.
type EmergencyAccessRequest struct {
	ID              string          `json:"id"`
	ContactID       string          `json:"contactId"`
	Requester       string          `json:"requester"`
	Status          EmergencyStatus `json:"status"`
	RequestedAt     time.Time       `json:"requestedAt"`
	GrantedAt       *time.Time      `json:"grantedAt,omitempty"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	WrapScheme      string          `json:"wrapScheme,omitempty"`
	WrappedVaultKey []byte          `json:"wrappedVaultKey,omitempty"`
}

// AuditAction names what happened to a share.
type AuditAction string

const (
	AuditCreated            AuditAction = "created"
	AuditViewed             AuditAction = "viewed"
	AuditRevoked            AuditAction = "revoked"
	AuditExpired            AuditAction = "expired"
	AuditUnauthorizedAccess AuditAction = "unauthorized_access"
)

// AuditEvent is one append-only, hash-chained audit row.
type AuditEvent struct {
	Seq      int64       `json:"seq"`
	ShareID  string      `json:"shareId"`
	Action   AuditAction `json:"action"`
	Actor    string      `json:"actor"`
	Detail   string      `json:"detail,omitempty"`
	At       time.Time   `json:"at"`
	PrevHash []byte      `json:"prevHash"`
	Hash     []byte      `json:"hash"`
}
