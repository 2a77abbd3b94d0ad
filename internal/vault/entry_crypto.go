package vault

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

const fieldAADPrefix = "vaultcore/entry-field/v1"

// fieldAAD binds a sealed field to its entry id and field name so that
// ciphertexts cannot be swapped between fields or entries.
func fieldAAD(entryID, field string) []byte {
	aad := make([]byte, 0, len(fieldAADPrefix)+8+len(entryID)+len(field))
	aad = append(aad, fieldAADPrefix...)
	aad = binary.BigEndian.AppendUint32(aad, uint32(len(entryID)))
	aad = append(aad, entryID...)
	aad = binary.BigEndian.AppendUint32(aad, uint32(len(field)))
	aad = append(aad, field...)
	return aad
}

// sealEntry encrypts every secret field of e under key.
//
// Each field gets its own fresh nonce from krypto.EncryptAESGCM. Metadata
// is copied as-is.
func sealEntry(key []byte, e *model.Entry) (*model.VaultEntry, error) {
	if e == nil || e.ID == "" {
		return nil, fmt.Errorf("%w: entry id is required", ErrInvalidEntry)
	}
	sealed := &model.VaultEntry{
		ID:           e.ID,
		Title:        e.Title,
		Username:     e.Username,
		URL:          e.URL,
		Folder:       e.Folder,
		Tags:         slices.Clone(e.Tags),
		SecretFields: make(map[string]model.SealedField, len(e.Secrets)),
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	for _, name := range slices.Sorted(maps.Keys(e.Secrets)) {
		if name == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrInvalidEntry)
		}
		nonce, ct, err := krypto.EncryptAESGCM(key, []byte(e.Secrets[name]), fieldAAD(e.ID, name))
		if err != nil {
			return nil, fmt.Errorf("encrypt field %q: %w", name, err)
		}
		sealed.SecretFields[name] = model.SealedField{Ciphertext: ct, Nonce: nonce}
	}
	return sealed, nil
}

// FieldError reports one secret field that failed to open.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("field %q: %v", e.Field, e.Err) }
func (e *FieldError) Unwrap() error { return e.Err }

// openEntry decrypts every sealed field of v. Fields that fail
// authentication are left out of the result and reported together in the
// returned error, one FieldError per field, each matching
// krypto.ErrAuthentication.
func openEntry(key []byte, v *model.VaultEntry) (*model.Entry, error) {
	e := &model.Entry{
		ID:        v.ID,
		Title:     v.Title,
		Username:  v.Username,
		URL:       v.URL,
		Folder:    v.Folder,
		Tags:      slices.Clone(v.Tags),
		Secrets:   make(map[string]string, len(v.SecretFields)),
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(v.SecretFields)) {
		f := v.SecretFields[name]
		if len(f.Nonce) != krypto.NonceSize {
			errs = append(errs, &FieldError{Field: name, Err: fmt.Errorf("%w: nonce is %d bytes", krypto.ErrAuthentication, len(f.Nonce))})
			continue
		}
		pt, err := krypto.DecryptAESGCM(key, f.Nonce, f.Ciphertext, fieldAAD(v.ID, name))
		if err != nil {
			errs = append(errs, &FieldError{Field: name, Err: err})
			continue
		}
		e.Secrets[name] = string(pt)
		zeroize(pt)
	}
	return e, errors.Join(errs...)
}

// FailedFields lists the field names reported by a DecryptEntry error.
func FailedFields(err error) []string {
	var out []string
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			var fe *FieldError
			if errors.As(e, &fe) {
				out = append(out, fe.Field)
			}
		}
		return out
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		out = append(out, fe.Field)
	}
	return out
}

func zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
