package vault

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

// AddEntry seals e and stores it. An empty ID is assigned a new one.
// The write completes under the key it was sealed with; a rotation waits
// for it.
func (c *Cipher) AddEntry(ctx context.Context, e *model.Entry) (string, error) {
	if strings.TrimSpace(e.Title) == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidEntry)
	}
	if e.ID == "" {
		e.ID = model.NewID()
	}
	now := c.clock.Now()
	e.CreatedAt, e.UpdatedAt = now, now

	var fields int
	err := c.withKey(func(key []byte) error {
		sealed, err := sealEntry(key, e)
		if err != nil {
			return err
		}
		if err := c.store.PutEntry(ctx, sealed); err != nil {
			return fmt.Errorf("store entry: %w", err)
		}
		fields = len(sealed.SecretFields)
		return nil
	})
	if err != nil {
		return "", err
	}
	c.log.Info("entry added", "entry_id", e.ID, "fields", fields)
	return e.ID, nil
}

// GetEntry loads and decrypts one entry. A partially decrypted entry is
// returned alongside a field error, as with DecryptEntry.
func (c *Cipher) GetEntry(ctx context.Context, id string) (*model.Entry, error) {
	var (
		out     *model.Entry
		openErr error
	)
	err := c.withKey(func(key []byte) error {
		sealed, err := c.store.GetEntry(ctx, id)
		if err != nil {
			return fmt.Errorf("load entry %s: %w", id, err)
		}
		out, openErr = openEntry(key, sealed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, openErr
}

// UpdateEntry replaces an existing entry, keeping its creation time.
func (c *Cipher) UpdateEntry(ctx context.Context, e *model.Entry) error {
	now := c.clock.Now()
	return c.withKey(func(key []byte) error {
		current, err := c.store.GetEntry(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("load entry %s: %w", e.ID, err)
		}
		e.CreatedAt = current.CreatedAt
		e.UpdatedAt = now

		sealed, err := sealEntry(key, e)
		if err != nil {
			return err
		}
		if err := c.store.PutEntry(ctx, sealed); err != nil {
			return fmt.Errorf("store entry: %w", err)
		}
		return nil
	})
}

// DeleteEntry removes an entry.
func (c *Cipher) DeleteEntry(ctx context.Context, id string) error {
	return c.withKey(func([]byte) error {
		if err := c.store.DeleteEntry(ctx, id); err != nil {
			return fmt.Errorf("delete entry %s: %w", id, err)
		}
		return nil
	})
}

// ListEntries returns entry metadata ordered by title. Secrets are not
// decrypted.
func (c *Cipher) ListEntries(ctx context.Context) ([]*model.Entry, error) {
	if !c.IsUnlocked() {
		return nil, ErrLocked
	}
	sealed, err := c.store.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out := make([]*model.Entry, 0, len(sealed))
	for _, v := range sealed {
		out = append(out, &model.Entry{
			ID:        v.ID,
			Title:     v.Title,
			Username:  v.Username,
			URL:       v.URL,
			Folder:    v.Folder,
			Tags:      slices.Clone(v.Tags),
			CreatedAt: v.CreatedAt,
			UpdatedAt: v.UpdatedAt,
		})
	}
	slices.SortFunc(out, func(a, b *model.Entry) int {
		if n := strings.Compare(a.Title, b.Title); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}
