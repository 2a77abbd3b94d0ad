package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/secret"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

// RotateMasterKey changes the master passphrase.
//
// Every entry is decrypted with the old key and re-encrypted with the new
// one in memory; the new record and entries are then committed through a
// single ReplaceVault call. The in-memory key is swapped only after that
// commit. Any failure returns an error matching ErrRotationAborted and
// leaves the stored vault as it was. Concurrent entry reads and writes
// wait for the rotation to finish.
//
// A wrong old passphrase is charged to the unlock limiter. A vault that
// was locked when the rotation started stays locked.
//
// Emergency grants wrap the master key itself, so grants made before a
// rotation no longer open entries afterwards.
func (c *Cipher) RotateMasterKey(ctx context.Context, oldPassphrase, newPassphrase []byte) error {
	if err := c.checkPolicy(ctx, newPassphrase); err != nil {
		return fmt.Errorf("%w: %w", ErrRotationAborted, err)
	}

	now := c.clock.Now()
	if c.limiter.TokensAt(now) < 1 {
		return fmt.Errorf("%w: %w", ErrRotationAborted, ErrUnlockThrottled)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.store.LoadMasterRecord(ctx)
	if err != nil {
		return fmt.Errorf("%w: load master record: %w", ErrRotationAborted, err)
	}
	oldKeys, err := c.verify(rec, oldPassphrase)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			c.limiter.AllowN(now, 1)
			c.log.Warn("rotation refused: wrong passphrase")
		}
		return fmt.Errorf("%w: %w", ErrRotationAborted, err)
	}
	defer oldKeys.Wipe()

	newKeys, err := krypto.DeriveMasterKeys(newPassphrase, nil, c.kdf)
	if err != nil {
		return fmt.Errorf("%w: derive new key: %w", ErrRotationAborted, err)
	}
	defer newKeys.Wipe()

	entries, err := c.store.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("%w: list entries: %w", ErrRotationAborted, err)
	}

	resealed := make([]*model.VaultEntry, 0, len(entries))
	for i, v := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrRotationAborted, err)
		}
		if c.beforeReencrypt != nil {
			if err := c.beforeReencrypt(i, v.ID); err != nil {
				return fmt.Errorf("%w: entry %s: %w", ErrRotationAborted, v.ID, err)
			}
		}
		plain, err := openEntry(oldKeys.Key, v)
		if err != nil {
			return fmt.Errorf("%w: decrypt entry %s: %w", ErrRotationAborted, v.ID, err)
		}
		sealed, err := sealEntry(newKeys.Key, plain)
		wipeSecrets(plain)
		if err != nil {
			return fmt.Errorf("%w: encrypt entry %s: %w", ErrRotationAborted, v.ID, err)
		}
		resealed = append(resealed, sealed)
	}

	newRec := &model.MasterKeyRecord{
		Salt:          newKeys.Salt,
		Verifier:      newKeys.Verifier,
		KDFIterations: c.kdf.Iterations,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     c.clock.Now(),
	}
	if err := c.store.ReplaceVault(ctx, newRec, resealed); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrRotationAborted, err)
	}
	if c.key == nil {
		c.log.Info("master key rotated", "entries", len(resealed), "unlocked", false)
		return nil
	}

	buf, err := secret.NewFromBytes(newKeys.Key)
	if err != nil {
		// The store already holds the new record; drop the stale key so
		// the next Unlock uses the new passphrase.
		c.lockLocked()
		return fmt.Errorf("hold rotated key: %w", err)
	}
	_ = c.key.Close()
	c.key = buf
	c.touch()
	c.log.Info("master key rotated", "entries", len(resealed), "unlocked", true)
	return nil
}

// wipeSecrets drops plaintext secret references from e.
func wipeSecrets(e *model.Entry) {
	for k := range e.Secrets {
		delete(e.Secrets, k)
	}
}
