package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const snapshotFilename = "vault.json"

// Paths locates vault artifacts on disk.
type Paths struct {
	Dir string
}

// SnapshotPath resolves the snapshot JSON path.
func (p Paths) SnapshotPath() string {
	return filepath.Join(p.Dir, snapshotFilename)
}

func (p Paths) ensureDir() error {
	if p.Dir == "" {
		return errors.New("vault directory not specified")
	}
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}
	return nil
}

// writeFileAtomic replaces the snapshot with data via a temp file and
// rename, so readers only ever see a complete snapshot.
func (p Paths) writeFileAtomic(data []byte) error {
	if err := p.ensureDir(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(p.Dir, "vault-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp snapshot: %w", err)
	}

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, p.SnapshotPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}
