// Package db is the SQLite backend for every persistence port.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "modernc.org/sqlite" // SQLite driver
)

// DB holds a single-connection writer and a small reader pool over the
// same SQLite file. All mutations go through Writer, which serialises
// them.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	path   string
}

const pragmas = "_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)&_pragma=foreign_keys(ON)"

// Open initialises the database at path, applies migrations and
// restricts the file and its WAL sidecars to their owner.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// SQLite creates the -wal and -shm files with the database file's mode.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create database file: %w", err)
	}
	f.Close()
	if err := EnsurePerm0600(path); err != nil {
		return nil, err
	}

	d, err := openDSN(fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&%s", path, pragmas))
	if err != nil {
		return nil, err
	}
	d.path = path

	if err := Migrate(d.Writer); err != nil {
		d.Close()
		return nil, err
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := EnsurePerm0600(p); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

// OpenMemory opens a named, shared in-memory database with migrations
// applied. Connections using the same name see the same data.
func OpenMemory(name string) (*DB, error) {
	d, err := openDSN(fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", name, pragmas))
	if err != nil {
		return nil, err
	}
	if err := Migrate(d.Writer); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func openDSN(dsn string) (*DB, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader}, nil
}

// Close releases both pools. Returns the first error encountered.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	var firstErr error
	if d.Reader != nil {
		if err := d.Reader.Close(); err != nil {
			firstErr = fmt.Errorf("close reader: %w", err)
		}
	}
	if d.Writer != nil {
		if err := d.Writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer: %w", err)
		}
	}
	return firstErr
}

// EnsurePerm0600 restricts a database file to its owner on Unix systems.
// A missing file is not an error.
func EnsurePerm0600(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chmod database: %w", err)
	}
	return nil
}
