package db

import (
	"net/url"
	"testing"
	"time"
)

var testTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

// setupTestStore returns a Store backed by a per-test in-memory database.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	// The test name is escaped so it cannot be read as DSN query parameters.
	d, err := OpenMemory(url.PathEscape(t.Name()))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return NewStore(d)
}
