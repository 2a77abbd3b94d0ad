package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

const snapshotVersion = 1

// snapshot is the whole persisted state. Secrets inside it are already
// sealed by the vault and share components.
type snapshot struct {
	Version           int                                      `json:"version"`
	Master            *model.MasterKeyRecord                   `json:"master,omitempty"`
	Entries           map[string]*model.VaultEntry             `json:"entries"`
	Shares            map[string]*model.ShareRecord            `json:"shares"`
	Audit             []*model.AuditEvent                      `json:"audit"`
	AccessRequests    map[string]*model.AccessRequest          `json:"accessRequests"`
	Contacts          map[string]*model.EmergencyContact       `json:"contacts"`
	EmergencyRequests map[string]*model.EmergencyAccessRequest `json:"emergencyRequests"`
}

func newSnapshot() *snapshot {
	s := &snapshot{Version: snapshotVersion}
	s.init()
	return s
}

func (s *snapshot) init() {
	if s.Entries == nil {
		s.Entries = map[string]*model.VaultEntry{}
	}
	if s.Shares == nil {
		s.Shares = map[string]*model.ShareRecord{}
	}
	if s.AccessRequests == nil {
		s.AccessRequests = map[string]*model.AccessRequest{}
	}
	if s.Contacts == nil {
		s.Contacts = map[string]*model.EmergencyContact{}
	}
	if s.EmergencyRequests == nil {
		s.EmergencyRequests = map[string]*model.EmergencyAccessRequest{}
	}
}

func (s *snapshot) clone() (*snapshot, error) {
	out, err := cloneJSON(s)
	if err != nil {
		return nil, err
	}
	out.init()
	return out, nil
}

func (s *snapshot) lastAudit() *model.AuditEvent {
	if len(s.Audit) == 0 {
		return nil
	}
	return s.Audit[len(s.Audit)-1]
}

// loadSnapshot reads the snapshot file. A missing file is an empty vault.
func loadSnapshot(p Paths) (*snapshot, error) {
	data, err := os.ReadFile(p.SnapshotPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newSnapshot(), nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	s.init()
	return &s, nil
}

func saveSnapshot(p Paths, s *snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return p.writeFileAtomic(data)
}

// cloneJSON deep-copies v so callers never alias stored records.
func cloneJSON[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	return &out, nil
}
