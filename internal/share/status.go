package share

import (
	"context"
	"time"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

// Status summarises whether a share can still be consumed.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusExhausted Status = "exhausted"
	StatusRevoked   Status = "revoked"
)

// StatusAt evaluates rec at now using the same precedence as Consume.
func StatusAt(rec *model.ShareRecord, now time.Time) Status {
	switch {
	case rec.Revoked:
		return StatusRevoked
	case rec.Expired(now):
		return StatusExpired
	case rec.Exhausted():
		return StatusExhausted
	default:
		return StatusActive
	}
}

// Status loads a share and evaluates it at the current time.
func (s *Service) Status(ctx context.Context, shareID string) (Status, error) {
	rec, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		return "", err
	}
	return StatusAt(rec, s.clock.Now()), nil
}

// Remaining reports how many uses are left, or -1 when unlimited.
func Remaining(rec *model.ShareRecord) int {
	if rec.MaxUses == 0 {
		return -1
	}
	return max(rec.MaxUses-rec.UseCount, 0)
}
