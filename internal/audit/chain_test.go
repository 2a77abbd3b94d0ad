package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

func buildChain(n int) []*model.AuditEvent {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var events []*model.AuditEvent
	var prev *model.AuditEvent
	for i := 0; i < n; i++ {
		ev := &model.AuditEvent{
			ShareID: "share-1",
			Action:  model.AuditViewed,
			Actor:   "bob",
			At:      at.Add(time.Duration(i) * time.Minute),
		}
		Link(prev, ev)
		events = append(events, ev)
		prev = ev
	}
	return events
}

func TestLinkBuildsVerifiableChain(t *testing.T) {
	events := buildChain(4)
	require.NoError(t, Verify(events))
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, Genesis, events[0].PrevHash)
	assert.Equal(t, events[2].Hash, events[3].PrevHash)
	assert.Len(t, events[3].Hash, HashSize)
}

func TestVerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]*model.AuditEvent) []*model.AuditEvent
	}{
		{"edited actor", func(e []*model.AuditEvent) []*model.AuditEvent {
			e[1].Actor = "mallory"
			return e
		}},
		{"edited action", func(e []*model.AuditEvent) []*model.AuditEvent {
			e[2].Action = model.AuditCreated
			return e
		}},
		{"dropped row", func(e []*model.AuditEvent) []*model.AuditEvent {
			return append(e[:1], e[2:]...)
		}},
		{"reordered", func(e []*model.AuditEvent) []*model.AuditEvent {
			e[1], e[2] = e[2], e[1]
			return e
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.mutate(buildChain(4)))
			assert.ErrorIs(t, err, ErrChainBroken)
		})
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	assert.NoError(t, Verify(nil))
}
