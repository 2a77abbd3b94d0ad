// Package audit links share audit events into a tamper-evident hash chain.
//
// Each event's hash covers its sequence number, share id, action, actor,
// detail, timestamp and the previous event's hash, so editing or dropping
// any stored row breaks every later link.
package audit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

// HashSize is the length of a chain link.
const HashSize = 32

// ErrChainBroken reports a stored event whose hash does not match its
// contents or predecessor.
var ErrChainBroken = errors.New("audit chain broken")

// Genesis is the PrevHash of the first event.
var Genesis = make([]byte, HashSize)

// Link fills ev.Seq, ev.PrevHash and ev.Hash so that ev follows prev. A nil
// prev starts the chain.
func Link(prev *model.AuditEvent, ev *model.AuditEvent) {
	if prev == nil {
		ev.Seq = 1
		ev.PrevHash = append([]byte(nil), Genesis...)
	} else {
		ev.Seq = prev.Seq + 1
		ev.PrevHash = append([]byte(nil), prev.Hash...)
	}
	ev.Hash = Hash(ev)
}

// Hash computes the link hash of ev from its contents and PrevHash.
func Hash(ev *model.AuditEvent) []byte {
	h := blake3.New()
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(ev.Seq))
	h.Write(n[:])
	writeField(h, ev.ShareID)
	writeField(h, string(ev.Action))
	writeField(h, ev.Actor)
	writeField(h, ev.Detail)
	writeField(h, ev.At.UTC().Format(time.RFC3339Nano))
	h.Write(ev.PrevHash)
	return h.Sum(nil)
}

func writeField(h *blake3.Hasher, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// Verify checks a full chain in sequence order.
func Verify(events []*model.AuditEvent) error {
	prev := Genesis
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			return fmt.Errorf("%w: event %d has sequence %d", ErrChainBroken, i+1, ev.Seq)
		}
		if !bytes.Equal(ev.PrevHash, prev) {
			return fmt.Errorf("%w: event %d does not follow its predecessor", ErrChainBroken, ev.Seq)
		}
		if !bytes.Equal(Hash(ev), ev.Hash) {
			return fmt.Errorf("%w: event %d hash mismatch", ErrChainBroken, ev.Seq)
		}
		prev = ev.Hash
	}
	return nil
}
