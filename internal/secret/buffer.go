// Package secret holds key material in buffers that are zeroed on release.
//
// On Linux the backing memory is an anonymous mmap region outside the Go
// heap, locked against swap where RLIMIT_MEMLOCK allows it and excluded
// from core dumps. Elsewhere it falls back to a heap slice that is still
// overwritten on Close.
package secret

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when a closed buffer is read.
var ErrClosed = errors.New("secret: buffer closed")

// Buffer owns a fixed-size region of sensitive bytes. It must not be
// copied after creation. Close is idempotent and always overwrites the
// contents before the memory is released.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
	closed bool
}

// New allocates a zeroed buffer of size bytes.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}
	data, locked, err := allocate(size)
	if err != nil {
		return nil, err
	}
	return &Buffer{data: data, locked: locked}, nil
}

// NewFromBytes copies source into a new buffer and wipes source.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, errors.New("secret: cannot create buffer from empty source")
	}
	b, err := New(len(source))
	if err != nil {
		Wipe(source)
		return nil, err
	}
	copy(b.data, source)
	Wipe(source)
	return b, nil
}

// Bytes returns the protected bytes. The slice aliases the buffer and is
// invalid after Close.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.data, nil
}

// Clone returns a new buffer holding a copy of the contents.
func (b *Buffer) Clone() (*Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	out, err := New(len(b.data))
	if err != nil {
		return nil, err
	}
	copy(out.data, b.data)
	return out, nil
}

// Len reports the buffer size, or zero once closed.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	return len(b.data)
}

// Locked reports whether the memory is pinned against swap.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Close wipes and releases the memory.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Wipe(b.data)
	err := release(b.data, b.locked)
	b.data = nil
	return err
}

// Wipe overwrites buf with zeros.
func Wipe(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// Use runs fn against a buffer holding a copy of source and releases it
// on every exit path. source is wiped.
func Use(source []byte, fn func(key []byte) error) error {
	b, err := NewFromBytes(source)
	if err != nil {
		return err
	}
	defer b.Close()
	key, err := b.Bytes()
	if err != nil {
		return err
	}
	return fn(key)
}
