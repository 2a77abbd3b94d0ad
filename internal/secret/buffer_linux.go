//go:build linux

package secret

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func allocate(size int) ([]byte, bool, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, false, fmt.Errorf("secret: mmap failed: %w", err)
	}

	// An exhausted RLIMIT_MEMLOCK leaves the region swappable but usable.
	locked := true
	if err := unix.Mlock(data); err != nil {
		if !errors.Is(err, unix.ENOMEM) && !errors.Is(err, unix.EPERM) {
			unix.Munmap(data)
			return nil, false, fmt.Errorf("secret: mlock failed: %w", err)
		}
		locked = false
	}

	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		if locked {
			unix.Munlock(data)
		}
		unix.Munmap(data)
		return nil, false, fmt.Errorf("secret: madvise(MADV_DONTDUMP) failed: %w", err)
	}
	return data, locked, nil
}

func release(data []byte, locked bool) error {
	var firstErr error
	if locked {
		if err := unix.Munlock(data); err != nil {
			firstErr = fmt.Errorf("secret: munlock failed: %w", err)
		}
	}
	if err := unix.Munmap(data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("secret: munmap failed: %w", err)
	}
	return firstErr
}
