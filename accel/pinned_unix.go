//go:build !windows

package accel

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocPinned maps an anonymous, page-locked region via mmap+mlock, the
// same pair of syscalls hanwen/go-fuse's cache-control tests use to force
// file-backed pages resident before comparing them. A page-locked address
// is exactly what CreateHostPinnedBuffer promises: memory the OS will not
// swap out while a DMA-style transfer targets it.
func allocPinned(bytes int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, bytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("mlock: %w", err)
	}
	return data, nil
}

func freePinned(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_ = unix.Munlock(data)
	return unix.Munmap(data)
}

// Pin locks an already-allocated buffer into RAM in place, for callers
// (mapped-region access) that supply their own buffer rather than going
// through CreateHostPinnedBuffer.
func Pin(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Mlock(data); err != nil {
		return newError(StatusPinFailed, "Pin", err)
	}
	return nil
}

// Unpin releases a buffer locked with Pin.
func Unpin(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munlock(data); err != nil {
		return newError(StatusPinFailed, "Unpin", err)
	}
	return nil
}
