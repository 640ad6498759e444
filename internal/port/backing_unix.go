//go:build unix

package port

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewMmapBackingStore allocates the UCHEAP array as an anonymous memory
// mapping instead of a Go-managed slice, for callers modelling a
// freestanding target where the backing storage should live outside the Go
// heap and garbage collector. The returned release function must be called
// exactly once, after the heap built on top of the returned slice is no
// longer in use, to unmap the region.
func NewMmapBackingStore(totalHeapSize int) (buf []byte, release func() error, err error) {
	if totalHeapSize <= 0 {
		return nil, nil, fmt.Errorf("port: total heap size must be positive, got %d", totalHeapSize)
	}

	buf, err = unix.Mmap(-1, 0, totalHeapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("port: mmap backing store: %w", err)
	}

	release = func() error {
		return unix.Munmap(buf)
	}

	return buf, release, nil
}
