//go:build unix

package main

import "github.com/orizon-lang/rtheap/internal/port"

func newMmapBackingStore(size int) ([]byte, func() error, error) {
	return port.NewMmapBackingStore(size)
}
