//go:build !unix

package main

import "fmt"

func newMmapBackingStore(size int) ([]byte, func() error, error) {
	return nil, nil, fmt.Errorf("rtheap-bench: -mmap is only supported on unix platforms")
}
