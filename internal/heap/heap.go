// Package heap implements the three interoperable allocator schemes —
// SCHEME-BUMP, SCHEME-SIZE-ORDERED and SCHEME-ADDRESS-COALESCING — that
// hand out variable-size byte regions from a single fixed-size backing
// array. All three share the data-model primitives of header.go and the
// external surface described by the Heap interface; they differ only in
// free-list organization and release policy, per the specification.
package heap

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/orizon-lang/rtheap/internal/arith"
	"github.com/orizon-lang/rtheap/internal/port"
)

// ErrHeapTooSmall is returned by the heap constructors when the backing
// buffer, after alignment, cannot hold even one MIN_BLOCK region.
var ErrHeapTooSmall = errors.New("heap: aligned backing buffer too small for one block")

// Heap is the surface common to all three schemes: allocate, free, and
// report the current free byte total. SCHEME-BUMP satisfies Free by
// panicking on any non-nil pointer, per spec section 4.4.
type Heap interface {
	// Allocate returns an aligned payload pointer drawn from the free
	// pool, or nil if the request cannot be satisfied.
	Allocate(requested uintptr) unsafe.Pointer

	// Free releases a pointer previously returned by Allocate. Passing
	// nil is always a no-op.
	Free(ptr unsafe.Pointer)

	// FreeHeapSize returns the current count of free bytes.
	FreeHeapSize() uintptr

	// InitializeBlocks resets allocator-specific bookkeeping; for
	// SCHEME-BUMP it rewinds the bump cursor to zero, for the other two
	// schemes it is a documented no-op kept only for linker/API
	// compatibility with SCHEME-BUMP, per spec section 6.
	InitializeBlocks()
}

// HeapStats is the aggregate counters of spec sections 4.5/6/11, field for
// field with the reference kernel's heap_4.c HeapStats_t.
type HeapStats struct {
	LargestFreeBlockBytes         uintptr
	SmallestFreeBlockBytes        uintptr
	NumberOfFreeBlocks            int
	AvailableHeapSpaceBytes       uintptr
	NumberOfSuccessfulAllocations uint64
	NumberOfSuccessfulFrees       uint64
	MinimumEverFreeBytesRemaining uintptr
}

// alignedBase computes base and N_total_aligned for INIT step 1-2: the
// smallest address within buf that is a multiple of alignment, and the
// usable length from there rounded down to alignment.
func alignedBase(buf []byte, alignment uintptr) (base, totalAligned uintptr, err error) {
	if !arith.IsPowerOfTwo(alignment) {
		return 0, 0, fmt.Errorf("heap: alignment %d is not a power of two", alignment)
	}

	if len(buf) == 0 {
		return 0, 0, ErrHeapTooSmall
	}

	rawStart := uintptr(unsafe.Pointer(&buf[0]))

	alignedStart, ok := arith.AlignUp(rawStart, alignment)
	if !ok {
		return 0, 0, errors.New("heap: backing buffer start address alignment overflowed")
	}

	base = alignedStart - rawStart
	if base > uintptr(len(buf)) {
		return 0, 0, ErrHeapTooSmall
	}

	usable := uintptr(len(buf)) - base
	totalAligned = arith.AlignDown(usable, alignment)

	if totalAligned < MinBlock(alignment)+HeaderSizeAligned(alignment) {
		return 0, 0, ErrHeapTooSmall
	}

	return base, totalAligned, nil
}

// normalizeRequest implements spec section 4.2 Step A: round the caller's
// request up to alignment, add the header, and check for overflow or a
// size that would alias the ALLOCATED flag. Returns need=0 when the
// request must be rejected.
func normalizeRequest(requested, alignment uintptr) (need uintptr) {
	if requested == 0 {
		return 0
	}

	adjusted, ok := arith.AlignUp(requested, alignment)
	if !ok {
		return 0
	}

	need, ok = arith.Add(adjusted, HeaderSizeAligned(alignment))
	if !ok {
		return 0
	}

	if arith.HasTopBit(need) {
		return 0
	}

	return need
}

// checkedMul implements the overflow-checked multiplication calloc needs
// for n*size, per spec section 6.
func checkedMul(n, size uintptr) (uintptr, bool) {
	return arith.Mul(n, size)
}

// zero clears n bytes of the payload starting at ptr, for
// HEAP_CLEAR_MEMORY_ON_FREE and for Calloc.
func zero(ptr unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}

	buf := unsafe.Slice((*byte)(ptr), n)
	for i := range buf {
		buf[i] = 0
	}
}

// runOutOfMemoryHook invokes the configured OOM callback outside the
// critical section, per spec section 4.2 Step D.
func runOutOfMemoryHook(cfg *port.Config) {
	if cfg.UseMallocFailedHook && cfg.Hooks.OnOutOfMemory != nil {
		cfg.Hooks.OnOutOfMemory()
	}
}

func traceMalloc(cfg *port.Config, ptr unsafe.Pointer, size uintptr) {
	if cfg.Hooks.OnMalloc != nil {
		cfg.Hooks.OnMalloc(uintptr(ptr), size)
	}
}

func traceFree(cfg *port.Config, ptr unsafe.Pointer, size uintptr) {
	if cfg.Hooks.OnFree != nil {
		cfg.Hooks.OnFree(uintptr(ptr), size)
	}
}
