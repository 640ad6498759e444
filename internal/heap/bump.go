package heap

import (
	"unsafe"

	"github.com/orizon-lang/rtheap/internal/arith"
	"github.com/orizon-lang/rtheap/internal/port"
)

// BumpHeap implements SCHEME-BUMP: no free list, a single monotone cursor
// into the backing buffer. Allocation is O(1); Free is unsupported (it
// only accepts nil) because individual regions are never reclaimed.
type BumpHeap struct {
	cfg  *port.Config
	crit *port.CriticalSection
	buf  []byte

	base         uintptr
	totalAligned uintptr
	nextFreeByte uintptr

	allocCount uint64
}

// NewBumpHeap builds a SCHEME-BUMP heap over backing, per spec section 4.1
// step 3. INIT runs in the constructor: it validates configuration,
// computes the aligned base, and starts the cursor at zero.
func NewBumpHeap(backing []byte, opts ...port.Option) (*BumpHeap, error) {
	cfg, err := port.NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	base, totalAligned, err := alignedBase(backing, cfg.Alignment)
	if err != nil {
		return nil, err
	}

	return &BumpHeap{
		cfg:          cfg,
		crit:         port.NewCriticalSection(),
		buf:          backing,
		base:         base,
		totalAligned: totalAligned,
	}, nil
}

var _ Heap = (*BumpHeap)(nil)

// Allocate implements spec section 4.2 for SCHEME-BUMP: align the
// request, then require the cursor plus the aligned size stays strictly
// within N_total_aligned, guarding against overflow of the addition
// itself.
func (b *BumpHeap) Allocate(requested uintptr) unsafe.Pointer {
	if requested == 0 {
		runOutOfMemoryHook(b.cfg)
		return nil
	}

	adjusted, ok := arith.AlignUp(requested, b.cfg.Alignment)
	if !ok {
		runOutOfMemoryHook(b.cfg)
		return nil
	}

	b.crit.Enter()

	next, addOK := arith.Add(b.nextFreeByte, adjusted)
	if !addOK || next >= b.totalAligned {
		b.crit.Leave()
		runOutOfMemoryHook(b.cfg)

		return nil
	}

	ptr := unsafe.Pointer(&b.buf[b.base+b.nextFreeByte])
	b.nextFreeByte = next
	b.allocCount++

	b.crit.Leave()

	traceMalloc(b.cfg, ptr, adjusted)

	return ptr
}

// Free asserts that ptr is nil: SCHEME-BUMP never returns memory to the
// pool, per spec section 4.4.
func (b *BumpHeap) Free(ptr unsafe.Pointer) {
	if ptr != nil {
		panic("heap: BumpHeap.Free called with a non-nil pointer (SCHEME-BUMP cannot free)")
	}
}

// FreeHeapSize returns N_total_aligned - next_free_byte.
func (b *BumpHeap) FreeHeapSize() uintptr {
	b.crit.Enter()
	defer b.crit.Leave()

	return b.totalAligned - b.nextFreeByte
}

// InitializeBlocks resets the bump cursor to zero, per spec section 6.
// Calling it twice with no intervening Allocate leaves state identical
// (property P8).
func (b *BumpHeap) InitializeBlocks() {
	b.crit.Enter()
	defer b.crit.Leave()

	b.nextFreeByte = 0
}

// AllocationCount returns the number of successful allocations so far.
func (b *BumpHeap) AllocationCount() uint64 {
	b.crit.Enter()
	defer b.crit.Leave()

	return b.allocCount
}
