package heap

import (
	"unsafe"

	"github.com/orizon-lang/rtheap/internal/port"
)

// CoalescingHeap implements SCHEME-ADDRESS-COALESCING: a free list kept
// sorted by region address ascending, first-fit allocation, and
// coalescing of address-adjacent free neighbors on Free. Its END sentinel
// is a real header placed at the top of the aligned heap (spec section
// 4.1 step 5), unlike SCHEME-SIZE-ORDERED's purely-comparative END; see
// DESIGN.md Open Question OQ-2.
type CoalescingHeap struct {
	cfg  *port.Config
	crit *port.CriticalSection
	buf  []byte

	base         uintptr
	totalAligned uintptr
	endOffset    uintptr

	startNext uintptr // offset of first free region, or endOffset when the list is empty

	freeBytes   uintptr
	minEverFree uintptr
	allocCount  uint64
	freeCount   uint64
}

var _ Heap = (*CoalescingHeap)(nil)

// NewCoalescingHeap builds a SCHEME-ADDRESS-COALESCING heap over backing
// and runs INIT (spec section 4.1 step 5) eagerly.
func NewCoalescingHeap(backing []byte, opts ...port.Option) (*CoalescingHeap, error) {
	cfg, err := port.NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	base, totalAligned, err := alignedBase(backing, cfg.Alignment)
	if err != nil {
		return nil, err
	}

	headerAligned := HeaderSizeAligned(cfg.Alignment)

	endAddr := base + totalAligned - headerAligned
	endAddr -= endAddr % cfg.Alignment
	endOffset := endAddr

	if endOffset <= base {
		return nil, ErrHeapTooSmall
	}

	h := &CoalescingHeap{
		cfg:          cfg,
		crit:         port.NewCriticalSection(),
		buf:          backing,
		base:         base,
		totalAligned: totalAligned,
		endOffset:    endOffset,
		startNext:    base,
	}

	end := headerAt(h.buf, endOffset)
	end.setSize(0)
	end.setAllocated(false)
	end.nextFree = nilRef

	initial := headerAt(h.buf, base)
	initial.setSize(endOffset - base)
	initial.setAllocated(false)
	initial.nextFree = endOffset

	h.freeBytes = initial.size()
	h.minEverFree = h.freeBytes

	return h, nil
}

// Allocate implements spec section 4.2 for SCHEME-ADDRESS-COALESCING:
// first-fit from START.next_free in address order.
func (h *CoalescingHeap) Allocate(requested uintptr) unsafe.Pointer {
	need := normalizeRequest(requested, h.cfg.Alignment)
	if need == 0 {
		runOutOfMemoryHook(h.cfg)
		return nil
	}

	h.crit.Enter()

	if need > h.freeBytes {
		h.crit.Leave()
		runOutOfMemoryHook(h.cfg)

		return nil
	}

	prevOffset := nilRef
	cursor := h.startNext

	for cursor != h.endOffset {
		cursorHdr := headerAt(h.buf, cursor)
		if cursorHdr.size() >= need {
			break
		}

		prevOffset = cursor
		cursor = cursorHdr.nextFree
	}

	if cursor == h.endOffset {
		h.crit.Leave()
		runOutOfMemoryHook(h.cfg)

		return nil
	}

	region := headerAt(h.buf, cursor)

	if prevOffset == nilRef {
		h.startNext = region.nextFree
	} else {
		headerAt(h.buf, prevOffset).nextFree = region.nextFree
	}

	regionSize := region.size()
	minBlock := MinBlock(h.cfg.Alignment)

	if regionSize-need >= minBlock {
		newOffset := cursor + need
		newRegion := headerAt(h.buf, newOffset)
		newRegion.setSize(regionSize - need)
		newRegion.setAllocated(false)
		newRegion.nextFree = nilRef

		insertAddressOrdered(h.buf, &h.startNext, newOffset, h.endOffset)

		region.setSize(need)
	}

	region.setAllocated(true)
	region.nextFree = nilRef

	h.freeBytes -= region.size()
	if h.freeBytes < h.minEverFree {
		h.minEverFree = h.freeBytes
	}

	h.allocCount++

	h.crit.Leave()

	ptr := unsafe.Pointer(&h.buf[cursor+HeaderSizeAligned(h.cfg.Alignment)])
	traceMalloc(h.cfg, ptr, region.size())

	return ptr
}

// Free implements spec section 4.4, coalescing with address-adjacent free
// neighbors via insertAddressOrdered.
func (h *CoalescingHeap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	offset := payloadToHeaderOffset(h.buf, ptr, h.cfg.Alignment)
	hdr := headerAt(h.buf, offset)

	if !hdr.isAllocated() || hdr.hasNextFree() {
		panic("heap: Free called on a corrupted or already-free header")
	}

	hdr.setAllocated(false)

	size := hdr.size()
	if h.cfg.ClearMemoryOnFree {
		zero(ptr, size-HeaderSizeAligned(h.cfg.Alignment))
	}

	h.crit.Enter()

	h.freeBytes += size
	insertAddressOrdered(h.buf, &h.startNext, offset, h.endOffset)
	h.freeCount++

	h.crit.Leave()

	traceFree(h.cfg, ptr, size)
}

// FreeHeapSize returns free_bytes.
func (h *CoalescingHeap) FreeHeapSize() uintptr {
	h.crit.Enter()
	defer h.crit.Leave()

	return h.freeBytes
}

// InitializeBlocks is a documented no-op for this scheme, present only
// for API parity with SCHEME-BUMP, per spec section 6.
func (h *CoalescingHeap) InitializeBlocks() {}

// MinEverFreeHeapSize returns the watermark-minimum free byte count ever
// observed, per spec section 4.5.
func (h *CoalescingHeap) MinEverFreeHeapSize() uintptr {
	h.crit.Enter()
	defer h.crit.Leave()

	return h.minEverFree
}

// Calloc allocates space for n elements of size bytes each, rejecting the
// request on multiplication overflow, and zeroes the payload.
func (h *CoalescingHeap) Calloc(n, size uintptr) unsafe.Pointer {
	total, ok := checkedMul(n, size)
	if !ok {
		runOutOfMemoryHook(h.cfg)
		return nil
	}

	ptr := h.Allocate(total)
	if ptr != nil {
		zero(ptr, total)
	}

	return ptr
}

// GetHeapStats walks the free list under the critical section to compute
// the size summaries, per spec section 4.5.
func (h *CoalescingHeap) GetHeapStats() HeapStats {
	h.crit.Enter()
	defer h.crit.Leave()

	stats := HeapStats{
		AvailableHeapSpaceBytes:       h.freeBytes,
		NumberOfSuccessfulAllocations: h.allocCount,
		NumberOfSuccessfulFrees:       h.freeCount,
		MinimumEverFreeBytesRemaining: h.minEverFree,
	}

	stats.LargestFreeBlockBytes, stats.SmallestFreeBlockBytes, stats.NumberOfFreeBlocks =
		freeListStats(h.buf, h.startNext, h.endOffset)

	return stats
}
