package heap

import (
	"unsafe"

	"github.com/orizon-lang/rtheap/internal/port"
)

// SizeOrderedHeap implements SCHEME-SIZE-ORDERED: a free list kept sorted
// by region size ascending, giving a first-fit walk of that list the
// same result as best-fit by construction (the first region big enough is
// also the smallest sufficient one).
type SizeOrderedHeap struct {
	cfg  *port.Config
	crit *port.CriticalSection
	buf  []byte

	base         uintptr
	totalAligned uintptr

	startNext uintptr // offset of first free region, or nilRef

	freeBytes  uintptr
	allocCount uint64
	freeCount  uint64
}

var _ Heap = (*SizeOrderedHeap)(nil)

// NewSizeOrderedHeap builds a SCHEME-SIZE-ORDERED heap over backing and
// runs INIT (spec section 4.1 step 4) eagerly, establishing the initial
// single free region covering the usable range.
func NewSizeOrderedHeap(backing []byte, opts ...port.Option) (*SizeOrderedHeap, error) {
	cfg, err := port.NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	base, totalAligned, err := alignedBase(backing, cfg.Alignment)
	if err != nil {
		return nil, err
	}

	h := &SizeOrderedHeap{
		cfg:          cfg,
		crit:         port.NewCriticalSection(),
		buf:          backing,
		base:         base,
		totalAligned: totalAligned,
		startNext:    base,
	}

	initial := headerAt(h.buf, h.base)
	initial.setSize(totalAligned)
	initial.setAllocated(false)
	initial.nextFree = nilRef

	h.freeBytes = totalAligned

	return h, nil
}

// Allocate implements spec section 4.2 for SCHEME-SIZE-ORDERED.
func (h *SizeOrderedHeap) Allocate(requested uintptr) unsafe.Pointer {
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

	for cursor != nilRef {
		cursorHdr := headerAt(h.buf, cursor)
		if cursorHdr.size() >= need {
			break
		}

		prevOffset = cursor
		cursor = cursorHdr.nextFree
	}

	if cursor == nilRef {
		h.crit.Leave()
		runOutOfMemoryHook(h.cfg)

		return nil
	}

	region := headerAt(h.buf, cursor)

	// Unlink.
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

		insertSizeOrdered(h.buf, &h.startNext, newOffset)

		region.setSize(need)
	}

	region.setAllocated(true)
	region.nextFree = nilRef

	h.freeBytes -= region.size()
	h.allocCount++

	h.crit.Leave()

	ptr := unsafe.Pointer(&h.buf[cursor+HeaderSizeAligned(h.cfg.Alignment)])
	traceMalloc(h.cfg, ptr, region.size())

	return ptr
}

// Free implements spec section 4.4.
func (h *SizeOrderedHeap) Free(ptr unsafe.Pointer) {
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
	insertSizeOrdered(h.buf, &h.startNext, offset)
	h.freeCount++

	h.crit.Leave()

	traceFree(h.cfg, ptr, size)
}

// FreeHeapSize returns free_bytes.
func (h *SizeOrderedHeap) FreeHeapSize() uintptr {
	h.crit.Enter()
	defer h.crit.Leave()

	return h.freeBytes
}

// InitializeBlocks is a documented no-op for this scheme, present only
// for API parity with SCHEME-BUMP's InitializeBlocks, per spec section 6.
func (h *SizeOrderedHeap) InitializeBlocks() {}

// Calloc allocates space for n elements of size bytes each, rejecting the
// request on multiplication overflow, and zeroes the payload.
func (h *SizeOrderedHeap) Calloc(n, size uintptr) unsafe.Pointer {
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
func (h *SizeOrderedHeap) GetHeapStats() HeapStats {
	h.crit.Enter()
	defer h.crit.Leave()

	stats := HeapStats{
		AvailableHeapSpaceBytes:       h.freeBytes,
		NumberOfSuccessfulAllocations: h.allocCount,
		NumberOfSuccessfulFrees:       h.freeCount,
	}

	stats.LargestFreeBlockBytes, stats.SmallestFreeBlockBytes, stats.NumberOfFreeBlocks =
		freeListStats(h.buf, h.startNext, nilRef)

	return stats
}

// payloadToHeaderOffset recovers the header offset from a payload pointer
// returned by Allocate, per spec section 4.4 step 2.
func payloadToHeaderOffset(buf []byte, ptr unsafe.Pointer, alignment uintptr) uintptr {
	payloadAddr := uintptr(ptr)
	bufStart := uintptr(unsafe.Pointer(&buf[0]))

	return payloadAddr - bufStart - HeaderSizeAligned(alignment)
}
