package heap

import (
	"testing"
	"unsafe"

	"github.com/orizon-lang/rtheap/internal/port"
)

func newSizeOrderedHeapT(t *testing.T, size int, opts ...port.Option) *SizeOrderedHeap {
	t.Helper()

	buf := make([]byte, size)

	h, err := NewSizeOrderedHeap(buf, opts...)
	if err != nil {
		t.Fatalf("NewSizeOrderedHeap(%d) error = %v", size, err)
	}

	return h
}

func TestSizeOrderedInitialFreeHeapSize(t *testing.T) {
	h := newSizeOrderedHeapT(t, 4096)

	if got := h.FreeHeapSize(); got != h.totalAligned {
		t.Errorf("FreeHeapSize() = %d; want %d", got, h.totalAligned)
	}
}

func TestSizeOrderedAllocationsAreAligned(t *testing.T) {
	h := newSizeOrderedHeapT(t, 4096)

	for _, size := range []uintptr{1, 3, 7, 8, 9, 100, 257} {
		ptr := h.Allocate(size)
		if ptr == nil {
			t.Fatalf("Allocate(%d) returned nil", size)
		}

		if uintptr(ptr)%h.cfg.Alignment != 0 {
			t.Errorf("Allocate(%d) = %p, not aligned to %d", size, ptr, h.cfg.Alignment)
		}
	}
}

// TestSizeOrderedAllocateThenFreeReturnsAllSpace verifies P7: freeing
// everything that was allocated restores the original FreeHeapSize.
func TestSizeOrderedAllocateThenFreeReturnsAllSpace(t *testing.T) {
	h := newSizeOrderedHeapT(t, 4096)

	before := h.FreeHeapSize()

	ptrs := make([]unsafe.Pointer, 0, 8)
	for i := 0; i < 8; i++ {
		p := h.Allocate(uintptr(16 * (i + 1)))
		if p == nil {
			t.Fatalf("allocation %d failed", i)
		}

		ptrs = append(ptrs, p)
	}

	for _, p := range ptrs {
		h.Free(p)
	}

	if got := h.FreeHeapSize(); got != before {
		t.Errorf("FreeHeapSize() after free-all = %d; want %d", got, before)
	}
}

// TestSizeOrderedFreeListStaysSizeOrdered verifies P5: walking the free
// list from START.next_free yields non-decreasing sizes.
func TestSizeOrderedFreeListStaysSizeOrdered(t *testing.T) {
	h := newSizeOrderedHeapT(t, 8192)

	ptrs := make([]unsafe.Pointer, 0, 6)
	for _, sz := range []uintptr{400, 50, 900, 20, 300, 10} {
		p := h.Allocate(sz)
		if p == nil {
			t.Fatalf("Allocate(%d) failed", sz)
		}

		ptrs = append(ptrs, p)
	}

	// Free every other allocation, fragmenting the heap with various
	// sized free regions.
	for i := 0; i < len(ptrs); i += 2 {
		h.Free(ptrs[i])
	}

	var last uintptr

	cursor := h.startNext
	for cursor != nilRef {
		size := headerAt(h.buf, cursor).size()
		if size < last {
			t.Fatalf("free list not size-ordered: %d followed by %d", last, size)
		}

		last = size
		cursor = headerAt(h.buf, cursor).nextFree
	}
}

func TestSizeOrderedFreeDetectsDoubleFree(t *testing.T) {
	h := newSizeOrderedHeapT(t, 4096)

	ptr := h.Allocate(32)
	if ptr == nil {
		t.Fatalf("allocation failed")
	}

	h.Free(ptr)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected double Free to panic")
		}
	}()

	h.Free(ptr)
}

func TestSizeOrderedRejectsZeroSizeRequest(t *testing.T) {
	h := newSizeOrderedHeapT(t, 1024)

	if p := h.Allocate(0); p != nil {
		t.Fatalf("Allocate(0) should return nil")
	}
}

func TestSizeOrderedExhaustionReturnsNil(t *testing.T) {
	h := newSizeOrderedHeapT(t, 256)

	for i := 0; i < 1000; i++ {
		if h.Allocate(32) == nil {
			break
		}
	}

	if p := h.Allocate(h.totalAligned); p != nil {
		t.Fatalf("expected exhausted heap to reject an oversized request")
	}
}

func TestSizeOrderedCallocZeroesMemory(t *testing.T) {
	h := newSizeOrderedHeapT(t, 4096)

	ptr := h.Calloc(8, 4)
	if ptr == nil {
		t.Fatalf("Calloc failed")
	}

	bytes := unsafe.Slice((*byte)(ptr), 32)
	for i, b := range bytes {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, b)
		}
	}
}

func TestSizeOrderedCallocRejectsOverflow(t *testing.T) {
	h := newSizeOrderedHeapT(t, 4096)

	if p := h.Calloc(^uintptr(0), 2); p != nil {
		t.Fatalf("Calloc should reject multiplication overflow")
	}
}

// TestSizeOrderedHeapStatsAfterFragmentation verifies that GetHeapStats
// reports the allocation and free counters and at least one free block
// after a free in the middle of three allocations.
func TestSizeOrderedHeapStatsAfterFragmentation(t *testing.T) {
	h := newSizeOrderedHeapT(t, 8192)

	a := h.Allocate(1000)
	b := h.Allocate(1000)
	c := h.Allocate(1000)

	if a == nil || b == nil || c == nil {
		t.Fatalf("setup allocations failed")
	}

	h.Free(b)

	stats := h.GetHeapStats()
	if stats.NumberOfSuccessfulAllocations != 3 {
		t.Errorf("NumberOfSuccessfulAllocations = %d; want 3", stats.NumberOfSuccessfulAllocations)
	}

	if stats.NumberOfSuccessfulFrees != 1 {
		t.Errorf("NumberOfSuccessfulFrees = %d; want 1", stats.NumberOfSuccessfulFrees)
	}

	if stats.NumberOfFreeBlocks < 1 {
		t.Errorf("NumberOfFreeBlocks = %d; want at least 1", stats.NumberOfFreeBlocks)
	}
}

// TestSizeOrderedFreeBytesMatchesFreeListSum verifies P3: the sum of
// free-region sizes always equals freeBytes, and freeBytes never exceeds
// totalAligned.
func TestSizeOrderedFreeBytesMatchesFreeListSum(t *testing.T) {
	h := newSizeOrderedHeapT(t, 8192)

	for _, sz := range []uintptr{200, 50, 900, 20, 300} {
		h.Allocate(sz)
	}

	var sum uintptr

	cursor := h.startNext
	for cursor != nilRef {
		sum += headerAt(h.buf, cursor).size()
		cursor = headerAt(h.buf, cursor).nextFree
	}

	if sum != h.freeBytes {
		t.Errorf("sum of free-region sizes = %d; want freeBytes = %d", sum, h.freeBytes)
	}

	if h.freeBytes > h.totalAligned {
		t.Errorf("freeBytes = %d exceeds totalAligned = %d", h.freeBytes, h.totalAligned)
	}
}

// TestSizeOrderedCorruptedNextFreeHalts verifies P9: overwriting
// header.next_free on a live allocation to a non-NIL value and then
// calling Free must halt via assertion rather than silently corrupting
// the free list.
func TestSizeOrderedCorruptedNextFreeHalts(t *testing.T) {
	h := newSizeOrderedHeapT(t, 4096)

	ptr := h.Allocate(32)
	if ptr == nil {
		t.Fatalf("allocation failed")
	}

	offset := payloadToHeaderOffset(h.buf, ptr, h.cfg.Alignment)
	headerAt(h.buf, offset).nextFree = 8

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Free to halt on a corrupted next_free field")
		}
	}()

	h.Free(ptr)
}

// TestSizeOrderedAllocateSizeMaxIsRejected verifies S4: requesting
// SIZE_MAX must return nil without altering heap state.
func TestSizeOrderedAllocateSizeMaxIsRejected(t *testing.T) {
	h := newSizeOrderedHeapT(t, 4096)

	before := h.FreeHeapSize()

	if p := h.Allocate(^uintptr(0)); p != nil {
		t.Fatalf("Allocate(SIZE_MAX) should return nil")
	}

	if got := h.FreeHeapSize(); got != before {
		t.Errorf("FreeHeapSize() changed after a rejected request: %d -> %d", before, got)
	}
}

// TestSizeOrderedExhaustionInvokesHookExactlyOncePerNil verifies S5: the
// out-of-memory hook fires exactly once for every nil-returning
// allocation, not more and not fewer times.
func TestSizeOrderedExhaustionInvokesHookExactlyOncePerNil(t *testing.T) {
	hookCalls := 0

	buf := make([]byte, 512)

	h, err := NewSizeOrderedHeap(buf, port.WithHooks(port.Hooks{
		OnOutOfMemory: func() { hookCalls++ },
	}))
	if err != nil {
		t.Fatalf("NewSizeOrderedHeap: %v", err)
	}

	nilCount := 0

	for i := 0; i < 64; i++ {
		if h.Allocate(100) == nil {
			nilCount++
		}
	}

	if nilCount == 0 {
		t.Fatalf("expected at least one exhausted allocation")
	}

	if hookCalls != nilCount {
		t.Errorf("hook fired %d times for %d nil returns; want exactly 1:1", hookCalls, nilCount)
	}
}

func TestSizeOrderedWithClearMemoryOnFreeZeroesPayload(t *testing.T) {
	h := newSizeOrderedHeapT(t, 4096, port.WithClearMemoryOnFree(true))

	ptr := h.Allocate(16)
	if ptr == nil {
		t.Fatalf("allocation failed")
	}

	bytes := unsafe.Slice((*byte)(ptr), 16)
	for i := range bytes {
		bytes[i] = 0xAB
	}

	h.Free(ptr)

	for i, b := range bytes {
		if b != 0 {
			t.Errorf("byte %d = %#x; want 0 after free with ClearMemoryOnFree", i, b)
		}
	}
}
