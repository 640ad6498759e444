package heap

import "testing"

func TestHeaderSizeAlignedRoundsUp(t *testing.T) {
	for _, alignment := range []uintptr{1, 2, 4, 8, 16, 32} {
		got := HeaderSizeAligned(alignment)

		if got < uintptr(headerSize) {
			t.Errorf("HeaderSizeAligned(%d) = %d; smaller than raw header size %d", alignment, got, headerSize)
		}

		if got%alignment != 0 {
			t.Errorf("HeaderSizeAligned(%d) = %d; not a multiple of alignment", alignment, got)
		}
	}
}

func TestMinBlockIsTwiceHeaderSizeAligned(t *testing.T) {
	for _, alignment := range []uintptr{1, 8, 16} {
		want := 2 * HeaderSizeAligned(alignment)
		if got := MinBlock(alignment); got != want {
			t.Errorf("MinBlock(%d) = %d; want %d", alignment, got, want)
		}
	}
}

func TestHeaderSizeAndAllocatedFlagPackDistinctly(t *testing.T) {
	buf := make([]byte, 64)
	h := headerAt(buf, 0)

	h.setSize(123)
	h.setAllocated(true)

	if h.size() != 123 {
		t.Errorf("size() = %d; want 123", h.size())
	}

	if !h.isAllocated() {
		t.Errorf("isAllocated() = false; want true")
	}

	h.setAllocated(false)

	if h.size() != 123 {
		t.Errorf("size() after clearing flag = %d; want 123 (unaffected)", h.size())
	}

	if h.isAllocated() {
		t.Errorf("isAllocated() = true; want false")
	}
}

func TestHeaderNextFreeSentinel(t *testing.T) {
	buf := make([]byte, 64)
	h := headerAt(buf, 0)

	if !h.hasNextFree() {
		t.Errorf("zero-value header links to offset 0, a valid region offset, and should report hasNextFree")
	}

	h.nextFree = nilRef
	if h.hasNextFree() {
		t.Errorf("nilRef nextFree should not report hasNextFree")
	}

	h.nextFree = 8
	if !h.hasNextFree() {
		t.Errorf("non-nilRef nextFree should report hasNextFree")
	}
}

func TestSetSizeKeepsSizeClearOfAllocatedFlag(t *testing.T) {
	buf := make([]byte, 64)
	h := headerAt(buf, 0)

	// A size using the top bit would corrupt the allocated flag if caller
	// ever passed one through; normalizeRequest is responsible for
	// rejecting such requests upstream. Here we just confirm size()/
	// isAllocated() interpret the packed field consistently when the top
	// bit of sizeAndFlag is exclusively under setAllocated's control.
	h.setSize(1024)
	h.setAllocated(true)

	if h.size() != 1024 || !h.isAllocated() {
		t.Fatalf("unexpected packed state: size=%d allocated=%v", h.size(), h.isAllocated())
	}
}
