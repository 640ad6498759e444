package heap

import (
	"unsafe"

	"github.com/orizon-lang/rtheap/internal/arith"
)

// header is the in-band per-region metadata that precedes every region,
// free or allocated. It is never constructed as a Go value and copied:
// instances live in-place inside the backing buffer, addressed by byte
// offset, exactly as spec section 3 requires ("do not replace with an
// owned container: header metadata and payload share the same backing
// bytes and must not move").
//
// nextFree and sizeAndFlag are both the address-sized unsigned integer W
// of spec section 3 (uintptr on this platform): nextFree holds the byte
// offset, within the backing buffer, of the next free region, or nilRef.
type header struct {
	nextFree    uintptr
	sizeAndFlag uintptr
}

// nilRef is the "no next free region" sentinel for the offset-based
// intrusive list, the analogue of a NULL next_free pointer.
const nilRef = ^uintptr(0)

// allocatedFlag is the high bit of sizeAndFlag.
const allocatedFlag = arith.TopBit

// headerSize is sizeof(HEADER) for this layout, used as the unaligned
// input to HeaderSizeAligned.
const headerSize = unsafe.Sizeof(header{})

// HeaderSizeAligned returns sizeof(HEADER) rounded up to alignment, the
// HEADER_SIZE_ALIGNED constant of spec sections 3-4.
func HeaderSizeAligned(alignment uintptr) uintptr {
	aligned, ok := arith.AlignUp(uintptr(headerSize), alignment)
	if !ok {
		panic("heap: header size alignment overflowed")
	}

	return aligned
}

// MinBlock returns MIN_BLOCK = 2*HEADER_SIZE_ALIGNED for the given alignment.
func MinBlock(alignment uintptr) uintptr {
	return 2 * HeaderSizeAligned(alignment)
}

func (h *header) size() uintptr {
	return h.sizeAndFlag &^ allocatedFlag
}

func (h *header) isAllocated() bool {
	return h.sizeAndFlag&allocatedFlag != 0
}

func (h *header) setSize(size uintptr) {
	allocated := h.sizeAndFlag & allocatedFlag
	h.sizeAndFlag = size | allocated
}

func (h *header) setAllocated(allocated bool) {
	if allocated {
		h.sizeAndFlag |= allocatedFlag
	} else {
		h.sizeAndFlag &^= allocatedFlag
	}
}

func (h *header) hasNextFree() bool {
	return h.nextFree != nilRef
}

// headerAt returns a pointer to the header stored at byte offset addr in buf.
func headerAt(buf []byte, addr uintptr) *header {
	return (*header)(unsafe.Pointer(&buf[addr]))
}
