package heap

// This file implements FREELIST insertion for the two schemes that keep
// one (spec section 4.3). SCHEME-BUMP has no free list at all.
//
// SCHEME-SIZE-ORDERED's list is terminated by nilRef rather than by a
// materialized END header: the reference kernel's END sentinel exists only
// to give the ascending-size walk a value bigger than any real region so
// the comparison loop has something to terminate against. A nil "no next"
// offset terminates the same walk with identical externally observable
// ordering (property P5), so no separate END node is needed here — see
// DESIGN.md Open Question OQ-2. SCHEME-ADDRESS-COALESCING's END, in
// contrast, participates in pointer-identity comparisons during
// coalescing and IS materialized as a real header (coalescing.go); the two
// sentinels are deliberately not implemented the same way.

// insertSizeOrdered splices the free region at newOffset into the
// ascending-size list anchored by *startNext, preserving the stability of
// ties: a new region is inserted immediately before the first existing
// region whose size is >= its own.
func insertSizeOrdered(buf []byte, startNext *uintptr, newOffset uintptr) {
	newHdr := headerAt(buf, newOffset)
	newSize := newHdr.size()

	prevOffset := nilRef
	cursor := *startNext

	for cursor != nilRef {
		cursorHdr := headerAt(buf, cursor)
		if cursorHdr.size() >= newSize {
			break
		}

		prevOffset = cursor
		cursor = cursorHdr.nextFree
	}

	newHdr.nextFree = cursor

	if prevOffset == nilRef {
		*startNext = newOffset
	} else {
		headerAt(buf, prevOffset).nextFree = newOffset
	}
}

// insertAddressOrdered splices the free region at newOffset into the
// ascending-address list anchored by *startNext, coalescing with an
// address-adjacent predecessor and/or successor, per spec section 4.3.
// endOffset identifies the real END header, which participates in the
// walk and in successor-adjacency checks but is never coalesced away.
func insertAddressOrdered(buf []byte, startNext *uintptr, newOffset, endOffset uintptr) {
	newHdr := headerAt(buf, newOffset)

	// Find the predecessor (nilRef means START itself) and successor
	// (possibly END) that will straddle the new region by address.
	predOffset := nilRef
	succOffset := *startNext

	for succOffset != endOffset && succOffset < newOffset {
		predOffset = succOffset
		succOffset = headerAt(buf, succOffset).nextFree
	}

	mergedOffset := newOffset
	mergedHdr := newHdr

	if predOffset != nilRef {
		predHdr := headerAt(buf, predOffset)
		if predOffset+predHdr.size() == newOffset {
			// Coalesce with predecessor: it absorbs the new region and
			// becomes the node we keep working with.
			predHdr.setSize(predHdr.size() + newHdr.size())
			mergedOffset = predOffset
			mergedHdr = predHdr
		}
	}

	if succOffset != endOffset && mergedOffset+mergedHdr.size() == succOffset {
		// Coalesce with successor. If the successor is END it is never
		// consumed, per spec section 4.3.
		succHdr := headerAt(buf, succOffset)
		mergedHdr.setSize(mergedHdr.size() + succHdr.size())
		mergedHdr.nextFree = succHdr.nextFree
	} else {
		mergedHdr.nextFree = succOffset
	}

	if mergedOffset == newOffset {
		// No predecessor coalesce happened: splice the node in after
		// predOffset (or START).
		if predOffset == nilRef {
			*startNext = newOffset
		} else {
			headerAt(buf, predOffset).nextFree = newOffset
		}
	}
	// else mergedHdr IS the predecessor header, whose linkage from ITS
	// own predecessor was already correct.
}
