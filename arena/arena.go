/*
 * Copyright 2026 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package arena implements the monotonically-growing heap: an
// address-ordered list of every block ever carved from the break, a
// size-ordered index of the ones currently free, and the allocate /
// free / realloc algorithms that keep both in sync.
package arena

import (
	"fmt"

	"github.com/cloudwego/gomalloc/internal/block"
	"github.com/cloudwego/gomalloc/osmem"
)

// MinSplitRemainder is the minimum leftover, in bytes, worth carving off
// an oversized block into a new free block. Smaller remainders are kept
// as internal fragmentation on the block that was just committed.
const MinSplitRemainder = 128

// HeaderSize is the fixed per-block bookkeeping overhead, reported
// verbatim at the public surface by the metadata-size counter.
const HeaderSize = int(block.Size)

// Arena owns a single monotonically-growing heap region. It is not safe
// for concurrent use: the allocator this package serves assumes a single
// execution context (see SPEC_FULL.md §5).
type Arena struct {
	src osmem.Source

	base     uintptr // break at construction time, for byte-accounting
	addrHead uintptr // lowest-address block, 0 if the arena is empty
	addrTail uintptr // the wilderness block, 0 if the arena is empty
	sizeHead uintptr // smallest free block, 0 if none are free
}

// New constructs an Arena backed by src. It performs a zero-length break
// query to record the starting break, with no other side effect.
func New(src osmem.Source) (*Arena, error) {
	base, err := src.BreakGrow(0)
	if err != nil {
		return nil, fmt.Errorf("arena: reading initial break: %w", err)
	}
	return &Arena{src: src, base: base}, nil
}

// Base returns the break address recorded at construction time.
func (a *Arena) Base() uintptr { return a.base }

// Break returns the current program break.
func (a *Arena) Break() (uintptr, error) {
	cur, err := a.src.BreakGrow(0)
	if err != nil {
		return 0, fmt.Errorf("arena: reading break: %w", err)
	}
	return cur, nil
}

func align8(n int) int { return (n + 7) &^ 7 }

// Alloc services a request for `requested` bytes (requested > 0). It
// returns nil on OS exhaustion without mutating any state.
func (a *Arena) Alloc(requested int) []byte {
	need := align8(requested)

	if addr, ok := a.findBestFit(need); ok {
		h := block.At(addr)
		a.removeFromFreeIndex(h)
		h.Free = false
		a.split(h, need)
		return block.Slice(h, requested)
	}

	if a.addrTail != 0 {
		w := block.At(a.addrTail)
		if w.Free {
			grow := align8(need - w.PayloadSize)
			if _, err := a.src.BreakGrow(grow); err != nil {
				return nil
			}
			a.removeFromFreeIndex(w)
			w.PayloadSize = need
			w.Free = false
			return block.Slice(w, requested)
		}
	}

	old, err := a.src.BreakGrow(HeaderSize + need)
	if err != nil {
		return nil
	}
	nb := block.At(old)
	*nb = block.Header{PayloadSize: need}
	a.appendAddr(nb)
	return block.Slice(nb, requested)
}

// Free returns a previously-allocated block to the arena, coalescing with
// any free address-neighbour. It panics if the block is already free: a
// double free would otherwise silently re-merge an in-use neighbour into
// the free index and corrupt both lists.
func (a *Arena) Free(p []byte) {
	h := block.FromPayload(p)
	if h.Free {
		panic("arena: double free or invalid block")
	}
	h.Free = true

	prevAddr, nextAddr := h.AddrPrev, h.AddrNext
	prevFree := prevAddr != 0 && block.At(prevAddr).Free
	nextFree := nextAddr != 0 && block.At(nextAddr).Free

	switch {
	case !prevFree && !nextFree:
		a.addToFreeIndex(h)

	case prevFree && !nextFree:
		prev := block.At(prevAddr)
		a.removeFromFreeIndex(prev)
		prev.PayloadSize = align8(prev.PayloadSize + HeaderSize + h.PayloadSize)
		a.removeFromAddressList(h)
		a.addToFreeIndex(prev)

	case !prevFree && nextFree:
		next := block.At(nextAddr)
		a.removeFromFreeIndex(next)
		h.PayloadSize = align8(h.PayloadSize + HeaderSize + next.PayloadSize)
		a.removeFromAddressList(next)
		a.addToFreeIndex(h)

	default: // both neighbours free
		prev := block.At(prevAddr)
		next := block.At(nextAddr)
		a.removeFromFreeIndex(prev)
		a.removeFromFreeIndex(next)
		prev.PayloadSize = align8(prev.PayloadSize + HeaderSize + h.PayloadSize + HeaderSize + next.PayloadSize)
		a.removeFromAddressList(next)
		a.removeFromAddressList(h)
		a.addToFreeIndex(prev)
	}
}

// TryRealloc attempts to resize the block backing p to hold requested
// bytes without necessarily relocating it. Per spec.md §4.1.3 the cases
// are mutually exclusive and tried strictly in this order, the first
// that satisfies `need` winning outright: in-place (A) > lower-merge
// alone (B) > wilderness-grow, folding a free lower neighbour if any
// (C/C') > upper-merge alone (D) > merge of both neighbours (E) >
// wilderness-grow through a free upper neighbour, folding a free lower
// neighbour if any (F) > relocate (G). In particular, when both
// neighbours happen to be free, B or D must fire — untouched — if either
// alone already satisfies need; E only fires when neither does. It
// returns nil only when every avenue, including the final fresh
// allocation in G, fails (OS exhaustion); the original block is left
// intact in that case.
func (a *Arena) TryRealloc(p []byte, requested int) []byte {
	need := align8(requested)
	h := block.FromPayload(p)
	old := h.PayloadSize

	// Case A.
	if need <= old {
		a.split(h, need)
		return block.Slice(h, requested)
	}

	prevAddr, nextAddr := h.AddrPrev, h.AddrNext
	prevFree := prevAddr != 0 && block.At(prevAddr).Free
	nextFree := nextAddr != 0 && block.At(nextAddr).Free
	hIsTail := nextAddr == 0

	// Case B: lower neighbour alone already covers need.
	if prevFree {
		prev := block.At(prevAddr)
		if old+HeaderSize+prev.PayloadSize >= need {
			return a.mergeLower(h, p, need, requested)
		}
	}

	// Case C / C': h is the wilderness block. Grow it by exactly the
	// shortfall against old (ignoring any free prev, as spec.md's Case C
	// does), then fold a free lower neighbour in as a bonus if present.
	if hIsTail {
		grow := align8(need - old)
		if _, err := a.src.BreakGrow(grow); err != nil {
			return a.reallocGiveUp(p, requested, old)
		}
		h.PayloadSize += grow
		if prevFree {
			return a.mergeLower(h, p, need, requested)
		}
		a.split(h, need)
		return block.Slice(h, requested)
	}

	// Case D: upper neighbour alone already covers need.
	if nextFree {
		next := block.At(nextAddr)
		if old+HeaderSize+next.PayloadSize >= need {
			return a.mergeUpper(h, need, requested)
		}
	}

	// Case E: both neighbours together cover need, with no growth.
	if prevFree && nextFree {
		prev := block.At(prevAddr)
		next := block.At(nextAddr)
		if old+2*HeaderSize+prev.PayloadSize+next.PayloadSize >= need {
			return a.mergeBoth(h, p, need, requested)
		}
	}

	// Case F: the free upper neighbour is itself the wilderness. Grow
	// through it by the shortfall against old+next (ignoring any free
	// prev, mirroring Case C), then fold prev in as a bonus if present.
	if nextFree {
		next := block.At(nextAddr)
		if next.AddrNext == 0 {
			grow := align8(need - (old + HeaderSize + next.PayloadSize))
			if _, err := a.src.BreakGrow(grow); err != nil {
				return a.reallocGiveUp(p, requested, old)
			}
			next.PayloadSize += grow
			if prevFree {
				return a.mergeBoth(h, p, need, requested)
			}
			return a.mergeUpper(h, need, requested)
		}
	}

	// Case G.
	return a.reallocGiveUp(p, requested, old)
}

// mergeLower merges h into its free lower neighbour prev, copying h's
// payload forward, then commits prev to need bytes (splitting off any
// leftover). Implements Case B and the lower-fold half of Case C'.
func (a *Arena) mergeLower(h *block.Header, p []byte, need, requested int) []byte {
	prevAddr := h.AddrPrev
	prev := block.At(prevAddr)
	old := h.PayloadSize

	a.removeFromFreeIndex(prev)
	combined := align8(prev.PayloadSize + HeaderSize + old)

	copy(block.PayloadBytes(prev, old), p)

	newNext := h.AddrNext
	prev.AddrNext = newNext
	if newNext != 0 {
		block.At(newNext).AddrPrev = prevAddr
	} else {
		a.addrTail = prevAddr
	}

	prev.PayloadSize = combined
	prev.Free = false
	a.split(prev, need)
	return block.Slice(prev, requested)
}

// mergeUpper merges h's free upper neighbour next into h; h does not
// move, so no payload copy is needed. Implements Case D and the
// next-absorption half of Case F.
func (a *Arena) mergeUpper(h *block.Header, need, requested int) []byte {
	nextAddr := h.AddrNext
	next := block.At(nextAddr)
	hAddr := block.Addr(h)

	a.removeFromFreeIndex(next)
	combined := align8(h.PayloadSize + HeaderSize + next.PayloadSize)

	newNext := next.AddrNext
	h.AddrNext = newNext
	if newNext != 0 {
		block.At(newNext).AddrPrev = hAddr
	} else {
		a.addrTail = hAddr
	}

	h.PayloadSize = combined
	h.Free = false
	a.split(h, need)
	return block.Slice(h, requested)
}

// mergeBoth merges h into its free lower neighbour prev while also
// absorbing the free upper neighbour next, copying h's payload forward.
// Implements Case E and the prev-fold half of Case F.
func (a *Arena) mergeBoth(h *block.Header, p []byte, need, requested int) []byte {
	prevAddr, nextAddr := h.AddrPrev, h.AddrNext
	prev := block.At(prevAddr)
	next := block.At(nextAddr)
	old := h.PayloadSize

	a.removeFromFreeIndex(prev)
	a.removeFromFreeIndex(next)
	combined := align8(prev.PayloadSize + HeaderSize + old + HeaderSize + next.PayloadSize)

	copy(block.PayloadBytes(prev, old), p)

	newNext := next.AddrNext
	prev.AddrNext = newNext
	if newNext != 0 {
		block.At(newNext).AddrPrev = prevAddr
	} else {
		a.addrTail = prevAddr
	}

	prev.PayloadSize = combined
	prev.Free = false
	a.split(prev, need)
	return block.Slice(prev, requested)
}

// reallocGiveUp is the fallback realloc path: allocate fresh, copy the
// old data over, free the original. Returns nil without disturbing the
// original block if the fresh allocation itself fails.
func (a *Arena) reallocGiveUp(p []byte, requested, old int) []byte {
	fresh := a.Alloc(requested)
	if fresh == nil {
		return nil
	}
	n := old
	if requested < n {
		n = requested
	}
	copy(fresh, p[:n])
	a.Free(p)
	return fresh
}

// findBestFit walks the size-ordered free index and returns the address
// of the first block whose payload is at least need bytes.
func (a *Arena) findBestFit(need int) (uintptr, bool) {
	for addr := a.sizeHead; addr != 0; addr = block.At(addr).SizeNext {
		if h := block.At(addr); h.PayloadSize >= need {
			return addr, true
		}
	}
	return 0, false
}

// split carves a free remainder off h after it has just been committed
// to satisfy a need-byte request, per the minimum-split-remainder rule.
// If no split occurs, h keeps its current (larger) payload size.
func (a *Arena) split(h *block.Header, need int) {
	remainder := h.PayloadSize - need - HeaderSize
	if remainder <= MinSplitRemainder {
		return
	}

	newAddr := block.Addr(h) + uintptr(HeaderSize) + uintptr(need)
	nb := block.At(newAddr)
	*nb = block.Header{PayloadSize: align8(remainder), Free: true}

	oldNext := h.AddrNext
	nb.AddrPrev = block.Addr(h)
	nb.AddrNext = oldNext
	h.AddrNext = newAddr
	if oldNext != 0 {
		block.At(oldNext).AddrPrev = newAddr
	} else {
		a.addrTail = newAddr
	}

	if oldNext != 0 && block.At(oldNext).Free {
		nxt := block.At(oldNext)
		a.removeFromFreeIndex(nxt)
		nb.PayloadSize = align8(nb.PayloadSize + HeaderSize + nxt.PayloadSize)
		a.removeFromAddressList(nxt)
	}

	a.addToFreeIndex(nb)
	h.PayloadSize = need
}

func (a *Arena) appendAddr(h *block.Header) {
	addr := block.Addr(h)
	h.AddrPrev = a.addrTail
	h.AddrNext = 0
	if a.addrTail != 0 {
		block.At(a.addrTail).AddrNext = addr
	} else {
		a.addrHead = addr
	}
	a.addrTail = addr
}

// removeFromAddressList splices h out of the address-ordered list and
// nulls its own link fields. h's neighbours (captured before this call by
// the caller) are relinked directly to each other.
func (a *Arena) removeFromAddressList(h *block.Header) {
	p, n := h.AddrPrev, h.AddrNext
	if p != 0 {
		block.At(p).AddrNext = n
	} else {
		a.addrHead = n
	}
	if n != 0 {
		block.At(n).AddrPrev = p
	} else {
		a.addrTail = p
	}
	h.AddrPrev, h.AddrNext = 0, 0
}

// addToFreeIndex splices h into the size-ordered free index: sorted by
// payload size ascending, ties broken by address ascending.
func (a *Arena) addToFreeIndex(h *block.Header) {
	var prevAddr uintptr
	cur := a.sizeHead
	self := block.Addr(h)
	for cur != 0 {
		c := block.At(cur)
		if c.PayloadSize > h.PayloadSize || (c.PayloadSize == h.PayloadSize && cur > self) {
			break
		}
		prevAddr = cur
		cur = c.SizeNext
	}

	h.SizeNext = cur
	h.SizePrev = prevAddr
	if cur != 0 {
		block.At(cur).SizePrev = self
	}
	if prevAddr != 0 {
		block.At(prevAddr).SizeNext = self
	} else {
		a.sizeHead = self
	}
}

func (a *Arena) removeFromFreeIndex(h *block.Header) {
	p, n := h.SizePrev, h.SizeNext
	if p != 0 {
		block.At(p).SizeNext = n
	} else {
		a.sizeHead = n
	}
	if n != 0 {
		block.At(n).SizePrev = p
	}
	h.SizePrev, h.SizeNext = 0, 0
}

// Stats walks the address list once and reports the four heap-derived
// counters the public surface exposes (free block/byte counts, total
// block/byte counts). It is O(n) by design, matching spec.md §6.
func (a *Arena) Stats() (freeBlocks, freeBytes, totalBlocks, totalBytes int) {
	for addr := a.addrHead; addr != 0; addr = block.At(addr).AddrNext {
		h := block.At(addr)
		totalBlocks++
		totalBytes += h.PayloadSize
		if h.Free {
			freeBlocks++
			freeBytes += h.PayloadSize
		}
	}
	return
}
