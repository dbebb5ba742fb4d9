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

// Package gomalloc is a user-space general-purpose allocator: small and
// medium requests are served from a break-growing heap arena, oversized
// requests are routed to independent anonymous mappings, and both paths
// share one block header format so the public surface can dispatch free
// and reallocate by inspecting a pointer's header alone.
package gomalloc

import (
	"github.com/cloudwego/gomalloc/arena"
	"github.com/cloudwego/gomalloc/internal/block"
	"github.com/cloudwego/gomalloc/largepool"
	"github.com/cloudwego/gomalloc/osmem"
)

// LargeThreshold is the largest request served by the heap arena; any
// request above it is routed to the large-block pool instead.
const LargeThreshold = 128 * 1024

// MaxRequest is the largest request this allocator will ever service.
const MaxRequest = 100_000_000

// HeaderSize is the fixed per-block bookkeeping overhead, identical on
// the heap and large-block paths.
const HeaderSize = int(block.Size)

// Allocator is the process-wide allocator state: an Arena for the heap
// and a Pool for large, individually-mapped blocks. The zero value is
// not usable; construct one with New or use the package-level Default.
//
// Allocator is not safe for concurrent use — see SPEC_FULL.md §5. Tests
// that need isolated state should each construct their own Allocator
// rather than share the package-level Default.
type Allocator struct {
	arena *arena.Arena
	pool  *largepool.Pool
}

// New constructs an Allocator backed by src.
func New(src osmem.Source) (*Allocator, error) {
	a, err := arena.New(src)
	if err != nil {
		return nil, err
	}
	return &Allocator{arena: a, pool: largepool.New(src)}, nil
}

// Default is the process-wide allocator backed by the real OS
// primitives for the current platform.
var Default = mustNewDefault()

func mustNewDefault() *Allocator {
	a, err := New(osmem.Default())
	if err != nil {
		// The only failure mode of New is the initial break-query
		// syscall itself failing, which would mean the process cannot
		// allocate memory at all.
		panic(err)
	}
	return a
}

// Allocate services a size-byte request, returning nil if size is zero,
// exceeds MaxRequest, or every servicing path is exhausted.
func (al *Allocator) Allocate(size int) []byte {
	if size <= 0 || size > MaxRequest {
		return nil
	}
	if size > LargeThreshold {
		return al.pool.Alloc(size)
	}
	return al.arena.Alloc(size)
}

// ZeroedAllocate computes n*size, validates it through Allocate, and
// zeroes the returned payload on success.
func (al *Allocator) ZeroedAllocate(n, size int) []byte {
	if n < 0 || size < 0 {
		return nil
	}
	total := n * size
	if n != 0 && total/n != size {
		return nil // overflow
	}
	p := al.Allocate(total)
	if p == nil {
		return nil
	}
	for i := range p {
		p[i] = 0
	}
	return p
}

// Free releases a block previously returned by Allocate or
// ZeroedAllocate. A nil slice is a no-op.
func (al *Allocator) Free(p []byte) {
	if p == nil {
		return
	}
	h := block.FromPayload(p)
	if h.PayloadSize > LargeThreshold {
		_ = al.pool.Free(p)
		return
	}
	al.arena.Free(p)
}

// Reallocate resizes the block backing old to hold size bytes, possibly
// relocating it. A nil old behaves as Allocate. On failure the original
// block, if any, remains valid and unmodified.
func (al *Allocator) Reallocate(old []byte, size int) []byte {
	if size <= 0 || size > MaxRequest {
		return nil
	}
	if old == nil {
		return al.Allocate(size)
	}

	h := block.FromPayload(old)
	wasLarge := h.PayloadSize > LargeThreshold
	willBeLarge := size > LargeThreshold

	if !wasLarge && !willBeLarge {
		return al.arena.TryRealloc(old, size)
	}

	fresh := al.Allocate(size)
	if fresh == nil {
		return nil
	}
	n := len(old)
	if size < n {
		n = size
	}
	copy(fresh, old[:n])
	al.Free(old)
	return fresh
}

// NumFreeBlocks reports the number of free blocks in the heap arena.
func (al *Allocator) NumFreeBlocks() uint64 {
	free, _, _, _ := al.arena.Stats()
	return uint64(free)
}

// NumFreeBytes reports the sum of payload sizes of free heap blocks.
func (al *Allocator) NumFreeBytes() uint64 {
	_, freeBytes, _, _ := al.arena.Stats()
	return uint64(freeBytes)
}

// NumAllocatedBlocks reports the total block count across the heap
// arena and the large-block pool, regardless of free/in-use state for
// the heap portion.
func (al *Allocator) NumAllocatedBlocks() uint64 {
	_, _, total, _ := al.arena.Stats()
	largeBlocks, _ := al.pool.Stats()
	return uint64(total + largeBlocks)
}

// NumAllocatedBytes reports the total payload bytes across the heap
// arena (free and in-use) and the large-block pool.
func (al *Allocator) NumAllocatedBytes() uint64 {
	_, _, _, totalBytes := al.arena.Stats()
	_, largeBytes := al.pool.Stats()
	return uint64(totalBytes + largeBytes)
}

// NumMetaDataBytes reports total-blocks * HeaderSize.
func (al *Allocator) NumMetaDataBytes() uint64 {
	return al.NumAllocatedBlocks() * uint64(HeaderSize)
}

// SizeMetaData reports the fixed per-block header size.
func (al *Allocator) SizeMetaData() uint64 {
	return uint64(HeaderSize)
}

// Package-level convenience wrappers over Default, mirroring the
// allocator's own naming (see SPEC_FULL.md §4.3).

func Allocate(size int) []byte { return Default.Allocate(size) }
func ZeroedAllocate(n, size int) []byte { return Default.ZeroedAllocate(n, size) }
func Free(p []byte) { Default.Free(p) }
func Reallocate(old []byte, size int) []byte { return Default.Reallocate(old, size) }
func NumFreeBlocks() uint64 { return Default.NumFreeBlocks() }
func NumFreeBytes() uint64 { return Default.NumFreeBytes() }
func NumAllocatedBlocks() uint64 { return Default.NumAllocatedBlocks() }
func NumAllocatedBytes() uint64 { return Default.NumAllocatedBytes() }
func NumMetaDataBytes() uint64 { return Default.NumMetaDataBytes() }
func SizeMetaData() uint64 { return Default.SizeMetaData() }
