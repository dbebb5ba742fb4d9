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

package arena

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/gomalloc/internal/block"
	"github.com/cloudwego/gomalloc/osmem"
)

func newTestArena(t *testing.T, capacity int) *Arena {
	t.Helper()
	a, err := New(osmem.NewFake(capacity))
	require.NoError(t, err)
	return a
}

func TestAllocBasic(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p := a.Alloc(100)
	require.NotNil(t, p)
	assert.Len(t, p, 100)

	free, freeBytes, total, totalBytes := a.Stats()
	assert.Zero(t, free)
	assert.Zero(t, freeBytes)
	assert.Equal(t, 1, total)
	assert.Equal(t, 104, totalBytes) // align8(100)
}

// S1: allocate, free, allocate the same size again — same block reused,
// no growth in block count.
func TestFreeThenReuseSameSize(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p1 := a.Alloc(100)
	require.NotNil(t, p1)
	addr1 := block.Addr(block.FromPayload(p1))

	a.Free(p1)
	_, _, total, _ := a.Stats()
	assert.Equal(t, 1, total)

	p2 := a.Alloc(100)
	require.NotNil(t, p2)
	assert.Equal(t, addr1, block.Addr(block.FromPayload(p2)))

	free, _, total, _ := a.Stats()
	assert.Zero(t, free)
	assert.Equal(t, 1, total)
}

// S2: two adjacent blocks freed coalesce into one, then get reused by a
// request that would not have fit in either piece alone.
func TestFreeAdjacentCoalesces(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p1 := a.Alloc(100)
	p2 := a.Alloc(100)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	a.Free(p1)
	a.Free(p2)

	free, freeBytes, total, _ := a.Stats()
	assert.Equal(t, 1, free)
	assert.Equal(t, 1, total)
	assert.Equal(t, 104+HeaderSize+104, freeBytes)

	p3 := a.Alloc(150)
	require.NotNil(t, p3)
	free, _, total, _ = a.Stats()
	assert.Zero(t, free)
	assert.Equal(t, 1, total)
}

// S3: an oversized free block is split when the remainder exceeds the
// minimum split threshold.
func TestAllocSplitsOversizedBlock(t *testing.T) {
	a := newTestArena(t, 1<<20)

	big := a.Alloc(1000)
	require.NotNil(t, big)
	a.Free(big)

	small := a.Alloc(16)
	require.NotNil(t, small)

	free, _, total, _ := a.Stats()
	assert.Equal(t, 1, free)
	assert.Equal(t, 2, total)
}

// S4: freeing a block and re-allocating a smaller size that leaves a
// sub-threshold remainder does not split: the payload stays at its
// original, larger size.
func TestAllocNoSplitBelowThreshold(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p := a.Alloc(100) // payload 104
	require.NotNil(t, p)
	a.Free(p)

	p2 := a.Alloc(90) // remainder would be 104-96-HeaderSize < 128
	require.NotNil(t, p2)

	h := block.FromPayload(p2)
	assert.Equal(t, 104, h.PayloadSize)

	_, _, total, _ := a.Stats()
	assert.Equal(t, 1, total)
}

// S7: both neighbours free coalesce into a single block on the middle
// block's release.
func TestFreeCoalescesBothNeighbours(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p1 := a.Alloc(64)
	p2 := a.Alloc(64)
	p3 := a.Alloc(64)
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	require.NotNil(t, p3)

	a.Free(p1)
	a.Free(p3)
	free, _, total, _ := a.Stats()
	assert.Equal(t, 2, free)
	assert.Equal(t, 3, total)

	a.Free(p2)
	free, _, total, _ = a.Stats()
	assert.Equal(t, 1, free)
	assert.Equal(t, 1, total)
}

func TestAllocReturnsNilOnExhaustion(t *testing.T) {
	a := newTestArena(t, 64)
	p := a.Alloc(1000)
	assert.Nil(t, p)
}

func TestFreeTwicePanics(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p := a.Alloc(32)
	require.NotNil(t, p)
	a.Free(p)

	assert.PanicsWithValue(t, "arena: double free or invalid block", func() {
		a.Free(p)
	})
}

// S5: growing the wilderness block in place on realloc, without
// relocating the data.
func TestReallocGrowsWildernessInPlace(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p := a.Alloc(64)
	require.NotNil(t, p)
	copy(p, []byte("hello world"))

	grown := a.TryRealloc(p, 512)
	require.NotNil(t, grown)
	assert.Equal(t, "hello world", string(grown[:11]))

	_, _, total, _ := a.Stats()
	assert.Equal(t, 1, total)
}

func TestReallocShrinkInPlace(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p := a.Alloc(1000)
	require.NotNil(t, p)
	copy(p, []byte("shrink me"))

	shrunk := a.TryRealloc(p, 16)
	require.NotNil(t, shrunk)
	assert.Equal(t, "shrink me", string(shrunk[:9]))

	_, _, total, _ := a.Stats()
	assert.Equal(t, 2, total) // the freed remainder split off
}

func TestReallocMergesWithFreeUpperNeighbour(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p1 := a.Alloc(64)
	p2 := a.Alloc(64)
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	a.Alloc(8) // pin the arena's wilderness past p2's neighbour

	a.Free(p2)
	copy(p1, []byte("abc"))

	grown := a.TryRealloc(p1, 150)
	require.NotNil(t, grown)
	assert.Equal(t, "abc", string(grown[:3]))
}

// Regression: when the growing block's lower neighbour alone already
// satisfies the request, spec.md §4.1.3's Case B must fire and merge
// only that neighbour in — even though the upper neighbour also happens
// to be free and folding both in (Case E) would trivially "work" too.
func TestReallocPrefersLowerMergeAloneOverBoth(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p0 := a.Alloc(10) // prev, payload 16
	p1 := a.Alloc(10) // middle, payload 16 — grown in place
	p2 := a.Alloc(10) // next, payload 16
	a.Alloc(8)        // pin the wilderness past p2
	require.NotNil(t, p0)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	a.Free(p0)
	a.Free(p2)
	copy(p1, []byte("mid"))

	_, _, total, _ := a.Stats()
	require.Equal(t, 4, total)

	grown := a.TryRealloc(p1, 40) // need=40: prev alone (16+H+16=80) already covers it
	require.NotNil(t, grown)
	assert.Equal(t, "mid", string(grown[:3]))

	free, _, total, _ := a.Stats()
	assert.Equal(t, 1, free)  // only the untouched upper neighbour remains free
	assert.Equal(t, 3, total) // merged(p0,p1) + untouched p2 + wilderness pin
}

// Mirror of the above: when the upper neighbour alone already satisfies
// the request but the lower neighbour does not, Case D must fire without
// touching the lower neighbour, even though it is also free.
func TestReallocPrefersUpperMergeAloneOverBoth(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p0 := a.Alloc(1)   // prev, payload 8 — too small to cover need alone
	p1 := a.Alloc(10)  // middle, payload 16 — grown in place
	p2 := a.Alloc(512) // next, payload 512 — covers need alone
	a.Alloc(8)         // pin the wilderness past p2
	require.NotNil(t, p0)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	prevAddr := block.Addr(block.FromPayload(p0))

	a.Free(p0)
	a.Free(p2)
	copy(p1, []byte("mid"))

	// need=104: prev alone (16+H+8=72) cannot cover it, next alone
	// (16+H+512=576) can.
	grown := a.TryRealloc(p1, 100)
	require.NotNil(t, grown)
	assert.Equal(t, "mid", string(grown[:3]))

	prev := block.At(prevAddr)
	assert.True(t, prev.Free)
	assert.Equal(t, 8, prev.PayloadSize) // untouched by the upper-only merge
}

func TestReallocFallsBackToFreshAllocation(t *testing.T) {
	a := newTestArena(t, 1<<20)

	p1 := a.Alloc(64)
	p2 := a.Alloc(64) // keeps p1 from being the wilderness and unmergeable
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	copy(p1, []byte("relocate"))

	moved := a.TryRealloc(p1, 4096)
	require.NotNil(t, moved)
	assert.Equal(t, "relocate", string(moved[:8]))
}

// Randomised churn exercising the free-index and address-list invariants:
// every still-live block must read back the bytes last written to it.
func TestAllocFreeChurnPreservesData(t *testing.T) {
	a := newTestArena(t, 4<<20)
	rng := rand.New(rand.NewSource(1))

	type live struct {
		p   []byte
		tag byte
	}
	var blocks []live

	for i := 0; i < 2000; i++ {
		switch {
		case len(blocks) > 0 && rng.Intn(3) == 0:
			idx := rng.Intn(len(blocks))
			b := blocks[idx]
			for _, c := range b.p {
				require.Equal(t, b.tag, c)
			}
			a.Free(b.p)
			blocks[idx] = blocks[len(blocks)-1]
			blocks = blocks[:len(blocks)-1]
		default:
			size := 1 + rng.Intn(500)
			p := a.Alloc(size)
			if p == nil {
				continue
			}
			tag := byte(rng.Intn(256))
			for j := range p {
				p[j] = tag
			}
			blocks = append(blocks, live{p: p, tag: tag})
		}
	}

	for _, b := range blocks {
		for _, c := range b.p {
			require.Equal(t, b.tag, c)
		}
	}
}
