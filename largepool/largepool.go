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

// Package largepool routes oversized requests to independent anonymous
// mappings instead of the break-growing heap. Each mapping carries the
// same block.Header every heap block does, with its four link fields
// left at zero, so the root package can read any block's size the same
// way and tell a large block from a heap block by that size alone.
package largepool

import (
	"github.com/cloudwego/gomalloc/internal/block"
	"github.com/cloudwego/gomalloc/osmem"
)

// HeaderSize is the fixed per-mapping bookkeeping overhead.
const HeaderSize = int(block.Size)

func align8(n int) int { return (n + 7) &^ 7 }

// Pool tracks every live large-block mapping and the running totals the
// allocator's introspection counters report for them.
type Pool struct {
	src osmem.Source

	liveBlocks int
	liveBytes  int // payload bytes only, excluding headers
}

// New constructs a Pool backed by src.
func New(src osmem.Source) *Pool {
	return &Pool{src: src}
}

// Alloc maps a fresh region sized to hold requested bytes plus one
// header and returns the payload slice. The stored and reported
// payload-size is requested verbatim, unaligned: spec.md §3.5's 8-byte
// alignment discipline (I5) is scoped to heap block payload-sizes, not
// mapped blocks (the underlying mapping length is still rounded up, for
// a page-friendly mmap call, but that rounding is never visible in the
// counters). It returns nil on OS exhaustion.
func (p *Pool) Alloc(requested int) []byte {
	base, err := p.src.MapAnonymous(mapLen(requested))
	if err != nil {
		return nil
	}

	h := block.At(base)
	*h = block.Header{PayloadSize: requested}

	p.liveBlocks++
	p.liveBytes += requested
	return block.Slice(h, requested)
}

// Free unmaps the region backing a slice previously returned by Alloc.
func (p *Pool) Free(data []byte) error {
	h := block.FromPayload(data)
	addr := block.Addr(h)
	payload := h.PayloadSize

	if err := p.src.Unmap(addr, mapLen(payload)); err != nil {
		return err
	}
	p.liveBlocks--
	p.liveBytes -= payload
	return nil
}

// mapLen is the actual mmap call length backing a payload-byte large
// block: header plus payload, rounded up to an 8-byte boundary so the
// mapping itself is never short of what the header claims.
func mapLen(payload int) int { return HeaderSize + align8(payload) }

// Stats reports the live mapping count and live payload byte total.
func (p *Pool) Stats() (liveBlocks, liveBytes int) {
	return p.liveBlocks, p.liveBytes
}
