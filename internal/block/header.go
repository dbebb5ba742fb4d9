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

// Package block defines the fixed header every allocated region — heap
// block or mapped block alike — carries immediately before its payload.
// It is the one place in gomalloc that overlays a Go struct directly onto
// raw, non-GC-owned memory; arena and largepool both build on it instead
// of duplicating the unsafe.Pointer arithmetic.
package block

import "unsafe"

// Header is the fixed bookkeeping prefix of every block. AddrPrev/AddrNext
// link the address-ordered heap list; SizePrev/SizeNext link the
// size-ordered free index. Mapped (large) blocks only ever use PayloadSize
// and Free; their four link fields stay zero, which this package treats
// as "null" throughout (real block addresses are never zero).
//
// Fields are raw addresses rather than typed pointers on purpose: the
// header lives in memory the Go GC does not own, so nothing here should
// look like an owning reference.
type Header struct {
	PayloadSize int
	Free        bool
	AddrPrev    uintptr
	AddrNext    uintptr
	SizePrev    uintptr
	SizeNext    uintptr
}

// Size is the fixed header size in bytes, reported verbatim by the
// allocator's metadata-size counter.
const Size = unsafe.Sizeof(Header{})

// At overlays a *Header onto the memory at addr.
func At(addr uintptr) *Header {
	return (*Header)(unsafe.Pointer(addr))
}

// Addr returns h's own address.
func Addr(h *Header) uintptr {
	return uintptr(unsafe.Pointer(h))
}

// FromPayload recovers the header in front of a payload slice previously
// produced by Slice. Only the slice's data pointer is used; len/cap are
// ignored, so reslicing before calling FromPayload is harmless as long as
// the slice still starts at the payload's first byte.
func FromPayload(p []byte) *Header {
	data := *(*uintptr)(unsafe.Pointer(&p))
	return At(data - Size)
}

// PayloadBytes returns the first n bytes of h's payload as a []byte. The
// caller must ensure n <= h.PayloadSize.
func PayloadBytes(h *Header, n int) []byte {
	p := unsafe.Add(unsafe.Pointer(h), Size)
	return unsafe.Slice((*byte)(p), n)
}

// Slice returns h's full payload as a []byte of length `length` (the
// caller's logical request size) and capacity h.PayloadSize (the block's
// physical usable capacity).
func Slice(h *Header, length int) []byte {
	return PayloadBytes(h, h.PayloadSize)[:length]
}
