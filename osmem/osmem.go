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

// Package osmem is the thin boundary between gomalloc's block manager and
// the two OS primitives it is built on: a monotonic break pointer
// ("sbrk") and anonymous page mappings ("mmap"). Everything in this
// package is platform plumbing; none of it knows about blocks, headers,
// or free lists.
package osmem

import "errors"

// ErrExhausted is returned when the OS primitive cannot satisfy the
// request (break cannot grow, or the mapping cannot be created).
var ErrExhausted = errors.New("osmem: resource exhausted")

// Source is the OS-primitive seam consumed by arena and largepool. A
// production process uses the platform Source returned by Default(); tests
// can substitute a fake to drive exhaustion paths deterministically.
type Source interface {
	// BreakGrow grows the process break by delta bytes and returns the
	// break's address before growth. delta must be >= 0. BreakGrow(0)
	// returns the current break with no side effect.
	BreakGrow(delta int) (old uintptr, err error)

	// MapAnonymous returns the base address of a fresh, private,
	// read-write anonymous mapping of exactly length bytes.
	MapAnonymous(length int) (base uintptr, err error)

	// Unmap releases a mapping previously returned by MapAnonymous.
	Unmap(base uintptr, length int) error
}

// Default returns the Source backed by the real OS primitives for the
// current platform.
func Default() Source {
	return defaultSource
}
