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

//go:build unix

package osmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapAnonymous and unmapRegion back every Source on unix platforms,
// whether the break itself is the real kernel break (linux, brk_linux.go)
// or a reserved-region surrogate (brk_other.go).
func mapAnonymous(length int) (uintptr, error) {
	if length <= 0 {
		return 0, fmt.Errorf("osmem: invalid mmap length %d", length)
	}
	b, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("%w: mmap: %v", ErrExhausted, err)
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

func unmapRegion(base uintptr, length int) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), length)
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("osmem: munmap: %w", err)
	}
	return nil
}
