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

//go:build linux

package osmem

import (
	"fmt"
	"syscall"
)

// brkSource grows the real process break via the raw brk(2) syscall.
// golang.org/x/sys/unix deliberately does not wrap brk: moving the break
// underneath the Go runtime is unsafe in general, but safe here because
// the runtime itself never calls sbrk/brk on Linux (it grows its heap via
// mmap), so the break is otherwise untouched address space.
type brkSource struct{}

var defaultSource Source = brkSource{}

func rawBrk(addr uintptr) (uintptr, error) {
	r0, _, e1 := syscall.RawSyscall(syscall.SYS_BRK, addr, 0, 0)
	if e1 != 0 {
		return 0, e1
	}
	return r0, nil
}

func (brkSource) BreakGrow(delta int) (uintptr, error) {
	if delta < 0 {
		return 0, fmt.Errorf("osmem: negative break growth %d", delta)
	}

	cur, err := rawBrk(0)
	if err != nil {
		return 0, fmt.Errorf("osmem: brk(0): %w", err)
	}
	if delta == 0 {
		return cur, nil
	}

	want := cur + uintptr(delta)
	got, err := rawBrk(want)
	if err != nil {
		return 0, fmt.Errorf("osmem: brk(%#x): %w", want, err)
	}
	if got < want {
		// The kernel left the break where it was (or short of the
		// request): treat as exhaustion rather than silently handing
		// back less memory than the caller asked to grow by.
		return 0, fmt.Errorf("%w: brk could not grow by %d bytes", ErrExhausted, delta)
	}
	return cur, nil
}

func (brkSource) MapAnonymous(length int) (uintptr, error) {
	return mapAnonymous(length)
}

func (brkSource) Unmap(base uintptr, length int) error {
	return unmapRegion(base, length)
}
