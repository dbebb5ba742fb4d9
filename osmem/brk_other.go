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

//go:build unix && !linux

package osmem

import "fmt"

// reservation is how big a surrogate-break region we reserve up front on
// platforms with no usable brk(2): 4 GiB of address space, reserved but
// not resident until touched, which is large enough for every test and
// benchmark this module ships while still failing loudly (ErrExhausted)
// if a caller genuinely needs more.
const reservation = 4 << 30

// reservedBreak simulates a monotonic break pointer by handing out a
// cursor into a single large anonymous mapping reserved at startup. There
// is no portable brk(2) exposed to userspace outside Linux, so this is
// the surrogate described in SPEC_FULL.md §6.
type reservedBreak struct {
	base uintptr
	cur  uintptr
	end  uintptr
}

var defaultSource Source = newReservedBreak()

func newReservedBreak() *reservedBreak {
	base, err := mapAnonymous(reservation)
	if err != nil {
		// Nothing sensible to do if the very first reservation fails;
		// every BreakGrow call will then fail too, which is
		// indistinguishable from genuine exhaustion to callers.
		return &reservedBreak{}
	}
	return &reservedBreak{base: base, cur: base, end: base + reservation}
}

func (r *reservedBreak) BreakGrow(delta int) (uintptr, error) {
	if delta < 0 {
		return 0, fmt.Errorf("osmem: negative break growth %d", delta)
	}
	if r.base == 0 {
		return 0, fmt.Errorf("%w: no break reservation available", ErrExhausted)
	}
	if delta == 0 {
		return r.cur, nil
	}
	want := r.cur + uintptr(delta)
	if want > r.end {
		return 0, fmt.Errorf("%w: break reservation exhausted", ErrExhausted)
	}
	old := r.cur
	r.cur = want
	return old, nil
}

func (r *reservedBreak) MapAnonymous(length int) (uintptr, error) {
	return mapAnonymous(length)
}

func (r *reservedBreak) Unmap(base uintptr, length int) error {
	return unmapRegion(base, length)
}
