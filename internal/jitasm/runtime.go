/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package jitasm

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"github.com/dc0d/onexit"
	"github.com/docker/go-units"
	"github.com/google/uuid"
)

// execPage is one mmap'd region holding a single published kernel body.
// Generalizes scm/jit.go's execBuf: that type tracked one region created
// and freed per specialization; here regions are never individually
// freed (§5 "kernels, once JIT-compiled, live for the remainder of the
// process"), only released in bulk at process teardown.
type execPage struct {
	ptr unsafe.Pointer
	n   int
}

var (
	pagesMu    sync.Mutex
	pages      []*execPage
	teardownRg sync.Once
)

// Publish copies code into a fresh RW page, flips it to RX, and returns
// an unsafe.Pointer that kernelgen passes to CallKernel. The whole
// mmap/copy/mprotect sequence runs under pagesMu, so publication is
// serialized process-wide. The returned pointer stays valid until
// process exit; Runtime never reuses or unmaps a published page.
func Publish(code []byte) (unsafe.Pointer, error) {
	attempt := uuid.NewString()

	if len(code) == 0 {
		err := fmt.Errorf("jitasm: cannot publish empty code")
		reportEmissionFailure(attempt, err)
		return nil, err
	}
	registerTeardown()

	pagesMu.Lock()
	defer pagesMu.Unlock()

	page := syscall.Getpagesize()
	n := (len(code) + page - 1) &^ (page - 1)
	buf, err := syscall.Mmap(-1, 0, n, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_PRIVATE|syscall.MAP_ANON)
	if err != nil {
		err = fmt.Errorf("jitasm: mmap %d bytes: %w", n, err)
		reportEmissionFailure(attempt, err)
		return nil, err
	}
	copy(buf, code)
	if err := syscall.Mprotect(buf, syscall.PROT_READ|syscall.PROT_EXEC); err != nil {
		syscall.Munmap(buf)
		err = fmt.Errorf("jitasm: mprotect rx: %w", err)
		reportEmissionFailure(attempt, err)
		return nil, err
	}

	ep := &execPage{ptr: unsafe.Pointer(&buf[0]), n: n}
	pages = append(pages, ep)

	fmt.Fprintf(os.Stderr, "jitasm: [%s] published kernel (%s)\n", attempt, units.BytesSize(float64(len(code))))
	return ep.ptr, nil
}

// reportEmissionFailure writes the one-line stderr diagnostic spec §7
// kind 2 calls for, tagged with attempt so repeated failures for the
// same signature (the dispatcher retries synthesis on every cache miss,
// never on a cache hit) can be correlated in a log stream.
func reportEmissionFailure(attempt string, err error) {
	fmt.Fprintf(os.Stderr, "jitasm: [%s] emission failed: %v\n", attempt, err)
}

// registerTeardown arranges for every published page to be unmapped
// once, at process exit, so a long-running benchmark process doesn't
// look like it's leaking pages to external tooling. Kernels are never
// reclaimed before that point (§5).
func registerTeardown() {
	teardownRg.Do(func() {
		onexit.Register(func() {
			pagesMu.Lock()
			defer pagesMu.Unlock()
			for _, ep := range pages {
				buf := (*[1 << 30]byte)(ep.ptr)[:ep.n:ep.n]
				syscall.Munmap(buf)
			}
			pages = nil
		})
	})
}

// PageCount reports how many executable pages have been published, for
// diagnostics only.
func PageCount() int {
	pagesMu.Lock()
	defer pagesMu.Unlock()
	return len(pages)
}
