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

// Package cpuinfo is the CPU-capability oracle the dispatcher consults
// before choosing a JIT backend. Spec §1 treats this as an external
// collaborator ("a boolean capability oracle for 256-bit / 512-bit SIMD
// availability"); this package is the concrete implementation of that
// narrow interface, built on golang.org/x/sys/cpu the way
// janpfeifer-go-highway's hwy/dispatch_amd64.go does.
package cpuinfo

import (
	"errors"
	"sync"

	"golang.org/x/sys/cpu"
)

// Capability is the best SIMD width the JIT can target on this CPU.
type Capability int

const (
	// Scalar means neither AVX2 nor AVX-512 is usable; the dispatcher
	// must fall back to the reference implementation.
	Scalar Capability = iota
	// AVX2 means 256-bit vector instructions are available.
	AVX2
	// AVX512 means 512-bit vector instructions (with mask registers)
	// are available.
	AVX512
)

func (c Capability) String() string {
	switch c {
	case AVX512:
		return "avx512"
	case AVX2:
		return "avx2"
	default:
		return "scalar"
	}
}

var (
	once   sync.Once
	cached Capability
	errd   error
)

// Detect returns the best Capability this process can target, memoized
// after the first call (the spec's "lazily initialized holder" design
// note). On non-x86 builds the vector checks are always false, so this
// returns Scalar there, or the initialization error where
// golang.org/x/sys/cpu cannot probe the platform at all.
func Detect() (Capability, error) {
	once.Do(func() {
		cached, errd = detect()
	})
	return cached, errd
}

// detect wraps golang.org/x/sys/cpu. golang.org/x/sys/cpu runs its probe
// in a package init and sets cpu.Initialized on platforms it can probe;
// a false value here is the "CPU-info initialization failure" of §7
// kind 1, surfaced to the factory's caller as a domain error rather than
// silently downgrading to scalar.
func detect() (Capability, error) {
	if !cpu.Initialized {
		return Scalar, errors.New("cpuinfo: CPU feature detection unavailable on this platform")
	}
	if hasAVX512() {
		return AVX512, nil
	}
	if hasAVX2() {
		return AVX2, nil
	}
	return Scalar, nil
}
