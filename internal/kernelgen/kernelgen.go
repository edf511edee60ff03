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

// Package kernelgen is the KernelSynthesizer of spec §4.4: it turns a
// kernelsig.Signature plus an index width and a rowwise-sparse flag
// into one machine-code function, specialized down to baked-in
// constants for block size, bit rate, weighting, normalization and
// prefetch distance.
//
// The synthesis itself (register planning, bit-unpack arithmetic, the
// outer/middle/inner loop state machine) only exists on amd64
// (synthesize_amd64.go); other architectures get synthesizeNative's
// stub in synthesize_other.go, which always errors so the dispatcher
// falls back to internal/refimpl.
package kernelgen

import (
	"fmt"

	"github.com/launix-de/embjit/internal/cpuinfo"
	"github.com/launix-de/embjit/internal/kernelsig"
)

// CompiledKernel wraps one published kernel body plus enough metadata
// for diagnostics. The call closure hides the calling convention detail
// (internal/jitasm.CallKernel on amd64) from callers.
type CompiledKernel struct {
	Signature     kernelsig.Signature
	IndexWidth    int
	RowwiseSparse bool
	ISAName       string

	call func(args [9]uintptr) bool
}

// Args is the packed argument list a CompiledKernel expects, mirroring
// §6's external interface: the dense variant leaves
// CompressedIndicesTable at its zero value.
type Args struct {
	OutputSize            int64
	IndexSize             int64
	DataSize              int64
	Input                 uintptr
	Indices               uintptr
	Lengths               uintptr
	Weights               uintptr
	Out                   uintptr
	CompressedIndicesTable uintptr
}

// Invoke runs the compiled kernel and reports whether it completed
// without a bounds violation (§4.4 epilogue, §7 kind 3).
func (k *CompiledKernel) Invoke(a Args) bool {
	return k.call([9]uintptr{
		uintptr(a.OutputSize),
		uintptr(a.IndexSize),
		uintptr(a.DataSize),
		a.Input,
		a.Indices,
		a.Lengths,
		a.Weights,
		a.Out,
		a.CompressedIndicesTable,
	})
}

// Synthesize builds a kernel for sig, specialized for the given index
// width (32 or 64) and rowwise-sparse mode, targeting the vector
// extension named by cap. cap must be cpuinfo.AVX2 or cpuinfo.AVX512;
// callers wanting the scalar path should use internal/refimpl directly
// instead of calling Synthesize (§4.1 "external collaborator").
func Synthesize(sig kernelsig.Signature, indexWidth int, rowwiseSparse bool, cap cpuinfo.Capability) (*CompiledKernel, error) {
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("kernelgen: %w", err)
	}
	if indexWidth != 32 && indexWidth != 64 {
		return nil, fmt.Errorf("kernelgen: index_width must be 32 or 64, got %d", indexWidth)
	}
	if cap == cpuinfo.Scalar {
		return nil, fmt.Errorf("kernelgen: no JIT backend for capability %s", cap)
	}
	return synthesizeNative(sig, indexWidth, rowwiseSparse, cap)
}
