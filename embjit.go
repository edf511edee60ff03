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

// Package embjit is a just-in-time code generator for N-bit quantized
// embedding-bag (sparse-length-sum) kernels: given a Signature
// describing how an embedding table is laid out, it synthesizes
// AVX2/AVX-512 machine code that decodes, dequantizes, optionally
// weights, sums and optionally length-normalizes rows for a batch of
// variable-length bags, falling back to a scalar implementation on CPUs
// without either instruction set.
//
// The public surface is deliberately thin - MakeKernel and
// MakeKernelRowwiseSparse - because the interesting work (register
// planning, bit-unpack arithmetic, the code cache) lives in this
// module's internal packages and has no reason to leak into the API.
package embjit

import (
	"github.com/launix-de/embjit/internal/dispatcher"
	"github.com/launix-de/embjit/internal/kernelsig"
)

// Signature enumerates every parameter that changes the emitted code
// for one kernel: bit rate, block size, weighting and normalization
// options, and prefetch distance. Index width and the rowwise-sparse
// flag are not fields here - they're carried by which of MakeKernel's
// or MakeKernelRowwiseSparse's type parameters and functions a caller
// picks, not by Signature itself.
type Signature = kernelsig.Signature

// Index constrains the index-array element type a Kernel or
// SparseKernel is specialized for.
type Index interface {
	~int32 | ~int64
}

// Kernel is a dense (non-rowwise-sparse) compiled lookup. Run decodes
// and sums the bags described by lengths/indices into out, returning
// false (with some prefix of bags already written) on the first
// out-of-range index or length-sum mismatch.
type Kernel[IdxT Index] interface {
	Run(outputSize, indexSize, dataSize int64, input []byte, indices []IdxT, lengths []int32, weights []float32, out []float32) bool
}

// SparseKernel is the rowwise-sparse variant: compressedIndicesTable
// maps an uncompressed row id to its compressed id, with -1 meaning
// "row absent, skip".
type SparseKernel[IdxT Index] interface {
	Run(outputSize, indexSize, uncompressedDataSize int64, input []byte, indices []IdxT, lengths []int32, weights []float32, out []float32, compressedIndicesTable []IdxT) bool
}

// Option configures a MakeKernel or MakeKernelRowwiseSparse call.
type Option = dispatcher.Option

// WithForceScalar makes the factory always return the scalar reference
// implementation, bypassing CPU-capability detection and JIT synthesis
// entirely - for tests, and for isolating a suspected codegen bug from
// a dispatcher-selection bug.
func WithForceScalar() Option {
	return dispatcher.WithForceScalar()
}

// MakeKernel resolves sig to a dense Kernel specialized for IdxT,
// selecting AVX-512 over AVX2 over the scalar fallback depending on
// what the host CPU and synthesis both support. Two calls with equal
// signatures (and equal IdxT, via the same CodeCache) return kernels
// backed by the same published function.
func MakeKernel[IdxT Index](sig Signature, opts ...Option) (Kernel[IdxT], error) {
	return dispatcher.MakeKernel[IdxT](sig, opts...)
}

// MakeKernelRowwiseSparse resolves sig to a rowwise-sparse SparseKernel
// specialized for IdxT, with the same backend-selection rule as
// MakeKernel.
func MakeKernelRowwiseSparse[IdxT Index](sig Signature, opts ...Option) (SparseKernel[IdxT], error) {
	return dispatcher.MakeKernelRowwiseSparse[IdxT](sig, opts...)
}
