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

// Package refimpl is the scalar reference implementation of N-bit
// quantized embedding-bag lookup: the non-JIT path the dispatcher falls
// back to on CPUs without AVX2/AVX-512 (§4.1), and the known-good
// oracle the JIT kernels are checked against (§8 "Equivalence"). It is
// not the focus of this module - spec.md lists it as an external
// collaborator - but both roles require a concrete, correct
// implementation of the exact semantics in §4.4.
package refimpl

import "github.com/launix-de/embjit/internal/kernelsig"

// Index is the constraint shared with the JIT generator: kernels are
// specialized for either 32-bit or 64-bit indices (§2, §6).
type Index interface {
	~int32 | ~int64
}

// Dense runs the non-rowwise-sparse lookup described in §4.4 entirely
// in Go, with no SIMD. Returns false on the first bounds violation
// (§7 kind 3, §8 "Bounds"), matching the JIT kernel's return protocol.
func Dense[IdxT Index](
	sig kernelsig.Signature,
	outputSize, indexSize, dataSize int64,
	input []byte,
	indices []IdxT,
	lengths []int32,
	weights []float32,
	out []float32,
) bool {
	return run(sig, outputSize, indexSize, dataSize, input, indices, lengths, weights, out, nil)
}

// RowwiseSparse runs the rowwise-sparse variant: compressedIndicesTable
// maps an uncompressed row id to its compressed row id, with -1 meaning
// "row absent, skip" (§3 "Index stream", §4.4 "Middle loop").
func RowwiseSparse[IdxT Index](
	sig kernelsig.Signature,
	outputSize, indexSize, uncompressedDataSize int64,
	input []byte,
	indices []IdxT,
	lengths []int32,
	weights []float32,
	out []float32,
	compressedIndicesTable []IdxT,
) bool {
	return run(sig, outputSize, indexSize, uncompressedDataSize, input, indices, lengths, weights, out, compressedIndicesTable)
}

func run[IdxT Index](
	sig kernelsig.Signature,
	outputSize, indexSize, dataSize int64,
	input []byte,
	indices []IdxT,
	lengths []int32,
	weights []float32,
	out []float32,
	compressedIndicesTable []IdxT,
) bool {
	block := sig.BlockSize
	stride := sig.FusedRowStride()
	rowBytes := sig.RowBytes()
	rowwiseSparse := compressedIndicesTable != nil

	var cursor int64 // position in indices/weights
	for bag := int64(0); bag < outputSize; bag++ {
		length := int64(lengths[bag])
		if length < 0 {
			return false
		}
		// Bounds guard A: the whole bag must fit in the remaining index stream.
		if cursor+length > indexSize {
			return false
		}

		dst := out[bag*block : bag*block+block]
		for i := range dst {
			dst[i] = 0
		}

		for n := int64(0); n < length; n++ {
			rawIdx := int64(indices[cursor])
			if rawIdx < 0 || rawIdx >= dataSize {
				return false
			}
			target := rawIdx
			if rowwiseSparse {
				target = int64(compressedIndicesTable[rawIdx])
				if target == -1 {
					cursor++
					continue
				}
			}

			rowOff := target * stride
			row := input[rowOff : rowOff+stride]
			scale := half16ToFloat32(uint16(row[rowBytes]) | uint16(row[rowBytes+1])<<8)
			bias := half16ToFloat32(uint16(row[rowBytes+2]) | uint16(row[rowBytes+3])<<8)

			if sig.HasWeight {
				weightIdx := cursor
				if sig.IsWeightPositional {
					weightIdx = n
				}
				w := weights[weightIdx]
				scale *= w
				bias *= w
			}

			for e := int64(0); e < block; e++ {
				q := extractQuantized(row, sig.BitRate, e)
				dst[e] += bias + scale*float32(q)
			}

			cursor++
		}

		if sig.NormalizeByLengths && length > 0 {
			inv := float32(1.0 / float64(length))
			for i := range dst {
				dst[i] *= inv
			}
		}
		// length == 0: dst stays all-zero, matching §8 "Length-zero bag".
	}

	return cursor == indexSize
}

// extractQuantized reads the e-th packed element out of a row's
// quantized byte prefix, per §3 "Row layout": little-endian within each
// byte, least-significant bit_rate bits hold the earliest element.
func extractQuantized(row []byte, bitRate int, e int64) uint8 {
	elemPerByte := int64(8 / bitRate)
	b := row[e/elemPerByte]
	shift := uint((e % elemPerByte)) * uint(bitRate)
	mask := byte(1<<uint(bitRate)) - 1
	return uint8(b>>shift) & mask
}
