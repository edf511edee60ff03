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

// Package kernelsig describes the shape of one generated embedding-bag
// kernel: every parameter that changes the emitted machine code.
package kernelsig

import "fmt"

// Signature is the compile-time shape of a kernel. IndexWidth and
// RowwiseSparse are not fields here: they are type-level parameters of
// the surrounding CodeCache/Synthesizer instance (one cache per
// (IndexWidth, RowwiseSparse) pair), not part of the per-call shape.
//
// All fields are comparable, so Signature is usable directly as a map
// key - no separate hash function needed.
type Signature struct {
	BitRate            int
	BlockSize          int64
	HasWeight          bool
	IsWeightPositional bool
	NormalizeByLengths bool
	PrefetchDistance   int
}

// Validate checks the invariants every Signature must satisfy before it
// reaches a CodeCache or Synthesizer.
func (s Signature) Validate() error {
	if s.BitRate != 2 && s.BitRate != 4 {
		return fmt.Errorf("kernelsig: bit_rate must be 2 or 4, got %d", s.BitRate)
	}
	if s.BlockSize < 1 {
		return fmt.Errorf("kernelsig: block_size must be >= 1, got %d", s.BlockSize)
	}
	if s.PrefetchDistance < 0 {
		return fmt.Errorf("kernelsig: prefetch_distance must be >= 0, got %d", s.PrefetchDistance)
	}
	return nil
}

// NumElemPer32Bit is how many quantized elements share one 32-bit load
// group on the unpack path: 8 for bit_rate 4, 16 for bit_rate 2.
func (s Signature) NumElemPer32Bit() int64 {
	return 32 / int64(s.BitRate)
}

// ExtractMask is the constant the unpack step ANDs with after spreading
// nibbles into separate bytes: 0x0F0F for bit_rate 4, 0x03030303 for
// bit_rate 2 (§4.4 "Masks").
func (s Signature) ExtractMask() uint32 {
	if s.BitRate == 4 {
		return 0x0F0F
	}
	return 0x03030303
}

// RowBytes is the number of packed quantized bytes per row, before the
// trailing scale/bias half-floats.
func (s Signature) RowBytes() int64 {
	elemPerByte := int64(8 / s.BitRate)
	return (s.BlockSize + elemPerByte - 1) / elemPerByte
}

// FusedRowStride is the total byte stride of one fused row: packed
// quantized data plus a trailing fp16 scale and fp16 bias (§3 "Row
// layout").
func (s Signature) FusedRowStride() int64 {
	const scaleBiasBytes = 2 * 2 // two float16 values
	return s.RowBytes() + scaleBiasBytes
}

// String renders the signature the way a diagnostic line or the
// kernelbench CLI would print it.
func (s Signature) String() string {
	return fmt.Sprintf(
		"bits=%d block=%d weighted=%t positional=%t normalize=%t prefetch=%d",
		s.BitRate, s.BlockSize, s.HasWeight, s.IsWeightPositional, s.NormalizeByLengths, s.PrefetchDistance,
	)
}
