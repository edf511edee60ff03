//go:build amd64

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

// Package jitasm (continued): the ISA interface abstracts "one SIMD
// width, one algorithm" (§4.3) - internal/kernelgen writes the
// synthesizer once against this interface and gets both an AVX2 and an
// AVX-512 kernel body out of it, the same way
// internal/compile/author/avx in the wider pack separates "what to
// compute" from "which vector width computes it".
package jitasm

// ISA is everything the kernel synthesizer needs from a vector
// extension: its width, its register count, and the float/int
// operations the inner tile loop is built from. AVX2 and AVX-512 differ
// in vector width, register file size, and how masked load/store and
// predicates are expressed (a materialized all-ones/all-zeros vector
// for AVX2 vs a dedicated k-register for AVX-512) - every other
// difference is hidden behind this interface.
type ISA interface {
	// Name identifies the ISA for diagnostics and for kernelgen's
	// 256-bit vs 512-bit register-plan choice.
	Name() string

	// VLen is the number of float32 lanes per vector register (8 for
	// AVX2's YMM, 16 for AVX-512's ZMM).
	VLen() int64

	// NumVecReg is the number of addressable vector registers (16 for
	// AVX2, 32 for AVX-512) - the register plan in §4.4 must not
	// request more than this.

	NumVecReg() int

	// ZeroVec emits dst = 0 (vxorps).
	ZeroVec(w *Writer, dst VReg)

	// LoadConstBroadcast materializes a 32-bit constant (an extract
	// mask, e.g.) in every lane of dst, using tmp as scratch GPR.
	LoadConstBroadcast(w *Writer, dst VReg, tmp Reg, value uint32)

	// LoadUnaligned emits dst = *(vector*)(base+disp).
	LoadUnaligned(w *Writer, dst VReg, base Reg, disp int32)

	// StoreUnaligned emits *(vector*)(base+disp) = src.
	StoreUnaligned(w *Writer, base Reg, src VReg, disp int32)

	// MaskedLoad loads only the lanes selected by maskReg (an
	// all-ones/all-zeros vector for AVX2, a k-register index for
	// AVX-512 - ISA implementations interpret maskReg accordingly).
	// kernelgen does not call it: its tiles load full vectors from the
	// decode scratch buffer.
	MaskedLoad(w *Writer, dst VReg, base Reg, disp int32, maskReg VReg)

	// MaskedStore stores only the lanes selected by maskReg; kernelgen
	// uses it for the final, partial output tile.
	MaskedStore(w *Writer, base Reg, src VReg, disp int32, maskReg VReg)

	// BroadcastHalfFromMem loads one fp16 value from memory and widens
	// it to a full-width packed-half register ready for Cvtph2ps.
	BroadcastHalfFromMem(w *Writer, dst VReg, base Reg, disp int32)

	// Cvtph2ps converts a packed-half register (lower half-width lanes)
	// to packed float32 in dst.
	Cvtph2ps(w *Writer, dst, src VReg)

	// BroadcastSSFromMem loads one float32 from memory and broadcasts
	// it to every lane of dst, used for the per-index weight.
	BroadcastSSFromMem(w *Writer, dst VReg, base Reg, disp int32)

	// BroadcastSSFromReg broadcasts lane 0 of src to every lane of dst.
	BroadcastSSFromReg(w *Writer, dst, src VReg)

	// MulPS emits dst = a * b (packed float32 multiply).
	MulPS(w *Writer, dst, a, b VReg)

	// AddPS emits dst = a + b (packed float32 add).
	AddPS(w *Writer, dst, a, b VReg)

	// FmaddAccum emits acc = a*b + acc (fused multiply-add, accumulate
	// into acc in place) - the inner tile's core instruction.
	FmaddAccum(w *Writer, acc, a, b VReg)

	// UnpackNibbles zero-extends packed bytes (a quantized row's raw
	// bytes) into one 16-bit lane per byte in dst and ANDs each lane
	// with extractMask. Each byte's high nibble is not moved into a lane
	// of its own.
	UnpackNibbles(w *Writer, dst VReg, base Reg, disp int32, extractMask VReg, tmp Reg)

	// UnpackDibits is UnpackNibbles' bit_rate=2 counterpart: one 32-bit
	// lane per byte, ANDed with extractMask; the byte's other 2-bit
	// fields are not moved into lanes of their own.
	UnpackDibits(w *Writer, dst VReg, base Reg, disp int32, extractMask VReg, tmp Reg)

	// ExtractTile copies the tileIdx-th 128-bit lane of wide into dst,
	// ready for sign-extend + convert. For AVX2 tile 0 is a register
	// move and any other tileIdx a VEXTRACTI128; for AVX-512 it is a
	// VEXTRACTI32X4.
	ExtractTile(w *Writer, dst VReg, wide VReg, tileIdx int)

	// SignExtendByteToInt32 widens a tile of byte-sized unpacked
	// elements to int32 lanes (Pmovsxbd).
	SignExtendByteToInt32(w *Writer, dst, src VReg)

	// Cvtdq2ps converts packed int32 lanes to packed float32.
	Cvtdq2ps(w *Writer, dst, src VReg)

	// MaskForRemainder materializes the tail mask for a final partial
	// tile of `remaining` valid lanes (0 < remaining < VLen). AVX-512
	// builds it directly in a k-register from tmp, an ordinary GPR;
	// AVX2 has no per-lane immediate load, so it stages the pattern
	// through the base+disp scratch memory the caller owns (tmp is
	// still used as the GPR that carries each staged dword) before
	// loading it back as a vector.
	MaskForRemainder(w *Writer, dst VReg, base Reg, disp int32, tmp Reg, remaining int64)

	// ShiftLeftDwordImm emits dst = src << imm (logical, per dword lane).
	ShiftLeftDwordImm(w *Writer, dst, src VReg, imm byte)

	// ShiftRightArithDwordImm emits dst = src >> imm (arithmetic, per
	// dword lane) - paired with ShiftLeftDwordImm this pulls one signed
	// byte lane out of a packed dword and sign-extends it across the
	// lane in two instructions, the bit_rate=2 tile-distribution step.
	ShiftRightArithDwordImm(w *Writer, dst, src VReg, imm byte)
}
