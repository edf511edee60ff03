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

package jitasm

// AVX2ISA implements ISA over 256-bit YMM registers. AVX2 has no
// dedicated mask register, so masked load/store (vmaskmovps) and the
// tail mask (MaskForRemainder) both work with an ordinary vector
// register holding -1 (lane kept) or 0 (lane dropped) per element -
// maskReg in every method below is that kind of register, not a KReg.
type AVX2ISA struct{}

func (AVX2ISA) Name() string     { return "avx2" }
func (AVX2ISA) VLen() int64      { return 8 }
func (AVX2ISA) NumVecReg() int   { return 16 }

func (AVX2ISA) ZeroVec(w *Writer, dst VReg) {
	// VPXOR ymm,ymm,ymm (self-XOR zeroing idiom)
	vex3(w, 1, false, dst, dst, dst, true, true, 1)
	w.Byte(0xEF)
	w.Byte(modrmVec(dst, dst))
}

func (AVX2ISA) LoadConstBroadcast(w *Writer, dst VReg, tmp Reg, value uint32) {
	w.MovRegImm32(tmp, value)
	// VMOVD xmm(dst), tmp
	vex3(w, 1, false, dst, VReg(tmp), 0, false, false, 1)
	w.Byte(0x6E)
	w.Byte(modrmReg(Reg(dst), tmp))
	// VPBROADCASTD ymm(dst), xmm(dst)
	vex3(w, 2, false, dst, dst, 0, false, true, 1)
	w.Byte(0x58)
	w.Byte(modrmVec(dst, dst))
}

func (AVX2ISA) LoadUnaligned(w *Writer, dst VReg, base Reg, disp int32) {
	vex3(w, 1, false, dst, VReg(base), 0, false, true, 0)
	w.Byte(0x10) // VMOVUPS ymm, m256
	w.memOperand(Reg(dst), base, disp)
}

func (AVX2ISA) StoreUnaligned(w *Writer, base Reg, src VReg, disp int32) {
	vex3(w, 1, false, src, VReg(base), 0, false, true, 0)
	w.Byte(0x11) // VMOVUPS m256, ymm
	w.memOperand(Reg(src), base, disp)
}

func (AVX2ISA) MaskedLoad(w *Writer, dst VReg, base Reg, disp int32, maskReg VReg) {
	// VMASKMOVPS dst, maskReg, [base+disp]
	vex3(w, 2, false, dst, VReg(base), maskReg, true, true, 1)
	w.Byte(0x2C)
	w.memOperand(Reg(dst), base, disp)
}

func (AVX2ISA) MaskedStore(w *Writer, base Reg, src VReg, disp int32, maskReg VReg) {
	// VMASKMOVPS [base+disp], maskReg, src
	vex3(w, 2, false, src, VReg(base), maskReg, true, true, 1)
	w.Byte(0x2E)
	w.memOperand(Reg(src), base, disp)
}

func (AVX2ISA) BroadcastHalfFromMem(w *Writer, dst VReg, base Reg, disp int32) {
	// VPBROADCASTW xmm(dst), [base+disp]
	vex3(w, 2, false, dst, VReg(base), 0, false, false, 1)
	w.Byte(0x79)
	w.memOperand(Reg(dst), base, disp)
}

func (AVX2ISA) Cvtph2ps(w *Writer, dst, src VReg) {
	// VCVTPH2PS ymm(dst), xmm(src)
	vex3(w, 2, false, dst, src, 0, false, true, 1)
	w.Byte(0x13)
	w.Byte(modrmVec(dst, src))
}

func (AVX2ISA) BroadcastSSFromMem(w *Writer, dst VReg, base Reg, disp int32) {
	vex3(w, 2, false, dst, VReg(base), 0, false, true, 1)
	w.Byte(0x18) // VBROADCASTSS ymm, m32
	w.memOperand(Reg(dst), base, disp)
}

func (AVX2ISA) BroadcastSSFromReg(w *Writer, dst, src VReg) {
	vex3(w, 2, false, dst, src, 0, false, true, 1)
	w.Byte(0x18) // VBROADCASTSS ymm, xmm
	w.Byte(modrmVec(dst, src))
}

func (AVX2ISA) MulPS(w *Writer, dst, a, b VReg) {
	vex3(w, 1, false, dst, b, a, true, true, 0)
	w.Byte(0x59) // VMULPS
	w.Byte(modrmVec(dst, b))
}

func (AVX2ISA) AddPS(w *Writer, dst, a, b VReg) {
	vex3(w, 1, false, dst, b, a, true, true, 0)
	w.Byte(0x58) // VADDPS
	w.Byte(modrmVec(dst, b))
}

func (AVX2ISA) FmaddAccum(w *Writer, acc, a, b VReg) {
	// VFMADD231PS acc, a, b : acc = a*b + acc
	vex3(w, 2, false, acc, b, a, true, true, 1)
	w.Byte(0xB8)
	w.Byte(modrmVec(acc, b))
}

func (a2 AVX2ISA) UnpackNibbles(w *Writer, dst VReg, base Reg, disp int32, extractMask VReg, tmp Reg) {
	// VPMOVZXBW ymm(dst), [base+disp] : zero-extend 16 packed bytes to
	// 16 word lanes (low nibble stays at bit 0-3 of each word).
	vex3(w, 2, false, dst, VReg(base), 0, false, true, 1)
	w.Byte(0x30)
	w.memOperand(Reg(dst), base, disp)
	// AND with extractMask; each byte's high nibble is not moved into a
	// lane of its own.
	a2.andVec(w, dst, dst, extractMask)
}

func (a2 AVX2ISA) UnpackDibits(w *Writer, dst VReg, base Reg, disp int32, extractMask VReg, tmp Reg) {
	// VPMOVZXBD ymm(dst), [base+disp] : zero-extend 8 packed bytes to
	// 8 dword lanes, then AND each with extractMask. No shift is applied,
	// so only the bits extractMask selects from each byte remain.
	vex3(w, 2, false, dst, VReg(base), 0, false, true, 1)
	w.Byte(0x31)
	w.memOperand(Reg(dst), base, disp)
	a2.andVec(w, dst, dst, extractMask)
}

func (AVX2ISA) andVec(w *Writer, dst, a, b VReg) {
	vex3(w, 1, false, dst, b, a, true, true, 1)
	w.Byte(0xDB) // VPAND
	w.Byte(modrmVec(dst, b))
}

func (AVX2ISA) ExtractTile(w *Writer, dst VReg, wide VReg, tileIdx int) {
	if tileIdx == 0 {
		// low 128 bits already line up; a move suffices.
		vex3(w, 1, false, dst, wide, 0, false, true, 0)
		w.Byte(0x28) // VMOVAPS
		w.Byte(modrmVec(dst, wide))
		return
	}
	// VEXTRACTI128 xmm(dst), ymm(wide), imm8=tileIdx
	vex3(w, 3, false, wide, dst, 0, false, true, 1)
	w.Byte(0x39)
	w.Byte(modrmVec(wide, dst))
	w.Byte(byte(tileIdx))
}

func (AVX2ISA) SignExtendByteToInt32(w *Writer, dst, src VReg) {
	// VPMOVSXBD ymm(dst), xmm(src)
	vex3(w, 2, false, dst, src, 0, false, true, 1)
	w.Byte(0x21)
	w.Byte(modrmVec(dst, src))
}

func (AVX2ISA) Cvtdq2ps(w *Writer, dst, src VReg) {
	vex3(w, 1, false, dst, src, 0, false, true, 0)
	w.Byte(0x5B) // VCVTDQ2PS
	w.Byte(modrmVec(dst, src))
}

// MaskForRemainder has no per-lane immediate load to build an arbitrary
// -1/0 pattern directly in a register, so it stages the eight dwords
// through the caller's base+disp scratch memory (tmp carries each one)
// and loads the result back as one vector - the same scalar-decode-
// then-vector-load idiom the inner tile loop uses for the quantized
// elements themselves.
func (a2 AVX2ISA) MaskForRemainder(w *Writer, dst VReg, base Reg, disp int32, tmp Reg, remaining int64) {
	for i := int64(0); i < 8; i++ {
		var v uint32
		if i < remaining {
			v = 0xFFFFFFFF
		}
		w.MovRegImm32(tmp, v)
		w.MovStore32(base, tmp, disp+int32(i*4))
	}
	a2.LoadUnaligned(w, dst, base, disp)
}

// ShiftLeftDwordImm emits VPSLLD ymm(dst), ymm(src), imm8.
func (AVX2ISA) ShiftLeftDwordImm(w *Writer, dst, src VReg, imm byte) {
	vex3(w, 1, false, 6, src, dst, true, true, 1)
	w.Byte(0x72)
	w.Byte(modrmVec(6, src))
	w.Byte(imm)
}

// ShiftRightArithDwordImm emits VPSRAD ymm(dst), ymm(src), imm8 - the
// bit_rate=2 tile distribution step: shift the target byte lane into
// the top of each dword with ShiftLeftDwordImm, then arithmetic-shift
// it back down by 24 to sign-extend it across the whole lane.
func (AVX2ISA) ShiftRightArithDwordImm(w *Writer, dst, src VReg, imm byte) {
	vex3(w, 1, false, 4, src, dst, true, true, 1)
	w.Byte(0x72)
	w.Byte(modrmVec(4, src))
	w.Byte(imm)
}
