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

// Reg is a general-purpose register encoding (0-15), same numbering as
// scm/jit_emit_amd64.go's Reg, minus the XMM aliasing that file packed
// into the same type - vector registers get their own VReg type here
// because AVX-512 needs 32 of them, more than fit alongside 16 GPRs in
// one byte-sized space.
type Reg byte

const (
	RAX Reg = 0
	RCX Reg = 1
	RDX Reg = 2
	RBX Reg = 3
	RSP Reg = 4
	RBP Reg = 5
	RSI Reg = 6
	RDI Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13
	R14 Reg = 14
	R15 Reg = 15
)

// VReg is a vector register encoding, 0-15 for YMM (AVX2) or 0-31 for
// ZMM (AVX-512).
type VReg byte

// KReg is an AVX-512 mask register, k0-k7. k0 is reserved (it reads as
// "no masking" in most encodings) so ISA implementations avoid handing
// it out as a working mask.
type KReg byte

const (
	K0 KReg = 0
	K1 KReg = 1
	K2 KReg = 2
	K3 KReg = 3
)

// Condition codes for Jcc, shared with CmpRegReg/CmpRegImm32.
const (
	CcE  byte = 0x04 // ZF=1
	CcNE byte = 0x05 // ZF=0
	CcL  byte = 0x0C // SF!=OF
	CcGE byte = 0x0D // SF=OF
	CcLE byte = 0x0E // ZF=1 || SF!=OF
	CcG  byte = 0x0F // ZF=0 && SF=OF
	CcB  byte = 0x02 // unsigned <
	CcAE byte = 0x03 // unsigned >=
	CcA  byte = 0x07 // unsigned >
	CcS  byte = 0x08 // SF=1 (negative)
	CcNS byte = 0x09 // SF=0
)

// rex builds a REX prefix. w selects 64-bit operand size; r/x/b extend
// the ModRM.reg, SIB.index and ModRM.rm/SIB.base fields respectively.
func rex(w, r, x, b bool) byte {
	p := byte(0x40)
	if w {
		p |= 0x08
	}
	if r {
		p |= 0x04
	}
	if x {
		p |= 0x02
	}
	if b {
		p |= 0x01
	}
	return p
}

func modrmReg(reg, rm Reg) byte {
	return 0xC0 | (byte(reg&7) << 3) | byte(rm&7)
}

// MovRegReg emits a 64-bit MOV dst, src.
func (w *Writer) MovRegReg(dst, src Reg) {
	w.Byte(rex(true, src >= 8, false, dst >= 8))
	w.Byte(0x89)
	w.Byte(modrmReg(src, dst))
}

// MovRegImm64 emits MOV dst, imm64.
func (w *Writer) MovRegImm64(dst Reg, imm uint64) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0xB8 | byte(dst&7))
	w.U64(imm)
}

// MovRegImm32 emits a zero-extending MOV dst, imm32 (32-bit form - the
// upper 32 bits of dst are zeroed by the processor, no REX.W needed).
func (w *Writer) MovRegImm32(dst Reg, imm uint32) {
	if dst >= 8 {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0xB8 | byte(dst&7))
	w.U32(imm)
}

// memOperand emits the ModRM(+SIB)(+disp) suffix for reg OP [base+disp],
// shared by every load/store/lea-style instruction below.
func (w *Writer) memOperand(reg, base Reg, disp int32) {
	baseEnc := byte(base & 7)
	regEnc := byte(reg & 7)
	switch {
	case disp == 0 && baseEnc != 5:
		w.Byte((regEnc << 3) | baseEnc)
		if baseEnc == 4 {
			w.Byte(0x24)
		}
	case disp >= -128 && disp <= 127:
		w.Byte(0x40 | (regEnc << 3) | baseEnc)
		if baseEnc == 4 {
			w.Byte(0x24)
		}
		w.Byte(byte(int8(disp)))
	default:
		w.Byte(0x80 | (regEnc << 3) | baseEnc)
		if baseEnc == 4 {
			w.Byte(0x24)
		}
		w.U32(uint32(disp))
	}
}

// MovLoad emits MOV dst, [base+disp] (64-bit load).
func (w *Writer) MovLoad(dst, base Reg, disp int32) {
	w.Byte(rex(true, dst >= 8, false, base >= 8))
	w.Byte(0x8B)
	w.memOperand(dst, base, disp)
}

// MovLoad32 emits a zero-extending 32-bit load, used for GP counters
// (lengths, bag sizes) that never need the high 32 bits sign-extended.
func (w *Writer) MovLoad32(dst, base Reg, disp int32) {
	if dst >= 8 || base >= 8 {
		w.Byte(rex(false, dst >= 8, false, base >= 8))
	}
	w.Byte(0x8B)
	w.memOperand(dst, base, disp)
}

// MovStore emits MOV [base+disp], src (64-bit store).
func (w *Writer) MovStore(base, src Reg, disp int32) {
	w.Byte(rex(true, src >= 8, false, base >= 8))
	w.Byte(0x89)
	w.memOperand(src, base, disp)
}

// Lea emits LEA dst, [base+disp].
func (w *Writer) Lea(dst, base Reg, disp int32) {
	w.Byte(rex(true, dst >= 8, false, base >= 8))
	w.Byte(0x8D)
	w.memOperand(dst, base, disp)
}

// LeaScaled emits LEA dst, [base + index*scale] - the address-of-row
// computation (row index times stride) the middle loop needs every
// iteration. scale must be 1, 2, 4 or 8.
func (w *Writer) LeaScaled(dst, base, index Reg, scale byte) {
	var ss byte
	switch scale {
	case 1:
		ss = 0
	case 2:
		ss = 1
	case 4:
		ss = 2
	case 8:
		ss = 3
	default:
		panic("jitasm: invalid SIB scale")
	}
	w.Byte(rex(true, dst >= 8, index >= 8, base >= 8))
	w.Byte(0x8D)
	w.Byte(0x04 | (byte(dst&7) << 3))
	w.Byte((ss << 6) | (byte(index&7) << 3) | byte(base&7))
}

// ImulRegRegImm32 emits IMUL dst, src, imm32 (three-operand 64-bit
// signed multiply) - the row-offset computation (target index *
// fused-row stride) in the middle loop.
func (w *Writer) ImulRegRegImm32(dst, src Reg, imm int32) {
	w.Byte(rex(true, dst >= 8, false, src >= 8))
	w.Byte(0x69)
	w.Byte(modrmReg(dst, src))
	w.U32(uint32(imm))
}

// PushReg emits PUSH dst (64-bit).
func (w *Writer) PushReg(dst Reg) {
	if dst >= 8 {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0x50 | byte(dst&7))
}

// PopReg emits POP dst (64-bit).
func (w *Writer) PopReg(dst Reg) {
	if dst >= 8 {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0x58 | byte(dst&7))
}

func (w *Writer) aluRegReg(opcode byte, dst, src Reg) {
	w.Byte(rex(true, src >= 8, false, dst >= 8))
	w.Byte(opcode)
	w.Byte(modrmReg(src, dst))
}

// AddRegReg emits ADD dst, src (64-bit).
func (w *Writer) AddRegReg(dst, src Reg) { w.aluRegReg(0x01, dst, src) }

// SubRegReg emits SUB dst, src (64-bit).
func (w *Writer) SubRegReg(dst, src Reg) { w.aluRegReg(0x29, dst, src) }

// CmpRegReg emits CMP dst, src (64-bit).
func (w *Writer) CmpRegReg(dst, src Reg) { w.aluRegReg(0x39, dst, src) }

// CmpRegImm32 emits CMP dst, imm32.
func (w *Writer) CmpRegImm32(dst Reg, imm int32) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0x81)
	w.Byte(0xF8 | byte(dst&7))
	w.U32(uint32(imm))
}

// TestRegReg emits TEST dst, src (64-bit) - used for the zero-length
// check ahead of the division that computes vlen_inv.
func (w *Writer) TestRegReg(dst, src Reg) { w.aluRegReg(0x85, dst, src) }

// IncReg emits INC dst (64-bit) - the per-index cursor increment.
func (w *Writer) IncReg(dst Reg) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0xFF)
	w.Byte(0xC0 | byte(dst&7))
}

// DecReg emits DEC dst (64-bit) - the outer/middle loop's
// decrement-and-test-negative counters (§4.4 "Outer loop", "Middle loop").
func (w *Writer) DecReg(dst Reg) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0xFF)
	w.Byte(0xC8 | byte(dst&7))
}

// AddRegImm32 emits ADD dst, imm32.
func (w *Writer) AddRegImm32(dst Reg, imm int32) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0x81)
	w.Byte(0xC0 | byte(dst&7))
	w.U32(uint32(imm))
}

// SubRegImm32 emits SUB dst, imm32 - used to open the spill frame (§4.4
// "Cursor reset for reuse" needs a stack slot when a row spans more
// than one unroll group or weights are positional).
func (w *Writer) SubRegImm32(dst Reg, imm int32) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0x81)
	w.Byte(0xE8 | byte(dst&7))
	w.U32(uint32(imm))
}

// Jcc emits a conditional jump with a rel32 fixup to labelID.
func (w *Writer) Jcc(cc byte, labelID int) {
	w.Bytes(0x0F, 0x80|cc)
	w.U32(0)
	w.AddFixup(labelID, 4, true)
}

// Jmp emits an unconditional JMP rel32 to labelID.
func (w *Writer) Jmp(labelID int) {
	w.Byte(0xE9)
	w.U32(0)
	w.AddFixup(labelID, 4, true)
}

// Ret emits RET.
func (w *Writer) Ret() { w.Byte(0xC3) }

// Cvtsi2ss emits CVTSI2SS xmmDst, gprSrc (int64 -> scalar float32),
// used once per bag to seed vlen_inv's reciprocal-length computation.
func (w *Writer) Cvtsi2ss(xmmDst VReg, gprSrc Reg) {
	w.Byte(0xF3)
	w.Byte(rex(true, byte(xmmDst) >= 8, false, gprSrc >= 8))
	w.Bytes(0x0F, 0x2A)
	w.Byte(modrmReg(Reg(xmmDst), gprSrc))
}

// Divss emits DIVSS xmmDst, xmmSrc (scalar float32 divide) - computes
// 1.0/length for normalize_by_lengths.
func (w *Writer) Divss(dst, src VReg) {
	w.Byte(0xF3)
	if dst >= 8 || src >= 8 {
		w.Byte(rex(false, dst >= 8, false, src >= 8))
	}
	w.Bytes(0x0F, 0x5E)
	w.Byte(modrmReg(Reg(dst), Reg(src)))
}

// MovLoadByte emits MOVZX dst, byte[base+disp] - the scalar quantized-
// element decode path loads one packed byte at a time this way before
// shifting and masking out its bit_rate-wide field.
func (w *Writer) MovLoadByte(dst, base Reg, disp int32) {
	if dst >= 8 || base >= 8 {
		w.Byte(rex(false, dst >= 8, false, base >= 8))
	}
	w.Bytes(0x0F, 0xB6)
	w.memOperand(dst, base, disp)
}

// MovStore32 emits a 32-bit MOV [base+disp], src - stores one decoded
// int32 element into the scratch buffer later reloaded as a vector.
func (w *Writer) MovStore32(base, src Reg, disp int32) {
	if src >= 8 || base >= 8 {
		w.Byte(rex(false, src >= 8, false, base >= 8))
	}
	w.Byte(0x89)
	w.memOperand(src, base, disp)
}

// ShrRegImm8 emits SHR dst, imm8 (logical right shift, 64-bit).
func (w *Writer) ShrRegImm8(dst Reg, imm byte) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0xC1)
	w.Byte(0xE8 | byte(dst&7))
	w.Byte(imm)
}

// AndRegImm32 emits AND dst, imm32.
func (w *Writer) AndRegImm32(dst Reg, imm int32) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0x81)
	w.Byte(0xE0 | byte(dst&7))
	w.U32(uint32(imm))
}

// Prefetch emits PREFETCHT0 [base+disp], the one SIMD-adjacent
// instruction that touches ordinary GPR addressing instead of a vector
// register, so it lives alongside the GP emitters.
func (w *Writer) Prefetch(base Reg, disp int32) {
	if base >= 8 {
		w.Byte(rex(false, false, false, true))
	}
	w.Bytes(0x0F, 0x18)
	w.memOperand(Reg(1), base, disp) // /1 = PREFETCHT0
}
