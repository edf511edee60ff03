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

// vex3 emits a 3-byte VEX prefix (C4) for the two-operand and
// three-operand AVX2 forms used throughout vec_avx2.go.
//
//	mmmmm: leading opcode map (1 = 0F, 2 = 0F38, 3 = 0F3A)
//	wbit:  VEX.W
//	reg:   the "reg" field of the VEX.vvvv-independent operand (ModRM.reg)
//	vvvv:  the second source register (inverted by this helper)
//	l256:  VEX.L (true = 256-bit/YMM, false = 128-bit/XMM)
//	pp:    mandatory-prefix encoding (0=none,1=66,2=F3,3=F2)
func vex3(w *Writer, mmmmm byte, wbit bool, reg, rm VReg, vvvv VReg, hasVVVV bool, l256 bool, pp byte) {
	rBit := byte(1)
	if reg >= 8 {
		rBit = 0
	}
	xBit := byte(1) // no SIB.index use in these encodings
	bBit := byte(1)
	if rm >= 8 {
		bBit = 0 // VEX.B (inverted) extends ModRM.rm / the base register
	}
	w.Byte(0xC4)
	w.Byte((rBit << 7) | (xBit << 6) | (bBit << 5) | mmmmm)
	v := byte(0x0F)
	if hasVVVV {
		v = ^byte(vvvv) & 0x0F
	}
	wv := byte(0)
	if wbit {
		wv = 1
	}
	lv := byte(0)
	if l256 {
		lv = 1
	}
	w.Byte((wv << 7) | (v << 3) | (lv << 2) | pp)
}

// evex emits a 4-byte EVEX prefix (62) for the AVX-512 forms in
// vec_avx512.go. zmm selects 512-bit width; k selects the opmask
// register (0 = no masking); z selects zeroing- vs merging-masking.
func evex(w *Writer, mmm byte, wbit bool, reg, rm VReg, vvvv VReg, hasVVVV bool, zmm bool, pp byte, k KReg, zeroing bool) {
	rBit := byte(1)
	if reg >= 16 {
		rBit = 0
	}
	xBit := byte(1)
	bBit := byte(1)
	if rm >= 16 {
		bBit = 0
	}
	rPrime := byte(1)
	if reg >= 16 {
		rPrime = 0
	}
	w.Byte(0x62)
	w.Byte((rBit << 7) | (xBit << 6) | (bBit << 5) | (rPrime << 4) | mmm)
	v := byte(0x0F)
	if hasVVVV {
		v = ^byte(vvvv) & 0x0F
	}
	wv := byte(0)
	if wbit {
		wv = 1
	}
	w.Byte((wv << 7) | (v << 3) | byte(1<<2) | pp)
	vPrime := byte(1)
	if hasVVVV && vvvv >= 16 {
		vPrime = 0
	}
	ll := byte(2) // 10b = 512-bit
	if !zmm {
		ll = 1 // 01b = 256-bit, used for AVX-512VL 256-bit ops when needed
	}
	zb := byte(0)
	if zeroing {
		zb = 1
	}
	w.Byte((zb << 7) | (ll << 5) | (vPrime << 3) | byte(k))
}

func modrmVec(reg, rm VReg) byte {
	return 0xC0 | (byte(reg&7) << 3) | byte(rm&7)
}
