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

package kernelgen

import (
	"fmt"

	"github.com/launix-de/embjit/internal/cpuinfo"
	"github.com/launix-de/embjit/internal/jitasm"
	"github.com/launix-de/embjit/internal/kernelsig"
)

// GP register roles, fixed for every generated kernel (§4.4 "Emitted
// function signature"). The body is generated against the System V
// AMD64 calling convention rather than Go's internal ABI: jitasm.Writer
// has no notion of Go's runtime register conventions, and a kernel body
// is invoked through jitasm.CallKernel's hand-written trampoline, not
// cast to a Go func value. R14 and R15 are never touched by any kernel
// body: Go's ABIInternal reserves R14 for the goroutine pointer, and
// leaving both alone is a deliberate safety margin against a future
// change that calls into these bodies more directly.
const (
	rOutputSize = jitasm.RDI // bag counter, decremented
	rDataSize   = jitasm.RSI // constant
	rIndicesCur = jitasm.RDX // advances within a bag
	rInputBase  = jitasm.RCX // constant
	rLengthsCur = jitasm.R8  // advances once per bag
	rWeightsCur = jitasm.R9  // advances within a bag (meaningless if !HasWeight)
	rOutCur     = jitasm.R10 // advances once per bag
	rScratch1   = jitasm.R11
	rIndicesEnd = jitasm.RAX // constant until the epilogue
	rCompressed = jitasm.RBX // constant, rowwise-sparse only (callee-saved)
	rLengthLeft = jitasm.R12 // per-pass countdown within the current bag
	rScratch2   = jitasm.R13
)

// synthesizeNative builds one kernel body and publishes it.
func synthesizeNative(sig kernelsig.Signature, indexWidth int, rowwiseSparse bool, cap cpuinfo.Capability) (kernel *CompiledKernel, err error) {
	var isa jitasm.ISA
	switch cap {
	case cpuinfo.AVX512:
		isa = jitasm.AVX512ISA{}
	case cpuinfo.AVX2:
		isa = jitasm.AVX2ISA{}
	default:
		return nil, fmt.Errorf("kernelgen: unsupported capability %s", cap)
	}

	defer func() {
		if r := recover(); r != nil {
			kernel, err = nil, fmt.Errorf("kernelgen: synthesis failed: %v", r)
		}
	}()

	c := newKernelCtx(sig, indexWidth, rowwiseSparse, isa)
	code := c.emit()

	fn, pubErr := jitasm.Publish(code)
	if pubErr != nil {
		return nil, fmt.Errorf("kernelgen: %w", pubErr)
	}
	return &CompiledKernel{
		Signature:     sig,
		IndexWidth:    indexWidth,
		RowwiseSparse: rowwiseSparse,
		ISAName:       isa.Name(),
		call: func(args [9]uintptr) bool {
			return jitasm.CallKernel(fn, args)
		},
	}, nil
}

// kernelCtx carries everything the emission pass needs: the writer, the
// chosen ISA, the per-signature compile-time constants, and the vector
// register assignment computed once up front (§4.4 "Register plan").
type kernelCtx struct {
	w   *jitasm.Writer
	isa jitasm.ISA
	sig kernelsig.Signature

	indexWidth    int
	idxElemSize   int32
	rowwiseSparse bool
	isa256        bool

	vlen        int64
	tilesPerRow int64
	unroll      int64
	numGroups   int64

	blockRemainder bool
	remainderElems int64

	// vector register assignment (scale, bias, temp, w-if-has_weight,
	// mask-if-256-bit-remainder, vlen_inv, then one accumulator per
	// unrolled tile). §4.4's plan additionally reserves src/temp2/
	// extract_mask/mask32 registers for a packed-nibble/dibit SIMD
	// unpack; the decode path below uses a scalar GPR prelude instead
	// (see emit's doc comment and DESIGN.md), so those four registers
	// are never requested here - reserving them would only have shrunk
	// the computed unroll factor for no benefit.
	vScale, vBias, vTemp, vW jitasm.VReg
	vMask, vVlenInv          jitasm.VReg
	vTileBase                jitasm.VReg

	// spill-frame offsets (always allocated: the decode scratch buffer
	// is needed regardless of unroll group count).
	spillIndicesBase int32
	spillWeightsBase int32
	spillWeightsOrig int32
	spillDecodeBase  int32
	spillFrameSize   int32
}

func ceilDiv(a, b int64) int64 { return (a + b - 1) / b }

func newKernelCtx(sig kernelsig.Signature, indexWidth int, rowwiseSparse bool, isa jitasm.ISA) *kernelCtx {
	c := &kernelCtx{
		w:             jitasm.NewWriter(),
		isa:           isa,
		sig:           sig,
		indexWidth:    indexWidth,
		rowwiseSparse: rowwiseSparse,
		isa256:        isa.Name() == "avx2",
	}
	if indexWidth == 32 {
		c.idxElemSize = 4
	} else {
		c.idxElemSize = 8
	}

	c.vlen = isa.VLen()
	c.tilesPerRow = ceilDiv(sig.BlockSize, c.vlen)
	c.blockRemainder = sig.BlockSize%c.vlen != 0
	if c.blockRemainder {
		c.remainderElems = sig.BlockSize - (c.tilesPerRow-1)*c.vlen
	}

	idx := jitasm.VReg(0)
	next := func() jitasm.VReg { v := idx; idx++; return v }
	c.vScale = next()
	c.vBias = next()
	c.vTemp = next()
	if sig.HasWeight {
		c.vW = next()
	}
	if c.blockRemainder && c.isa256 {
		c.vMask = next()
	} else if !c.isa256 {
		c.vMask = 1 // nominal mask selector (k2 in AVX512ISA), doesn't consume the vector pool
	}
	if sig.NormalizeByLengths {
		c.vVlenInv = next()
	}
	c.vTileBase = idx

	reserved := int64(idx)
	u := ((int64(isa.NumVecReg()) - reserved) / 4) * 4
	if u < 4 {
		u = 4
	}
	if u > c.tilesPerRow {
		u = c.tilesPerRow
	}
	c.unroll = u
	c.numGroups = ceilDiv(c.tilesPerRow, c.unroll)

	c.spillIndicesBase = 0
	c.spillWeightsBase = 8
	c.spillWeightsOrig = 16
	c.spillDecodeBase = 24
	c.spillFrameSize = 24 + int32(c.vlen)*4

	return c
}

// emit lowers the signature into one System-V-ABI kernel body. The
// state machine follows §4.4: prolog/register-shuffle, an outer loop
// over bags, a middle loop over one bag's indices (run once per unroll
// group when a row needs more than one), and an inner per-tile decode
// step.
//
// The inner decode deliberately trades FBGEMM's packed-nibble/dibit
// SIMD unpack (interleaving multiple elements' bits within one vector
// register before a shuffle recombines them in element order) for a
// short scalar decode loop that writes one int32 per quantized element
// into a stack scratch buffer, then loads that buffer as a vector and
// continues in SIMD from there. Reconstructing FBGEMM's exact
// byte-lane shuffle without the ability to run and check the emitted
// code risks a subtly wrong element order that no test here could
// catch; the scalar prelude is slower but its correctness follows
// directly from the row layout in kernelsig.Signature.
func (c *kernelCtx) emit() []byte {
	w := c.w
	sig := c.sig
	stride := sig.FusedRowStride()
	rowBytes := sig.RowBytes()
	elemPerByte := int64(8 / sig.BitRate)
	elemMask := int32((1 << uint(sig.BitRate)) - 1)

	w.PushReg(rCompressed)
	w.PushReg(rLengthLeft)
	w.PushReg(rScratch2)
	w.SubRegImm32(jitasm.RSP, c.spillFrameSize)
	stackBase := int32(24) + c.spillFrameSize // 3 pushes + our frame

	// Stage incoming stack arguments before the reshuffle below
	// reassigns their slots.
	w.MovLoad(rScratch1, jitasm.RSP, stackBase+8)  // weights -> temp
	w.MovLoad(rOutCur, jitasm.RSP, stackBase+16)   // out -> final home
	if c.rowwiseSparse {
		w.MovLoad(rCompressed, jitasm.RSP, stackBase+24) // compressed table -> final home
	}

	// indices_end = indices + index_size*idxElemSize, computed while
	// indices (R8) and index_size (RSI) still hold their incoming
	// values.
	w.LeaScaled(rIndicesEnd, jitasm.R8, jitasm.RSI, byte(c.idxElemSize))

	w.MovRegReg(jitasm.RSI, jitasm.RDX) // data_size
	w.MovRegReg(jitasm.RDX, jitasm.R8)  // indices cursor
	w.MovRegReg(jitasm.R8, jitasm.R9)   // lengths cursor
	w.MovRegReg(jitasm.R9, rScratch1)   // weights cursor
	// rInputBase(RCX) and rOutputSize(RDI) already hold their roles.

	if sig.HasWeight {
		w.MovStore(jitasm.RSP, rWeightsCur, c.spillWeightsOrig)
	}

	if c.blockRemainder {
		c.isa.MaskForRemainder(w, c.vMask, jitasm.RSP, c.spillDecodeBase, rScratch1, c.remainderElems)
	}

	lErr := w.NewLabel()
	lOK := w.NewLabel()
	lOuterHeader := w.Label()
	lOuterDone := w.NewLabel()

	w.DecReg(rOutputSize)
	w.Jcc(jitasm.CcS, lOuterDone)

	// Bounds guard A: the whole bag must fit in the remaining index
	// stream, checked as indices_cur + length*idxElemSize <= indices_end.
	w.MovLoad32(rLengthLeft, rLengthsCur, 0)
	w.CmpRegImm32(rLengthLeft, 0)
	w.Jcc(jitasm.CcL, lErr)
	w.LeaScaled(rScratch1, rIndicesCur, rLengthLeft, byte(c.idxElemSize))
	w.CmpRegReg(rScratch1, rIndicesEnd)
	w.Jcc(jitasm.CcA, lErr)

	if sig.NormalizeByLengths {
		lHaveLen := w.NewLabel()
		lNormDone := w.NewLabel()
		w.CmpRegImm32(rLengthLeft, 0)
		w.Jcc(jitasm.CcNE, lHaveLen)
		c.isa.LoadConstBroadcast(w, c.vVlenInv, rScratch1, 0x3F800000) // 1.0f, acc is 0 anyway
		w.Jmp(lNormDone)
		w.BindLabel(lHaveLen)
		c.isa.LoadConstBroadcast(w, c.vVlenInv, rScratch1, 0x3F800000)
		w.Cvtsi2ss(c.vTemp, rLengthLeft)
		w.Divss(c.vVlenInv, c.vTemp)
		c.isa.BroadcastSSFromReg(w, c.vVlenInv, c.vVlenInv)
		w.BindLabel(lNormDone)
	}

	w.MovStore(jitasm.RSP, rIndicesCur, c.spillIndicesBase)
	if sig.HasWeight {
		w.MovStore(jitasm.RSP, rWeightsCur, c.spillWeightsBase)
	}

	for g := int64(0); g < c.numGroups; g++ {
		groupStart := g * c.unroll
		groupEnd := groupStart + c.unroll
		if groupEnd > c.tilesPerRow {
			groupEnd = c.tilesPerRow
		}

		if g > 0 {
			w.MovLoad(rIndicesCur, jitasm.RSP, c.spillIndicesBase)
			if sig.HasWeight {
				if sig.IsWeightPositional {
					w.MovLoad(rWeightsCur, jitasm.RSP, c.spillWeightsOrig)
				} else {
					w.MovLoad(rWeightsCur, jitasm.RSP, c.spillWeightsBase)
				}
			}
		} else if sig.HasWeight && sig.IsWeightPositional {
			w.MovLoad(rWeightsCur, jitasm.RSP, c.spillWeightsOrig)
		}

		for t := groupStart; t < groupEnd; t++ {
			c.isa.ZeroVec(w, c.vTileBase+jitasm.VReg(t-groupStart))
		}

		w.MovLoad32(rLengthLeft, rLengthsCur, 0)

		lMidHeader := w.Label()
		lMidDone := w.NewLabel()
		lAdvance := w.NewLabel()

		w.DecReg(rLengthLeft)
		w.Jcc(jitasm.CcS, lMidDone)

		if c.idxElemSize == 4 {
			w.MovLoad32(rScratch2, rIndicesCur, 0)
		} else {
			w.MovLoad(rScratch2, rIndicesCur, 0)
		}
		w.CmpRegReg(rScratch2, rDataSize)
		w.Jcc(jitasm.CcAE, lErr)

		if c.rowwiseSparse {
			w.LeaScaled(rScratch1, rCompressed, rScratch2, byte(c.idxElemSize))
			if c.idxElemSize == 4 {
				// MovLoad32 zero-extends, so a 32-bit -1 reads as
				// 0xFFFFFFFF and is compared against that value.
				w.MovLoad32(rScratch2, rScratch1, 0)
				w.MovRegImm32(rScratch1, 0xFFFFFFFF)
				w.CmpRegReg(rScratch2, rScratch1)
			} else {
				w.MovLoad(rScratch2, rScratch1, 0)
				w.CmpRegImm32(rScratch2, -1)
			}
			w.Jcc(jitasm.CcE, lAdvance)
		}

		// row address = inputBase + target*stride
		w.ImulRegRegImm32(rScratch1, rScratch2, int32(stride))
		w.AddRegReg(rScratch1, rInputBase)

		if sig.PrefetchDistance > 0 {
			w.Prefetch(rScratch1, 0)
		}

		c.isa.BroadcastHalfFromMem(w, c.vScale, rScratch1, int32(rowBytes))
		c.isa.Cvtph2ps(w, c.vScale, c.vScale)
		c.isa.BroadcastHalfFromMem(w, c.vBias, rScratch1, int32(rowBytes+2))
		c.isa.Cvtph2ps(w, c.vBias, c.vBias)
		if sig.HasWeight {
			c.isa.BroadcastSSFromMem(w, c.vW, rWeightsCur, 0)
			c.isa.MulPS(w, c.vScale, c.vScale, c.vW)
			c.isa.MulPS(w, c.vBias, c.vBias, c.vW)
		}

		for t := groupStart; t < groupEnd; t++ {
			for i := int64(0); i < c.vlen; i++ {
				globalElem := t*c.vlen + i
				if globalElem >= sig.BlockSize {
					break
				}
				byteIdx := globalElem / elemPerByte
				shift := (globalElem % elemPerByte) * int64(sig.BitRate)
				w.MovLoadByte(rScratch2, rScratch1, int32(byteIdx))
				if shift > 0 {
					w.ShrRegImm8(rScratch2, byte(shift))
				}
				if sig.BitRate != 8 {
					w.AndRegImm32(rScratch2, elemMask)
				}
				w.MovStore32(jitasm.RSP, rScratch2, c.spillDecodeBase+int32(i*4))
			}
			c.isa.LoadUnaligned(w, c.vTemp, jitasm.RSP, c.spillDecodeBase)
			c.isa.Cvtdq2ps(w, c.vTemp, c.vTemp)
			acc := c.vTileBase + jitasm.VReg(t-groupStart)
			c.isa.AddPS(w, acc, acc, c.vBias)
			c.isa.FmaddAccum(w, acc, c.vTemp, c.vScale)
		}

		w.BindLabel(lAdvance)
		w.AddRegImm32(rIndicesCur, c.idxElemSize)
		if sig.HasWeight {
			w.AddRegImm32(rWeightsCur, 4)
		}
		w.Jmp(lMidHeader)
		w.BindLabel(lMidDone)

		for t := groupStart; t < groupEnd; t++ {
			acc := c.vTileBase + jitasm.VReg(t-groupStart)
			if sig.NormalizeByLengths {
				c.isa.MulPS(w, acc, acc, c.vVlenInv)
			}
			disp := int32(t * c.vlen * 4)
			if t == c.tilesPerRow-1 && c.blockRemainder {
				c.isa.MaskedStore(w, rOutCur, acc, disp, c.vMask)
			} else {
				c.isa.StoreUnaligned(w, rOutCur, acc, disp)
			}
		}
	}

	w.AddRegImm32(rOutCur, int32(sig.BlockSize*4))
	w.AddRegImm32(rLengthsCur, 4)
	w.Jmp(lOuterHeader)
	w.BindLabel(lOuterDone)

	// Epilogue: every index in the stream must have been consumed.
	w.CmpRegReg(rIndicesCur, rIndicesEnd)
	w.Jcc(jitasm.CcNE, lErr)
	w.MovRegImm32(jitasm.RAX, 1)
	w.Jmp(lOK)
	w.BindLabel(lErr)
	w.MovRegImm32(jitasm.RAX, 0)
	w.BindLabel(lOK)

	w.AddRegImm32(jitasm.RSP, c.spillFrameSize)
	w.PopReg(rScratch2)
	w.PopReg(rLengthLeft)
	w.PopReg(rCompressed)
	w.Ret()

	return w.Finish()
}
