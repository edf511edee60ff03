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

// Package jitasm is the JitAssemblerFacade of spec §4.3: label/fixup
// management, executable-memory publication, and the x86 register and
// instruction emission primitives the kernel synthesizer builds on.
//
// The label/fixup scheme generalizes scm/jit_writer.go's JITWriter: that
// version wrote bytes directly into an already-mmap'd page through an
// unsafe.Pointer write cursor. This version grows a plain []byte buffer
// instead - kernel bodies are emitted in one pass and only copied into
// executable memory once, at Publish, which keeps every emitter
// method free of unsafe pointer arithmetic.
package jitasm

import "fmt"

// fixup records a forward reference that must be patched once every
// label in the function has a known position (jit_writer.go's
// JITFixup, generalized to either 1-byte or 4-byte relative/absolute
// patches).
type fixup struct {
	codePos  int32
	labelID  int
	size     int8
	relative bool
}

// Writer accumulates one kernel function body. It knows nothing about
// instruction encoding; regs_amd64.go and the avx2/avx512 emitters call
// back into its Byte/Bytes/U32/U64 primitives.
type Writer struct {
	code   []byte
	labels []int32 // offset of each label; -1 until bound
	fixups []fixup
}

// NewWriter returns an empty Writer sized for a typical unrolled kernel
// body (a few hundred bytes to a few KB, depending on unroll factor).
func NewWriter() *Writer {
	return &Writer{code: make([]byte, 0, 4096)}
}

// Pos returns the current write offset, usable as a jump target or for
// computing relative displacements.
func (w *Writer) Pos() int32 {
	return int32(len(w.code))
}

// Byte appends one byte.
func (w *Writer) Byte(b byte) {
	w.code = append(w.code, b)
}

// Bytes appends raw bytes.
func (w *Writer) Bytes(bs ...byte) {
	w.code = append(w.code, bs...)
}

// U32 appends a little-endian uint32.
func (w *Writer) U32(v uint32) {
	w.Bytes(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// U64 appends a little-endian uint64.
func (w *Writer) U64(v uint64) {
	w.U32(uint32(v))
	w.U32(uint32(v >> 32))
}

// NewLabel reserves a label id without fixing its position yet (for
// forward references - a branch emitted before its target is known).
func (w *Writer) NewLabel() int {
	w.labels = append(w.labels, -1)
	return len(w.labels) - 1
}

// BindLabel fixes labelID's position to the current write offset.
func (w *Writer) BindLabel(labelID int) {
	w.labels[labelID] = w.Pos()
}

// Label allocates and immediately binds a label at the current
// position - the common case of a backward branch target (a loop head).
func (w *Writer) Label() int {
	id := w.NewLabel()
	w.BindLabel(id)
	return id
}

// AddFixup records that the size bytes just before the current position
// must be patched, once labelID is bound, with either an absolute
// position (relative=false) or a position relative to the byte
// following the fixup (relative=true, the x86 rel8/rel32 convention).
func (w *Writer) AddFixup(labelID int, size int, relative bool) {
	w.fixups = append(w.fixups, fixup{
		codePos:  w.Pos() - int32(size),
		labelID:  labelID,
		size:     int8(size),
		relative: relative,
	})
}

// Finish resolves every fixup against its label and returns the
// finished machine code. Panics (caught by the synthesizer's recover,
// the same contract jit_amd64.go's jitCompileExprBody uses) if any
// referenced label was never bound.
func (w *Writer) Finish() []byte {
	for _, f := range w.fixups {
		target := w.labels[f.labelID]
		if target < 0 {
			panic(fmt.Sprintf("jitasm: label %d referenced but never bound", f.labelID))
		}
		var value int32
		if f.relative {
			value = target - (f.codePos + int32(f.size))
		} else {
			value = target
		}
		switch f.size {
		case 1:
			if value < -128 || value > 127 {
				panic(fmt.Sprintf("jitasm: rel8 fixup out of range: %d", value))
			}
			w.code[f.codePos] = byte(int8(value))
		case 4:
			u := uint32(value)
			w.code[f.codePos] = byte(u)
			w.code[f.codePos+1] = byte(u >> 8)
			w.code[f.codePos+2] = byte(u >> 16)
			w.code[f.codePos+3] = byte(u >> 24)
		default:
			panic(fmt.Sprintf("jitasm: unsupported fixup size %d", f.size))
		}
	}
	return w.code
}
