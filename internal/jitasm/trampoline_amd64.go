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

import "unsafe"

// callKernel9 is implemented in trampoline_amd64.s: it loads up to nine
// pointer/integer-sized arguments into the System V AMD64 integer
// argument registers (RDI, RSI, RDX, RCX, R8, R9, then the stack) and
// calls fn. Generated kernel bodies are emitted against that same
// convention (§4.3 "host calling convention"), not Go's internal ABI,
// so a call from Go needs this bridge.
//
//go:noescape
func callKernel9(fn uintptr, a0, a1, a2, a3, a4, a5, a6, a7, a8 uintptr) uintptr

// CallKernel invokes a published kernel body with up to nine
// pointer/integer arguments and interprets its return value as the
// kernel's EXIT_OK (non-zero) / EXIT_ERR (zero) result (§4.4 epilogue).
// Unused trailing argument slots must be zero.
func CallKernel(fn unsafe.Pointer, args [9]uintptr) bool {
	return callKernel9(
		uintptr(fn),
		args[0], args[1], args[2], args[3], args[4],
		args[5], args[6], args[7], args[8],
	) != 0
}
