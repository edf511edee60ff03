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

package dispatcher

import (
	"testing"

	"github.com/launix-de/embjit/internal/kernelsig"
)

const (
	half1_0 = uint16(0x3C00)
	half0_0 = uint16(0x0000)
)

func fusedRow4(b0, b1 byte, scale, bias uint16) []byte {
	return []byte{b0, b1, byte(scale), byte(scale >> 8), byte(bias), byte(bias >> 8)}
}

func almostEqual(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-4
}

func requireOut(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len(out) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Fatalf("out[%d] = %v, want %v (full: got=%v want=%v)", i, got[i], want[i], got, want)
		}
	}
}

// Scenario 1 (§8), run through the public factory with WithForceScalar
// so the test is portable regardless of which vector backend the host
// CPU would otherwise select.
func TestMakeKernel_ForceScalar_Scenario1Sum(t *testing.T) {
	sig := kernelsig.Signature{BitRate: 4, BlockSize: 4}
	k, err := MakeKernel[int32](sig, WithForceScalar())
	if err != nil {
		t.Fatalf("MakeKernel: %v", err)
	}

	input := append(fusedRow4(0x21, 0x43, half1_0, half0_0), fusedRow4(0x65, 0x87, half1_0, half0_0)...)
	indices := []int32{0, 1}
	lengths := []int32{2}
	out := make([]float32, 4)

	if !k.Run(1, 2, 2, input, indices, lengths, nil, out) {
		t.Fatal("Run returned false")
	}
	requireOut(t, out, []float32{6, 8, 10, 12})
}

func TestMakeKernel_ForceScalar_OutOfRangeIndex(t *testing.T) {
	sig := kernelsig.Signature{BitRate: 4, BlockSize: 4}
	k, err := MakeKernel[int32](sig, WithForceScalar())
	if err != nil {
		t.Fatalf("MakeKernel: %v", err)
	}

	input := append(fusedRow4(0x21, 0x43, half1_0, half0_0), fusedRow4(0x65, 0x87, half1_0, half0_0)...)
	input = append(input, fusedRow4(0, 0, half1_0, half0_0)...)
	indices := []int32{0, 5}
	lengths := []int32{2}
	out := make([]float32, 4)

	if k.Run(1, 2, 3, input, indices, lengths, nil, out) {
		t.Fatal("Run returned true for an out-of-range index")
	}
}

func TestMakeKernelRowwiseSparse_ForceScalar_Skip(t *testing.T) {
	sig := kernelsig.Signature{BitRate: 4, BlockSize: 4}
	k, err := MakeKernelRowwiseSparse[int32](sig, WithForceScalar())
	if err != nil {
		t.Fatalf("MakeKernelRowwiseSparse: %v", err)
	}

	row0 := fusedRow4(0x21, 0x43, half1_0, half0_0) // compressed row 0 -> [1,2,3,4]
	row1 := fusedRow4(0x65, 0x87, half1_0, half0_0) // compressed row 1 -> [5,6,7,8]
	input := append(append([]byte{}, row0...), row1...)

	compressedIndicesTable := []int32{0, -1, 1}
	indices := []int32{2, 1, 0}
	lengths := []int32{3}
	out := make([]float32, 4)

	if !k.Run(1, 3, 3, input, indices, lengths, nil, out, compressedIndicesTable) {
		t.Fatal("Run returned false")
	}
	requireOut(t, out, []float32{6, 8, 10, 12})
}

// MakeKernel must be usable with 64-bit indices too - IdxT is a free
// type parameter of the factory, not hardwired to int32.
func TestMakeKernel_Int64Indices(t *testing.T) {
	sig := kernelsig.Signature{BitRate: 4, BlockSize: 4}
	k, err := MakeKernel[int64](sig, WithForceScalar())
	if err != nil {
		t.Fatalf("MakeKernel: %v", err)
	}

	input := append(fusedRow4(0x21, 0x43, half1_0, half0_0), fusedRow4(0x65, 0x87, half1_0, half0_0)...)
	indices := []int64{0, 1}
	lengths := []int32{2}
	out := make([]float32, 4)

	if !k.Run(1, 2, 2, input, indices, lengths, nil, out) {
		t.Fatal("Run returned false")
	}
	requireOut(t, out, []float32{6, 8, 10, 12})
}

func TestMakeKernel_InvalidSignature(t *testing.T) {
	sig := kernelsig.Signature{BitRate: 3, BlockSize: 4}
	if _, err := MakeKernel[int32](sig); err == nil {
		t.Fatal("expected a validation error for bit_rate=3")
	}
}

// Repeated calls for the same shape must each succeed without
// panicking. With WithForceScalar every call takes the scalar path, so
// this does not reach the CodeCache or check that the kernels are
// backed by one published function.
func TestMakeKernel_RepeatedCallsIdempotent(t *testing.T) {
	sig := kernelsig.Signature{BitRate: 2, BlockSize: 8}
	for i := 0; i < 3; i++ {
		if _, err := MakeKernel[int32](sig, WithForceScalar()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}
