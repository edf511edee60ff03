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
	"math"
	"testing"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/launix-de/embjit/internal/cpuinfo"
	"github.com/launix-de/embjit/internal/kernelsig"
	"github.com/launix-de/embjit/internal/refimpl"
)

const (
	half1_0 = uint16(0x3C00)
	half0_0 = uint16(0x0000)
)

func fusedRow4(b0, b1 byte, scale, bias uint16) []byte {
	return []byte{b0, b1, byte(scale), byte(scale >> 8), byte(bias), byte(bias >> 8)}
}

func ptrOf[T any](s []T) uintptr {
	if len(s) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s[0]))
}

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

// availableCapability picks the native backend this host can actually
// run, skipping the test if neither AVX2 nor AVX-512 is available - a
// synthesized kernel body only makes sense to execute on a CPU that
// supports the instructions it contains.
func availableCapability(t *testing.T) cpuinfo.Capability {
	t.Helper()
	cap, err := cpuinfo.Detect()
	if err != nil {
		t.Skipf("cpuinfo.Detect: %v", err)
	}
	if cap == cpuinfo.Scalar {
		t.Skip("no AVX2/AVX-512 on this host")
	}
	return cap
}

// requireAVX2 skips unless the host can actually execute AVX2
// instructions. availableCapability alone isn't enough for this: on an
// AVX-512-capable host cpuinfo.Detect prefers AVX512, so a test that
// wants to force the AVX2 backend specifically has to check the
// underlying CPU feature directly rather than go through Detect.
func requireAVX2(t *testing.T) {
	t.Helper()
	if !cpu.X86.HasAVX2 {
		t.Skip("no AVX2 on this host")
	}
}

// TestSynthesize_MatchesRefimpl_Scenario1 checks the literal scenario 1
// end-to-end sum against the scalar oracle (§8 "Equivalence").
func TestSynthesize_MatchesRefimpl_Scenario1(t *testing.T) {
	cap := availableCapability(t)
	sig := kernelsig.Signature{BitRate: 4, BlockSize: 4}

	ck, err := Synthesize(sig, 32, false, cap)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	input := append(fusedRow4(0x21, 0x43, half1_0, half0_0), fusedRow4(0x65, 0x87, half1_0, half0_0)...)
	indices := []int32{0, 1}
	lengths := []int32{2}
	out := make([]float32, 4)

	ok := ck.Invoke(Args{
		OutputSize: 1,
		IndexSize:  2,
		DataSize:   2,
		Input:      ptrOf(input),
		Indices:    ptrOf(indices),
		Lengths:    ptrOf(lengths),
		Out:        ptrOf(out),
	})
	if !ok {
		t.Fatal("Invoke returned false")
	}

	want := make([]float32, 4)
	if !refimpl.Dense(sig, 1, 2, 2, input, indices, lengths, nil, want) {
		t.Fatal("refimpl.Dense returned false")
	}
	for i := range want {
		if !almostEqual(out[i], want[i]) {
			t.Fatalf("out[%d] = %v, want %v (full: got=%v want=%v)", i, out[i], want[i], out, want)
		}
	}
}

// TestSynthesize_MatchesRefimpl_RandomShapes generates random fused
// rows/indices/lengths for a spread of signatures and checks the
// synthesized kernel against refimpl bag by bag (§8 "Equivalence").
// Uses a fixed PRNG seed so the case set is reproducible.
func TestSynthesize_MatchesRefimpl_RandomShapes(t *testing.T) {
	cap := availableCapability(t)

	type shape struct {
		bitRate   int
		blockSize int64
		hasWeight bool
		normalize bool
	}
	shapes := []shape{
		{2, 8, false, false},
		{2, 17, true, false},
		{4, 1, false, true},
		{4, 31, true, true},
		{4, 64, false, false},
	}

	rng := newLCG(0xC0FFEE)

	for _, sh := range shapes {
		sig := kernelsig.Signature{BitRate: sh.bitRate, BlockSize: sh.blockSize, HasWeight: sh.hasWeight, NormalizeByLengths: sh.normalize}
		ck, err := Synthesize(sig, 32, false, cap)
		if err != nil {
			t.Fatalf("%s: Synthesize: %v", sig, err)
		}

		const numRows = 6
		input := make([]byte, sig.FusedRowStride()*numRows)
		for r := 0; r < numRows; r++ {
			row := input[int64(r)*sig.FusedRowStride() : int64(r+1)*sig.FusedRowStride()]
			for i := range row[:sig.RowBytes()] {
				row[i] = byte(rng.next())
			}
			scale := half1_0
			bias := half0_0
			row[sig.RowBytes()], row[sig.RowBytes()+1] = byte(scale), byte(scale>>8)
			row[sig.RowBytes()+2], row[sig.RowBytes()+3] = byte(bias), byte(bias>>8)
		}

		const numBags = 4
		var indices []int32
		lengths := make([]int32, numBags)
		var weights []float32
		for b := 0; b < numBags; b++ {
			n := int32(rng.next() % 3)
			lengths[b] = n
			for i := int32(0); i < n; i++ {
				indices = append(indices, int32(rng.next()%numRows))
				if sh.hasWeight {
					weights = append(weights, float32(rng.next()%400)/100.0-2.0)
				}
			}
		}

		out := make([]float32, numBags*sh.blockSize)
		ok := ck.Invoke(Args{
			OutputSize: numBags,
			IndexSize:  int64(len(indices)),
			DataSize:   numRows,
			Input:      ptrOf(input),
			Indices:    ptrOf(indices),
			Lengths:    ptrOf(lengths),
			Weights:    ptrOf(weights),
			Out:        ptrOf(out),
		})
		if !ok {
			t.Fatalf("%s: Invoke returned false", sig)
		}

		want := make([]float32, numBags*sh.blockSize)
		if !refimpl.Dense(sig, numBags, int64(len(indices)), numRows, input, indices, lengths, weights, want) {
			t.Fatalf("%s: refimpl.Dense returned false", sig)
		}
		for i := range want {
			if !almostEqual(out[i], want[i]) {
				t.Fatalf("%s: out[%d] = %v, want %v", sig, i, out[i], want[i])
			}
		}
	}
}

// TestSynthesize_AVX2_MatchesRefimpl_BlockRemainder forces the AVX2
// backend specifically (not whatever availableCapability prefers) for
// a spread of block sizes that aren't multiples of AVX2's 8-lane
// width, so the tail-mask path (cpuinfo.AVX2, jitasm.AVX2ISA's
// MaskForRemainder feeding the last tile's MaskedStore) is checked
// against the scalar oracle on every shape that actually exercises it,
// not just on whichever ISA a given CI host happens to prefer.
func TestSynthesize_AVX2_MatchesRefimpl_BlockRemainder(t *testing.T) {
	requireAVX2(t)

	for _, blockSize := range []int64{1, 2, 4, 17, 31, 33, 127} {
		sig := kernelsig.Signature{BitRate: 4, BlockSize: blockSize}
		ck, err := Synthesize(sig, 32, false, cpuinfo.AVX2)
		if err != nil {
			t.Fatalf("%s: Synthesize: %v", sig, err)
		}
		if ck.ISAName != "avx2" {
			t.Fatalf("%s: ISAName = %q, want avx2", sig, ck.ISAName)
		}

		const numRows = 3
		input := make([]byte, sig.FusedRowStride()*numRows)
		for r := 0; r < numRows; r++ {
			row := input[int64(r)*sig.FusedRowStride() : int64(r+1)*sig.FusedRowStride()]
			for i := range row[:sig.RowBytes()] {
				row[i] = byte(0x11 * (r + 1))
			}
			row[sig.RowBytes()], row[sig.RowBytes()+1] = byte(half1_0&0xff), byte(half1_0>>8)
			row[sig.RowBytes()+2], row[sig.RowBytes()+3] = byte(half0_0&0xff), byte(half0_0>>8)
		}

		indices := []int32{0, 1, 2}
		lengths := []int32{3}
		out := make([]float32, blockSize)
		ok := ck.Invoke(Args{
			OutputSize: 1,
			IndexSize:  3,
			DataSize:   numRows,
			Input:      ptrOf(input),
			Indices:    ptrOf(indices),
			Lengths:    ptrOf(lengths),
			Out:        ptrOf(out),
		})
		if !ok {
			t.Fatalf("%s: Invoke returned false", sig)
		}

		want := make([]float32, blockSize)
		if !refimpl.Dense(sig, 1, 3, numRows, input, indices, lengths, nil, want) {
			t.Fatalf("%s: refimpl.Dense returned false", sig)
		}
		for i := range want {
			if !almostEqual(out[i], want[i]) {
				t.Fatalf("%s: out[%d] = %v, want %v (full: got=%v want=%v)", sig, i, out[i], want[i], out, want)
			}
		}
	}
}

// TestSynthesize_BoundsViolationReturnsFalse checks the bounds
// property (§8 "Bounds") against a synthesized kernel directly.
func TestSynthesize_BoundsViolationReturnsFalse(t *testing.T) {
	cap := availableCapability(t)
	sig := kernelsig.Signature{BitRate: 4, BlockSize: 4}

	ck, err := Synthesize(sig, 32, false, cap)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	input := append(fusedRow4(0x21, 0x43, half1_0, half0_0), fusedRow4(0x65, 0x87, half1_0, half0_0)...)
	input = append(input, fusedRow4(0, 0, half1_0, half0_0)...)
	indices := []int32{0, 5}
	lengths := []int32{2}
	out := make([]float32, 4)

	ok := ck.Invoke(Args{
		OutputSize: 1,
		IndexSize:  2,
		DataSize:   3,
		Input:      ptrOf(input),
		Indices:    ptrOf(indices),
		Lengths:    ptrOf(lengths),
		Out:        ptrOf(out),
	})
	if ok {
		t.Fatal("Invoke returned true for an out-of-range index")
	}
}

// lcg is a minimal linear congruential generator, used instead of
// math/rand so the test has no dependency on a particular stdlib RNG
// algorithm's output staying stable across Go versions.
type lcg struct{ state uint64 }

func newLCG(seed uint64) *lcg { return &lcg{state: seed} }

func (g *lcg) next() uint64 {
	g.state = g.state*6364136223846793005 + 1442695040888963407
	return g.state >> 32
}
