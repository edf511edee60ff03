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

// kernelbench builds random fused-row/index/length streams for one
// kernel shape, runs both the dispatcher-selected kernel and the
// scalar reference implementation over them, and reports wall-clock
// throughput alongside the max absolute error between the two -
// the benchmarking harness spec.md's distillation omitted but
// FBGEMM's original EmbeddingSpMDMBenchmark-style tools provided.
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/launix-de/embjit"
	"github.com/launix-de/embjit/internal/kernelsig"
	"github.com/launix-de/embjit/internal/refimpl"
)

func main() {
	shapeDesc := flag.String("shape", "bits=4 block=32", "kernel shape, e.g. \"bits=4 block=32 weighted normalize prefetch=16 idx=64\"")
	numRows := flag.Int64("rows", 10000, "number of embedding rows in the table")
	numBags := flag.Int64("bags", 2000, "number of bags (output rows) per run")
	avgLen := flag.Int("avglen", 20, "average bag length")
	iters := flag.Int("iters", 50, "number of timed invocations")
	seed := flag.Int64("seed", 1, "PRNG seed, for reproducible runs")
	forceScalar := flag.Bool("force-scalar", false, "bypass CPU detection and always use the scalar reference")
	flag.Parse()

	req, err := parseShape(*shapeDesc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))

	var runErr error
	if req.indexWidth == 64 {
		runErr = run[int64](req, *numRows, *numBags, *avgLen, *iters, *forceScalar, rng)
	} else {
		runErr = run[int32](req, *numRows, *numBags, *avgLen, *iters, *forceScalar, rng)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}

// run builds the random dataset for one shapeRequest, invokes the
// dispatcher-selected kernel (§4.1 backend selection) and
// internal/refimpl over it, then prints throughput and max absolute
// error. IdxT is chosen by main from req.indexWidth since a CLI flag
// value can't parameterize a type at compile time.
func run[IdxT embjit.Index](req shapeRequest, numRows, numBags int64, avgLen, iters int, forceScalar bool, rng *rand.Rand) error {
	sig := req.sig
	input := randomFusedTable(rng, sig, numRows)
	indices, lengths, weights := randomBags[IdxT](rng, numBags, numRows, avgLen, sig.HasWeight)

	out := make([]float32, numBags*sig.BlockSize)
	want := make([]float32, numBags*sig.BlockSize)

	indexSize := int64(len(indices))

	var opts []embjit.Option
	if forceScalar {
		opts = append(opts, embjit.WithForceScalar())
	}

	if req.rowwiseSparse {
		return runSparse[IdxT](sig, req, opts, numRows, numBags, indexSize, input, indices, lengths, weights, out, want, iters)
	}
	return runDense[IdxT](sig, opts, numBags, indexSize, numRows, input, indices, lengths, weights, out, want, iters)
}

func runDense[IdxT embjit.Index](sig kernelsig.Signature, opts []embjit.Option, numBags, indexSize, numRows int64, input []byte, indices []IdxT, lengths []int32, weights []float32, out, want []float32, iters int) error {
	k, err := embjit.MakeKernel[IdxT](sig, opts...)
	if err != nil {
		return fmt.Errorf("kernelbench: MakeKernel: %w", err)
	}
	if !k.Run(numBags, indexSize, numRows, input, indices, lengths, weights, out) {
		return fmt.Errorf("kernelbench: kernel run reported a bounds violation")
	}
	if !refimpl.Dense(sig, numBags, indexSize, numRows, input, indices, lengths, weights, want) {
		return fmt.Errorf("kernelbench: refimpl.Dense reported a bounds violation")
	}

	start := time.Now()
	for i := 0; i < iters; i++ {
		k.Run(numBags, indexSize, numRows, input, indices, lengths, weights, out)
	}
	elapsed := time.Since(start)

	report(sig, numBags, elapsed, iters, maxAbsError(out, want))
	return nil
}

func runSparse[IdxT embjit.Index](sig kernelsig.Signature, req shapeRequest, opts []embjit.Option, numRows, numBags, indexSize int64, input []byte, indices []IdxT, lengths []int32, weights []float32, out, want []float32, iters int) error {
	compressed := randomCompressedTable[IdxT](numRows)

	k, err := embjit.MakeKernelRowwiseSparse[IdxT](sig, opts...)
	if err != nil {
		return fmt.Errorf("kernelbench: MakeKernelRowwiseSparse: %w", err)
	}
	if !k.Run(numBags, indexSize, numRows, input, indices, lengths, weights, out, compressed) {
		return fmt.Errorf("kernelbench: kernel run reported a bounds violation")
	}
	if !refimpl.RowwiseSparse(sig, numBags, indexSize, numRows, input, indices, lengths, weights, want, compressed) {
		return fmt.Errorf("kernelbench: refimpl.RowwiseSparse reported a bounds violation")
	}

	start := time.Now()
	for i := 0; i < iters; i++ {
		k.Run(numBags, indexSize, numRows, input, indices, lengths, weights, out, compressed)
	}
	elapsed := time.Since(start)

	report(sig, numBags, elapsed, iters, maxAbsError(out, want))
	return nil
}

func report(sig kernelsig.Signature, numBags int64, elapsed time.Duration, iters int, maxErr float32) {
	perIter := elapsed / time.Duration(iters)
	bagsPerSec := float64(numBags) * float64(iters) / elapsed.Seconds()
	fmt.Printf("shape: %s\n", sig)
	fmt.Printf("%d bags/iter, %d iters, %v/iter, %.0f bags/sec, max|err|=%g\n",
		numBags, iters, perIter, bagsPerSec, maxErr)
}

func maxAbsError(got, want []float32) float32 {
	var max float32
	for i := range want {
		d := float32(math.Abs(float64(got[i] - want[i])))
		if d > max {
			max = d
		}
	}
	return max
}

// randomFusedTable builds numRows fused rows: random packed quantized
// bytes followed by a random fp16 scale/bias pair, per §3 "Row layout".
func randomFusedTable(rng *rand.Rand, sig kernelsig.Signature, numRows int64) []byte {
	stride := sig.FusedRowStride()
	buf := make([]byte, stride*numRows)
	for r := int64(0); r < numRows; r++ {
		row := buf[r*stride : (r+1)*stride]
		rng.Read(row[:sig.RowBytes()])
		scale := randomHalf(rng, 0.1, 4.0)
		bias := randomHalf(rng, -1.0, 1.0)
		row[sig.RowBytes()], row[sig.RowBytes()+1] = byte(scale), byte(scale>>8)
		row[sig.RowBytes()+2], row[sig.RowBytes()+3] = byte(bias), byte(bias>>8)
	}
	return buf
}

// randomHalf produces a plausible-looking fp16 bit pattern in [lo, hi)
// without a full float32->float16 encoder: kernelbench only needs
// *some* scale/bias value per row, and refimpl.half16ToFloat32 is the
// only consumer that needs to agree on what the bits mean, so a few
// hand-picked bit patterns spanning the range suffice.
func randomHalf(rng *rand.Rand, lo, hi float64) uint16 {
	// A coarse table of normal fp16 values (0.1 .. 3) and their nominal
	// values; each is offered with either sign when it falls in [lo, hi),
	// which keeps every row's dequantization in a sane numeric range
	// without needing IEEE-754 encoding logic here.
	table := []uint16{0x2E66, 0x3200, 0x3400, 0x3666, 0x3800, 0x3A00, 0x3C00, 0x3E00, 0x4000, 0x4200}
	values := []float64{0.1, 0.1875, 0.25, 0.4, 0.5, 0.75, 1, 1.5, 2, 3}
	var picks []uint16
	for i, v := range values {
		if v >= lo && v < hi {
			picks = append(picks, table[i])
		}
		if -v >= lo && -v < hi {
			picks = append(picks, table[i]|0x8000)
		}
	}
	return picks[rng.Intn(len(picks))]
}

// randomBags builds a lengths/indices (and, if hasWeight, weights)
// stream for numBags bags averaging avgLen indices each, drawn from
// [0, numRows).
func randomBags[IdxT embjit.Index](rng *rand.Rand, numBags, numRows int64, avgLen int, hasWeight bool) (indices []IdxT, lengths []int32, weights []float32) {
	lengths = make([]int32, numBags)
	for b := int64(0); b < numBags; b++ {
		n := avgLen/2 + rng.Intn(avgLen+1)
		lengths[b] = int32(n)
		for i := 0; i < n; i++ {
			indices = append(indices, IdxT(rng.Int63n(numRows)))
			if hasWeight {
				weights = append(weights, float32(rng.Float64()*2-1))
			}
		}
	}
	return indices, lengths, weights
}

// randomCompressedTable builds a compressed-indices-table that maps
// every tenth uncompressed row id (i%10 == 9) to -1 and numbers the
// remaining rows consecutively from 0, enough to exercise the
// rowwise-sparse skip path without every bag degenerating to all-skip.
func randomCompressedTable[IdxT embjit.Index](numRows int64) []IdxT {
	table := make([]IdxT, numRows)
	compressedNext := IdxT(0)
	for i := int64(0); i < numRows; i++ {
		if i%10 == 9 {
			table[i] = -1
			continue
		}
		table[i] = compressedNext
		compressedNext++
	}
	return table
}
