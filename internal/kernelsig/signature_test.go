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

package kernelsig

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		sig  Signature
		ok   bool
	}{
		{"bitrate 4 ok", Signature{BitRate: 4, BlockSize: 32}, true},
		{"bitrate 2 ok", Signature{BitRate: 2, BlockSize: 16}, true},
		{"bitrate 8 rejected", Signature{BitRate: 8, BlockSize: 32}, false},
		{"zero block rejected", Signature{BitRate: 4, BlockSize: 0}, false},
		{"negative prefetch rejected", Signature{BitRate: 4, BlockSize: 4, PrefetchDistance: -1}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.sig.Validate()
			if (err == nil) != c.ok {
				t.Fatalf("Validate() error = %v, want ok=%v", err, c.ok)
			}
		})
	}
}

func TestExtractMask(t *testing.T) {
	if m := (Signature{BitRate: 4}).ExtractMask(); m != 0x0F0F {
		t.Errorf("bit_rate 4 mask = %#x, want 0x0F0F", m)
	}
	if m := (Signature{BitRate: 2}).ExtractMask(); m != 0x03030303 {
		t.Errorf("bit_rate 2 mask = %#x, want 0x03030303", m)
	}
}

func TestRowBytesAndStride(t *testing.T) {
	cases := []struct {
		bitRate   int
		blockSize int64
		rowBytes  int64
	}{
		{4, 4, 2},
		{4, 17, 9},
		{2, 16, 4},
		{2, 31, 8},
	}
	for _, c := range cases {
		s := Signature{BitRate: c.bitRate, BlockSize: c.blockSize}
		if got := s.RowBytes(); got != c.rowBytes {
			t.Errorf("RowBytes(bits=%d,block=%d) = %d, want %d", c.bitRate, c.blockSize, got, c.rowBytes)
		}
		if got, want := s.FusedRowStride(), c.rowBytes+4; got != want {
			t.Errorf("FusedRowStride(bits=%d,block=%d) = %d, want %d", c.bitRate, c.blockSize, got, want)
		}
	}
}

func TestSignatureAsMapKey(t *testing.T) {
	m := map[Signature]int{}
	a := Signature{BitRate: 4, BlockSize: 32, PrefetchDistance: 16}
	b := Signature{BitRate: 4, BlockSize: 32, PrefetchDistance: 16}
	c := Signature{BitRate: 4, BlockSize: 32, PrefetchDistance: 0}
	m[a] = 1
	if m[b] != 1 {
		t.Fatal("structurally equal signatures must collide in a map")
	}
	if _, ok := m[c]; ok {
		t.Fatal("differing prefetch distance must not collide")
	}
}
