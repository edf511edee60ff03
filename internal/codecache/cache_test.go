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

package codecache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGetOrCreateCallsProducerOnce(t *testing.T) {
	c := New[int, int]()
	var calls int32

	var wg sync.WaitGroup
	results := make([]int, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCreate(42, func() (int, error) {
				atomic.AddInt32(&calls, 1)
				return 99, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("producer called %d times, want 1", calls)
	}
	for i, v := range results {
		if v != 99 {
			t.Fatalf("results[%d] = %d, want 99", i, v)
		}
	}
}

func TestDifferentKeysDoNotShareProducer(t *testing.T) {
	c := New[int, int]()
	v1, _ := c.GetOrCreate(1, func() (int, error) { return 10, nil })
	v2, _ := c.GetOrCreate(2, func() (int, error) { return 20, nil })
	if v1 != 10 || v2 != 20 {
		t.Fatalf("got v1=%d v2=%d, want 10, 20", v1, v2)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}

func TestFailedProduceIsNotCached(t *testing.T) {
	c := New[string, int]()
	var attempts int32
	sentinel := errors.New("emission failed")

	_, err := c.GetOrCreate("k", func() (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("first call error = %v, want %v", err, sentinel)
	}

	v, err := c.GetOrCreate("k", func() (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 7, nil
	})
	if err != nil || v != 7 {
		t.Fatalf("retry after failure = (%d, %v), want (7, nil)", v, err)
	}
	if attempts != 2 {
		t.Fatalf("produce invoked %d times, want 2 (one failure, one retry)", attempts)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (only the successful retry published)", c.Len())
	}
}
