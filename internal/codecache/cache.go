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

// Package codecache implements the deduplicating, never-evicting
// key-to-compiled-function cache described in spec §3/§4.2. Each
// (IndexWidth, RowwiseSparse) generator instance owns exactly one
// CodeCache, keyed by kernelsig.Signature.
package codecache

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache maps a comparable key S to a produced value F, guaranteeing the
// producer runs at most once per distinct key across all goroutines and
// that a failed production is never memoized (subsequent calls retry).
//
// This generalizes GenEmbeddingSpMDMNBitLookup::codeCache_ from the
// original asmjit-based generator (one mutex-guarded map per
// specialization) the way scm/jit.go's OptimizeForValues never caches a
// failed specialization attempt: here that "never cache failure"
// property falls out of singleflight.Group, which forgets a call group
// the moment it returns.
type Cache[S comparable, F any] struct {
	published sync.Map // S -> F, immutable once stored
	flight    singleflight.Group
}

// New creates an empty, process-lifetime Cache.
func New[S comparable, F any]() *Cache[S, F] {
	return &Cache[S, F]{}
}

// GetOrCreate returns the cached value for key, producing it via
// produce exactly once if absent. Concurrent callers with the same key
// block on one another and observe the single producer's result;
// callers with different keys may run produce concurrently. If produce
// returns an error, nothing is cached and the next call retries.
func (c *Cache[S, F]) GetOrCreate(key S, produce func() (F, error)) (F, error) {
	if v, ok := c.published.Load(key); ok {
		return v.(F), nil
	}

	// singleflight keys on string, so distinct Signature values must
	// render to distinct strings; %+v on a comparable struct of plain
	// fields is stable and unique for our purposes.
	flightKey := fmt.Sprintf("%+v", key)

	v, err, _ := c.flight.Do(flightKey, func() (interface{}, error) {
		// Re-check: another goroutine may have published while we
		// waited to enter the singleflight group.
		if v, ok := c.published.Load(key); ok {
			return v, nil
		}
		produced, produceErr := produce()
		if produceErr != nil {
			return produced, produceErr
		}
		c.published.Store(key, produced)
		return produced, nil
	})
	if err != nil {
		var zero F
		return zero, err
	}
	return v.(F), nil
}

// Len reports the number of published entries, for diagnostics only.
func (c *Cache[S, F]) Len() int {
	n := 0
	c.published.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
