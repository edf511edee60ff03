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

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/launix-de/embjit/internal/kernelsig"
)

// shapeRequest is a parsed kernel-shape description: a
// kernelsig.Signature plus the two type-level knobs (index width,
// rowwise-sparse) a Signature alone doesn't carry.
type shapeRequest struct {
	sig           kernelsig.Signature
	indexWidth    int
	rowwiseSparse bool
}

// tokenCursor walks a already-split token list one word at a time, the
// same pop-from-the-front style scm/parser.go's readFrom uses on its
// token slice.
type tokenCursor struct {
	toks []string
}

func (c *tokenCursor) next() (string, bool) {
	if len(c.toks) == 0 {
		return "", false
	}
	tok := c.toks[0]
	c.toks = c.toks[1:]
	return tok, true
}

// parseShape reads a textual kernel-shape description such as
// "bits=4 block=32 weighted normalize prefetch=16 idx=64 sparse" into a
// shapeRequest. Each token is either a bare flag word or a key=value
// pair; unknown tokens are a parse error rather than silently ignored.
func parseShape(s string) (shapeRequest, error) {
	req := shapeRequest{
		sig:        kernelsig.Signature{BitRate: 4, BlockSize: 32},
		indexWidth: 32,
	}

	c := &tokenCursor{toks: strings.Fields(s)}
	for {
		tok, ok := c.next()
		if !ok {
			break
		}
		key, value, hasValue := strings.Cut(tok, "=")
		switch key {
		case "bits":
			n, err := requireInt(key, value, hasValue)
			if err != nil {
				return req, err
			}
			req.sig.BitRate = n
		case "block":
			n, err := requireInt(key, value, hasValue)
			if err != nil {
				return req, err
			}
			req.sig.BlockSize = int64(n)
		case "prefetch":
			n, err := requireInt(key, value, hasValue)
			if err != nil {
				return req, err
			}
			req.sig.PrefetchDistance = n
		case "idx":
			n, err := requireInt(key, value, hasValue)
			if err != nil {
				return req, err
			}
			if n != 32 && n != 64 {
				return req, fmt.Errorf("kernelbench: idx must be 32 or 64, got %d", n)
			}
			req.indexWidth = n
		case "weighted":
			req.sig.HasWeight = true
		case "positional":
			req.sig.HasWeight = true
			req.sig.IsWeightPositional = true
		case "normalize":
			req.sig.NormalizeByLengths = true
		case "sparse":
			req.rowwiseSparse = true
		default:
			return req, fmt.Errorf("kernelbench: unrecognized shape token %q", tok)
		}
	}
	if err := req.sig.Validate(); err != nil {
		return req, fmt.Errorf("kernelbench: %w", err)
	}
	return req, nil
}

func requireInt(key, value string, hasValue bool) (int, error) {
	if !hasValue {
		return 0, fmt.Errorf("kernelbench: %q needs a value (%s=N)", key, key)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("kernelbench: %s=%q is not an integer", key, value)
	}
	return n, nil
}
