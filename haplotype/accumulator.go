// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package haplotype

import (
	"github.com/grailbio/varcall/variant"
)

// Accumulator collects the merged calls of a region scan, one batch of
// windows at a time.  Batches must be added in scan order.
type Accumulator struct {
	// Haps holds every instance of every variant assigned to each
	// haplotype so far.
	Haps [2]variant.CallSet

	retain  int
	windows []WindowCalls
}

// NewAccumulator creates an empty accumulator.  retain is the number of
// leading bases of each window whose calls are kept.
func NewAccumulator(retain int) *Accumulator {
	return &Accumulator{
		Haps:   [2]variant.CallSet{{}, {}},
		retain: retain,
	}
}

// Add merges a batch of windows and appends the result to the haplotype
// sets.
func (a *Accumulator) Add(batch []WindowCalls) {
	h0, h1 := Merge(batch)
	a.Haps[0].Merge(h0)
	a.Haps[1].Merge(h1)
	a.windows = append(a.windows, batch...)
}

// Steps is the number of windows added so far.
func (a *Accumulator) Steps() int { return len(a.windows) }

// Windows returns the windows added so far.
func (a *Accumulator) Windows() []WindowCalls { return a.windows }

// Covering is the number of windows whose retained span includes pos.
func (a *Accumulator) Covering(pos int) int {
	n := 0
	for _, w := range a.windows {
		if w.Offset <= pos && pos < w.Offset+a.retain {
			n++
		}
	}
	return n
}

// Passing returns the part of the haplotype sets whose first instance lies
// in [start, end], both ends included.
func (a *Accumulator) Passing(start, end int) [2]variant.CallSet {
	var out [2]variant.CallSet
	for h, set := range a.Haps {
		out[h] = variant.CallSet{}
		for k, vs := range set {
			if p := vs[0].Pos; start <= p && p <= end {
				out[h][k] = vs
			}
		}
	}
	return out
}
