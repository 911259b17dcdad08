// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package haplotype

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/varcall/variant"
)

// Outcome describes what Reconcile did to the current calls.
type Outcome struct {
	// Flipped is set when the haplotype labels of the current calls were
	// swapped.
	Flipped bool
	// OldPhaseSet is the phase set the current calls had before
	// reconciliation, and NewPhaseSet the one they have after.
	OldPhaseSet, NewPhaseSet int
	// Overlap is the number of keys called in both sets.
	Overlap int
}

// Reconcile resolves the keys called both in prev and in cur, two
// adjacent groups of calls with prev before cur.  cur is modified in
// place.
//
// If a strict majority of the shared heterozygous keys sit on opposite
// haplotypes, every call of cur is flipped first.  Then a shared key is
// marked duplicate in cur when both sets agree on its zygosity; a key
// called homozygous in one set and heterozygous in the other keeps both
// copies.  When shared keys are heterozygous in both with the same
// genotype, all of cur joins the phase set of prev, the last such key
// deciding.
func Reconcile(prev, cur []*Call) Outcome {
	out := Outcome{}
	if len(cur) > 0 {
		out.OldPhaseSet = cur[0].PhaseSet
	}
	out.NewPhaseSet = out.OldPhaseSet

	byKey := make(map[variant.Key]*Call, len(prev))
	for _, c := range prev {
		byKey[c.Key()] = c
	}
	type pair struct{ p, c *Call }
	var shared []pair
	same, opposite := 0, 0
	for _, c := range cur {
		p, ok := byKey[c.Key()]
		if !ok {
			continue
		}
		shared = append(shared, pair{p, c})
		if p.Het && c.Het {
			if p.Haplotype == c.Haplotype {
				same++
			} else {
				opposite++
			}
		}
	}
	out.Overlap = len(shared)
	if len(shared) == 0 {
		return out
	}
	if opposite > same {
		for _, c := range cur {
			c.Flip()
		}
		out.Flipped = true
	}

	phaseSet := 0
	for _, s := range shared {
		switch {
		case !s.p.Het && !s.c.Het:
			s.c.Duplicate = true
		case s.p.Het && s.c.Het:
			s.c.Duplicate = true
			if s.p.Genotype == s.c.Genotype {
				phaseSet = s.p.PhaseSet
			}
		}
	}
	if phaseSet != 0 {
		for _, c := range cur {
			c.PhaseSet = phaseSet
		}
		out.NewPhaseSet = phaseSet
	}
	log.Debug.Printf("reconcile: overlap %d same %d opposite %d flipped %v ps %d->%d",
		out.Overlap, same, opposite, out.Flipped, out.OldPhaseSet, out.NewPhaseSet)
	return out
}

// Apply repeats the outcome on calls that were not part of the
// reconciliation but shared the old phase set of the current calls.
func (o Outcome) Apply(calls []*Call) {
	if o.OldPhaseSet == 0 || (!o.Flipped && o.OldPhaseSet == o.NewPhaseSet) {
		return
	}
	for _, c := range calls {
		if c.PhaseSet != o.OldPhaseSet {
			continue
		}
		if o.Flipped {
			c.Flip()
		}
		c.PhaseSet = o.NewPhaseSet
	}
}
