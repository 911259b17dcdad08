// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package haplotype turns the variants called in many overlapping windows
// of a region into two consistent haplotype call sets, and reconciles the
// calls of neighbouring regions.
package haplotype

import (
	"sort"

	"github.com/grailbio/varcall/variant"
)

// WindowCalls holds the variants called on each haplotype of one window.
type WindowCalls struct {
	// Offset is the reference position of the start of the window.
	Offset int
	// Step is the index of the window in the region scan.
	Step int
	Haps [2][]*variant.Variant
}

const (
	inHap0 uint8 = 1 << iota
	inHap1
)

// presence records, per window, on which haplotypes each key was called.
type presence []map[variant.Key]uint8

func newPresence(windows []WindowCalls) presence {
	p := make(presence, len(windows))
	for i, w := range windows {
		p[i] = make(map[variant.Key]uint8, len(w.Haps[0])+len(w.Haps[1]))
		for h, bit := range [2]uint8{inHap0, inHap1} {
			for _, v := range w.Haps[h] {
				p[i][v.Key()] |= bit
			}
		}
	}
	return p
}

// counts returns the number of windows where key was called on both
// haplotypes and on exactly one.
func (p presence) counts(key variant.Key) (hom, het int) {
	for _, w := range p {
		switch w[key] {
		case inHap0 | inHap1:
			hom++
		case inHap0, inHap1:
			het++
		}
	}
	return
}

// phase counts the windows placing a and b on the same haplotype (cis) and
// on different haplotypes (trans).  A window counts as cis when both keys
// share any haplotype.
func (p presence) phase(a, b variant.Key) (cis, trans int) {
	for _, w := range p {
		pa, pb := w[a], w[b]
		switch {
		case pa&pb != 0:
			cis++
		case pa != 0 && pb != 0:
			trans++
		}
	}
	return
}

// Merge assigns every variant called in windows to haplotype 0, 1 or both.
//
// Variants are visited in position order.  A variant called homozygous in
// more windows than heterozygous goes to both haplotypes.  The first
// heterozygous variant goes to haplotype 0; every later one is phased
// against the previous heterozygous variant by counting the windows that
// place the two in cis and in trans, ties going to trans.
//
// Each returned set maps a key to every instance of that variant across
// windows, so repeat counts survive the merge.
func Merge(windows []WindowCalls) (hap0, hap1 variant.CallSet) {
	var all []*variant.Variant
	for h := 0; h < 2; h++ {
		for _, w := range windows {
			all = append(all, w.Haps[h]...)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Pos < all[j].Pos })

	instances := make(map[variant.Key][]*variant.Variant)
	var order []variant.Key
	for _, v := range all {
		k := v.Key()
		if _, ok := instances[k]; !ok {
			order = append(order, k)
		}
		instances[k] = append(instances[k], v)
	}

	p := newPresence(windows)
	var assigned [2][]variant.Key
	var (
		prevHet    variant.Key
		prevHetIdx = -1
	)
	for _, k := range order {
		hom, het := p.counts(k)
		switch {
		case hom > het:
			assigned[0] = append(assigned[0], k)
			assigned[1] = append(assigned[1], k)
		case prevHetIdx < 0:
			assigned[0] = append(assigned[0], k)
			prevHet, prevHetIdx = k, 0
		default:
			idx := prevHetIdx
			if cis, trans := p.phase(k, prevHet); trans >= cis {
				idx = 1 - prevHetIdx
			}
			assigned[idx] = append(assigned[idx], k)
			prevHet, prevHetIdx = k, idx
		}
	}

	hap0, hap1 = variant.CallSet{}, variant.CallSet{}
	for h, set := range [2]variant.CallSet{hap0, hap1} {
		for _, k := range assigned[h] {
			set[k] = append([]*variant.Variant(nil), instances[k]...)
		}
	}
	return hap0, hap1
}
