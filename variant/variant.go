// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package variant holds the variant data model and the conversion of a
// predicted haplotype sequence into variants against the reference.
package variant

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	farm "github.com/dgryski/go-farm"
)

// Key identifies a variant independently of its haplotype assignment.
type Key struct {
	Chrom    string
	Pos      int
	Ref, Alt string
}

// String returns "chrom:pos:ref:alt" with a 1-based pos.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s:%s", k.Chrom, k.Pos+1, k.Ref, k.Alt)
}

// Less orders keys by chromosome name, position, then alleles.
func (k Key) Less(o Key) bool {
	if k.Chrom != o.Chrom {
		return k.Chrom < o.Chrom
	}
	if k.Pos != o.Pos {
		return k.Pos < o.Pos
	}
	if k.Ref != o.Ref {
		return k.Ref < o.Ref
	}
	return k.Alt < o.Alt
}

// Fingerprint is a 64-bit hash of the key.  It is a checksum, not an
// identity: distinct keys may collide.
func (k Key) Fingerprint() uint64 {
	b := make([]byte, 0, len(k.Chrom)+len(k.Ref)+len(k.Alt)+24)
	b = append(b, k.Chrom...)
	b = append(b, 0)
	b = strconv.AppendInt(b, int64(k.Pos), 10)
	b = append(b, 0)
	b = append(b, k.Ref...)
	b = append(b, 0)
	b = append(b, k.Alt...)
	return farm.Fingerprint64(b)
}

// Variant is one call of a variant in one window.  Haplotype is only
// meaningful when Het is set.
type Variant struct {
	Chrom     string
	Pos       int // 0-based
	Ref, Alt  string
	Het       bool
	Haplotype int
	Genotype  [2]int
	PhaseSet  int
	Duplicate bool

	// Prob is the mean predicted probability of the haplotype bases the
	// variant spans; Qual is its phred scaling.
	Prob float64
	Qual float64
	// WindowOffset is the start of the window the variant was called in,
	// Step the index of that window in the region scan and VarIndex the
	// order of the variant among the window's calls.
	WindowOffset int
	Step         int
	VarIndex     int
}

// Key returns the identity key of v.
func (v *Variant) Key() Key {
	return Key{Chrom: v.Chrom, Pos: v.Pos, Ref: v.Ref, Alt: v.Alt}
}

// String implements fmt.Stringer.
func (v *Variant) String() string {
	return fmt.Sprintf("%v het=%v hap=%d gt=%v ps=%d dup=%v", v.Key(), v.Het, v.Haplotype, v.Genotype, v.PhaseSet, v.Duplicate)
}

// maxPhred caps Phred so that a probability of 1 stays finite.
const maxPhred = 100

// Phred converts a probability of being right into a phred score.
func Phred(p float64) float64 {
	if p >= 1 {
		return maxPhred
	}
	if p <= 0 {
		return 0
	}
	q := -10 * math.Log10(1-p)
	if q > maxPhred {
		q = maxPhred
	}
	return q
}

// CallSet maps a key to every observed instance of that variant.
type CallSet map[Key][]*Variant

// Add appends v to the instances of its key.
func (s CallSet) Add(v *Variant) {
	k := v.Key()
	s[k] = append(s[k], v)
}

// Merge appends all instances of o to s.
func (s CallSet) Merge(o CallSet) {
	for k, vs := range o {
		s[k] = append(s[k], vs...)
	}
}

// Keys returns the keys of s sorted by Key.Less.
func (s CallSet) Keys() []Key {
	keys := make([]Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func sortVariants(vars []*Variant) {
	sort.SliceStable(vars, func(i, j int) bool { return vars[i].Pos < vars[j].Pos })
}

// RetainBefore returns the variants of vars positioned before limit.
func RetainBefore(vars []*Variant, limit int) []*Variant {
	out := vars[:0:0]
	for _, v := range vars {
		if v.Pos < limit {
			out = append(out, v)
		}
	}
	return out
}
