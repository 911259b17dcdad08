// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package haplotype

import (
	"math"

	"github.com/grailbio/varcall/interval"
	"github.com/grailbio/varcall/variant"
)

// maxProb keeps Quality finite.
const maxProb = 1 - 1e-10

// Call is the final call of one variant in one region, with the evidence
// gathered over the region's windows.
type Call struct {
	// Variant holds the identity of the call and its genotype, haplotype,
	// phase set and duplicate flag.  Prob is the mean probability over all
	// instances and Qual is the result of Quality.
	variant.Variant

	// Region is the index of the BED window the region came from.
	Region int
	// CallCount is the number of windows that called the variant.
	CallCount int
	// Covering is the number of windows whose retained span includes the
	// variant.
	Covering int
	// MinQual and MaxQual bound the qualities of the instances.
	MinQual, MaxQual float64
	// WinVarCount is the number of distinct variants called in the region.
	WinVarCount int
	// WinCisCount and WinTransCount count the windows placing the variant
	// in cis and in trans with the first heterozygous call of the region.
	WinCisCount, WinTransCount int
	// StepCount is the number of windows scanned in the region.
	StepCount int
	// MinOffset and MaxOffset bound the distance from window start to the
	// variant over the instances.
	MinOffset, MaxOffset int
	// MinVarIndex and MaxVarIndex bound the index of the variant among its
	// window's calls.
	MinVarIndex, MaxVarIndex int
	// Depth is the read depth at the variant.  It is filled in by the
	// caller.
	Depth int
	// RawQual holds the result of Quality when Qual was replaced by an
	// external rescaler.
	RawQual  float64
	Rescaled bool
}

// Quality combines the fraction of covering windows that called the
// variant with the mean predicted probability into a phred score.
func (c *Call) Quality() float64 {
	covering := c.Covering
	if covering < 1 {
		covering = 1
	}
	support := float64(c.CallCount) / float64(covering)
	if support > 1 {
		support = 1
	}
	p := support * c.Prob
	if p < 0 {
		p = 0
	}
	if p > maxProb {
		p = maxProb
	}
	return -10 * math.Log10(1-p)
}

// Flip swaps the haplotype labels of c.
func (c *Call) Flip() {
	c.Genotype[0], c.Genotype[1] = c.Genotype[1], c.Genotype[0]
	if c.Het {
		c.Haplotype = 1 - c.Haplotype
	}
}

// Calls turns the haplotype sets accumulated for region into one call per
// variant, ordered by position.  Only variants whose first instance lies
// in [region.Start, region.End] are reported.  A variant present in both
// sets is homozygous (1/1); otherwise it is heterozygous with genotype 1|0
// on haplotype 0 and 0|1 on haplotype 1.  All calls share a phase set
// named after the 1-based position of the first heterozygous call.
func Calls(regionIdx int, acc *Accumulator, region interval.Region) []*Call {
	passing := acc.Passing(region.Start, region.End)
	union := variant.CallSet{}
	for _, set := range passing {
		for k, vs := range set {
			union[k] = mergeInstances(union[k], vs)
		}
	}
	keys := union.Keys()

	phaseSet := 0
	var anchor variant.Key
	for _, k := range keys {
		_, in0 := passing[0][k]
		_, in1 := passing[1][k]
		if in0 != in1 {
			phaseSet = k.Pos + 1
			anchor = k
			break
		}
	}
	pres := newPresence(acc.Windows())

	calls := make([]*Call, 0, len(keys))
	for _, k := range keys {
		insts := union[k]
		c := &Call{
			Variant:     *insts[0],
			Region:      regionIdx,
			WinVarCount: len(keys),
			StepCount:   acc.Steps(),
			Covering:    acc.Covering(k.Pos),
		}
		_, in0 := passing[0][k]
		_, in1 := passing[1][k]
		switch {
		case in0 && in1:
			c.Het, c.Haplotype, c.Genotype = false, 0, [2]int{1, 1}
		case in0:
			c.Het, c.Haplotype, c.Genotype = true, 0, [2]int{1, 0}
		default:
			c.Het, c.Haplotype, c.Genotype = true, 1, [2]int{0, 1}
		}
		c.PhaseSet = phaseSet
		c.Duplicate = false
		if phaseSet != 0 {
			c.WinCisCount, c.WinTransCount = pres.phase(k, anchor)
		}
		c.summarize(insts)
		c.Qual = c.Quality()
		calls = append(calls, c)
	}
	return calls
}

func mergeInstances(a, b []*variant.Variant) []*variant.Variant {
	if len(a) == 0 {
		return b
	}
	seen := make(map[*variant.Variant]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	out := append([]*variant.Variant(nil), a...)
	for _, v := range b {
		if !seen[v] {
			out = append(out, v)
		}
	}
	return out
}

func (c *Call) summarize(insts []*variant.Variant) {
	steps := map[int]bool{}
	sum := 0.0
	for i, v := range insts {
		steps[v.Step] = true
		sum += v.Prob
		off := v.Pos - v.WindowOffset
		if i == 0 {
			c.MinQual, c.MaxQual = v.Qual, v.Qual
			c.MinOffset, c.MaxOffset = off, off
			c.MinVarIndex, c.MaxVarIndex = v.VarIndex, v.VarIndex
			continue
		}
		c.MinQual = math.Min(c.MinQual, v.Qual)
		c.MaxQual = math.Max(c.MaxQual, v.Qual)
		if off < c.MinOffset {
			c.MinOffset = off
		}
		if off > c.MaxOffset {
			c.MaxOffset = off
		}
		if v.VarIndex < c.MinVarIndex {
			c.MinVarIndex = v.VarIndex
		}
		if v.VarIndex > c.MaxVarIndex {
			c.MaxVarIndex = v.VarIndex
		}
	}
	c.CallCount = len(steps)
	c.Prob = sum / float64(len(insts))
}
