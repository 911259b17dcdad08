// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package haplotype_test

import (
	"context"
	"math"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varcall/encoding/bamprovider"
	"github.com/grailbio/varcall/haplotype"
	"github.com/grailbio/varcall/interval"
	"github.com/grailbio/varcall/pileup"
	"github.com/grailbio/varcall/predict"
	"github.com/grailbio/varcall/variant"
	"github.com/stretchr/testify/require"
)

func v(step, pos int, ref, alt string) *variant.Variant {
	return &variant.Variant{
		Chrom: "chr1", Pos: pos, Ref: ref, Alt: alt,
		Prob: 0.9, Qual: 10, Step: step, WindowOffset: step * 10,
	}
}

func key(pos int, ref, alt string) variant.Key {
	return variant.Key{Chrom: "chr1", Pos: pos, Ref: ref, Alt: alt}
}

func window(step int, hap0, hap1 []*variant.Variant) haplotype.WindowCalls {
	return haplotype.WindowCalls{Offset: step * 10, Step: step, Haps: [2][]*variant.Variant{hap0, hap1}}
}

func TestMergeHomozygousConsensus(t *testing.T) {
	var windows []haplotype.WindowCalls
	for i := 0; i < 3; i++ {
		windows = append(windows, window(i,
			[]*variant.Variant{v(i, 30, "A", "G")},
			[]*variant.Variant{v(i, 30, "A", "G")}))
	}
	hap0, hap1 := haplotype.Merge(windows)
	k := key(30, "A", "G")
	require.Len(t, hap0, 1)
	require.Len(t, hap1, 1)
	require.Len(t, hap0[k], 6)
	require.Len(t, hap1[k], 6)
}

func TestMergeMajorityHet(t *testing.T) {
	// Called homozygous once and heterozygous twice: heterozygous wins.
	windows := []haplotype.WindowCalls{
		window(0, []*variant.Variant{v(0, 30, "A", "G")}, []*variant.Variant{v(0, 30, "A", "G")}),
		window(1, []*variant.Variant{v(1, 30, "A", "G")}, nil),
		window(2, nil, []*variant.Variant{v(2, 30, "A", "G")}),
	}
	hap0, hap1 := haplotype.Merge(windows)
	require.Contains(t, hap0, key(30, "A", "G"))
	require.Empty(t, hap1)
}

func TestMergeTransTieBreak(t *testing.T) {
	windows := []haplotype.WindowCalls{
		window(0, []*variant.Variant{v(0, 30, "A", "G")}, nil),
		window(1, []*variant.Variant{v(1, 40, "C", "T")}, nil),
	}
	hap0, hap1 := haplotype.Merge(windows)
	require.Equal(t, []variant.Key{key(30, "A", "G")}, hap0.Keys())
	require.Equal(t, []variant.Key{key(40, "C", "T")}, hap1.Keys())
}

func TestMergeCisTrans(t *testing.T) {
	windows := []haplotype.WindowCalls{
		// 30 and 40 in cis twice, 40 and 50 in trans once.
		window(0, []*variant.Variant{v(0, 30, "A", "G"), v(0, 40, "C", "T")}, nil),
		window(1, []*variant.Variant{v(1, 40, "C", "T")}, []*variant.Variant{v(1, 30, "A", "G"), v(1, 50, "G", "GA")}),
		window(2, nil, []*variant.Variant{v(2, 30, "A", "G"), v(2, 40, "C", "T")}),
	}
	hap0, hap1 := haplotype.Merge(windows)
	require.Equal(t, []variant.Key{key(30, "A", "G"), key(40, "C", "T")}, hap0.Keys())
	require.Equal(t, []variant.Key{key(50, "G", "GA")}, hap1.Keys())
	// Every instance survives.
	require.Len(t, hap0[key(30, "A", "G")], 3)
	require.Len(t, hap0[key(40, "C", "T")], 3)
}

func TestMergeDeterministic(t *testing.T) {
	windows := []haplotype.WindowCalls{
		window(0, []*variant.Variant{v(0, 30, "A", "G"), v(0, 35, "T", "C")}, []*variant.Variant{v(0, 40, "C", "T")}),
		window(1, []*variant.Variant{v(1, 40, "C", "T")}, []*variant.Variant{v(1, 30, "A", "G"), v(1, 45, "G", "A")}),
		window(2, []*variant.Variant{v(2, 45, "G", "A")}, []*variant.Variant{v(2, 35, "T", "C")}),
	}
	want0, want1 := haplotype.Merge(windows)
	for i := 0; i < 20; i++ {
		got0, got1 := haplotype.Merge(windows)
		require.Equal(t, want0.Keys(), got0.Keys())
		require.Equal(t, want1.Keys(), got1.Keys())
	}
}

func TestAccumulator(t *testing.T) {
	acc := haplotype.NewAccumulator(25)
	acc.Add([]haplotype.WindowCalls{
		window(0, []*variant.Variant{v(0, 10, "A", "G")}, nil),
		window(1, []*variant.Variant{v(1, 10, "A", "G"), v(1, 20, "C", "T")}, nil),
	})
	acc.Add([]haplotype.WindowCalls{
		window(2, []*variant.Variant{v(2, 20, "C", "T")}, []*variant.Variant{v(2, 30, "G", "C")}),
	})
	require.Equal(t, 3, acc.Steps())
	require.Equal(t, 1, acc.Covering(5))
	require.Equal(t, 3, acc.Covering(20))
	require.Equal(t, 0, acc.Covering(50))

	passing := acc.Passing(10, 20)
	require.Equal(t, []variant.Key{key(10, "A", "G"), key(20, "C", "T")}, passing[0].Keys())
	require.Empty(t, passing[1])
	require.Len(t, passing[0][key(20, "C", "T")], 2)
}

func TestCalls(t *testing.T) {
	acc := haplotype.NewAccumulator(100)
	var batch []haplotype.WindowCalls
	for i := 0; i < 3; i++ {
		batch = append(batch, window(i,
			[]*variant.Variant{v(i, 30, "A", "G"), v(i, 50, "C", "CT")},
			[]*variant.Variant{v(i, 40, "T", "A"), v(i, 50, "C", "CT")}))
	}
	acc.Add(batch)
	calls := haplotype.Calls(4, acc, interval.Region{Chrom: "chr1", Start: 25, End: 60})
	require.Len(t, calls, 3)

	het0, het1, hom := calls[0], calls[1], calls[2]
	require.Equal(t, key(30, "A", "G"), het0.Key())
	require.True(t, het0.Het)
	require.Equal(t, [2]int{1, 0}, het0.Genotype)
	require.Equal(t, [2]int{0, 1}, het1.Genotype)
	require.Equal(t, 1, het1.Haplotype)
	require.False(t, hom.Het)
	require.Equal(t, [2]int{1, 1}, hom.Genotype)
	for _, c := range calls {
		require.Equal(t, 31, c.PhaseSet)
		require.Equal(t, 4, c.Region)
		require.Equal(t, 3, c.CallCount)
		require.Equal(t, 3, c.StepCount)
		require.Equal(t, 3, c.WinVarCount)
		require.False(t, c.Duplicate)
	}
	require.Equal(t, 3, het0.WinCisCount)
	require.Equal(t, 0, het1.WinCisCount)
	require.Equal(t, 3, het1.WinTransCount)
	require.Equal(t, 10, het0.MinOffset)
	require.Equal(t, 30, het0.MaxOffset)
	require.Equal(t, 0, het1.MinVarIndex)

	// Outside the region.
	require.Empty(t, haplotype.Calls(0, acc, interval.Region{Chrom: "chr1", Start: 60, End: 90}))
}

func TestQuality(t *testing.T) {
	c := &haplotype.Call{CallCount: 3, Covering: 3}
	c.Prob = 0.5
	require.InDelta(t, 10*math.Log10(2), c.Quality(), 1e-9)
	c.CallCount = 1
	require.InDelta(t, -10*math.Log10(1-0.5/3), c.Quality(), 1e-9)
	c.Prob = 1
	c.CallCount = 3
	require.InDelta(t, 100, c.Quality(), 1e-6)
}

func call(pos int, ref, alt string, gt [2]int, ps int) *haplotype.Call {
	c := &haplotype.Call{}
	c.Chrom, c.Pos, c.Ref, c.Alt = "chr1", pos, ref, alt
	c.Genotype = gt
	c.Het = gt[0] != gt[1]
	if gt == [2]int{0, 1} {
		c.Haplotype = 1
	}
	c.PhaseSet = ps
	return c
}

func nonDuplicates(calls ...[]*haplotype.Call) map[variant.Key]int {
	n := map[variant.Key]int{}
	for _, cs := range calls {
		for _, c := range cs {
			if !c.Duplicate {
				n[c.Key()]++
			}
		}
	}
	return n
}

func TestReconcileDuplicateHet(t *testing.T) {
	prev := []*haplotype.Call{call(100, "A", "G", [2]int{1, 0}, 101)}
	cur := []*haplotype.Call{
		call(100, "A", "G", [2]int{1, 0}, 201),
		call(200, "C", "T", [2]int{0, 1}, 201),
	}
	out := haplotype.Reconcile(prev, cur)
	require.Equal(t, haplotype.Outcome{OldPhaseSet: 201, NewPhaseSet: 101, Overlap: 1}, out)
	require.True(t, cur[0].Duplicate)
	require.False(t, cur[1].Duplicate)
	require.Equal(t, 1, nonDuplicates(prev, cur)[key(100, "A", "G")])
	for _, c := range cur {
		require.Equal(t, 101, c.PhaseSet)
	}
}

func TestReconcileFlip(t *testing.T) {
	prev := []*haplotype.Call{
		call(100, "A", "G", [2]int{1, 0}, 101),
		call(110, "C", "A", [2]int{0, 1}, 101),
	}
	cur := []*haplotype.Call{
		call(100, "A", "G", [2]int{0, 1}, 101),
		call(110, "C", "A", [2]int{1, 0}, 101),
		call(150, "T", "C", [2]int{1, 0}, 101),
		call(160, "G", "T", [2]int{1, 1}, 101),
	}
	out := haplotype.Reconcile(prev, cur)
	require.True(t, out.Flipped)
	require.Equal(t, [2]int{1, 0}, cur[0].Genotype)
	require.Equal(t, 0, cur[0].Haplotype)
	require.Equal(t, [2]int{0, 1}, cur[2].Genotype)
	require.Equal(t, 1, cur[2].Haplotype)
	require.Equal(t, [2]int{1, 1}, cur[3].Genotype)
	require.True(t, cur[0].Duplicate)
	require.True(t, cur[1].Duplicate)
	require.False(t, cur[2].Duplicate)
}

func TestReconcileDisagreement(t *testing.T) {
	// One key agrees and one disagrees: no majority, no flip.  The
	// disagreeing key is still marked duplicate.
	prev := []*haplotype.Call{
		call(100, "A", "G", [2]int{1, 0}, 101),
		call(110, "C", "A", [2]int{1, 0}, 101),
		call(120, "T", "G", [2]int{1, 1}, 101),
	}
	cur := []*haplotype.Call{
		call(100, "A", "G", [2]int{1, 0}, 0),
		call(110, "C", "A", [2]int{0, 1}, 0),
		call(120, "T", "G", [2]int{1, 1}, 0),
	}
	out := haplotype.Reconcile(prev, cur)
	require.False(t, out.Flipped)
	require.Equal(t, 3, out.Overlap)
	for _, c := range cur {
		require.True(t, c.Duplicate)
	}
	require.Equal(t, [2]int{0, 1}, cur[1].Genotype)
}

func TestReconcileMixedZygosity(t *testing.T) {
	// A key called homozygous on one side and heterozygous on the other
	// is left for the quality-based dedup to resolve.
	prev := []*haplotype.Call{
		call(100, "A", "G", [2]int{1, 1}, 0),
		call(110, "C", "A", [2]int{1, 0}, 111),
	}
	cur := []*haplotype.Call{
		call(100, "A", "G", [2]int{1, 0}, 101),
		call(110, "C", "A", [2]int{1, 1}, 101),
	}
	out := haplotype.Reconcile(prev, cur)
	require.Equal(t, haplotype.Outcome{OldPhaseSet: 101, NewPhaseSet: 101, Overlap: 2}, out)
	for _, c := range cur {
		require.False(t, c.Duplicate)
	}
	require.Equal(t, 2, nonDuplicates(prev, cur)[key(100, "A", "G")])
}

func TestReconcileLastPhaseSetWins(t *testing.T) {
	prev := []*haplotype.Call{
		call(100, "A", "G", [2]int{1, 0}, 101),
		call(110, "C", "A", [2]int{1, 0}, 51),
	}
	cur := []*haplotype.Call{
		call(100, "A", "G", [2]int{1, 0}, 201),
		call(110, "C", "A", [2]int{1, 0}, 201),
	}
	out := haplotype.Reconcile(prev, cur)
	require.Equal(t, 51, out.NewPhaseSet)
	for _, c := range cur {
		require.True(t, c.Duplicate)
		require.Equal(t, 51, c.PhaseSet)
	}
}

func TestReconcileNoOverlap(t *testing.T) {
	prev := []*haplotype.Call{call(100, "A", "G", [2]int{1, 0}, 101)}
	cur := []*haplotype.Call{call(300, "A", "G", [2]int{1, 0}, 301)}
	out := haplotype.Reconcile(prev, cur)
	require.Equal(t, haplotype.Outcome{OldPhaseSet: 301, NewPhaseSet: 301}, out)
	require.False(t, cur[0].Duplicate)
}

func TestOutcomeApply(t *testing.T) {
	later := []*haplotype.Call{
		call(400, "A", "G", [2]int{1, 0}, 301),
		call(500, "A", "G", [2]int{1, 0}, 501),
	}
	haplotype.Outcome{Flipped: true, OldPhaseSet: 301, NewPhaseSet: 101}.Apply(later)
	require.Equal(t, [2]int{0, 1}, later[0].Genotype)
	require.Equal(t, 101, later[0].PhaseSet)
	require.Equal(t, [2]int{1, 0}, later[1].Genotype)
	require.Equal(t, 501, later[1].PhaseSet)
}

// A 10-read pileup over 60 bases with a heterozygous SNV at 25 carried by
// 5 reads, scanned with 3 overlapping windows.
func TestEndToEndHetSNV(t *testing.T) {
	const (
		refSeq = "GATTACAGGCTTCAAGCTAGCCTGAACGTTGCATCCGATAGGCTTACGATCAGTCAGGTA"
		snv    = 25
		width  = 30
	)
	require.Equal(t, byte('A'), refSeq[snv])
	alt := []byte(refSeq)
	alt[snv] = 'G'

	header := bamprovider.NewTestHeader([]string{"chr1"}, []int{100})
	var recs []*sam.Record
	for i := 0; i < 10; i++ {
		seq := refSeq
		if i%2 == 1 {
			seq = string(alt)
		}
		recs = append(recs, bamprovider.NewTestRecord("r", header.Refs()[0], 0, 0, "60M", seq, 30))
	}

	ctx := context.Background()
	consensus := predict.NewConsensus(predict.DefaultConsensusOpts)
	var windows []haplotype.WindowCalls
	for step, start := range []int{10, 15, 20} {
		m, err := pileup.EncodeReads(recs, start, start+width, pileup.DefaultOpts, nil)
		require.NoError(t, err)
		m, err = pileup.WithReference(m, refSeq[start:start+width], 20)
		require.NoError(t, err)
		preds, err := predict.Run(ctx, consensus, []pileup.Matrix{m})
		require.NoError(t, err)

		w := haplotype.WindowCalls{Offset: start, Step: step}
		for h, hap := range preds[0].Haplotypes {
			vars, err := variant.Diff("chr1", refSeq[start:start+width], hap, start, variant.DefaultOpts)
			require.NoError(t, err)
			for _, v := range vars {
				v.Step = step
			}
			w.Haps[h] = vars
		}
		require.Len(t, w.Haps[0], 1)
		require.Empty(t, w.Haps[1])
		windows = append(windows, w)
	}

	acc := haplotype.NewAccumulator(width)
	acc.Add(windows)
	k := key(snv, "A", "G")
	require.Equal(t, []variant.Key{k}, acc.Haps[0].Keys())
	require.Empty(t, acc.Haps[1])
	require.Len(t, acc.Haps[0][k], 3)

	calls := haplotype.Calls(0, acc, interval.Region{Chrom: "chr1", Start: 10, End: 50})
	require.Len(t, calls, 1)
	c := calls[0]
	require.True(t, c.Het)
	require.Equal(t, 0, c.Haplotype)
	require.Equal(t, [2]int{1, 0}, c.Genotype)
	require.Equal(t, snv+1, c.PhaseSet)
	require.Equal(t, 3, c.CallCount)
	require.Equal(t, 3, c.Covering)
}
