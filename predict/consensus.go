// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package predict

import (
	"context"
	"sort"
	"strings"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/varcall/pileup"
)

// ConsensusOpts configures the Consensus predictor.
type ConsensusOpts struct {
	// HomFrac is the minimum fraction of reads supporting an allele for a
	// homozygous call.
	HomFrac float64
	// HetFrac is the minimum fraction for a heterozygous call.
	HetFrac float64
	// MinDepth is the minimum number of informative reads at a column.
	MinDepth int
	// MinBaseQual is the minimum phred quality of a counted base.
	MinBaseQual int
	// Parallelism bounds the number of matrices processed at once.
	Parallelism int
}

// DefaultConsensusOpts holds the default consensus thresholds.
var DefaultConsensusOpts = ConsensusOpts{
	HomFrac:     0.8,
	HetFrac:     0.25,
	MinDepth:    3,
	MinBaseQual: 10,
	Parallelism: 8,
}

// Consensus is a pileup-counting Predictor.  At every column it tallies the
// alleles (base, deletion, or base followed by inserted bases) of the reads
// and calls up to two of them; heterozygous columns are phased against
// each other through the reads spanning both.
type Consensus struct {
	opts    ConsensusOpts
	minQual int8
}

// NewConsensus creates a Consensus predictor.
func NewConsensus(opts ConsensusOpts) *Consensus {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Consensus{opts: opts, minQual: pileup.QualChannel(opts.MinBaseQual)}
}

// Predict implements Predictor.
func (c *Consensus) Predict(ctx context.Context, batch []pileup.Matrix) ([]Prediction, error) {
	preds := make([]Prediction, len(batch))
	nJobs := c.opts.Parallelism
	if nJobs > len(batch) {
		nJobs = len(batch)
	}
	err := traverse.Each(nJobs, func(jobIdx int) error {
		startIdx := jobIdx * len(batch) / nJobs
		endIdx := (jobIdx + 1) * len(batch) / nJobs
		for i := startIdx; i < endIdx; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			preds[i] = c.predict(batch[i])
		}
		return nil
	})
	return preds, err
}

const lowQualAllele = "?"

// readAlleles reconstructs, for one read row, the allele at every reference
// column of the window.  Inserted bases are appended to the allele of the
// column they follow.  Columns the read does not cover are "".
func (c *Consensus) readAlleles(m pileup.Matrix, row int, out []string) {
	shift := 0
	prev := -1
	for pos := 0; pos < m.Width; pos++ {
		v := m.At(pos, row)
		if v.IsPadding() {
			continue
		}
		refConsumed := v[pileup.ChanRefConsumed] != 0
		clipped := v[pileup.ChanClipped] != 0
		if !refConsumed && !clipped {
			// Insertion.
			shift++
			if prev >= 0 && out[prev] != lowQualAllele {
				out[prev] += string(v.Base())
			}
			continue
		}
		col := pos - shift
		prev = -1
		if clipped || col < 0 {
			continue
		}
		b := v.Base()
		switch {
		case b == pileup.GapBase:
			out[col] = "-"
		case v[pileup.ChanQual] < c.minQual:
			out[col] = lowQualAllele
		default:
			out[col] = string(b)
		}
		prev = col
	}
}

type alleleCount struct {
	allele string
	n      int
}

type column struct {
	ref    string
	total  int
	counts []alleleCount // descending count, then allele
}

func (col column) frac(allele string) float64 {
	for _, ac := range col.counts {
		if ac.allele == allele {
			return float64(ac.n) / float64(col.total)
		}
	}
	return 0
}

// hetSite is a column with two different called alleles.
type hetSite struct {
	col     int
	alleles [2]string
}

func (c *Consensus) predict(m pileup.Matrix) Prediction {
	refseq := m.Bases(0)
	nReads := m.Reads - 1
	if nReads < 0 {
		nReads = 0
	}
	alleles := make([][]string, nReads)
	for r := range alleles {
		alleles[r] = make([]string, m.Width)
		c.readAlleles(m, r+1, alleles[r])
	}

	cols := make([]column, m.Width)
	var called [2][]string
	called[0] = make([]string, m.Width)
	called[1] = make([]string, m.Width)
	var hets []hetSite
	for pos := 0; pos < m.Width; pos++ {
		ref := string(refseq[pos])
		called[0][pos], called[1][pos] = ref, ref
		tally := map[string]int{}
		for r := range alleles {
			if a := alleles[r][pos]; a != "" && a != lowQualAllele {
				tally[a]++
			}
		}
		col := column{ref: ref}
		for a, n := range tally {
			col.counts = append(col.counts, alleleCount{a, n})
			col.total += n
		}
		sort.Slice(col.counts, func(i, j int) bool {
			if col.counts[i].n != col.counts[j].n {
				return col.counts[i].n > col.counts[j].n
			}
			return col.counts[i].allele < col.counts[j].allele
		})
		cols[pos] = col
		if col.total < c.opts.MinDepth || !strings.Contains("ACGT", ref) {
			continue
		}
		var alts []alleleCount
		for _, ac := range col.counts {
			if ac.allele != ref {
				alts = append(alts, ac)
			}
		}
		if len(alts) == 0 {
			continue
		}
		f1 := float64(alts[0].n) / float64(col.total)
		switch {
		case f1 >= c.opts.HomFrac:
			called[0][pos], called[1][pos] = alts[0].allele, alts[0].allele
		case f1 >= c.opts.HetFrac:
			other := ref
			if len(alts) > 1 && float64(alts[1].n)/float64(col.total) >= c.opts.HetFrac && col.frac(ref) < c.opts.HetFrac {
				other = alts[1].allele
			}
			hets = append(hets, hetSite{col: pos, alleles: [2]string{alts[0].allele, other}})
		}
	}

	// Phase each het site against the previous one.  hap[i] is the
	// haplotype receiving hets[i].alleles[0].
	hap := make([]int, len(hets))
	for i := 1; i < len(hets); i++ {
		p, h := hets[i-1], hets[i]
		cis, trans := 0, 0
		for r := range alleles {
			a, b := side(alleles[r][p.col], p.alleles), side(alleles[r][h.col], h.alleles)
			switch {
			case a < 0 || b < 0:
			case a == b:
				cis++
			default:
				trans++
			}
		}
		if trans > cis {
			hap[i] = 1 - hap[i-1]
		} else {
			hap[i] = hap[i-1]
		}
	}
	for i, h := range hets {
		called[hap[i]][h.col] = h.alleles[0]
		called[1-hap[i]][h.col] = h.alleles[1]
	}

	var pred Prediction
	for k := range called {
		pred.Haplotypes[k] = assemble(called[k], cols)
	}
	return pred
}

// side returns which of the two het alleles a read allele is, or -1.
func side(a string, alleles [2]string) int {
	switch a {
	case alleles[0]:
		return 0
	case alleles[1]:
		return 1
	}
	return -1
}

// assemble concatenates the per-column alleles into a sequence.  A base's
// probability is the read fraction of its column's allele; a deleted
// column lowers the probability of the base before it.
func assemble(called []string, cols []column) Haplotype {
	var sb strings.Builder
	var probs []float64
	for pos, a := range called {
		p := cols[pos].frac(a)
		if cols[pos].total == 0 {
			p = 1
		}
		if a == "-" {
			if n := len(probs); n > 0 && p < probs[n-1] {
				probs[n-1] = p
			}
			continue
		}
		for i := 0; i < len(a); i++ {
			sb.WriteByte(a[i])
			probs = append(probs, p)
		}
	}
	return Haplotype{Seq: sb.String(), Probs: probs}
}
