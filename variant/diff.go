// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package variant

import (
	"fmt"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/varcall/predict"
)

// Opts configures Diff.
type Opts struct {
	// MaxEdits drops predictions whose edit distance to the reference
	// exceeds it.  0 disables the check.
	MaxEdits int
}

// DefaultOpts holds the default Diff configuration.
var DefaultOpts = Opts{MaxEdits: 40}

// Diff aligns a predicted haplotype against refseq, the reference bases of
// the window starting at offset, and returns the variants it implies, in
// position order.  Indels are anchored on the preceding reference base and
// left normalized.  The returned variants have Chrom, Pos, Ref, Alt, Prob,
// Qual, WindowOffset and VarIndex set.
func Diff(chrom, refseq string, hap predict.Haplotype, offset int, opts Opts) ([]*Variant, error) {
	if hap.Seq == refseq || len(hap.Seq) == 0 {
		return nil, nil
	}
	if opts.MaxEdits > 0 {
		if d := matchr.Levenshtein(refseq, hap.Seq); d > opts.MaxEdits {
			log.Debug.Printf("diff %s:%d: prediction is %d edits from the reference, ignoring", chrom, offset+1, d)
			return nil, nil
		}
	}
	d := differ{chrom: chrom, ref: refseq, hap: hap, offset: offset, snv: map[int]bool{}}
	ops := align(refseq, hap.Seq)
	// First pass finds SNVs so that indel normalization can stop at them.
	d.walk(ops, true)
	d.walk(ops, false)
	for i, v := range d.vars {
		v.VarIndex = i
		if got := refseq[v.Pos-offset : v.Pos-offset+len(v.Ref)]; got != v.Ref {
			return nil, errors.E(errors.Integrity,
				fmt.Sprintf("diff: %v: reference has %s", v.Key(), got))
		}
	}
	return d.vars, nil
}

type differ struct {
	chrom  string
	ref    string
	hap    predict.Haplotype
	offset int
	snv    map[int]bool
	vars   []*Variant
}

func (d *differ) meanProb(from, to int) float64 {
	if from < 0 {
		from = 0
	}
	if to <= from {
		return d.hap.Prob(from)
	}
	sum := 0.0
	for j := from; j < to; j++ {
		sum += d.hap.Prob(j)
	}
	return sum / float64(to-from)
}

func (d *differ) add(i int, ref, alt string, prob float64) {
	d.vars = append(d.vars, &Variant{
		Chrom:        d.chrom,
		Pos:          d.offset + i,
		Ref:          ref,
		Alt:          alt,
		Prob:         prob,
		Qual:         Phred(prob),
		WindowOffset: d.offset,
	})
}

func isBase(b byte) bool {
	switch b {
	case 'A', 'C', 'G', 'T':
		return true
	}
	return false
}

// walk emits SNVs when snvs is set and indels otherwise, in alignment
// order.  Indels without an anchor base (at the very start of the window)
// are not reported.
func (d *differ) walk(ops []alignOp, snvs bool) {
	i, j := 0, 0
	for _, op := range ops {
		switch op.op {
		case 'M':
			if snvs {
				for k := 0; k < op.len; k++ {
					r, a := d.ref[i+k], d.hap.Seq[j+k]
					if r != a && isBase(r) && isBase(a) {
						d.snv[i+k] = true
						d.add(i+k, string(r), string(a), d.hap.Prob(j+k))
					}
				}
			}
			i += op.len
			j += op.len
		case 'D':
			if !snvs && i > 0 {
				if p := d.leftShift(i-1, d.ref[i:i+op.len]); isBase(d.ref[p]) {
					d.add(p, d.ref[p:p+op.len+1], d.ref[p:p+1], d.meanProb(j-1, j))
				}
			}
			i += op.len
		case 'I':
			if !snvs && i > 0 {
				ins := d.hap.Seq[j : j+op.len]
				if p := d.leftShift(i-1, ins); isBase(d.ref[p]) {
					shifted := (d.ref[p+1:i] + ins)[:op.len]
					d.add(p, d.ref[p:p+1], d.ref[p:p+1]+shifted, d.meanProb(j-1, j+op.len))
				}
			}
			j += op.len
		}
	}
	if !snvs {
		sortVariants(d.vars)
	}
}

// leftShift moves an indel of seq anchored at reference index p to the
// left while the shifted event is equivalent, never across an SNV.
func (d *differ) leftShift(p int, seq string) int {
	s := []byte(seq)
	for p > 0 && !d.snv[p] && isBase(d.ref[p]) && d.ref[p] == s[len(s)-1] {
		copy(s[1:], s[:len(s)-1])
		s[0] = d.ref[p]
		p--
	}
	return p
}
