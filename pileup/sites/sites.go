// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sites finds "suspicious" reference positions: columns where the
// pileup disagrees with the reference often enough that the region around
// them is worth running the predictor on.
package sites

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varcall/encoding/bamprovider"
	"github.com/grailbio/varcall/interval"
	"github.com/willf/bitset"
)

// Opts configures Detect and Cluster.
type Opts struct {
	// A column is flagged when more than MaxIndelReads reads carry an indel
	// right after it...
	MaxIndelReads int
	// ...or more than MaxMismatches aligned bases differ from the reference.
	MaxMismatches int
	// ClusterMaxDist is the maximum distance between the first and last
	// position of a cluster (exclusive).
	ClusterMaxDist int
	// ClusterPad is added on both sides of each cluster.
	ClusterPad int
}

// DefaultOpts holds the default site detection parameters.
var DefaultOpts = Opts{
	MaxIndelReads:  1,
	MaxMismatches:  2,
	ClusterMaxDist: 100,
	ClusterPad:     8,
}

// Validate checks opts for nonsensical values.
func (o Opts) Validate() error {
	if o.MaxIndelReads < 0 || o.MaxMismatches < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("sites: negative thresholds %+v", o))
	}
	if o.ClusterMaxDist <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("sites: cluster distance %d", o.ClusterMaxDist))
	}
	if o.ClusterPad < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("sites: cluster pad %d", o.ClusterPad))
	}
	return nil
}

// Reference serves reference bases.  *fasta.Reference implements it.
type Reference interface {
	Window(chrom string, start, end int) (string, error)
}

// columnCounts accumulates per-column evidence over a region.
type columnCounts struct {
	start      int
	refseq     string
	indels     []int32
	mismatches []int32

	// Columns hit by the read being walked, committed once the whole read
	// has been walked.
	readIndels, readMismatches []int
}

// addRead walks the CIGAR of rec.  Mismatches count aligned bases only;
// an indel is counted at the aligned base preceding it.  A read that
// cannot be walked adds nothing.
func (c *columnCounts) addRead(rec *sam.Record) error {
	c.readIndels, c.readMismatches = c.readIndels[:0], c.readMismatches[:0]
	if err := c.walkRead(rec); err != nil {
		return err
	}
	for _, i := range c.readMismatches {
		c.mismatches[i]++
	}
	for _, i := range c.readIndels {
		c.indels[i]++
	}
	return nil
}

func (c *columnCounts) walkRead(rec *sam.Record) error {
	seq := rec.Seq.Expand()
	end := c.start + len(c.refseq)
	posInRef := rec.Pos
	posInRead := 0
	for i, co := range rec.Cigar {
		cLen := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if posInRead+cLen > len(seq) {
				return errors.E(errors.Invalid, fmt.Sprintf("sites: read %s: cigar %v runs past %d bases", rec.Name, rec.Cigar, len(seq)))
			}
			for off := 0; off < cLen; off++ {
				pos := posInRef + off
				if pos < c.start || pos >= end {
					continue
				}
				if seq[posInRead+off] != c.refseq[pos-c.start] {
					c.readMismatches = append(c.readMismatches, pos-c.start)
				}
			}
			if last := posInRef + cLen - 1; last >= c.start && last < end && i+1 < len(rec.Cigar) {
				switch rec.Cigar[i+1].Type() {
				case sam.CigarInsertion, sam.CigarDeletion:
					c.readIndels = append(c.readIndels, last-c.start)
				}
			}
			posInRef += cLen
			posInRead += cLen
		case sam.CigarInsertion, sam.CigarSoftClipped:
			posInRead += cLen
		case sam.CigarDeletion, sam.CigarSkipped:
			posInRef += cLen
		case sam.CigarHardClipped, sam.CigarPadded:
			// do nothing
		default:
			return errors.E(errors.Invalid, fmt.Sprintf("sites: read %s: unexpected CIGAR op %v", rec.Name, co))
		}
		if posInRef >= end {
			break
		}
	}
	return nil
}

// flagged returns the mask of columns that exceed either threshold.
func (c *columnCounts) flagged(opts Opts) *bitset.BitSet {
	mask := bitset.New(uint(len(c.refseq)))
	for i := range c.refseq {
		if int(c.indels[i]) > opts.MaxIndelReads || int(c.mismatches[i]) > opts.MaxMismatches {
			mask.Set(uint(i))
		}
	}
	return mask
}

// Detect returns, in ascending order, the positions in region whose pileup
// looks like it may hold a variant.  Reads that cannot be walked are
// skipped.
func Detect(ctx context.Context, provider bamprovider.Provider, ref Reference, region interval.Region, opts Opts) ([]int, error) {
	if region.Len() <= 0 {
		return nil, nil
	}
	refseq, err := ref.Window(region.Chrom, region.Start, region.End)
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("sites: reference for %v", region))
	}
	c := columnCounts{
		start:      region.Start,
		refseq:     refseq,
		indels:     make([]int32, len(refseq)),
		mismatches: make([]int32, len(refseq)),
	}
	iter := provider.NewIterator(region)
	n := 0
	for iter.Scan() {
		if n++; n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				_ = iter.Close()
				return nil, err
			}
		}
		if err := c.addRead(iter.Record()); err != nil {
			log.Debug.Printf("sites: skipping read: %v", err)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.E(err, fmt.Sprintf("sites: reads for %v", region))
	}
	mask := c.flagged(opts)
	positions := make([]int, 0, mask.Count())
	for i, ok := mask.NextSet(0); ok; i, ok = mask.NextSet(i + 1) {
		positions = append(positions, region.Start+int(i))
	}
	return positions, nil
}
