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

// Package pileup turns aligned reads into the fixed-shape feature tensors
// consumed by the predictor.
//
// Every base of a read (and every deletion, reference skip or clipped base)
// becomes one FeatureVector of NumChannels int8 values.  A Matrix stacks
// these vectors as [position][read][channel] over a window of the
// reference.  Row 0 of a complete pileup matrix is always the reference
// sequence itself; see WithReference.
package pileup

import (
	"math"
)

// Channel indices within a FeatureVector.
const (
	ChanA = iota
	ChanC
	ChanG
	ChanT
	// ChanQual holds round(qual/10).
	ChanQual
	ChanRefConsumed
	ChanReadConsumed
	// ChanStrand is 1 for reverse-strand reads.
	ChanStrand
	ChanClipped
	// NumChannels is the length of a FeatureVector.
	NumChannels
)

const (
	// GapBase is the base used for positions that carry no read base
	// (deletions, reference skips, hard clips).
	GapBase = '-'
	// RefQual is the quality assigned to every reference base.
	RefQual = 50
	// missingQual is the BAM sentinel for "no quality string".
	missingQual = 0xff
)

// FeatureVector is the per-base encoding.  Channels 0..3 are a one-hot
// encoding of A/C/G/T; N and other ambiguity codes set all four and
// GapBase sets none.
type FeatureVector [NumChannels]int8

const (
	noBase   = -1
	allBases = -2
)

var baseChan = [256]int8{}

func init() {
	for i := range baseChan {
		baseChan[i] = allBases
	}
	baseChan[GapBase] = noBase
	baseChan[0] = noBase
	baseChan['A'], baseChan['a'] = ChanA, ChanA
	baseChan['C'], baseChan['c'] = ChanC, ChanC
	baseChan['G'], baseChan['g'] = ChanG, ChanG
	baseChan['T'], baseChan['t'] = ChanT, ChanT
}

func flag(b bool) int8 {
	if b {
		return 1
	}
	return 0
}

// QualChannel maps a phred base quality to the value stored in ChanQual.
// Halves round to even.
func QualChannel(qual int) int8 {
	if qual <= 0 || qual == missingQual {
		return 0
	}
	v := math.RoundToEven(float64(qual) / 10)
	if v > math.MaxInt8 {
		v = math.MaxInt8
	}
	return int8(v)
}

// EncodeBase builds the FeatureVector for a single base.
func EncodeBase(base byte, qual int, refConsumed, readConsumed, reverse, clipped bool) FeatureVector {
	var v FeatureVector
	switch c := baseChan[base]; c {
	case noBase:
	case allBases:
		v[ChanA], v[ChanC], v[ChanG], v[ChanT] = 1, 1, 1, 1
	default:
		v[c] = 1
	}
	v[ChanQual] = QualChannel(qual)
	v[ChanRefConsumed] = flag(refConsumed)
	v[ChanReadConsumed] = flag(readConsumed)
	v[ChanStrand] = flag(reverse)
	v[ChanClipped] = flag(clipped)
	return v
}

// Base decodes the base channels.  It returns 'N' when all four base bits
// are set, GapBase when none are and 0 for padding.
func (v FeatureVector) Base() byte {
	n := 0
	var b byte
	for i, c := range [...]byte{'A', 'C', 'G', 'T'} {
		if v[ChanA+i] != 0 {
			n++
			b = c
		}
	}
	switch {
	case n == 1:
		return b
	case n > 1:
		return 'N'
	case v.IsPadding():
		return 0
	}
	return GapBase
}

// IsPadding reports whether v is the all-zero vector used for positions a
// read does not cover.
func (v FeatureVector) IsPadding() bool { return v == FeatureVector{} }
