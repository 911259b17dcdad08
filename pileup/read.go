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

package pileup

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// ErrorPolicy decides what happens to a read that cannot be encoded.
type ErrorPolicy int

const (
	// FailFast propagates the encoding error to the caller.
	FailFast ErrorPolicy = iota
	// SkipRead drops the offending read and continues.
	SkipRead
)

// String implements fmt.Stringer.
func (p ErrorPolicy) String() string {
	switch p {
	case FailFast:
		return "failfast"
	case SkipRead:
		return "skip"
	}
	return fmt.Sprintf("ErrorPolicy(%d)", int(p))
}

// ParseErrorPolicy is the inverse of ErrorPolicy.String.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "failfast", "fail":
		return FailFast, nil
	case "skip":
		return SkipRead, nil
	}
	return FailFast, errors.E(errors.Invalid, fmt.Sprintf("unknown read error policy %q", s))
}

// AlignmentStart returns the position of the first vector produced by
// EncodeRead: the mapped position, moved left by the length of a leading
// soft or hard clip.
func AlignmentStart(rec *sam.Record) int {
	if len(rec.Cigar) > 0 {
		switch op := rec.Cigar[0]; op.Type() {
		case sam.CigarSoftClipped, sam.CigarHardClipped:
			return rec.Pos - op.Len()
		}
	}
	return rec.Pos
}

// EncodedRead is a read after EncodeRead, together with the coordinates
// needed to lay it out in a window.
type EncodedRead struct {
	Name string
	// Start is AlignmentStart of the record; Vecs[i] sits at Start+i.
	Start int
	// RefStart and RefEnd are the mapped span of the record, [Pos, End()).
	RefStart, RefEnd int
	Vecs             []FeatureVector
}

// End is one past the position of the last vector.
func (r EncodedRead) End() int { return r.Start + len(r.Vecs) }

// NewEncodedRead encodes rec and records its coordinates.
func NewEncodedRead(rec *sam.Record) (EncodedRead, error) {
	vecs, err := EncodeRead(rec)
	if err != nil {
		return EncodedRead{}, err
	}
	return EncodedRead{
		Name:     rec.Name,
		Start:    AlignmentStart(rec),
		RefStart: rec.Pos,
		RefEnd:   rec.End(),
		Vecs:     vecs,
	}, nil
}

func encodingError(rec *sam.Record, msg string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("encode read %s at %d: %s", rec.Name, rec.Pos, fmt.Sprintf(msg, args...)))
}

// EncodeRead walks the CIGAR of rec and returns one FeatureVector per
// alignment column, in alignment order.
//
//	M, =, X  query base, both consumed flags set
//	I        query base, read-consumed only
//	D, N     GapBase with quality 0, ref-consumed only
//	S        query base, read-consumed, clipped
//	H        GapBase with quality 0, clipped
//	P        nothing
//
// A record without a CIGAR, or whose CIGAR consumes more query bases than
// the record holds, is an encoding failure.
func EncodeRead(rec *sam.Record) ([]FeatureVector, error) {
	if len(rec.Cigar) == 0 {
		return nil, encodingError(rec, "no cigar")
	}
	seq := rec.Seq.Expand()
	qual := rec.Qual
	if len(qual) != 0 && len(qual) != len(seq) {
		return nil, encodingError(rec, "%d bases but %d qualities", len(seq), len(qual))
	}
	q := func(i int) int {
		if len(qual) == 0 {
			return 0
		}
		return int(qual[i])
	}
	reverse := rec.Flags&sam.Reverse != 0

	n := 0
	for _, op := range rec.Cigar {
		if op.Type() != sam.CigarPadded {
			n += op.Len()
		}
	}
	vecs := make([]FeatureVector, 0, n)
	qi := 0
	for _, op := range rec.Cigar {
		l := op.Len()
		switch t := op.Type(); t {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarInsertion, sam.CigarSoftClipped:
			if qi+l > len(seq) {
				return nil, encodingError(rec, "cigar %v consumes more than %d query bases", rec.Cigar, len(seq))
			}
			refConsumed := t != sam.CigarInsertion && t != sam.CigarSoftClipped
			clipped := t == sam.CigarSoftClipped
			for i := 0; i < l; i++ {
				vecs = append(vecs, EncodeBase(seq[qi], q(qi), refConsumed, true, reverse, clipped))
				qi++
			}
		case sam.CigarDeletion, sam.CigarSkipped:
			v := EncodeBase(GapBase, 0, true, false, reverse, false)
			for i := 0; i < l; i++ {
				vecs = append(vecs, v)
			}
		case sam.CigarHardClipped:
			v := EncodeBase(GapBase, 0, false, false, reverse, true)
			for i := 0; i < l; i++ {
				vecs = append(vecs, v)
			}
		case sam.CigarPadded:
		default:
			return nil, encodingError(rec, "unknown cigar op %v", op)
		}
	}
	return vecs, nil
}

// EncodeReference encodes a reference sequence: every base at RefQual with
// all flags clear.
func EncodeReference(seq string) []FeatureVector {
	vecs := make([]FeatureVector, len(seq))
	for i := 0; i < len(seq); i++ {
		vecs[i] = EncodeBase(seq[i], RefQual, false, false, false, false)
	}
	return vecs
}
