// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bamprovider

import (
	"fmt"
	"os"
	"sort"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// NewTestHeader creates a header with one reference per name.  For tests.
func NewTestHeader(names []string, lengths []int) *sam.Header {
	refs := make([]*sam.Reference, len(names))
	for i := range names {
		ref, err := sam.NewReference(names[i], "", "", lengths[i], nil, nil)
		if err != nil {
			panic(err)
		}
		refs[i] = ref
	}
	header, err := sam.NewHeader(nil, refs)
	if err != nil {
		panic(err)
	}
	header.SortOrder = sam.Coordinate
	return header
}

// NewTestRecord creates a mapped record from a CIGAR string and a sequence.
// Every base gets quality qual.  For tests.
func NewTestRecord(name string, ref *sam.Reference, pos int, flags sam.Flags, cigar, seq string, qual byte) *sam.Record {
	co, err := sam.ParseCigar([]byte(cigar))
	if err != nil {
		panic(fmt.Sprintf("bad cigar %q: %v", cigar, err))
	}
	if _, readLen := co.Lengths(); readLen != len(seq) {
		panic(fmt.Sprintf("cigar %s consumes %d query bases, sequence has %d", cigar, readLen, len(seq)))
	}
	quals := make([]byte, len(seq))
	for i := range quals {
		quals[i] = qual
	}
	return &sam.Record{
		Name:    name,
		Ref:     ref,
		Pos:     pos,
		MapQ:    60,
		Flags:   flags,
		Cigar:   co,
		Seq:     sam.NewSeq([]byte(seq)),
		Qual:    quals,
		MateRef: nil,
		MatePos: -1,
	}
}

// WriteTestBAM writes recs, sorted by coordinate, as a BAM file at path.
// For tests.
func WriteTestBAM(path string, header *sam.Header, recs []*sam.Record) (err error) {
	sorted := append([]*sam.Record(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Ref.ID(), sorted[j].Ref.ID()
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Pos < sorted[j].Pos
	})
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	w, err := bam.NewWriter(f, header, 1)
	if err != nil {
		return err
	}
	for _, r := range sorted {
		if err = w.Write(r); err != nil {
			return err
		}
	}
	return w.Close()
}
