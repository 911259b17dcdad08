// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bamprovider

import (
	"sort"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varcall/interval"
)

type fakeProvider struct {
	header      *sam.Header
	recs        []*sam.Record
	flagExclude int
}

type fakeIterator struct {
	recs []*sam.Record
	rec  *sam.Record
}

// NewFakeProvider creates a Provider that serves recs from memory.  Records
// are sorted by (reference ID, position) so callers may list them in any
// order.  The default flag filter applies, as for BAM files.
func NewFakeProvider(header *sam.Header, recs []*sam.Record) Provider {
	sorted := append([]*sam.Record(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Ref.ID(), sorted[j].Ref.ID()
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Pos < sorted[j].Pos
	})
	return &fakeProvider{header: header, recs: sorted, flagExclude: DefaultFlagExclude}
}

func (b *fakeProvider) GetHeader() (*sam.Header, error) {
	return b.header, nil
}

func (b *fakeProvider) Close() error {
	return nil
}

func (b *fakeProvider) NewIterator(r interval.Region) Iterator {
	var recs []*sam.Record
	for _, rec := range b.recs {
		if overlaps(rec, r) && keep(rec, b.flagExclude, 0) {
			recs = append(recs, rec)
		}
	}
	return &fakeIterator{recs: recs}
}

func (i *fakeIterator) Err() error {
	return nil
}

func (i *fakeIterator) Close() error {
	return nil
}

func (i *fakeIterator) Scan() bool {
	if len(i.recs) == 0 {
		return false
	}
	i.rec = i.recs[0]
	i.recs = i.recs[1:]
	return true
}

func (i *fakeIterator) Record() *sam.Record {
	return i.rec
}
