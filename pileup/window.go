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
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varcall/encoding/bamprovider"
	"github.com/grailbio/varcall/interval"
)

// ctxCheckInterval is how many records are read between context checks.
const ctxCheckInterval = 4096

type failedRead struct {
	name       string
	start, end int
	err        error
}

// ReadWindow holds every read overlapping a region, encoded once, and
// serves pileup matrices for sub-intervals of that region.
type ReadWindow struct {
	Region interval.Region

	reads  []EncodedRead // sorted by Start
	failed []failedRead  // sorted by start
	// maxSpan bounds End()-Start and RefEnd-RefStart over reads.
	maxSpan int
}

// NewReadWindow fetches the reads overlapping region from provider and
// encodes them.  With FailFast, a read that cannot be encoded does not fail
// the constructor; instead every Window call touching it does.
func NewReadWindow(ctx context.Context, provider bamprovider.Provider, region interval.Region, policy ErrorPolicy) (*ReadWindow, error) {
	w := &ReadWindow{Region: region}
	iter := provider.NewIterator(region)
	n := 0
	for iter.Scan() {
		if n++; n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				_ = iter.Close()
				return nil, err
			}
		}
		w.add(iter.Record(), policy)
	}
	if err := iter.Close(); err != nil {
		return nil, errors.E(err, fmt.Sprintf("fetch reads for %v", region))
	}
	sort.SliceStable(w.reads, func(i, j int) bool { return w.reads[i].Start < w.reads[j].Start })
	sort.SliceStable(w.failed, func(i, j int) bool { return w.failed[i].start < w.failed[j].start })
	log.Debug.Printf("readwindow %v: %d reads, %d failed", region, len(w.reads), len(w.failed))
	return w, nil
}

// NewReadWindowFromReads builds a window from already encoded reads.
func NewReadWindowFromReads(region interval.Region, reads []EncodedRead) *ReadWindow {
	w := &ReadWindow{Region: region, reads: append([]EncodedRead(nil), reads...)}
	for _, r := range w.reads {
		w.grow(r.Start, r.End())
		w.grow(r.RefStart, r.RefEnd)
	}
	sort.SliceStable(w.reads, func(i, j int) bool { return w.reads[i].Start < w.reads[j].Start })
	return w
}

func (w *ReadWindow) grow(start, end int) {
	if end-start > w.maxSpan {
		w.maxSpan = end - start
	}
}

func (w *ReadWindow) add(rec *sam.Record, policy ErrorPolicy) {
	r, err := NewEncodedRead(rec)
	if err != nil {
		if policy == SkipRead {
			log.Debug.Printf("skipping read: %v", err)
			return
		}
		start, end := AlignmentStart(rec), rec.End()
		if end <= start {
			end = start + 1
		}
		w.failed = append(w.failed, failedRead{name: rec.Name, start: start, end: end, err: err})
		w.grow(start, end)
		return
	}
	w.reads = append(w.reads, r)
	w.grow(r.Start, r.End())
	w.grow(r.RefStart, r.RefEnd)
}

// Len is the number of successfully encoded reads.
func (w *ReadWindow) Len() int { return len(w.reads) }

// first returns the index of the first read that could reach pos.
func (w *ReadWindow) first(pos int) int {
	lo := pos - w.maxSpan
	return sort.Search(len(w.reads), func(i int) bool { return w.reads[i].Start >= lo })
}

// Window returns the reads overlapping [start, end) laid out as a matrix
// without a reference row.  When more than maxReads reads overlap, maxReads
// of them are sampled using rng.  maxReads <= 0 disables sampling.
func (w *ReadWindow) Window(start, end, maxReads int, rng *rand.Rand) (Matrix, error) {
	if start >= end || start < w.Region.Start || end > w.Region.End {
		return Matrix{}, errors.E(errors.Invalid,
			fmt.Sprintf("pileup: window [%d,%d) outside read window %v", start, end, w.Region))
	}
	for _, f := range w.failed {
		if f.start >= end {
			break
		}
		if f.end > start {
			return Matrix{}, errors.E(f.err, fmt.Sprintf("window %s:%d-%d", w.Region.Chrom, start+1, end))
		}
	}
	var sel []EncodedRead
	for i := w.first(start); i < len(w.reads) && w.reads[i].Start < end; i++ {
		if w.reads[i].End() > start {
			sel = append(sel, w.reads[i])
		}
	}
	if maxReads > 0 {
		sel = Downsample(sel, maxReads, rng)
	}
	return LayoutReads(sel, start, end), nil
}

// Depth is the number of encoded reads whose mapped span covers pos.
func (w *ReadWindow) Depth(pos int) int {
	d := 0
	for i := w.first(pos); i < len(w.reads) && w.reads[i].Start <= pos; i++ {
		if r := w.reads[i]; r.RefStart <= pos && pos < r.RefEnd {
			d++
		}
	}
	return d
}
