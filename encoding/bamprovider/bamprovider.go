// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bamprovider

import (
	"io"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varcall/interval"
	"v.io/x/lib/vlog"
)

// BAMProvider reads a coordinate-sorted BAM file.
type BAMProvider struct {
	// Path of the *.bam file.  Must be non-empty.
	Path string
	// Index is the path of the *.bam.bai file.  If empty, defaults to Path +
	// ".bai".
	Index string
	// FlagExclude and MinMapQ filter records; see ProviderOpts.
	FlagExclude int
	MinMapQ     int

	err errors.Once

	mu       sync.Mutex
	nActive  int
	header   *sam.Header
	index    *bam.Index
	indexErr error
	indexed  bool // index lookup has been attempted
}

type bamIterator struct {
	provider *BAMProvider
	region   interval.Region
	ref      *sam.Reference

	in     file.File
	reader *bam.Reader
	chunks *bam.Iterator // nil when scanning linearly

	rec  *sam.Record
	err  error
	done bool
}

func (b *BAMProvider) indexPath() string {
	if b.Index != "" {
		return b.Index
	}
	return b.Path + ".bai"
}

// GetHeader implements the Provider interface.
func (b *BAMProvider) GetHeader() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header != nil {
		return b.header, nil
	}
	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.Path)
	if err != nil {
		b.err.Set(err)
		return nil, errors.E(err, "bamprovider: open", b.Path)
	}
	defer in.Close(ctx) // nolint: errcheck
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		b.err.Set(err)
		return nil, errors.E(err, "bamprovider: read header", b.Path)
	}
	defer reader.Close() // nolint: errcheck
	b.header = reader.Header()
	return b.header, nil
}

// loadIndex reads the BAM index once.  A missing index is not an error; the
// iterators fall back to a linear scan.
func (b *BAMProvider) loadIndex() (*bam.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexed {
		return b.index, b.indexErr
	}
	b.indexed = true
	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.indexPath())
	if err != nil {
		vlog.VI(1).Infof("%v: no BAM index (%v), scanning linearly", b.Path, err)
		return nil, nil
	}
	defer in.Close(ctx) // nolint: errcheck
	if b.index, b.indexErr = bam.ReadIndex(in.Reader(ctx)); b.indexErr != nil {
		b.indexErr = errors.E(b.indexErr, "bamprovider: read index", b.indexPath())
	}
	return b.index, b.indexErr
}

// Close implements the Provider interface.
func (b *BAMProvider) Close() error {
	b.mu.Lock()
	if b.nActive > 0 {
		vlog.Fatalf("%d iterators still active for %+v", b.nActive, b)
	}
	b.mu.Unlock()
	return b.err.Err()
}

// NewIterator implements the Provider interface.
func (b *BAMProvider) NewIterator(r interval.Region) Iterator {
	header, err := b.GetHeader()
	if err != nil {
		return NewErrorIterator(err)
	}
	var ref *sam.Reference
	for _, hr := range header.Refs() {
		if hr.Name() == r.Chrom {
			ref = hr
			break
		}
	}
	if ref == nil {
		return NewErrorIterator(errors.E(errors.NotExist, "bamprovider: reference", r.Chrom, "not in header of", b.Path))
	}
	idx, err := b.loadIndex()
	if err != nil {
		return NewErrorIterator(err)
	}

	b.mu.Lock()
	b.nActive++
	b.mu.Unlock()
	iter := &bamIterator{provider: b, region: r, ref: ref}
	ctx := vcontext.Background()
	if iter.in, iter.err = file.Open(ctx, b.Path); iter.err != nil {
		return iter
	}
	if iter.reader, iter.err = bam.NewReader(iter.in.Reader(ctx), 1); iter.err != nil {
		return iter
	}
	if idx == nil {
		return iter
	}
	start, end := r.Start, r.End
	if start < 0 {
		start = 0
	}
	if end > ref.Len() {
		end = ref.Len()
	}
	if start >= end {
		iter.done = true
		return iter
	}
	var chunks []bgzf.Chunk
	chunks, iter.err = idx.Chunks(ref, start, end)
	if iter.err == index.ErrInvalid || (iter.err == nil && len(chunks) == 0) {
		iter.err = nil
		iter.done = true
		return iter
	}
	if iter.err != nil {
		return iter
	}
	iter.chunks, iter.err = bam.NewIterator(iter.reader, chunks)
	return iter
}

// next returns the next record in file order, or io.EOF.
func (i *bamIterator) next() (*sam.Record, error) {
	if i.chunks != nil {
		if !i.chunks.Next() {
			if err := i.chunks.Error(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return i.chunks.Record(), nil
	}
	return i.reader.Read()
}

// Scan implements the Iterator interface.
func (i *bamIterator) Scan() bool {
	if i.err != nil || i.done {
		return false
	}
	for {
		rec, err := i.next()
		if err != nil {
			if err != io.EOF {
				i.err = errors.E(err, "bamprovider: scan", i.provider.Path, i.region.String())
			}
			i.done = true
			return false
		}
		if rec.Ref != nil && rec.Ref.ID() > i.ref.ID() {
			i.done = true
			return false
		}
		if rec.Ref != nil && rec.Ref.ID() == i.ref.ID() && rec.Pos >= i.region.End {
			// Sorted input: nothing later can overlap.
			i.done = true
			return false
		}
		if !overlaps(rec, i.region) || !keep(rec, i.provider.FlagExclude, i.provider.MinMapQ) {
			continue
		}
		i.rec = rec
		return true
	}
}

// Record implements the Iterator interface.
func (i *bamIterator) Record() *sam.Record {
	return i.rec
}

// Err implements the Iterator interface.
func (i *bamIterator) Err() error {
	return i.err
}

// Close implements the Iterator interface.
func (i *bamIterator) Close() error {
	ctx := vcontext.Background()
	if i.chunks != nil {
		if err := i.chunks.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.chunks = nil
	}
	if i.reader != nil {
		if err := i.reader.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(ctx); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	i.provider.err.Set(i.err)
	i.provider.mu.Lock()
	i.provider.nActive--
	if i.provider.nActive < 0 {
		vlog.Fatalf("Negative active count for %+v", i.provider)
	}
	i.provider.mu.Unlock()
	return i.err
}
