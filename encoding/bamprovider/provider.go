// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bamprovider

import (
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varcall/interval"
)

// DefaultFlagExclude drops unmapped, secondary, QC-fail, duplicate and
// supplementary records.
const DefaultFlagExclude = int(sam.Unmapped | sam.Secondary | sam.QCFail | sam.Duplicate | sam.Supplementary)

// ProviderOpts defines options for NewProvider.
type ProviderOpts struct {
	// Index names the BAM index file.  If "", it defaults to path + ".bai".
	// When no index exists the file is scanned linearly.
	Index string
	// FlagExclude drops records whose FLAG intersects it.  If 0,
	// DefaultFlagExclude is used; use a negative value to keep everything.
	FlagExclude int
	// MinMapQ drops records with a lower mapping quality.
	MinMapQ int
}

// Provider gives access to the records of one alignment file.
type Provider interface {
	// GetHeader returns the header of the file.
	GetHeader() (*sam.Header, error)

	// NewIterator returns an iterator over the records that overlap r, in
	// coordinate order.  The caller must Close the iterator.
	NewIterator(r interval.Region) Iterator

	// Close must be called after all iterators are closed.  It returns the
	// first error encountered by any iterator.
	Close() error
}

// Iterator iterates over sam.Records.  Thread compatible.
type Iterator interface {
	// Scan returns whether there are any records remaining.  Scan returns
	// false on error.
	Scan() bool

	// Record returns the current record.  Valid only after Scan returned true.
	Record() *sam.Record

	// Err returns the error encountered during iteration, if any.
	Err() error

	// Close must be called exactly once.  It returns the value of Err().
	Close() error
}

func mergeOpts(optList []ProviderOpts) ProviderOpts {
	opts := ProviderOpts{FlagExclude: DefaultFlagExclude}
	for _, o := range optList {
		if o.Index != "" {
			opts.Index = o.Index
		}
		if o.FlagExclude != 0 {
			opts.FlagExclude = o.FlagExclude
		}
		if o.MinMapQ != 0 {
			opts.MinMapQ = o.MinMapQ
		}
	}
	if opts.FlagExclude < 0 {
		opts.FlagExclude = 0
	}
	return opts
}

// NewProvider creates a Provider for the BAM file at path.
func NewProvider(path string, optList ...ProviderOpts) Provider {
	opts := mergeOpts(optList)
	return &BAMProvider{Path: path, Index: opts.Index, FlagExclude: opts.FlagExclude, MinMapQ: opts.MinMapQ}
}

// overlaps returns whether rec is mapped to r.Chrom and covers at least one
// base of r.
func overlaps(rec *sam.Record, r interval.Region) bool {
	if rec.Ref == nil || rec.Ref.Name() != r.Chrom {
		return false
	}
	if rec.Pos >= r.End {
		return false
	}
	end := rec.End()
	if end == rec.Pos {
		// Zero-length alignments still sit at rec.Pos.
		end++
	}
	return end > r.Start
}

// keep applies the flag and mapping-quality filters.
func keep(rec *sam.Record, flagExclude, minMapQ int) bool {
	if int(rec.Flags)&flagExclude != 0 {
		return false
	}
	return int(rec.MapQ) >= minMapQ
}

type errorIterator struct {
	err error
}

func (i *errorIterator) Scan() bool          { return false }
func (i *errorIterator) Record() *sam.Record { panic("shall not be called") }
func (i *errorIterator) Err() error          { return i.err }
func (i *errorIterator) Close() error        { return i.err }

// NewErrorIterator creates an Iterator that yields no record and returns err
// from Err and Close.
func NewErrorIterator(err error) Iterator {
	return &errorIterator{err: err}
}
