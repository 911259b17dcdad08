// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package scanner slides a fixed-size window along a region and produces
// batches of pileup matrices for the predictor.
package scanner

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/varcall/encoding/bamprovider"
	"github.com/grailbio/varcall/interval"
	"github.com/grailbio/varcall/pileup"
)

// ErrInsufficientDepth is reported internally for windows with fewer than
// Opts.MinReads reads.  Such windows are skipped.
var ErrInsufficientDepth = errors.E(errors.NotExist, "insufficient read depth")

// Opts configures a Scanner.
type Opts struct {
	WindowSize int
	WindowStep int
	// MaxReadDepth is the size of the read axis of every matrix, reference
	// row included.
	MaxReadDepth int
	// MinReads is the minimum number of reads a window needs to be scanned.
	MinReads  int
	BatchSize int
	// Seed is mixed into every per-window sampling seed.
	Seed    int64
	OnError pileup.ErrorPolicy
}

// DefaultOpts holds the default scanning parameters.
var DefaultOpts = Opts{
	WindowSize:   150,
	WindowStep:   25,
	MaxReadDepth: 100,
	MinReads:     5,
	BatchSize:    128,
	OnError:      pileup.FailFast,
}

// Validate checks opts for nonsensical values.
func (o Opts) Validate() error {
	switch {
	case o.WindowSize <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("scanner: window size %d", o.WindowSize))
	case o.WindowStep <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("scanner: window step %d", o.WindowStep))
	case o.MaxReadDepth < 2:
		return errors.E(errors.Invalid, fmt.Sprintf("scanner: max read depth %d", o.MaxReadDepth))
	case o.MinReads < 0 || o.MinReads > o.MaxReadDepth-1:
		return errors.E(errors.Invalid, fmt.Sprintf("scanner: min reads %d with max read depth %d", o.MinReads, o.MaxReadDepth))
	case o.BatchSize <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("scanner: batch size %d", o.BatchSize))
	}
	return nil
}

// Reference serves reference bases.  *fasta.Reference implements it.
type Reference interface {
	Window(chrom string, start, end int) (string, error)
}

// Batch is a group of encoded windows.
type Batch struct {
	Matrices []pileup.Matrix
	// Offsets holds the reference position of column 0 of each matrix.
	Offsets []int
	// Steps holds the index of each window among the scanned (not skipped)
	// windows of the region.
	Steps []int
}

// Len is the number of windows in the batch.
func (b *Batch) Len() int { return len(b.Matrices) }

// Stats counts the windows seen by a Scanner.
type Stats struct {
	Windows int
	Skipped int
	Batches int
}

// Scanner walks one region.  It is not safe for concurrent use.
type Scanner struct {
	region interval.Region
	ref    Reference
	opts   Opts
	rw     *pileup.ReadWindow

	first int
	// limit is the last allowed window start.
	limit float64
	next  int
	steps int
	stats Stats
}

// New creates a scanner over region.  Every read the scan can need is
// fetched from provider up front.
func New(ctx context.Context, provider bamprovider.Provider, ref Reference, region interval.Region, opts Opts) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ws := float64(opts.WindowSize)
	s := &Scanner{
		region: region,
		ref:    ref,
		opts:   opts,
		first:  int(float64(region.Start) - 0.5*ws),
		limit:  float64(region.End) - 0.1*ws,
	}
	span := interval.Region{Chrom: region.Chrom, Start: s.first, End: region.End + opts.WindowSize}
	var err error
	if s.rw, err = pileup.NewReadWindow(ctx, provider, span, opts.OnError); err != nil {
		return nil, err
	}
	s.next = s.first
	log.Debug.Printf("scanner %v: windows from %d to %.1f step %d, %d reads", region, s.first, s.limit, opts.WindowStep, s.rw.Len())
	return s, nil
}

// Region is the region being scanned.
func (s *Scanner) Region() interval.Region { return s.region }

// Depth is the number of reads covering pos.
func (s *Scanner) Depth(pos int) int { return s.rw.Depth(pos) }

// Stats returns the counters accumulated since the last Reset.
func (s *Scanner) Stats() Stats { return s.stats }

// Reset rewinds the scanner.  The windows produced afterwards are identical
// to the ones already produced.
func (s *Scanner) Reset() {
	s.next = s.first
	s.steps = 0
	s.stats = Stats{}
}

func (s *Scanner) window(start int) (pileup.Matrix, error) {
	end := start + s.opts.WindowSize
	rng := rand.New(rand.NewSource(pileup.WindowSeed(s.opts.Seed, s.region.Chrom, start)))
	reads, err := s.rw.Window(start, end, s.opts.MaxReadDepth-1, rng)
	if err != nil {
		return pileup.Matrix{}, err
	}
	if reads.Reads < s.opts.MinReads {
		return pileup.Matrix{}, ErrInsufficientDepth
	}
	refseq, err := s.ref.Window(s.region.Chrom, start, end)
	if err != nil {
		return pileup.Matrix{}, errors.E(err, fmt.Sprintf("scanner: reference for window %s:%d-%d", s.region.Chrom, start+1, end))
	}
	return pileup.WithReference(reads, refseq, s.opts.MaxReadDepth)
}

// Next returns the next batch of windows, or io.EOF once the region is
// exhausted.  Windows with too few reads are skipped.
func (s *Scanner) Next(ctx context.Context) (*Batch, error) {
	b := &Batch{}
	for float64(s.next) <= s.limit && b.Len() < s.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := s.next
		s.next += s.opts.WindowStep
		s.stats.Windows++
		m, err := s.window(start)
		if err != nil {
			if err == ErrInsufficientDepth {
				s.stats.Skipped++
				log.Debug.Printf("window %s:%d-%d has fewer than %d reads, skipping",
					s.region.Chrom, start+1, start+s.opts.WindowSize, s.opts.MinReads)
				continue
			}
			return nil, err
		}
		b.Matrices = append(b.Matrices, m)
		b.Offsets = append(b.Offsets, start)
		b.Steps = append(b.Steps, s.steps)
		s.steps++
	}
	if b.Len() == 0 {
		return nil, io.EOF
	}
	s.stats.Batches++
	return b, nil
}
