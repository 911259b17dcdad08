// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package fasta

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// Reference wraps a Fasta with the interval semantics the caller needs:
// uppercase bases and 'N' padding for positions that fall off either end
// of a contig.  A Reference owns its file handle and is not meant to be
// shared across workers; each worker opens its own.
type Reference struct {
	Fasta
	path string
	in   file.File
}

// NewReference wraps an already-loaded Fasta.
func NewReference(f Fasta) *Reference {
	return &Reference{Fasta: f}
}

// Open opens the FASTA file at path.  When path.fai exists the sequences are
// read on demand through the index; otherwise the whole file is loaded.
func Open(ctx context.Context, path string) (*Reference, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "fasta.Open", path)
	}
	ref := &Reference{path: path, in: in}
	idx, err := file.Open(ctx, path+".fai")
	if err != nil {
		log.Debug.Printf("fasta.Open %s: no index (%v), loading into memory", path, err)
		ref.Fasta, err = New(in.Reader(ctx))
		ref.in = nil
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
		if err != nil {
			return nil, errors.E(err, "fasta.Open", path)
		}
		return ref, nil
	}
	ref.Fasta, err = NewIndexed(in.Reader(ctx), idx.Reader(ctx))
	if e := idx.Close(ctx); e != nil && err == nil {
		err = e
	}
	if err != nil {
		_ = in.Close(ctx)
		return nil, errors.E(err, "fasta.Open", path)
	}
	return ref, nil
}

// Close releases the underlying file, if any.
func (r *Reference) Close(ctx context.Context) error {
	if r.in == nil {
		return nil
	}
	err := r.in.Close(ctx)
	r.in = nil
	return err
}

// Window returns exactly end-start uppercase reference bases for
// [start, end) on chrom.  Positions before 0 or past the contig end are 'N'.
func (r *Reference) Window(chrom string, start, end int) (string, error) {
	if end < start {
		return "", errors.E(errors.Invalid, fmt.Sprintf("fasta.Window: invalid interval %s:%d-%d", chrom, start, end))
	}
	if end == start {
		return "", nil
	}
	n, err := r.Len(chrom)
	if err != nil {
		return "", errors.E(errors.NotExist, err, "fasta.Window")
	}
	lo, hi := start, end
	if lo < 0 {
		lo = 0
	}
	if hi > int(n) {
		hi = int(n)
	}
	var b strings.Builder
	b.Grow(end - start)
	for i := start; i < lo && i < end; i++ {
		b.WriteByte('N')
	}
	if lo < hi {
		seq, err := r.Get(chrom, uint64(lo), uint64(hi))
		if err != nil {
			return "", errors.E(err, "fasta.Window")
		}
		b.WriteString(strings.ToUpper(seq))
	}
	for i := hi; i < end; i++ {
		if i >= start && i >= lo {
			b.WriteByte('N')
		}
	}
	return b.String(), nil
}

// CheckAllele verifies that the reference at chrom:pos (0-based) spells
// allele.  A disagreement means a coordinate bug upstream and is reported as
// an errors.Integrity error.
func (r *Reference) CheckAllele(chrom string, pos int, allele string) error {
	got, err := r.Window(chrom, pos, pos+len(allele))
	if err != nil {
		return err
	}
	if got != strings.ToUpper(allele) {
		return errors.E(errors.Integrity,
			fmt.Sprintf("reference mismatch at %s:%d: expected %s, reference has %s", chrom, pos+1, allele, got))
	}
	return nil
}
