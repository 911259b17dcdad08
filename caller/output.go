// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package caller

import (
	"encoding/binary"
	"hash"
	"strconv"

	"github.com/grailbio/varcall/encoding/vcf"
	"github.com/grailbio/varcall/haplotype"
	"github.com/minio/highwayhash"
)

// digestKey is the highwayhash key of Stats.Digest.
var digestKey [32]byte

// emitter filters calls and writes them as VCF records.
type emitter struct {
	w       *vcf.Writer
	opts    Opts
	digest  hash.Hash64
	written int
	buf     []byte
}

func newEmitter(w *vcf.Writer, opts Opts) *emitter {
	h, err := highwayhash.New64(digestKey[:])
	if err != nil {
		// Only fails on a bad key length.
		panic(err)
	}
	return &emitter{w: w, opts: opts, digest: h}
}

// Filter returns the FILTER value of c.
func Filter(c *haplotype.Call, lowCovDepth int) string {
	switch {
	case c.Depth < lowCovDepth:
		return vcf.FilterLowCov
	case c.CallCount == 1 && c.Het:
		return vcf.FilterSingleCallHet
	case c.CallCount == 1:
		return vcf.FilterSingleCallHom
	}
	return vcf.FilterPass
}

func pair(a, b string) string { return a + "," + b }

// Record converts c to a VCF record.
func Record(c *haplotype.Call, lowCovDepth int) *vcf.Record {
	r := &vcf.Record{
		Chrom:    c.Chrom,
		Pos:      c.Pos,
		Ref:      c.Ref,
		Alt:      c.Alt,
		Qual:     c.Qual,
		Filter:   Filter(c, lowCovDepth),
		Genotype: c.Genotype,
		Phased:   c.Het && c.PhaseSet > 0,
		PhaseSet: c.PhaseSet,
		Depth:    c.Depth,
	}
	if c.Rescaled {
		r.Info = append(r.Info, vcf.InfoField{Key: "RAW_QUAL", Value: vcf.FormatFloat(c.RawQual)})
	}
	itoa := strconv.Itoa
	r.Info = append(r.Info,
		vcf.InfoField{Key: "QUALS", Value: pair(vcf.FormatFloat(c.MinQual), vcf.FormatFloat(c.MaxQual))},
		vcf.InfoField{Key: "WIN_VAR_COUNT", Value: itoa(c.WinVarCount)},
		vcf.InfoField{Key: "WIN_CIS_COUNT", Value: itoa(c.WinCisCount)},
		vcf.InfoField{Key: "WIN_TRANS_COUNT", Value: itoa(c.WinTransCount)},
		vcf.InfoField{Key: "STEP_COUNT", Value: itoa(c.StepCount)},
		vcf.InfoField{Key: "CALL_COUNT", Value: itoa(c.CallCount)},
		vcf.InfoField{Key: "VAR_INDEX", Value: pair(itoa(c.MinVarIndex), itoa(c.MaxVarIndex))},
		vcf.InfoField{Key: "WIN_OFFSETS", Value: pair(itoa(c.MinOffset), itoa(c.MaxOffset))},
	)
	return r
}

// emit writes the calls whose quality exceeds opts.MinQual.
func (e *emitter) emit(calls []*haplotype.Call) error {
	for _, c := range calls {
		if !(c.Qual > e.opts.MinQual) {
			continue
		}
		r := Record(c, e.opts.LowCovDepth)
		if err := e.w.Write(r); err != nil {
			return err
		}
		e.hash(r)
		e.written++
	}
	return nil
}

func (e *emitter) hash(r *vcf.Record) {
	b := e.buf[:0]
	b = append(b, r.Chrom...)
	b = append(b, 0)
	b = strconv.AppendInt(b, int64(r.Pos), 10)
	b = append(b, 0)
	b = append(b, r.Ref...)
	b = append(b, 0)
	b = append(b, r.Alt...)
	b = append(b, 0)
	b = append(b, r.GT()...)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(r.PhaseSet))
	b = append(b, tmp[:]...)
	e.buf = b
	_, _ = e.digest.Write(b)
}
