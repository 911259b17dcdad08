// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package caller

import (
	"encoding/binary"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/varcall/haplotype"
)

// Calls are stored in the chunk files as a sequence of varints, strings as
// a length followed by the bytes, floats as 8 little-endian bytes.  Every
// record ends with the fingerprint of its key.  The recordio zstd
// transformer takes care of compression.

const (
	flagHet = 1 << iota
	flagDuplicate
	flagRescaled
)

type callEncoder struct {
	buf []byte
	tmp [binary.MaxVarintLen64]byte
}

func (e *callEncoder) putInt(v int) {
	n := binary.PutVarint(e.tmp[:], int64(v))
	e.buf = append(e.buf, e.tmp[:n]...)
}

func (e *callEncoder) putString(s string) {
	e.putInt(len(s))
	e.buf = append(e.buf, s...)
}

func (e *callEncoder) putUint64(v uint64) {
	binary.LittleEndian.PutUint64(e.tmp[:8], v)
	e.buf = append(e.buf, e.tmp[:8]...)
}

func (e *callEncoder) putFloat(f float64) { e.putUint64(math.Float64bits(f)) }

// marshalCall is the recordio marshaller for *haplotype.Call.
func marshalCall(scratch []byte, p interface{}) ([]byte, error) {
	c := p.(*haplotype.Call)
	e := callEncoder{buf: scratch[:0]}
	e.putString(c.Chrom)
	e.putInt(c.Pos)
	e.putString(c.Ref)
	e.putString(c.Alt)
	flags := 0
	if c.Het {
		flags |= flagHet
	}
	if c.Duplicate {
		flags |= flagDuplicate
	}
	if c.Rescaled {
		flags |= flagRescaled
	}
	for _, v := range []int{
		flags, c.Haplotype, c.Genotype[0], c.Genotype[1], c.PhaseSet,
		c.WindowOffset, c.Step, c.VarIndex,
		c.Region, c.CallCount, c.Covering, c.WinVarCount, c.WinCisCount, c.WinTransCount, c.StepCount,
		c.MinOffset, c.MaxOffset, c.MinVarIndex, c.MaxVarIndex, c.Depth,
	} {
		e.putInt(v)
	}
	for _, f := range []float64{c.Prob, c.Qual, c.MinQual, c.MaxQual, c.RawQual} {
		e.putFloat(f)
	}
	e.putUint64(c.Key().Fingerprint())
	return e.buf, nil
}

type callDecoder struct {
	in  []byte
	err error
}

var errShortRecord = errors.E(errors.Integrity, "caller: truncated call record")

func (d *callDecoder) readInt() int {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.in)
	if n <= 0 {
		d.err = errShortRecord
		return 0
	}
	d.in = d.in[n:]
	return int(v)
}

func (d *callDecoder) readString() string {
	n := d.readInt()
	if d.err != nil {
		return ""
	}
	if n < 0 || n > len(d.in) {
		d.err = errShortRecord
		return ""
	}
	s := string(d.in[:n])
	d.in = d.in[n:]
	return s
}

func (d *callDecoder) readUint64() uint64 {
	if d.err != nil {
		return 0
	}
	if len(d.in) < 8 {
		d.err = errShortRecord
		return 0
	}
	v := binary.LittleEndian.Uint64(d.in[:8])
	d.in = d.in[8:]
	return v
}

func (d *callDecoder) readFloat() float64 { return math.Float64frombits(d.readUint64()) }

// unmarshalCall is the recordio unmarshaller for *haplotype.Call.
func unmarshalCall(in []byte) (interface{}, error) {
	d := callDecoder{in: in}
	c := &haplotype.Call{}
	c.Chrom = d.readString()
	c.Pos = d.readInt()
	c.Ref = d.readString()
	c.Alt = d.readString()
	flags := d.readInt()
	c.Het = flags&flagHet != 0
	c.Duplicate = flags&flagDuplicate != 0
	c.Rescaled = flags&flagRescaled != 0
	for _, p := range []*int{
		&c.Haplotype, &c.Genotype[0], &c.Genotype[1], &c.PhaseSet,
		&c.WindowOffset, &c.Step, &c.VarIndex,
		&c.Region, &c.CallCount, &c.Covering, &c.WinVarCount, &c.WinCisCount, &c.WinTransCount, &c.StepCount,
		&c.MinOffset, &c.MaxOffset, &c.MinVarIndex, &c.MaxVarIndex, &c.Depth,
	} {
		*p = d.readInt()
	}
	for _, p := range []*float64{&c.Prob, &c.Qual, &c.MinQual, &c.MaxQual, &c.RawQual} {
		*p = d.readFloat()
	}
	fp := d.readUint64()
	if d.err == nil && len(d.in) != 0 {
		d.err = errors.E(errors.Integrity, "caller: trailing bytes in call record")
	}
	if d.err == nil && fp != c.Key().Fingerprint() {
		d.err = errors.E(errors.Integrity, "caller: key fingerprint mismatch for", c.Key().String())
	}
	if d.err != nil {
		return nil, d.err
	}
	return c, nil
}
