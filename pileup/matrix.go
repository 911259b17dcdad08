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
	"strings"

	"github.com/grailbio/base/errors"
)

// Matrix is a [Width][Depth][NumChannels] int8 tensor stored row-major.
// Positions index the reference window, reads index pileup rows.
type Matrix struct {
	Width, Depth int
	// Reads is the number of populated rows; rows [Reads, Depth) are
	// padding.
	Reads int
	Data  []int8
}

// NewMatrix allocates a zeroed matrix.
func NewMatrix(width, depth int) Matrix {
	return Matrix{Width: width, Depth: depth, Data: make([]int8, width*depth*NumChannels)}
}

func (m Matrix) offset(pos, read int) int {
	return (pos*m.Depth + read) * NumChannels
}

// At returns the vector of the given read at the given window position.
func (m Matrix) At(pos, read int) FeatureVector {
	var v FeatureVector
	copy(v[:], m.Data[m.offset(pos, read):])
	return v
}

// Set stores v.
func (m Matrix) Set(pos, read int, v FeatureVector) {
	copy(m.Data[m.offset(pos, read):], v[:])
}

// Row returns the vectors of one read across the window.
func (m Matrix) Row(read int) []FeatureVector {
	row := make([]FeatureVector, m.Width)
	for pos := range row {
		row[pos] = m.At(pos, read)
	}
	return row
}

// Bases decodes one read row back into bases, using '.' for padding.
func (m Matrix) Bases(read int) string {
	var sb strings.Builder
	for pos := 0; pos < m.Width; pos++ {
		b := m.At(pos, read).Base()
		if b == 0 {
			b = '.'
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

// String renders the matrix one read per line, for debugging.
func (m Matrix) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pileup %dx%d (%d reads)\n", m.Width, m.Depth, m.Reads)
	for r := 0; r < m.Reads; r++ {
		sb.WriteString(m.Bases(r))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// place copies the vectors of r into row, where position 0 of the matrix
// is reference coordinate start.  Vectors outside the matrix are dropped.
func (m Matrix) place(row int, start int, r EncodedRead) {
	for i, v := range r.Vecs {
		p := r.Start + i - start
		if p < 0 {
			continue
		}
		if p >= m.Width {
			break
		}
		m.Set(p, row, v)
	}
}

// LayoutReads builds a matrix covering [start, end) from reads, which must
// be sorted by Start.  The read axis is exactly len(reads) long.
func LayoutReads(reads []EncodedRead, start, end int) Matrix {
	m := NewMatrix(end-start, len(reads))
	for i, r := range reads {
		m.place(i, start, r)
	}
	m.Reads = len(reads)
	return m
}

// WithReference returns a new matrix whose row 0 is refseq and whose
// following rows are the rows of reads, padded with zero rows or truncated
// so that the read axis is exactly depth long.
func WithReference(reads Matrix, refseq string, depth int) (Matrix, error) {
	if len(refseq) != reads.Width {
		return Matrix{}, errors.E(errors.Invalid,
			fmt.Sprintf("pileup: reference length %d does not match window width %d", len(refseq), reads.Width))
	}
	if depth < 1 {
		return Matrix{}, errors.E(errors.Invalid, fmt.Sprintf("pileup: depth %d", depth))
	}
	m := NewMatrix(reads.Width, depth)
	n := reads.Reads
	if n > depth-1 {
		n = depth - 1
	}
	for pos, v := range EncodeReference(refseq) {
		m.Set(pos, 0, v)
		src := reads.offset(pos, 0)
		copy(m.Data[m.offset(pos, 1):m.offset(pos, 1+n)], reads.Data[src:src+n*NumChannels])
	}
	m.Reads = n + 1
	return m, nil
}
