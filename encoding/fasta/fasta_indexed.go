// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package fasta

import (
	"bufio"
	"io"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Index files have one tab-separated line per sequence:
// "<name>\t<length>\t<byte offset>\t<bases per line>\t<bytes per line>",
// for example "chr3\t12345\t9000\t80\t81".
var indexRegExp = regexp.MustCompile(`^(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)`)

type faiEntry struct {
	length    uint64
	offset    uint64
	lineBases uint64
	lineWidth uint64
}

// byteOffset returns the file offset of the base at pos.
func (e faiEntry) byteOffset(pos uint64) int64 {
	return int64(e.offset + (pos/e.lineBases)*e.lineWidth + pos%e.lineBases)
}

type indexedFasta struct {
	seqs     map[string]faiEntry
	seqNames []string

	mu     sync.Mutex
	reader io.ReadSeeker
	raw    []byte // scratch for the on-disk bytes of one query
}

// NewIndexed creates a Fasta that seeks in the given reader using the .fai
// index, without loading sequences into memory.
func NewIndexed(fasta io.ReadSeeker, index io.Reader) (Fasta, error) {
	f := &indexedFasta{seqs: make(map[string]faiEntry), reader: fasta}
	scanner := bufio.NewScanner(index)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		m := indexRegExp.FindStringSubmatch(scanner.Text())
		if len(m) != 6 {
			return nil, errors.Errorf("invalid index line: %s", scanner.Text())
		}
		var (
			ent  faiEntry
			vals [4]uint64
		)
		for i := range vals {
			v, err := strconv.ParseUint(m[i+2], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid index line: %s", scanner.Text())
			}
			vals[i] = v
		}
		ent.length, ent.offset, ent.lineBases, ent.lineWidth = vals[0], vals[1], vals[2], vals[3]
		if ent.lineBases == 0 || ent.lineWidth < ent.lineBases {
			return nil, errors.Errorf("invalid line geometry in index line: %s", scanner.Text())
		}
		f.seqs[m[1]] = ent
		f.seqNames = append(f.seqNames, m[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA index")
	}
	sort.SliceStable(f.seqNames, func(i, j int) bool {
		return f.seqs[f.seqNames[i]].offset < f.seqs[f.seqNames[j]].offset
	})
	return f, nil
}

// Len implements Fasta.Len().
func (f *indexedFasta) Len(seqName string) (uint64, error) {
	ent, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("sequence not found in index: %s", seqName)
	}
	return ent.length, nil
}

// Get implements Fasta.Get().
func (f *indexedFasta) Get(seqName string, start, end uint64) (string, error) {
	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	ent, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found in index: %s", seqName)
	}
	if end > ent.length {
		return "", errors.Errorf("end is past end of sequence %s: %d", seqName, ent.length)
	}
	first := ent.byteOffset(start)
	limit := ent.byteOffset(end-1) + 1

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.reader.Seek(first, io.SeekStart); err != nil {
		return "", errors.Wrapf(err, "failed to seek to offset %d", first)
	}
	n := int(limit - first)
	if cap(f.raw) < n {
		f.raw = make([]byte, n)
	}
	f.raw = f.raw[:n]
	if _, err := io.ReadFull(f.reader, f.raw); err != nil {
		return "", errors.Wrap(err, "unexpected end of FASTA data (bad index?)")
	}
	// Drop the line terminators between the requested bases.
	out := make([]byte, 0, end-start)
	linePos := start % ent.lineBases
	for _, c := range f.raw {
		if linePos < ent.lineBases {
			out = append(out, c)
		}
		linePos++
		if linePos == ent.lineWidth {
			linePos = 0
		}
	}
	return string(out), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *indexedFasta) SeqNames() []string {
	return f.seqNames
}
