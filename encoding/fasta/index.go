// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package fasta

import (
	"bufio"
	"bytes"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// GenerateIndex writes the samtools-compatible .fai index of the FASTA data
// in r to w.  Every sequence must use a constant line width, except for its
// last line.
func GenerateIndex(w io.Writer, r io.Reader) error {
	var (
		out       = tsv.NewWriter(w)
		in        = bufio.NewReader(r)
		name      string
		seqOff    int64
		nBases    int64
		lineBases int64
		lineWidth int64
		lastShort bool
		off       int64
		nSeq      int
	)
	flush := func() error {
		if name == "" {
			return nil
		}
		out.WriteString(name)
		out.WriteInt64(nBases)
		out.WriteInt64(seqOff)
		out.WriteInt64(lineBases)
		out.WriteInt64(lineWidth)
		nSeq++
		return out.EndLine()
	}
	for {
		line, err := in.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return errors.E(err, "fasta.GenerateIndex")
		}
		off += int64(len(line))
		trimmed := bytes.TrimRight(line, "\r\n")
		switch {
		case len(trimmed) == 0:
		case trimmed[0] == '>':
			if e := flush(); e != nil {
				return e
			}
			name = seqName(string(trimmed))
			seqOff = off
			nBases, lineBases, lineWidth = 0, 0, 0
			lastShort = false
		default:
			if name == "" {
				return errors.E(errors.Invalid, "fasta.GenerateIndex: bases before first header")
			}
			if lineBases == 0 {
				lineBases = int64(len(trimmed))
				lineWidth = int64(len(line))
			} else if lastShort || int64(len(trimmed)) > lineBases {
				return errors.E(errors.Invalid, "fasta.GenerateIndex: inconsistent line width in", name)
			}
			if int64(len(trimmed)) < lineBases {
				lastShort = true
			}
			nBases += int64(len(trimmed))
		}
		if err == io.EOF {
			break
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if nSeq == 0 {
		return errors.E(errors.Invalid, "fasta.GenerateIndex: empty FASTA file")
	}
	return out.Flush()
}
