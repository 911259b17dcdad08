// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// getTokens splits curLine on whitespace into at most len(tokens) pieces and
// returns the number of tokens found.  The tokens alias curLine.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

var (
	trackPrefix   = []byte("track")
	browserPrefix = []byte("browser")
)

// ParseBED reads (chrom, start, end) triples from BED-formatted text.
// Columns past the third are ignored, as are blank lines, '#' comments and
// track/browser lines.  Regions are returned in file order; they are neither
// sorted nor merged.
func ParseBED(r io.Reader) ([]Region, error) {
	var (
		regions  []Region
		tokens   [3][]byte
		lineIdx  int
		totBases int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 || tokens[0][0] == '#' ||
			bytes.Equal(tokens[0], trackPrefix) || bytes.Equal(tokens[0], browserPrefix) {
			continue
		}
		if nToken != 3 {
			return nil, errors.E(errors.Invalid, "interval.ParseBED: line", strconv.Itoa(lineIdx), "has fewer tokens than expected")
		}
		start, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "interval.ParseBED: line", strconv.Itoa(lineIdx))
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "interval.ParseBED: line", strconv.Itoa(lineIdx))
		}
		if start < 0 || end < start || end >= PosMax {
			return nil, errors.E(errors.Invalid, "interval.ParseBED: invalid coordinate pair on line", strconv.Itoa(lineIdx))
		}
		// The chromosome name must be copied, since tokens alias the scanner's
		// buffer.
		regions = append(regions, Region{Chrom: string(tokens[0]), Start: start, End: end})
		totBases += end - start
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "interval.ParseBED")
	}
	log.Debug.Printf("BED loaded, %d region(s), %d base(s)", len(regions), totBases)
	return regions, nil
}

// ParseWindows reads the four-column (chrom, start, end, index) files
// written for suspicious regions.  The index is the position of the source
// window in the scan of the chromosome.
func ParseWindows(r io.Reader) ([]Window, error) {
	var (
		windows []Window
		tokens  [4][]byte
		lineIdx int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineIdx++
		nToken := getTokens(tokens[:], scanner.Bytes())
		if nToken == 0 || tokens[0][0] == '#' {
			continue
		}
		if nToken != 4 {
			return nil, errors.E(errors.Invalid, "interval.ParseWindows: line", strconv.Itoa(lineIdx), "has fewer tokens than expected")
		}
		var vals [3]int
		for i := range vals {
			v, err := strconv.Atoi(gunsafe.BytesToString(tokens[i+1]))
			if err != nil {
				return nil, errors.E(errors.Invalid, err, "interval.ParseWindows: line", strconv.Itoa(lineIdx))
			}
			vals[i] = v
		}
		if vals[0] < 0 || vals[1] < vals[0] {
			return nil, errors.E(errors.Invalid, "interval.ParseWindows: invalid coordinate pair on line", strconv.Itoa(lineIdx))
		}
		windows = append(windows, Window{
			Region: Region{Chrom: string(tokens[0]), Start: vals[0], End: vals[1]},
			Index:  vals[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "interval.ParseWindows")
	}
	return windows, nil
}

// ReadBED is a wrapper for ParseBED that takes a path instead of an
// io.Reader.  Gzipped files are decompressed transparently.
func ReadBED(ctx context.Context, path string) (regions []Region, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return nil, errors.E(err, "interval.ReadBED", path)
	}
	defer file.CloseAndReport(ctx, infile, &err)
	reader := io.Reader(infile.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return nil, errors.E(err, "interval.ReadBED", path)
		}
		defer func() {
			if e := gz.Close(); e != nil && err == nil {
				err = e
			}
		}()
		reader = gz
	}
	return ParseBED(reader)
}
