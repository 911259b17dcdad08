// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package caller

import (
	"os"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/varcall/interval"
	"github.com/grailbio/varcall/pileup/sites"
)

// SplitEvenChunks splits n items into k contiguous [start, end) ranges.
// Range sizes differ by at most one, the first n%k ranges getting the
// extra item.  Ranges may be empty when n < k.
func SplitEvenChunks(n, k int) [][2]int {
	if k <= 0 {
		return nil
	}
	size, left := n/k, n%k
	chunks := make([][2]int, k)
	end := 0
	for i := range chunks {
		start := end
		end = start + size
		if i < left {
			end++
		}
		chunks[i] = [2]int{start, end}
	}
	return chunks
}

// writeRegions stores regions as snappy-compressed BED text.
func writeRegions(path string, regions []interval.Window) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(err, "caller: create region file", path)
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	w := snappy.NewBufferedWriter(f)
	if err = sites.WriteBED(w, regions); err != nil {
		return errors.E(err, "caller: write region file", path)
	}
	return w.Close()
}

// readRegions returns the regions [start, end) of a file written by
// writeRegions.
func readRegions(path string, start, end int) ([]interval.Window, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(err, "caller: open region file", path)
	}
	defer f.Close() // nolint: errcheck
	regions, err := interval.ParseWindows(snappy.NewReader(f))
	if err != nil {
		return nil, errors.E(err, "caller: read region file", path)
	}
	if start < 0 || end > len(regions) || start > end {
		return nil, errors.E(errors.Invalid, "caller: region range out of bounds", path)
	}
	return regions[start:end], nil
}
