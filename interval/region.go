// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PosMax is the largest end coordinate accepted from text input; BAM
// positions are limited to int32.
const PosMax = math.MaxInt32

// Region is a 0-based half-open genomic interval.
type Region struct {
	Chrom string
	Start int
	End   int
}

// Len returns the number of bases covered by r.
func (r Region) Len() int { return r.End - r.Start }

// Overlaps returns true iff r and o share at least one base.
func (r Region) Overlaps(o Region) bool {
	return r.Chrom == o.Chrom && r.Start < o.End && o.Start < r.End
}

// Contains returns true iff pos lies in [Start, End).
func (r Region) Contains(pos int) bool {
	return r.Start <= pos && pos < r.End
}

// String formats r samtools-style, 1-based and closed.
func (r Region) String() string {
	return fmt.Sprintf("%s:%d-%d", r.Chrom, r.Start+1, r.End)
}

// Window is a Region with a position in the sequence of windows generated for
// a chromosome.  Index increases monotonically along the chromosome and is the
// join key used to relate calls from adjacent windows.
type Window struct {
	Region
	Index int
}

// SplitLarge cuts every region longer than maxSize into consecutive pieces
// of at most maxSize bases, and numbers the resulting windows in order.
func SplitLarge(regions []Region, maxSize int) []Window {
	var windows []Window
	for _, r := range regions {
		for start := r.Start; start < r.End; start += maxSize {
			end := start + maxSize
			if end > r.End {
				end = r.End
			}
			windows = append(windows, Window{
				Region: Region{Chrom: r.Chrom, Start: start, End: end},
				Index:  len(windows),
			})
		}
	}
	return windows
}

// Chroms returns the distinct chromosome names in regions, in order of first
// appearance.
func Chroms(regions []Region) []string {
	seen := make(map[string]bool)
	var chroms []string
	for _, r := range regions {
		if !seen[r.Chrom] {
			seen[r.Chrom] = true
			chroms = append(chroms, r.Chrom)
		}
	}
	return chroms
}

// ByChrom returns the regions on chrom, preserving their order.
func ByChrom(regions []Region, chrom string) []Region {
	var out []Region
	for _, r := range regions {
		if r.Chrom == chrom {
			out = append(out, r)
		}
	}
	return out
}

// ParseRegionString parses a region string of one of the forms
//
//	[contig ID]:[1-based first pos]-[last pos]
//	[contig ID]:[1-based pos]
//	[contig ID]
//
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosMax) is returned if there is no positional restriction.
func ParseRegionString(region string) (result Region, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.Chrom = region
		result.End = PosMax
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.Chrom = region[:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int
		if pos1, err = strconv.Atoi(rangeStr); err != nil {
			return
		}
		if pos1 <= 0 || pos1 >= PosMax {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start = pos1 - 1
		result.End = pos1
		return
	}
	var start1, end int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr[:dashPos])
		return
	}
	if end, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if end < start1 || end >= PosMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start = start1 - 1
	result.End = end
	return
}
