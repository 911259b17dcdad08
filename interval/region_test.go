// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestSplitLarge(t *testing.T) {
	regions := []Region{
		{"chr1", 100, 2500},
		{"chr1", 3000, 3200},
		{"chr2", 0, 1000},
	}
	got := SplitLarge(regions, 1000)
	want := []Window{
		{Region{"chr1", 100, 1100}, 0},
		{Region{"chr1", 1100, 2100}, 1},
		{Region{"chr1", 2100, 2500}, 2},
		{Region{"chr1", 3000, 3200}, 3},
		{Region{"chr2", 0, 1000}, 4},
	}
	expect.EQ(t, got, want)
}

func TestSplitLargeEmpty(t *testing.T) {
	expect.EQ(t, len(SplitLarge([]Region{{"chr1", 10, 10}}, 1000)), 0)
}

func TestChroms(t *testing.T) {
	regions := []Region{
		{"chr2", 0, 10},
		{"chr1", 0, 10},
		{"chr2", 20, 30},
		{"chrX", 0, 10},
	}
	expect.EQ(t, Chroms(regions), []string{"chr2", "chr1", "chrX"})
	expect.EQ(t, ByChrom(regions, "chr2"), []Region{{"chr2", 0, 10}, {"chr2", 20, 30}})
	expect.EQ(t, len(ByChrom(regions, "chr3")), 0)
}

func TestParseRegionString(t *testing.T) {
	tests := []struct {
		in      string
		want    Region
		wantErr bool
	}{
		{"chr1:101-200", Region{"chr1", 100, 200}, false},
		{"chr1:1,001-2,000", Region{"chr1", 1000, 2000}, false},
		{"chr1:5", Region{"chr1", 4, 5}, false},
		{"chr7", Region{"chr7", 0, PosMax}, false},
		{"HLA-A*01:01:01:01:1-10", Region{"HLA-A*01:01:01:01", 0, 10}, false},
		{"", Region{}, true},
		{":1-10", Region{}, true},
		{"chr1:0-10", Region{}, true},
		{"chr1:20-10", Region{}, true},
		{"chr1:x-10", Region{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRegionString(tt.in)
		if tt.wantErr {
			expect.True(t, err != nil, "input %q", tt.in)
			continue
		}
		expect.NoError(t, err, tt.in)
		expect.EQ(t, got, tt.want, tt.in)
	}
}

func TestRegion(t *testing.T) {
	r := Region{"chr1", 10, 20}
	expect.EQ(t, r.Len(), 10)
	expect.True(t, r.Contains(10))
	expect.False(t, r.Contains(20))
	expect.True(t, r.Overlaps(Region{"chr1", 19, 30}))
	expect.False(t, r.Overlaps(Region{"chr1", 20, 30}))
	expect.False(t, r.Overlaps(Region{"chr2", 10, 20}))
	expect.EQ(t, r.String(), "chr1:11-20")
}
