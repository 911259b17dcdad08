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
	"encoding/binary"
	"math/rand"
	"sort"

	"blainsmith.com/go/seahash"
)

// Downsample picks k of reads uniformly at random without replacement and
// returns them in their original (start) order.  reads is returned as is
// when it holds at most k entries.
func Downsample(reads []EncodedRead, k int, rng *rand.Rand) []EncodedRead {
	if len(reads) <= k {
		return reads
	}
	idx := rng.Perm(len(reads))[:k]
	sort.Ints(idx)
	out := make([]EncodedRead, k)
	for i, j := range idx {
		out[i] = reads[j]
	}
	return out
}

// WindowSeed derives the sampling seed for the window starting at start on
// chrom, so that reruns and different chunkings sample the same reads.
func WindowSeed(seed int64, chrom string, start int) int64 {
	buf := make([]byte, 16, 16+len(chrom))
	binary.LittleEndian.PutUint64(buf, uint64(seed))
	binary.LittleEndian.PutUint64(buf[8:], uint64(start))
	buf = append(buf, chrom...)
	return int64(seahash.Sum64(buf))
}
