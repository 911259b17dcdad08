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
	"math/rand"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// Opts controls EncodeReads.
type Opts struct {
	// MaxReads caps the read axis; more reads are down-sampled.  0 means
	// no cap.
	MaxReads int
	// OnError is the policy for reads that cannot be encoded.
	OnError ErrorPolicy
}

// DefaultOpts is the default configuration for EncodeReads.
var DefaultOpts = Opts{
	MaxReads: 100,
	OnError:  FailFast,
}

// EncodeReads encodes reads and lays them out over [start, end).  Reads that
// do not overlap the interval are ignored.  The result always has exactly
// end-start positions.  rng is only used when sampling is needed.
func EncodeReads(reads []*sam.Record, start, end int, opts Opts, rng *rand.Rand) (Matrix, error) {
	enc := make([]EncodedRead, 0, len(reads))
	for _, rec := range reads {
		r, err := NewEncodedRead(rec)
		if err != nil {
			if opts.OnError == SkipRead {
				log.Debug.Printf("skipping read: %v", err)
				continue
			}
			return Matrix{}, err
		}
		if r.Start >= end || r.End() <= start {
			continue
		}
		enc = append(enc, r)
	}
	sort.SliceStable(enc, func(i, j int) bool { return enc[i].Start < enc[j].Start })
	if opts.MaxReads > 0 {
		enc = Downsample(enc, opts.MaxReads, rng)
	}
	return LayoutReads(enc, start, end), nil
}
