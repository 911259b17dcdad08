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

package sites

import (
	"context"
	"io"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/varcall/encoding/bamprovider"
	"github.com/grailbio/varcall/interval"
)

// Cluster groups ascending positions into ranges.  A position joins the
// current cluster while it is less than maxDist past the cluster's first
// position.  Each cluster is reported as [min-pad, max+pad].
func Cluster(positions []int, maxDist, pad int) [][2]int {
	var out [][2]int
	first, last := 0, 0
	open := false
	for _, pos := range positions {
		if open && pos-first < maxDist {
			last = pos
			continue
		}
		if open {
			out = append(out, [2]int{first - pad, last + pad})
		}
		first, last, open = pos, pos, true
	}
	if open {
		out = append(out, [2]int{first - pad, last + pad})
	}
	return out
}

// Regions detects suspicious positions in w and clusters them.  Every
// resulting region carries w's Index.  Region starts are clipped at 0.
func Regions(ctx context.Context, provider bamprovider.Provider, ref Reference, w interval.Window, opts Opts) ([]interval.Window, error) {
	positions, err := Detect(ctx, provider, ref, w.Region, opts)
	if err != nil {
		return nil, err
	}
	clusters := Cluster(positions, opts.ClusterMaxDist, opts.ClusterPad)
	out := make([]interval.Window, 0, len(clusters))
	for _, c := range clusters {
		start := c[0]
		if start < 0 {
			start = 0
		}
		out = append(out, interval.Window{
			Region: interval.Region{Chrom: w.Chrom, Start: start, End: c[1]},
			Index:  w.Index,
		})
	}
	log.Debug.Printf("sites: window %d %v: %d positions, %d regions", w.Index, w.Region, len(positions), len(out))
	return out, nil
}

// WriteBED writes regions as chrom, start, end, window index.
func WriteBED(w io.Writer, regions []interval.Window) error {
	tw := tsv.NewWriter(w)
	for _, r := range regions {
		tw.WriteString(r.Chrom)
		tw.WriteInt64(int64(r.Start))
		tw.WriteInt64(int64(r.End))
		tw.WriteInt64(int64(r.Index))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
