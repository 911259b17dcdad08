// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package caller

import (
	"strings"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/varcall/haplotype"
)

// chunkCalls are the calls of one chunk, in region order.
type chunkCalls struct {
	calls []*haplotype.Call
	info  chunkInfo
}

// callKey orders the calls of one chromosome by position, then alleles.
type callKey struct {
	*haplotype.Call
}

// Compare implements llrb.Comparable.
func (k callKey) Compare(c llrb.Comparable) int {
	o := c.(callKey)
	if d := k.Pos - o.Pos; d != 0 {
		return d
	}
	if d := strings.Compare(k.Ref, o.Ref); d != 0 {
		return d
	}
	return strings.Compare(k.Alt, o.Alt)
}

// reconcileBoundaries reconciles the last region of each chunk with the
// first region of the next one, and carries any flip or phase set change
// over to the rest of the next chunk.
func reconcileBoundaries(chunks []chunkCalls) {
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		last := prev.calls[len(prev.calls)-prev.info.LastN:]
		first := cur.calls[:cur.info.FirstN]
		if len(last) == 0 || len(first) == 0 {
			continue
		}
		out := haplotype.Reconcile(last, first)
		out.Apply(cur.calls[cur.info.FirstN:])
	}
}

// assemble merges the calls of consecutive chunks into one sorted stream
// with one call per key.  Calls marked duplicate are dropped; among equal
// keys the highest quality wins, the earliest on ties.
func assemble(chunks []chunkCalls) []*haplotype.Call {
	reconcileBoundaries(chunks)
	var tree llrb.Tree
	for _, ch := range chunks {
		for _, c := range ch.calls {
			if c.Duplicate {
				continue
			}
			k := callKey{c}
			if old := tree.Get(k); old != nil && old.(callKey).Qual >= c.Qual {
				continue
			}
			tree.Insert(k)
		}
	}
	out := make([]*haplotype.Call, 0, tree.Len())
	tree.Do(func(c llrb.Comparable) bool {
		out = append(out, c.(callKey).Call)
		return false
	})
	return out
}
