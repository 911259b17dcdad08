// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package variant

import "math"

// Haplotype-to-reference scoring.
const (
	matchValue       = 200
	mismatchPenalty  = -150
	gapOpenPenalty   = -260
	gapExtendPenalty = -11
)

// alignOp is a run of one alignment operation: 'M' (aligned bases, match
// or mismatch), 'I' (bases only in the haplotype) or 'D' (bases only in
// the reference).
type alignOp struct {
	op  byte
	len int
}

const (
	stDiag = iota
	stDel
	stIns
	nStates
)

const lowScore = math.MinInt32 / 2

// align computes an affine-gap alignment of alt against ref.  Both
// sequences are anchored at their first base; whichever sequence has bases
// left over at the end is not penalized.  The returned ops consume a
// prefix of each sequence.
func align(ref, alt string) []alignOp {
	n, m := len(ref), len(alt)
	if n == 0 || m == 0 {
		return nil
	}
	cols := m + 1
	var score [nStates][]int32
	var back [nStates][]uint8
	for s := range score {
		score[s] = make([]int32, (n+1)*cols)
		back[s] = make([]uint8, (n+1)*cols)
		for i := range score[s] {
			score[s][i] = lowScore
		}
	}
	at := func(i, j int) int { return i*cols + j }
	score[stDiag][at(0, 0)] = 0
	for i := 1; i <= n; i++ {
		score[stDel][at(i, 0)] = gapOpenPenalty + int32(i-1)*gapExtendPenalty
		back[stDel][at(i, 0)] = stDel
	}
	back[stDel][at(1, 0)] = stDiag
	for j := 1; j <= m; j++ {
		score[stIns][at(0, j)] = gapOpenPenalty + int32(j-1)*gapExtendPenalty
		back[stIns][at(0, j)] = stIns
	}
	back[stIns][at(0, 1)] = stDiag

	best := func(c int, add [nStates]int32) (int32, uint8) {
		bs, bst := int32(lowScore), uint8(stDiag)
		for s := 0; s < nStates; s++ {
			if v := score[s][c] + add[s]; v > bs {
				bs, bst = v, uint8(s)
			}
		}
		return bs, bst
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			c := at(i, j)
			sub := int32(mismatchPenalty)
			if ref[i-1] == alt[j-1] {
				sub = matchValue
			}
			v, st := best(at(i-1, j-1), [nStates]int32{0, 0, 0})
			score[stDiag][c], back[stDiag][c] = v+sub, st
			score[stDel][c], back[stDel][c] = best(at(i-1, j), [nStates]int32{gapOpenPenalty, gapExtendPenalty, gapOpenPenalty})
			score[stIns][c], back[stIns][c] = best(at(i, j-1), [nStates]int32{gapOpenPenalty, gapOpenPenalty, gapExtendPenalty})
		}
	}

	// Free trailing overhang: the alignment may end anywhere on the last
	// row or column.  Ties go to the longer alignment.
	ei, ej := n, m
	es, _ := best(at(n, m), [nStates]int32{})
	endState := func(i, j int) uint8 { _, s := best(at(i, j), [nStates]int32{}); return s }
	for j := m - 1; j >= 1; j-- {
		if v, _ := best(at(n, j), [nStates]int32{}); v > es {
			es, ei, ej = v, n, j
		}
	}
	for i := n - 1; i >= 1; i-- {
		if v, _ := best(at(i, m), [nStates]int32{}); v > es {
			es, ei, ej = v, i, m
		}
	}

	var ops []alignOp
	push := func(op byte) {
		if k := len(ops) - 1; k >= 0 && ops[k].op == op {
			ops[k].len++
			return
		}
		ops = append(ops, alignOp{op, 1})
	}
	i, j, s := ei, ej, endState(ei, ej)
	for i > 0 || j > 0 {
		c := at(i, j)
		prev := back[s][c]
		switch s {
		case stDiag:
			push('M')
			i, j = i-1, j-1
		case stDel:
			push('D')
			i--
		case stIns:
			push('I')
			j--
		}
		s = prev
	}
	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	return ops
}
