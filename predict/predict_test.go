// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package predict_test

import (
	"context"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/varcall/encoding/bamprovider"
	"github.com/grailbio/varcall/pileup"
	"github.com/grailbio/varcall/predict"
)

const refSeq = "ACGTACGTACGTACGTACGT"

var header = bamprovider.NewTestHeader([]string{"chr1"}, []int{100})

type read struct {
	cigar, seq string
	n          int
}

func matrix(t *testing.T, reads ...read) pileup.Matrix {
	var recs []*sam.Record
	for _, r := range reads {
		for i := 0; i < r.n; i++ {
			recs = append(recs, bamprovider.NewTestRecord("r", header.Refs()[0], 0, 0, r.cigar, r.seq, 30))
		}
	}
	m, err := pileup.EncodeReads(recs, 0, len(refSeq), pileup.Opts{}, nil)
	assert.NoError(t, err)
	m, err = pileup.WithReference(m, refSeq, 20)
	assert.NoError(t, err)
	return m
}

func predictOne(t *testing.T, m pileup.Matrix) predict.Prediction {
	c := predict.NewConsensus(predict.DefaultConsensusOpts)
	preds, err := predict.Run(context.Background(), c, []pileup.Matrix{m})
	assert.NoError(t, err)
	assert.EQ(t, len(preds), 1)
	return preds[0]
}

func mutate(s string, pos int, b byte) string {
	bs := []byte(s)
	bs[pos] = b
	return string(bs)
}

func TestConsensusReference(t *testing.T) {
	p := predictOne(t, matrix(t, read{"20M", refSeq, 8}))
	expect.EQ(t, p.Haplotypes[0].Seq, refSeq)
	expect.EQ(t, p.Haplotypes[1].Seq, refSeq)
	expect.EQ(t, len(p.Haplotypes[0].Probs), len(refSeq))
}

func TestConsensusPhasedHets(t *testing.T) {
	alt := mutate(mutate(refSeq, 5, 'T'), 12, 'G')
	p := predictOne(t, matrix(t, read{"20M", refSeq, 5}, read{"20M", alt, 5}))
	expect.EQ(t, p.Haplotypes[0].Seq, alt)
	expect.EQ(t, p.Haplotypes[1].Seq, refSeq)
	expect.EQ(t, p.Haplotypes[0].Prob(5), 0.5)
	expect.EQ(t, p.Haplotypes[0].Prob(0), 1.0)

	// The same two alleles on different reads end up on different
	// haplotypes.
	a5, a12 := mutate(refSeq, 5, 'T'), mutate(refSeq, 12, 'G')
	p = predictOne(t, matrix(t, read{"20M", a5, 5}, read{"20M", a12, 5}))
	expect.EQ(t, p.Haplotypes[0].Seq, a5)
	expect.EQ(t, p.Haplotypes[1].Seq, a12)
}

func TestConsensusHomDeletion(t *testing.T) {
	del := refSeq[:10] + refSeq[12:]
	p := predictOne(t, matrix(t, read{"10M2D8M", del, 6}))
	expect.EQ(t, p.Haplotypes[0].Seq, del)
	expect.EQ(t, p.Haplotypes[1].Seq, del)
}

func TestConsensusHetInsertion(t *testing.T) {
	ins := refSeq[:5] + "GG" + refSeq[5:]
	p := predictOne(t, matrix(t, read{"5M2I15M", ins, 4}, read{"20M", refSeq, 4}))
	expect.EQ(t, p.Haplotypes[0].Seq, ins)
	expect.EQ(t, p.Haplotypes[1].Seq, refSeq)
}

func TestConsensusLowDepth(t *testing.T) {
	alt := mutate(refSeq, 5, 'T')
	p := predictOne(t, matrix(t, read{"20M", alt, 2}))
	expect.EQ(t, p.Haplotypes[0].Seq, refSeq)
}

func TestRunChecksShape(t *testing.T) {
	f := predict.Func(func(ctx context.Context, batch []pileup.Matrix) ([]predict.Prediction, error) {
		return nil, nil
	})
	_, err := predict.Run(context.Background(), f, []pileup.Matrix{{}})
	expect.True(t, err != nil)

	f = predict.Func(func(ctx context.Context, batch []pileup.Matrix) ([]predict.Prediction, error) {
		var p predict.Prediction
		p.Haplotypes[0] = predict.Haplotype{Seq: strings.Repeat("A", 3), Probs: []float64{1}}
		return []predict.Prediction{p}, nil
	})
	_, err = predict.Run(context.Background(), f, []pileup.Matrix{{}})
	expect.True(t, err != nil)
}
