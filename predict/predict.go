// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package predict defines the boundary to the sequence predictor: a batch
// of pileup matrices goes in, two predicted haplotype sequences per matrix
// come out.
package predict

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/varcall/pileup"
)

// Haplotype is one predicted sequence.  Probs, when not nil, holds the
// predicted probability of each base of Seq.
type Haplotype struct {
	Seq   string
	Probs []float64
}

// Prob returns the probability of base i, 1 when no probabilities were
// given.
func (h Haplotype) Prob(i int) float64 {
	if h.Probs == nil || i < 0 || i >= len(h.Probs) {
		return 1
	}
	return h.Probs[i]
}

// Prediction is the predictor output for one matrix.
type Prediction struct {
	Haplotypes [2]Haplotype
}

// Predictor maps a batch of pileup matrices, each with the reference as row
// 0, to one Prediction per matrix, in order.
type Predictor interface {
	Predict(ctx context.Context, batch []pileup.Matrix) ([]Prediction, error)
}

// Func adapts a function to the Predictor interface.
type Func func(ctx context.Context, batch []pileup.Matrix) ([]Prediction, error)

// Predict implements Predictor.
func (f Func) Predict(ctx context.Context, batch []pileup.Matrix) ([]Prediction, error) {
	return f(ctx, batch)
}

// Run calls p and checks the shape of its result.
func Run(ctx context.Context, p Predictor, batch []pileup.Matrix) ([]Prediction, error) {
	preds, err := p.Predict(ctx, batch)
	if err != nil {
		return nil, errors.E(err, "predict")
	}
	if len(preds) != len(batch) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("predict: %d predictions for %d windows", len(preds), len(batch)))
	}
	for i, p := range preds {
		for h, hap := range p.Haplotypes {
			if hap.Probs != nil && len(hap.Probs) != len(hap.Seq) {
				return nil, errors.E(errors.Invalid,
					fmt.Sprintf("predict: window %d haplotype %d: %d probabilities for %d bases", i, h, len(hap.Probs), len(hap.Seq)))
			}
		}
	}
	return preds, nil
}
