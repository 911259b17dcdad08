// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package caller_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/varcall/caller"
	"github.com/grailbio/varcall/encoding/bamprovider"
	"github.com/grailbio/varcall/haplotype"
	"github.com/grailbio/varcall/interval"
	"github.com/grailbio/varcall/pileup"
	"github.com/grailbio/varcall/predict"
	"github.com/stretchr/testify/require"
)

const (
	refLen  = 400
	readLen = 100
)

// Heterozygous SNVs carried by every other read.
var snvs = []int{150, 250}

type fixture struct {
	dir                       string
	bamPath, refPath, bedPath string
	ref                       string
	alt                       map[int]byte
}

func newFixture(t *testing.T, dir string) *fixture {
	rng := rand.New(rand.NewSource(1))
	ref := make([]byte, refLen)
	for i := range ref {
		ref[i] = "ACGT"[rng.Intn(4)]
	}
	f := &fixture{
		dir:     dir,
		bamPath: filepath.Join(dir, "in.bam"),
		refPath: filepath.Join(dir, "ref.fa"),
		bedPath: filepath.Join(dir, "in.bed"),
		ref:     string(ref),
		alt:     map[int]byte{},
	}
	alt := append([]byte(nil), ref...)
	for _, pos := range snvs {
		alt[pos] = "ACGT"[(strings.IndexByte("ACGT", ref[pos])+1)%4]
		f.alt[pos] = alt[pos]
	}

	header := bamprovider.NewTestHeader([]string{"chr1"}, []int{refLen})
	var recs []*sam.Record
	for start := 60; start+readLen <= refLen; start += 10 {
		for i, seq := range [][]byte{ref, alt} {
			name := fmt.Sprintf("r%d_%d", start, i)
			recs = append(recs, bamprovider.NewTestRecord(name, header.Refs()[0], start, 0,
				fmt.Sprintf("%dM", readLen), string(seq[start:start+readLen]), 35))
		}
	}
	require.NoError(t, bamprovider.WriteTestBAM(f.bamPath, header, recs))
	require.NoError(t, ioutil.WriteFile(f.refPath, []byte(">chr1\n"+f.ref+"\n"), 0644))
	require.NoError(t, ioutil.WriteFile(f.bedPath, []byte(fmt.Sprintf("chr1\t0\t%d\n", refLen)), 0644))
	return f
}

func testOpts(dir string, threads int) caller.Opts {
	opts := caller.DefaultOpts
	opts.Threads = threads
	opts.TmpDir = dir
	opts.Scan.WindowSize = 50
	opts.Scan.WindowStep = 10
	opts.Scan.MaxReadDepth = 40
	opts.Scan.MinReads = 3
	opts.Scan.BatchSize = 3
	opts.RetainWidth = 45
	opts.LowCovDepth = 10
	return opts
}

func dataLines(t *testing.T, path string) []string {
	b, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	var out []string
	for _, l := range strings.Split(strings.TrimSuffix(string(b), "\n"), "\n") {
		if !strings.HasPrefix(l, "#") {
			out = append(out, l)
		}
	}
	return out
}

func TestCall(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, dir)
	ctx := context.Background()
	f := newFixture(t, dir)
	consensus := predict.NewConsensus(predict.DefaultConsensusOpts)

	var digests []uint64
	for _, threads := range []int{1, 2} {
		out := filepath.Join(dir, fmt.Sprintf("out%d.vcf", threads))
		stats, err := caller.Call(ctx, testOpts(dir, threads), f.bamPath, f.refPath, f.bedPath, out, consensus)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Chroms)
		require.Equal(t, 2, stats.Regions)
		require.Equal(t, threads, stats.Chunks)
		require.Equal(t, 8, stats.Windows)
		require.Equal(t, 2, stats.Calls)
		require.Equal(t, 2, stats.Written)
		digests = append(digests, stats.Digest)

		lines := dataLines(t, out)
		require.Len(t, lines, 2)
		for i, pos := range snvs {
			cols := strings.Split(lines[i], "\t")
			require.Equal(t, "chr1", cols[0])
			require.Equal(t, fmt.Sprint(pos+1), cols[1])
			require.Equal(t, string(f.ref[pos]), cols[3])
			require.Equal(t, string(f.alt[pos]), cols[4])
			require.Equal(t, "PASS", cols[6])
			require.Contains(t, cols[7], "CALL_COUNT=4")
			require.Contains(t, cols[7], "STEP_COUNT=4")
			require.True(t, strings.HasPrefix(cols[9], fmt.Sprintf("1|0:%d:", pos+1)), cols[9])
		}

		// The temp directory is gone.
		matches, err := filepath.Glob(filepath.Join(dir, ".tmp.varcalls_*"))
		require.NoError(t, err)
		require.Empty(t, matches)
	}
	require.Equal(t, digests[0], digests[1])
}

func TestCallRescaler(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, dir)
	ctx := context.Background()
	f := newFixture(t, dir)

	opts := testOpts(dir, 1)
	opts.MinQual = 20
	opts.Rescaler = func(c *haplotype.Call) (float64, error) {
		if c.Pos == snvs[0] {
			return 60, nil
		}
		return 0, nil
	}
	out := filepath.Join(dir, "out.vcf.gz")
	stats, err := caller.Call(ctx, opts, f.bamPath, f.refPath, f.bedPath, out, predict.NewConsensus(predict.DefaultConsensusOpts))
	require.NoError(t, err)
	require.Equal(t, 2, stats.Calls)
	require.Equal(t, 1, stats.Written)
}

func TestCallErrors(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, dir)
	ctx := context.Background()
	f := newFixture(t, dir)

	opts := testOpts(dir, 1)
	opts.Threads = 0
	_, err := caller.Call(ctx, opts, f.bamPath, f.refPath, f.bedPath, filepath.Join(dir, "x.vcf"), nil)
	require.True(t, errors.Is(errors.Invalid, err), "%v", err)

	// A predictor failure aborts the run.
	failing := predict.Func(func(ctx context.Context, batch []pileup.Matrix) ([]predict.Prediction, error) {
		return nil, errors.E(errors.Unavailable, "model offline")
	})
	opts = testOpts(dir, 2)
	opts.KeepTmp = true
	_, err = caller.Call(ctx, opts, f.bamPath, f.refPath, f.bedPath, filepath.Join(dir, "y.vcf"), failing)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model offline")
}

func TestCallChunkTimeout(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, dir)
	f := newFixture(t, dir)

	// The predictor ignores its context and blocks until released.
	release := make(chan struct{})
	defer close(release)
	stuck := predict.Func(func(ctx context.Context, batch []pileup.Matrix) ([]predict.Prediction, error) {
		<-release
		return nil, errors.E(errors.Unavailable, "released")
	})
	opts := testOpts(dir, 1)
	opts.ChunkTimeout = 50 * time.Millisecond
	start := time.Now()
	_, err := caller.Call(context.Background(), opts, f.bamPath, f.refPath, f.bedPath, filepath.Join(dir, "t.vcf"), stuck)
	require.True(t, errors.Is(errors.Timeout, err), "%v", err)
	require.True(t, time.Since(start) < 10*time.Second, "took %v", time.Since(start))
}

func TestFindRegions(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, dir)
	f := newFixture(t, dir)

	windows := interval.SplitLarge([]interval.Region{{Chrom: "chr1", Start: 0, End: refLen}}, 200)
	regions, err := caller.FindRegions(context.Background(), testOpts(dir, 2), f.bamPath, f.refPath, windows)
	require.NoError(t, err)
	require.Equal(t, []interval.Window{
		{Region: interval.Region{Chrom: "chr1", Start: 142, End: 158}, Index: 0},
		{Region: interval.Region{Chrom: "chr1", Start: 242, End: 258}, Index: 1},
	}, regions)
}
