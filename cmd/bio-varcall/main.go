// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// bio-varcall calls small variants from aligned reads by scanning
// suspicious regions with overlapping windows, predicting the two
// haplotypes of every window and merging the results.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/varcall/caller"
	"github.com/grailbio/varcall/encoding/fasta"
	"github.com/grailbio/varcall/interval"
	"github.com/grailbio/varcall/pileup"
	"github.com/grailbio/varcall/pileup/sites"
	"github.com/grailbio/varcall/predict"
	"v.io/x/lib/cmdline"
)

// commonFlags are shared by the call and sites commands.
type commonFlags struct {
	threads    *int
	tmpDir     *string
	bamIndex   *string
	regionSize *int
	maxIndel   *int
	maxMismat  *int
}

func addCommonFlags(cmd *cmdline.Command) commonFlags {
	d := caller.DefaultOpts
	return commonFlags{
		threads:    cmd.Flags.Int("threads", d.Threads, "Number of chunks each chromosome is split into and called in parallel"),
		tmpDir:     cmd.Flags.String("tmp-dir", d.TmpDir, "Parent directory of the temporary directory (default: current directory)"),
		bamIndex:   cmd.Flags.String("index", "", "Input BAM index filename. By default set to input bampath + .bai"),
		regionSize: cmd.Flags.Int("region-size", d.RegionSize, "BED regions are cut into pieces of at most this many bases"),
		maxIndel:   cmd.Flags.Int("max-indel-reads", d.Sites.MaxIndelReads, "A column is suspicious when more reads than this carry an indel"),
		maxMismat:  cmd.Flags.Int("max-mismatches", d.Sites.MaxMismatches, "A column is suspicious when more reads than this mismatch the reference"),
	}
}

func (f commonFlags) apply(opts *caller.Opts) {
	opts.Threads = *f.threads
	opts.TmpDir = *f.tmpDir
	opts.BAMIndex = *f.bamIndex
	opts.RegionSize = *f.regionSize
	opts.Sites.MaxIndelReads = *f.maxIndel
	opts.Sites.MaxMismatches = *f.maxMismat
}

func newCmdCall() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "call",
		Short:    "Call variants in the regions of a BED file",
		ArgsName: "bampath fapath bedpath outpath",
	}
	common := addCommonFlags(cmd)
	d := caller.DefaultOpts
	var (
		timeout     = cmd.Flags.Duration("chunk-timeout", d.ChunkTimeout, "Wall-clock limit of a single chunk")
		minQual     = cmd.Flags.Float64("min-qual", d.MinQual, "Calls with a quality not above this are dropped")
		windowSize  = cmd.Flags.Int("window-size", d.Scan.WindowSize, "Width of the scanned windows")
		windowStep  = cmd.Flags.Int("window-step", d.Scan.WindowStep, "Distance between consecutive windows")
		maxDepth    = cmd.Flags.Int("max-read-depth", d.Scan.MaxReadDepth, "Rows of each pileup, reference included")
		minReads    = cmd.Flags.Int("min-reads", d.Scan.MinReads, "Windows with fewer reads are skipped")
		batchSize   = cmd.Flags.Int("batch-size", d.Scan.BatchSize, "Windows per predictor call")
		seed        = cmd.Flags.Int64("seed", d.Scan.Seed, "Seed of read down-sampling")
		onError     = cmd.Flags.String("on-error", d.Scan.OnError.String(), "What to do with reads that cannot be encoded: 'failfast' or 'skip'")
		retain      = cmd.Flags.Int("retain-width", d.RetainWidth, "Only calls in the first retain-width bases of each window are kept")
		maxEdits    = cmd.Flags.Int("max-edits", d.Diff.MaxEdits, "Predictions further than this from the reference are ignored; 0 disables")
		lowCov      = cmd.Flags.Int("lowcov", d.LowCovDepth, "Depth below which calls are filtered LowCov")
		sample      = cmd.Flags.String("sample", d.SampleName, "Sample name of the VCF")
		bgzip       = cmd.Flags.Bool("bgzip", false, "BGZF compress the output even if its name does not end in .gz")
		keepTmp     = cmd.Flags.Bool("keep-tmp", false, "Keep the temporary directory")
		homFrac     = cmd.Flags.Float64("hom-frac", predict.DefaultConsensusOpts.HomFrac, "Allele fraction above which the consensus predictor calls a column homozygous")
		hetFrac     = cmd.Flags.Float64("het-frac", predict.DefaultConsensusOpts.HetFrac, "Allele fraction above which the consensus predictor calls a column heterozygous")
		minBaseQual = cmd.Flags.Int("min-base-qual", predict.DefaultConsensusOpts.MinBaseQual, "Bases with a lower quality are ignored by the consensus predictor")
	)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 4 {
			return fmt.Errorf("call takes bampath fapath bedpath outpath, but got %v", argv)
		}
		policy, err := pileup.ParseErrorPolicy(*onError)
		if err != nil {
			return err
		}
		opts := caller.DefaultOpts
		common.apply(&opts)
		opts.ChunkTimeout = *timeout
		opts.MinQual = *minQual
		opts.Scan.WindowSize = *windowSize
		opts.Scan.WindowStep = *windowStep
		opts.Scan.MaxReadDepth = *maxDepth
		opts.Scan.MinReads = *minReads
		opts.Scan.BatchSize = *batchSize
		opts.Scan.Seed = *seed
		opts.Scan.OnError = policy
		opts.RetainWidth = *retain
		opts.Diff.MaxEdits = *maxEdits
		opts.LowCovDepth = *lowCov
		opts.SampleName = *sample
		opts.Bgzip = *bgzip
		opts.KeepTmp = *keepTmp
		opts.Cmdline = strings.Join(os.Args, " ")

		copts := predict.DefaultConsensusOpts
		copts.HomFrac, copts.HetFrac, copts.MinBaseQual = *homFrac, *hetFrac, *minBaseQual
		copts.Parallelism = opts.Threads

		start := time.Now()
		ctx := vcontext.Background()
		stats, err := caller.Call(ctx, opts, argv[0], argv[1], argv[2], argv[3], predict.NewConsensus(copts))
		if err != nil {
			return err
		}
		log.Printf("wrote %d of %d calls to %s in %v (digest %016x)", stats.Written, stats.Calls, argv[3], time.Since(start), stats.Digest)
		return nil
	})
	return cmd
}

func newCmdSites() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "sites",
		Short:    "Write the suspicious regions of a BED file as BED",
		ArgsName: "bampath fapath bedpath outpath",
	}
	common := addCommonFlags(cmd)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 4 {
			return fmt.Errorf("sites takes bampath fapath bedpath outpath, but got %v", argv)
		}
		opts := caller.DefaultOpts
		common.apply(&opts)
		if err := opts.Sites.Validate(); err != nil {
			return err
		}
		return writeSites(vcontext.Background(), opts, argv[0], argv[1], argv[2], argv[3])
	})
	return cmd
}

func writeSites(ctx context.Context, opts caller.Opts, bamPath, faPath, bedPath, outPath string) (err error) {
	bed, err := interval.ReadBED(ctx, bedPath)
	if err != nil {
		return err
	}
	out, err := file.Create(ctx, outPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	for _, chrom := range interval.Chroms(bed) {
		windows := interval.SplitLarge(interval.ByChrom(bed, chrom), opts.RegionSize)
		regions, err := caller.FindRegions(ctx, opts, bamPath, faPath, windows)
		if err != nil {
			return err
		}
		if err := sites.WriteBED(out.Writer(ctx), regions); err != nil {
			return err
		}
		log.Printf("%s: %d windows, %d regions", chrom, len(windows), len(regions))
	}
	return nil
}

func newCmdFaidx() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "faidx",
		Short:    "Write the .fai index of a FASTA file",
		ArgsName: "fapath",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("faidx takes one pathname argument, but got %v", argv)
		}
		return faidx(vcontext.Background(), argv[0])
	})
	return cmd
}

func faidx(ctx context.Context, path string) (err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	out, err := file.Create(ctx, path+".fai")
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	return fasta.GenerateIndex(out.Writer(ctx), in.Reader(ctx))
}

func main() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-varcall",
			Short:    "Haplotype-aware small variant caller",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdCall(),
				newCmdSites(),
				newCmdFaidx(),
			},
		})
}
