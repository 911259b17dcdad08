// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package caller runs the variant calling pipeline over the regions of a
// BED file: it finds suspicious regions, splits them into chunks called in
// parallel, reconciles the chunk boundaries and writes a sorted,
// deduplicated VCF.
package caller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/exascience/pargo/parallel"
	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/varcall/encoding/bamprovider"
	"github.com/grailbio/varcall/encoding/fasta"
	"github.com/grailbio/varcall/encoding/vcf"
	"github.com/grailbio/varcall/haplotype"
	"github.com/grailbio/varcall/interval"
	"github.com/grailbio/varcall/pileup/sites"
	"github.com/grailbio/varcall/predict"
)

func init() {
	recordiozstd.Init()
}

type caller struct {
	opts      Opts
	alignPath string
	refPath   string
	predictor predict.Predictor
	tmpDir    string
}

// Call calls variants in the regions of bedPath from the alignments in
// alignPath against the reference refPath, and writes them to outPath as
// VCF.  Chromosomes are processed in order of first appearance in the BED
// file.
func Call(ctx context.Context, opts Opts, alignPath, refPath, bedPath, outPath string, predictor predict.Predictor) (stats Stats, err error) {
	if err = opts.Validate(); err != nil {
		return
	}
	bed, err := interval.ReadBED(ctx, bedPath)
	if err != nil {
		return
	}
	header, err := vcfHeader(ctx, opts, refPath)
	if err != nil {
		return
	}

	c := &caller{opts: opts, alignPath: alignPath, refPath: refPath, predictor: predictor}
	c.tmpDir = filepath.Join(opts.TmpDir, ".tmp.varcalls_"+uuid.New().String()[:8])
	if err = os.Mkdir(c.tmpDir, 0755); err != nil {
		return stats, errors.E(err, "caller: create temp dir")
	}
	defer func() {
		if err == nil && !opts.KeepTmp {
			err = os.RemoveAll(c.tmpDir)
		}
	}()

	out, err := vcf.Create(ctx, outPath, header, opts.Bgzip)
	if err != nil {
		return
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	em := newEmitter(out, opts)
	for _, chrom := range interval.Chroms(bed) {
		calls, st, err := c.callChrom(ctx, chrom, interval.ByChrom(bed, chrom))
		if err != nil {
			return stats, err
		}
		stats.add(st)
		stats.Chroms++
		stats.Chunks += st.Chunks
		stats.Calls += len(calls)
		if err = em.emit(calls); err != nil {
			return stats, err
		}
	}
	stats.Written = em.written
	stats.Digest = em.digest.Sum64()
	log.Printf("caller: %d chromosomes, %d regions, %d windows (%d skipped), %d calls, %d written to %s",
		stats.Chroms, stats.Regions, stats.Windows, stats.SkippedWindows, stats.Calls, stats.Written, outPath)
	return stats, nil
}

// vcfHeader builds the output header, with one contig line per reference
// sequence.
func vcfHeader(ctx context.Context, opts Opts, refPath string) (vcf.Header, error) {
	ref, err := fasta.Open(ctx, refPath)
	if err != nil {
		return vcf.Header{}, err
	}
	h := vcf.Header{
		Source:      "varcall",
		Cmdline:     opts.Cmdline,
		Sample:      opts.SampleName,
		LowCovDepth: opts.LowCovDepth,
	}
	for _, name := range ref.SeqNames() {
		n, err := ref.Len(name)
		if err != nil {
			_ = ref.Close(ctx)
			return vcf.Header{}, err
		}
		h.Contigs = append(h.Contigs, vcf.Contig{Name: name, Len: int(n)})
	}
	return h, ref.Close(ctx)
}

// FindRegions detects the suspicious regions of windows.  Windows are
// split among opts.Threads goroutines, each with its own alignment and
// reference readers.  The result keeps window order.
func FindRegions(ctx context.Context, opts Opts, alignPath, refPath string, windows []interval.Window) ([]interval.Window, error) {
	if len(windows) == 0 {
		return nil, nil
	}
	perWindow := make([][]interval.Window, len(windows))
	var once errors.Once
	parallel.Range(0, len(windows), opts.Threads, func(low, high int) {
		provider := bamprovider.NewProvider(alignPath, bamprovider.ProviderOpts{Index: opts.BAMIndex})
		defer func() { once.Set(provider.Close()) }()
		ref, err := fasta.Open(ctx, refPath)
		if err != nil {
			once.Set(err)
			return
		}
		defer func() { once.Set(ref.Close(ctx)) }()
		for i := low; i < high; i++ {
			if once.Err() != nil {
				return
			}
			regions, err := sites.Regions(ctx, provider, ref, windows[i], opts.Sites)
			if err != nil {
				once.Set(err)
				return
			}
			perWindow[i] = regions
		}
	})
	if err := once.Err(); err != nil {
		return nil, err
	}
	var regions []interval.Window
	for _, r := range perWindow {
		regions = append(regions, r...)
	}
	return regions, nil
}

// callChrom runs the whole pipeline for one chromosome and returns its
// sorted, deduplicated calls.
func (c *caller) callChrom(ctx context.Context, chrom string, bed []interval.Region) ([]*haplotype.Call, Stats, error) {
	var stats Stats
	windows := interval.SplitLarge(bed, c.opts.RegionSize)
	regions, err := FindRegions(ctx, c.opts, c.alignPath, c.refPath, windows)
	if err != nil {
		return nil, stats, errors.E(err, "caller: find regions on", chrom)
	}
	log.Printf("caller: %s: %d windows, %d suspicious regions", chrom, len(windows), len(regions))
	if len(regions) == 0 {
		return nil, stats, nil
	}
	regionPath := filepath.Join(c.tmpDir, fmt.Sprintf("chrom_%s.regions.sz", chrom))
	if err = writeRegions(regionPath, regions); err != nil {
		return nil, stats, err
	}

	spans := SplitEvenChunks(len(regions), c.opts.Threads)
	paths := make([]string, len(spans))
	err = traverse.Each(len(spans), func(i int) error {
		if spans[i][0] == spans[i][1] {
			return nil
		}
		path, err := c.runChunk(ctx, chrom, regionPath, spans[i])
		if err != nil {
			log.Error.Printf("caller: chunk %d of %s failed: %v", i, chrom, err)
			return errors.E(err, fmt.Sprintf("caller: chunk %d (%s regions %d-%d)", i, chrom, spans[i][0], spans[i][1]))
		}
		paths[i] = path
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	var chunks []chunkCalls
	for _, path := range paths {
		if path == "" {
			continue
		}
		calls, info, err := readChunk(ctx, path)
		if err != nil {
			return nil, stats, err
		}
		stats.add(info.stats())
		stats.Chunks++
		chunks = append(chunks, chunkCalls{calls: calls, info: info})
		if !c.opts.KeepTmp {
			if err := os.Remove(path); err != nil {
				return nil, stats, err
			}
		}
	}
	return assemble(chunks), stats, nil
}
