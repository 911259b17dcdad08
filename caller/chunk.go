// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package caller

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/varcall/encoding/bamprovider"
	"github.com/grailbio/varcall/encoding/fasta"
	"github.com/grailbio/varcall/haplotype"
	"github.com/grailbio/varcall/interval"
	"github.com/grailbio/varcall/predict"
	"github.com/grailbio/varcall/scanner"
	"github.com/grailbio/varcall/variant"
)

const (
	chunkVersionHeader = "varcall_chunk_version"
	chunkVersion       = "2"
)

// chunkInfo is stored in the trailer of every chunk file.  Calls are
// written region by region; FirstN and LastN count the calls of the first
// and last region, which the assembly step reconciles with the
// neighbouring chunks.
type chunkInfo struct {
	N, FirstN, LastN int
	Regions          int
	Windows          int
	Skipped          int
}

func (ci chunkInfo) marshal() []byte {
	e := callEncoder{}
	for _, v := range []int{ci.N, ci.FirstN, ci.LastN, ci.Regions, ci.Windows, ci.Skipped} {
		e.putInt(v)
	}
	return e.buf
}

func unmarshalChunkInfo(b []byte) (chunkInfo, error) {
	var ci chunkInfo
	d := callDecoder{in: b}
	for _, p := range []*int{&ci.N, &ci.FirstN, &ci.LastN, &ci.Regions, &ci.Windows, &ci.Skipped} {
		*p = d.readInt()
	}
	return ci, d.err
}

func (ci chunkInfo) stats() Stats {
	return Stats{Regions: ci.Regions, Windows: ci.Windows, SkippedWindows: ci.Skipped}
}

// chunkPath names the temp file of chunk [start, end) of chrom.  The
// random suffix keeps concurrent runs sharing a TmpDir apart.
func chunkPath(dir, chrom string, start, end int) string {
	return filepath.Join(dir, fmt.Sprintf("chrom_%s.chunk_%d-%d.%s.rio", chrom, start, end, uuid.New().String()[:8]))
}

// runChunk calls the regions [span[0], span[1]) of regionPath and writes
// the calls to a new recordio file in c.tmpDir, whose path it returns.
//
// The chunk runs in its own goroutine under a wall-clock limit of
// opts.ChunkTimeout.  When the limit passes runChunk returns a Timeout
// error right away, even if the chunk is blocked in a call that ignores
// its context; the abandoned goroutine releases its readers and file
// whenever it finishes.
func (c *caller) runChunk(ctx context.Context, chrom, regionPath string, span [2]int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ChunkTimeout)
	defer cancel()
	type result struct {
		path string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		path, err := c.writeChunk(ctx, chrom, regionPath, span)
		done <- result{path, err}
	}()
	timeout := func(err error) error {
		return errors.E(errors.Timeout, err, fmt.Sprintf("caller: chunk %s:%d-%d exceeded %v", chrom, span[0], span[1], c.opts.ChunkTimeout))
	}
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == context.DeadlineExceeded {
			return "", timeout(r.err)
		}
		return r.path, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			log.Error.Printf("caller: chunk %s:%d-%d abandoned after %v", chrom, span[0], span[1], c.opts.ChunkTimeout)
			return "", timeout(ctx.Err())
		}
		return "", errors.E(ctx.Err(), fmt.Sprintf("caller: chunk %s:%d-%d", chrom, span[0], span[1]))
	}
}

// writeChunk does the work of runChunk.  It opens its own alignment and
// reference readers.
func (c *caller) writeChunk(ctx context.Context, chrom, regionPath string, span [2]int) (path string, err error) {
	regions, err := readRegions(regionPath, span[0], span[1])
	if err != nil {
		return "", err
	}
	provider := bamprovider.NewProvider(c.alignPath, bamprovider.ProviderOpts{Index: c.opts.BAMIndex})
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	ref, err := fasta.Open(ctx, c.refPath)
	if err != nil {
		return "", err
	}
	defer func() {
		if e := ref.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()

	path = chunkPath(c.tmpDir, chrom, span[0], span[1])
	out, err := file.Create(ctx, path)
	if err != nil {
		return "", err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Marshal:      marshalCall,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(chunkVersionHeader, chunkVersion)
	w.AddHeader(recordio.KeyTrailer, true)

	var (
		info chunkInfo
		prev []*haplotype.Call
	)
	for i, r := range regions {
		calls, st, err := c.callRegion(ctx, provider, ref, r)
		if err != nil {
			return "", errors.E(err, fmt.Sprintf("caller: region %v (window %d)", r.Region, r.Index))
		}
		if len(prev) > 0 && len(calls) > 0 {
			haplotype.Reconcile(prev, calls)
		}
		if c.opts.Rescaler != nil {
			for _, call := range calls {
				q, err := c.opts.Rescaler(call)
				if err != nil {
					return "", errors.E(err, fmt.Sprintf("caller: rescale %v", call.Key()))
				}
				call.RawQual, call.Qual, call.Rescaled = call.Qual, q, true
			}
		}
		for _, call := range calls {
			w.Append(call)
		}
		if i == 0 {
			info.FirstN = len(calls)
		}
		info.LastN = len(calls)
		info.N += len(calls)
		info.Regions++
		info.Windows += st.Windows
		info.Skipped += st.Skipped
		prev = calls
	}
	w.SetTrailer(info.marshal())
	if err = w.Finish(); err != nil {
		return "", err
	}
	log.Debug.Printf("caller: chunk %s:%d-%d: %d regions, %d calls", chrom, span[0], span[1], info.Regions, info.N)
	return path, nil
}

// callRegion scans one region and returns its calls in position order.
func (c *caller) callRegion(ctx context.Context, provider bamprovider.Provider, ref *fasta.Reference, r interval.Window) ([]*haplotype.Call, scanner.Stats, error) {
	sc, err := scanner.New(ctx, provider, ref, r.Region, c.opts.Scan)
	if err != nil {
		return nil, scanner.Stats{}, err
	}
	acc := haplotype.NewAccumulator(c.opts.RetainWidth)
	for {
		b, err := sc.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, sc.Stats(), err
		}
		preds, err := predict.Run(ctx, c.predictor, b.Matrices)
		if err != nil {
			return nil, sc.Stats(), err
		}
		windows := make([]haplotype.WindowCalls, b.Len())
		for i := range windows {
			w := &windows[i]
			w.Offset, w.Step = b.Offsets[i], b.Steps[i]
			refseq, err := ref.Window(r.Chrom, w.Offset, w.Offset+c.opts.Scan.WindowSize)
			if err != nil {
				return nil, sc.Stats(), err
			}
			for h, hap := range preds[i].Haplotypes {
				vars, err := variant.Diff(r.Chrom, refseq, hap, w.Offset, c.opts.Diff)
				if err != nil {
					return nil, sc.Stats(), err
				}
				vars = variant.RetainBefore(vars, w.Offset+c.opts.RetainWidth)
				for _, v := range vars {
					v.Step = w.Step
				}
				w.Haps[h] = vars
			}
		}
		acc.Add(windows)
	}

	calls := haplotype.Calls(r.Index, acc, r.Region)
	for _, call := range calls {
		if err := ref.CheckAllele(r.Chrom, call.Pos, call.Ref); err != nil {
			return nil, sc.Stats(), err
		}
		call.Depth = sc.Depth(call.Pos)
	}
	return calls, sc.Stats(), nil
}

// readChunk reads back a file written by runChunk.
func readChunk(ctx context.Context, path string) (calls []*haplotype.Call, info chunkInfo, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, info, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	sc := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{Unmarshal: unmarshalCall})
	version := ""
	for _, kv := range sc.Header() {
		if kv.Key == chunkVersionHeader {
			version, _ = kv.Value.(string)
		}
	}
	if version != chunkVersion {
		return nil, info, errors.E(errors.Integrity, fmt.Sprintf("caller: %s: chunk version %q, expected %q", path, version, chunkVersion))
	}
	for sc.Scan() {
		calls = append(calls, sc.Get().(*haplotype.Call))
	}
	if err = sc.Err(); err != nil {
		return nil, info, err
	}
	if info, err = unmarshalChunkInfo(sc.Trailer()); err != nil {
		return nil, info, err
	}
	if err = sc.Finish(); err != nil {
		return nil, info, err
	}
	if info.N != len(calls) {
		return nil, info, errors.E(errors.Integrity, fmt.Sprintf("caller: %s: %d calls, trailer says %d", path, len(calls), info.N))
	}
	return calls, info, nil
}
