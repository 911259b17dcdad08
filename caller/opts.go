// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package caller

import (
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/varcall/haplotype"
	"github.com/grailbio/varcall/pileup/sites"
	"github.com/grailbio/varcall/scanner"
	"github.com/grailbio/varcall/variant"
)

// Rescaler computes a replacement quality for a call, e.g. from a trained
// classifier over the call's evidence fields.  The original quality is
// kept in the RAW_QUAL INFO field.
type Rescaler func(c *haplotype.Call) (float64, error)

// Opts configures Call.
type Opts struct {
	// Threads is the number of chunks each chromosome is split into, and
	// the number of chunks processed concurrently.
	Threads int
	// ChunkTimeout bounds the wall-clock time of a single chunk.
	ChunkTimeout time.Duration
	// TmpDir is the parent of the run's temporary directory.  "" means the
	// current directory.
	TmpDir string
	// MinQual drops calls whose final quality does not exceed it.
	MinQual float64
	// RegionSize caps the size of the BED windows searched for suspicious
	// sites.
	RegionSize int
	Sites      sites.Opts
	Scan       scanner.Opts
	// RetainWidth is the number of leading bases of each window whose calls
	// are kept.
	RetainWidth int
	Diff        variant.Opts
	// LowCovDepth is the depth below which calls are filtered LowCov.
	LowCovDepth int
	SampleName  string
	// Bgzip compresses the output even when its name does not end in .gz.
	Bgzip bool
	// Cmdline is recorded in the VCF header.
	Cmdline string
	// BAMIndex overrides the default <bam>.bai index path.
	BAMIndex string
	// Rescaler, if set, replaces the quality of every call.
	Rescaler Rescaler
	// KeepTmp leaves the temporary directory in place.
	KeepTmp bool
}

// DefaultOpts holds the default configuration.
var DefaultOpts = Opts{
	Threads:      1,
	ChunkTimeout: 10 * time.Hour,
	MinQual:      1e-4,
	RegionSize:   1000,
	Sites:        sites.DefaultOpts,
	Scan:         scanner.DefaultOpts,
	RetainWidth:  145,
	Diff:         variant.DefaultOpts,
	LowCovDepth:  20,
	SampleName:   "sample",
}

// Validate checks opts for nonsensical values.
func (o Opts) Validate() error {
	switch {
	case o.Threads <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("caller: threads %d", o.Threads))
	case o.ChunkTimeout <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("caller: chunk timeout %v", o.ChunkTimeout))
	case o.RegionSize <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("caller: region size %d", o.RegionSize))
	case o.RetainWidth <= 0 || o.RetainWidth > o.Scan.WindowSize:
		return errors.E(errors.Invalid, fmt.Sprintf("caller: retain width %d with window size %d", o.RetainWidth, o.Scan.WindowSize))
	}
	if err := o.Sites.Validate(); err != nil {
		return err
	}
	return o.Scan.Validate()
}

// Stats summarizes a run.
type Stats struct {
	Chroms         int
	Regions        int
	Chunks         int
	Windows        int
	SkippedWindows int
	// Calls is the number of distinct calls after deduplication, and
	// Written the number that passed MinQual.
	Calls   int
	Written int
	// Digest is a highwayhash-64 of the written records, for comparing
	// runs.
	Digest uint64
}

func (s *Stats) add(o Stats) {
	s.Regions += o.Regions
	s.Windows += o.Windows
	s.SkippedWindows += o.SkippedWindows
}
