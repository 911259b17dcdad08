// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package vcf_test

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/varcall/encoding/vcf"
)

var header = vcf.Header{
	Source:      "varcall",
	Cmdline:     "bio-varcall call a.bam ref.fa r.bed out.vcf",
	Sample:      "s1",
	Contigs:     []vcf.Contig{{Name: "chr1", Len: 1000}},
	LowCovDepth: 20,
}

var records = []*vcf.Record{
	{
		Chrom: "chr1", Pos: 24, Ref: "A", Alt: "G", Qual: 31.4159, Filter: vcf.FilterPass,
		Info: []vcf.InfoField{
			{Key: "CALL_COUNT", Value: "3"},
			{Key: "QUALS", Value: "3.01,3.01"},
		},
		Genotype: [2]int{1, 0}, Phased: true, PhaseSet: 25, Depth: 10,
	},
	{
		Chrom: "chr1", Pos: 99, Ref: "CT", Alt: "C", Qual: 2, Filter: vcf.FilterLowCov,
		Genotype: [2]int{1, 1}, Depth: 4,
	},
}

func dataLines(text string) (hdr, data []string) {
	for _, l := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		if strings.HasPrefix(l, "#") {
			hdr = append(hdr, l)
		} else {
			data = append(data, l)
		}
	}
	return
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := vcf.NewWriter(&buf, header)
	assert.NoError(t, err)
	for _, r := range records {
		assert.NoError(t, w.Write(r))
	}
	assert.NoError(t, w.Flush())

	hdr, data := dataLines(buf.String())
	expect.EQ(t, hdr[0], "##fileformat=VCFv4.2")
	expect.EQ(t, hdr[1], "##source=varcall")
	expect.EQ(t, hdr[2], "##commandline=bio-varcall call a.bam ref.fa r.bed out.vcf")
	expect.EQ(t, hdr[3], "##contig=<ID=chr1,length=1000>")
	expect.True(t, strings.Contains(buf.String(), "Read depth below 20"))
	expect.EQ(t, hdr[len(hdr)-1], "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\ts1")
	expect.EQ(t, data, []string{
		"chr1\t25\t.\tA\tG\t31.42\tPASS\tCALL_COUNT=3;QUALS=3.01,3.01\tGT:PS:DP\t1|0:25:10",
		"chr1\t100\t.\tCT\tC\t2.00\tLowCov\t.\tGT:PS:DP\t1/1:.:4",
	})

	err = w.Write(&vcf.Record{Chrom: "chr1", Pos: 1, Ref: "A"})
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestCreateBgzip(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	for _, name := range []string{"out.vcf", "out.vcf.gz"} {
		path := filepath.Join(tmpdir, name)
		w, err := vcf.Create(ctx, path, header, false)
		assert.NoError(t, err)
		for _, r := range records {
			assert.NoError(t, w.Write(r))
		}
		assert.NoError(t, w.Close(ctx))

		f, err := os.Open(path)
		assert.NoError(t, err)
		var text []byte
		if strings.HasSuffix(name, ".gz") {
			r, err := bgzf.NewReader(f, 1)
			assert.NoError(t, err)
			text, err = ioutil.ReadAll(r)
			assert.NoError(t, err)
		} else {
			text, err = ioutil.ReadAll(f)
			assert.NoError(t, err)
		}
		assert.NoError(t, f.Close())
		_, data := dataLines(string(text))
		expect.EQ(t, len(data), 2, name)
		expect.True(t, strings.HasPrefix(data[1], "chr1\t100\t.\tCT\tC"))
	}
}
