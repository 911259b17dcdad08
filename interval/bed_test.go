// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval_test

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/varcall/interval"
	"github.com/klauspost/compress/gzip"
)

const bedText = `# targets
track name=targets
chr1	100	200	exon1
chr1 300 450

chr2	0	50
`

func TestParseBED(t *testing.T) {
	got, err := interval.ParseBED(strings.NewReader(bedText))
	assert.NoError(t, err)
	expect.EQ(t, got, []interval.Region{
		{Chrom: "chr1", Start: 100, End: 200},
		{Chrom: "chr1", Start: 300, End: 450},
		{Chrom: "chr2", Start: 0, End: 50},
	})
}

func TestParseBEDErrors(t *testing.T) {
	for _, text := range []string{
		"chr1\t100\n",
		"chr1\tx\t200\n",
		"chr1\t300\t200\n",
		"chr1\t-5\t200\n",
	} {
		_, err := interval.ParseBED(strings.NewReader(text))
		expect.True(t, err != nil, "input %q", text)
	}
}

func TestParseWindows(t *testing.T) {
	got, err := interval.ParseWindows(strings.NewReader("chr1\t12\t62\t7\nchr1\t300\t330\t9\n"))
	assert.NoError(t, err)
	expect.EQ(t, got, []interval.Window{
		{Region: interval.Region{Chrom: "chr1", Start: 12, End: 62}, Index: 7},
		{Region: interval.Region{Chrom: "chr1", Start: 300, End: 330}, Index: 9},
	})
	_, err = interval.ParseWindows(strings.NewReader("chr1\t12\t62\n"))
	expect.True(t, err != nil)
}

func TestReadBEDGzip(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(bedText))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())

	path := filepath.Join(tmpdir, "targets.bed.gz")
	assert.NoError(t, ioutil.WriteFile(path, buf.Bytes(), 0644))
	got, err := interval.ReadBED(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, len(got), 3)
	expect.EQ(t, got[2], interval.Region{Chrom: "chr2", Start: 0, End: 50})

	plain := filepath.Join(tmpdir, "targets.bed")
	assert.NoError(t, ioutil.WriteFile(plain, []byte(bedText), 0644))
	got, err = interval.ReadBED(ctx, plain)
	assert.NoError(t, err)
	expect.EQ(t, len(got), 3)
}
