// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package vcf writes variant calls in VCF 4.2 text, optionally BGZF
// compressed.
package vcf

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
)

// Filter values.
const (
	FilterPass          = "PASS"
	FilterLowCov        = "LowCov"
	FilterSingleCallHet = "SingleCallHet"
	FilterSingleCallHom = "SingleCallHom"
)

// Contig is a ##contig header line.
type Contig struct {
	Name string
	Len  int
}

// Header holds the metadata written before the records.
type Header struct {
	Source  string
	Cmdline string
	Sample  string
	Contigs []Contig
	// LowCovDepth is quoted in the LowCov filter description.
	LowCovDepth int
}

// InfoField is one KEY=VALUE entry of the INFO column.  A field with an
// empty Value is written as a flag.
type InfoField struct {
	Key, Value string
}

// Record is one VCF data line for a single sample.
type Record struct {
	Chrom    string
	Pos      int // 0-based
	Ref, Alt string
	Qual     float64
	Filter   string
	Info     []InfoField
	// Genotype lists the allele indexes of the sample.
	Genotype [2]int
	Phased   bool
	PhaseSet int
	Depth    int
}

// GT formats the genotype, with '|' between phased alleles.
func (r *Record) GT() string {
	sep := "/"
	if r.Phased {
		sep = "|"
	}
	return strconv.Itoa(r.Genotype[0]) + sep + strconv.Itoa(r.Genotype[1])
}

var infoLines = []string{
	`##INFO=<ID=RAW_QUAL,Number=1,Type=Float,Description="Quality before rescaling">`,
	`##INFO=<ID=QUALS,Number=2,Type=Float,Description="Min and max quality of the window calls">`,
	`##INFO=<ID=WIN_VAR_COUNT,Number=1,Type=Integer,Description="Number of variants called in the region">`,
	`##INFO=<ID=WIN_CIS_COUNT,Number=1,Type=Integer,Description="Windows calling the variant in cis with the first het of the region">`,
	`##INFO=<ID=WIN_TRANS_COUNT,Number=1,Type=Integer,Description="Windows calling the variant in trans with the first het of the region">`,
	`##INFO=<ID=STEP_COUNT,Number=1,Type=Integer,Description="Number of windows scanned in the region">`,
	`##INFO=<ID=CALL_COUNT,Number=1,Type=Integer,Description="Number of windows calling the variant">`,
	`##INFO=<ID=VAR_INDEX,Number=2,Type=Integer,Description="Min and max index of the variant among its window's calls">`,
	`##INFO=<ID=WIN_OFFSETS,Number=2,Type=Integer,Description="Min and max distance from window start">`,
}

var formatLines = []string{
	`##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">`,
	`##FORMAT=<ID=PS,Number=1,Type=Integer,Description="Phase set">`,
	`##FORMAT=<ID=DP,Number=1,Type=Integer,Description="Read depth">`,
}

// Writer writes VCF records.
type Writer struct {
	tw *tsv.Writer

	// Set by Create.
	bgz *bgzf.Writer
	out file.File
}

// NewWriter writes the header for h to w and returns a writer for the
// records.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	vw := &Writer{tw: tsv.NewWriter(w)}
	if err := vw.writeHeader(h); err != nil {
		return nil, err
	}
	return vw, nil
}

func (w *Writer) line(s string) error {
	w.tw.WriteString(s)
	return w.tw.EndLine()
}

func (w *Writer) writeHeader(h Header) error {
	lines := []string{"##fileformat=VCFv4.2"}
	if h.Source != "" {
		lines = append(lines, "##source="+h.Source)
	}
	if h.Cmdline != "" {
		lines = append(lines, "##commandline="+h.Cmdline)
	}
	for _, c := range h.Contigs {
		lines = append(lines, "##contig=<ID="+c.Name+",length="+strconv.Itoa(c.Len)+">")
	}
	lines = append(lines,
		`##FILTER=<ID=PASS,Description="All filters passed">`,
		`##FILTER=<ID=LowCov,Description="Read depth below `+strconv.Itoa(h.LowCovDepth)+`">`,
		`##FILTER=<ID=SingleCallHet,Description="Heterozygous variant called in a single window">`,
		`##FILTER=<ID=SingleCallHom,Description="Homozygous variant called in a single window">`)
	lines = append(lines, infoLines...)
	lines = append(lines, formatLines...)
	for _, l := range lines {
		if err := w.line(l); err != nil {
			return err
		}
	}
	sample := h.Sample
	if sample == "" {
		sample = "sample"
	}
	for _, col := range []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO", "FORMAT"} {
		w.tw.WriteString(col)
	}
	w.tw.WriteString(sample)
	return w.tw.EndLine()
}

// FormatFloat formats f the way QUAL and float INFO values are written.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Write appends r.
func (w *Writer) Write(r *Record) error {
	if r.Ref == "" || r.Alt == "" {
		return errors.E(errors.Invalid, "vcf: empty allele at", r.Chrom, r.Pos+1)
	}
	w.tw.WriteString(r.Chrom)
	w.tw.WriteInt64(int64(r.Pos + 1))
	w.tw.WriteString(".")
	w.tw.WriteString(r.Ref)
	w.tw.WriteString(r.Alt)
	w.tw.WriteString(FormatFloat(r.Qual))
	filter := r.Filter
	if filter == "" {
		filter = "."
	}
	w.tw.WriteString(filter)
	w.tw.WriteString(formatInfo(r.Info))
	w.tw.WriteString("GT:PS:DP")
	ps := "."
	if r.Phased && r.PhaseSet > 0 {
		ps = strconv.Itoa(r.PhaseSet)
	}
	w.tw.WriteString(r.GT() + ":" + ps + ":" + strconv.Itoa(r.Depth))
	return w.tw.EndLine()
}

func formatInfo(info []InfoField) string {
	if len(info) == 0 {
		return "."
	}
	var sb strings.Builder
	for i, f := range info {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(f.Key)
		if f.Value != "" {
			sb.WriteByte('=')
			sb.WriteString(f.Value)
		}
	}
	return sb.String()
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.tw.Flush()
}

// Create opens path for writing and writes the header.  The output is
// BGZF compressed when bgzip is set or path ends in ".gz".  The caller
// must call Close.
func Create(ctx context.Context, path string, h Header, bgzip bool) (*Writer, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	var dst io.Writer = out.Writer(ctx)
	var bgz *bgzf.Writer
	if bgzip || strings.HasSuffix(path, ".gz") {
		bgz = bgzf.NewWriter(dst, 1)
		dst = bgz
	}
	w, err := NewWriter(dst, h)
	if err != nil {
		_ = out.Close(ctx)
		return nil, err
	}
	w.bgz, w.out = bgz, out
	return w, nil
}

// Close flushes w and closes the file opened by Create.
func (w *Writer) Close(ctx context.Context) (err error) {
	if w.out != nil {
		defer file.CloseAndReport(ctx, w.out, &err)
	}
	if err = w.tw.Flush(); err != nil {
		return err
	}
	if w.bgz != nil {
		err = w.bgz.Close()
	}
	return err
}
