// Package bamprovider is the alignment source for variant calling: it fetches
// the reads that overlap an arbitrary genomic interval.
//
// A Provider hands out Iterators; every Iterator owns its own file handle, so
// concurrent workers never share a reader.  NewFakeProvider serves records
// from memory and is meant for tests.
package bamprovider
