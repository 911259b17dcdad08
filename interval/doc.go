// Package interval reads the BED-like region lists that drive variant calling
// and cuts them into the fixed-size windows scanned for suspicious sites.
// Coordinates are 0-based and half-open throughout.
package interval
