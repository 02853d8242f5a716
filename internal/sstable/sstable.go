// Package sstable implements the immutable, sorted on-disk files a column
// family flushes its memtable into and compacts together.
package sstable

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

// SequenceWidth is the zero-padded width of an SSTable's sequence number in
// its filename, so a lexicographic filename sort equals creation order.
const SequenceWidth = 10

var filenamePattern = regexp.MustCompile(`^(\d{10})\.sst$`)

// FileName returns the canonical "NNNNNNNNNN.sst" name for sequence.
func FileName(sequence uint64) string {
	return fmt.Sprintf("%0*d.sst", SequenceWidth, sequence)
}

// ParseSequence extracts the sequence number from a path produced by
// FileName, or ok=false if the base name doesn't match the pattern.
func ParseSequence(path string) (sequence uint64, ok bool) {
	m := filenamePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
