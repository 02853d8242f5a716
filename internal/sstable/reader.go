package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"gravelcol/internal/diskmanager"
	"gravelcol/internal/record"
)

// Reader streams an immutable SSTable file fully into memory on Open. All
// read operations below run over that in-memory, ascending-by-key slice.
type Reader struct {
	path     string
	sequence uint64
	entries  []record.Entry
	bloom    *bloomFilter
}

// Open reads path fully and builds the reader's in-memory entry slice and
// row bloom filter.
func Open(dm diskmanager.DiskManager, path string, bloomFalsePositiveRate float64) (*Reader, error) {
	handle, err := dm.Open(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}
	info, err := handle.Stat()
	if err != nil {
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}

	br := bufio.NewReader(io.NewSectionReader(handle, 0, info.Size()))

	var countBuf [4]byte
	if _, err := io.ReadFull(br, countBuf[:]); err != nil {
		return nil, fmt.Errorf("sstable: read count in %s: %w", path, err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	entries := make([]record.Entry, 0, count)
	rows := make(map[string]struct{})
	for i := uint32(0); i < count; i++ {
		keyBlob, err := readLenPrefixed(br)
		if err != nil {
			return nil, fmt.Errorf("sstable: read key %d in %s: %w", i, path, err)
		}
		key, err := record.DecodeKey(keyBlob)
		if err != nil {
			return nil, fmt.Errorf("sstable: decode key %d in %s: %w", i, path, err)
		}
		valBlob, err := readLenPrefixed(br)
		if err != nil {
			return nil, fmt.Errorf("sstable: read value %d in %s: %w", i, path, err)
		}
		val, err := record.DecodeValue(valBlob)
		if err != nil {
			return nil, fmt.Errorf("sstable: decode value %d in %s: %w", i, path, err)
		}
		entries = append(entries, record.Entry{Key: key, Value: val})
		rows[string(key.Row)] = struct{}{}
	}

	bloom := newBloomFilter(len(rows), bloomFalsePositiveRate)
	for row := range rows {
		bloom.add([]byte(row))
	}

	if err := dm.Close(path); err != nil {
		return nil, fmt.Errorf("sstable: close %s: %w", path, err)
	}

	sequence, _ := ParseSequence(path)
	return &Reader{path: path, sequence: sequence, entries: entries, bloom: bloom}, nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Path returns the SSTable's file path.
func (r *Reader) Path() string { return r.path }

// Sequence returns the SSTable's creation sequence number, parsed from its
// filename.
func (r *Reader) Sequence() uint64 { return r.sequence }

// Len reports the entry count.
func (r *Reader) Len() int { return len(r.entries) }

// MaybeContainsRow reports whether row might be present, consulting the
// bloom filter built on Open. A false return means row is definitely
// absent; a true return may be a false positive.
func (r *Reader) MaybeContainsRow(row []byte) bool {
	return r.bloom.mayContain(row)
}

// GetLatest scans entries in reverse (so highest timestamp first, since
// entries are sorted ascending by (row,column,timestamp)) and returns the
// first value matching (row, column), or false if none.
func (r *Reader) GetLatest(row, column []byte) (record.Value, bool) {
	if !r.MaybeContainsRow(row) {
		return record.Value{}, false
	}
	target := record.Key{Row: row, Column: column}
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Key.SameColumn(target) {
			return r.entries[i].Value, true
		}
	}
	return record.Value{}, false
}

// Versions collects every (timestamp, value) pair for (row, column),
// sorted descending by timestamp.
func (r *Reader) Versions(row, column []byte) []record.Entry {
	if !r.MaybeContainsRow(row) {
		return nil
	}
	target := record.Key{Row: row, Column: column}
	var out []record.Entry
	for _, e := range r.entries {
		if e.Key.SameColumn(target) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Timestamp > out[j].Key.Timestamp })
	return out
}

// ScanRow returns every entry for the given row, in key order.
func (r *Reader) ScanRow(row []byte) []record.Entry {
	if !r.MaybeContainsRow(row) {
		return nil
	}
	var out []record.Entry
	for _, e := range r.entries {
		if bytes.Equal(e.Key.Row, row) {
			out = append(out, e)
		}
	}
	return out
}

// RangeRows returns every entry whose row lies in [lo, hi], in key order.
func (r *Reader) RangeRows(lo, hi []byte) []record.Entry {
	var out []record.Entry
	for _, e := range r.entries {
		if bytes.Compare(e.Key.Row, lo) >= 0 && bytes.Compare(e.Key.Row, hi) <= 0 {
			out = append(out, e)
		}
	}
	return out
}

// ScanAll returns every entry in the file, in key order. The compaction
// input path.
func (r *Reader) ScanAll() []record.Entry {
	return r.entries
}

// Close is a no-op: Open already fully materialized the file in memory and
// closed its handle through the diskmanager. Present so callers can treat
// readers uniformly.
func (r *Reader) Close() error { return nil }
