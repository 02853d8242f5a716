package memtable

import (
	"bytes"
	"sort"

	"gravelcol/internal/record"
	"gravelcol/internal/wal"
)

// Memtable pairs an ordered in-memory map with the WAL that durably backs
// it: every Append is WAL-durable before it is visible in the map.
type Memtable struct {
	wal *wal.WAL
	sl  *skipList
}

// Open replays every record of the already-open WAL w into the map (later
// records for the same key overwrite earlier ones), and returns a Memtable
// ready to accept further appends.
func Open(w *wal.WAL) (*Memtable, error) {
	m := &Memtable{wal: w, sl: newSkipList()}
	entries, err := w.Replay()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		m.sl.put(e)
	}
	return m, nil
}

// Append durably logs entry to the WAL, then inserts it into the map. The
// WAL write must succeed before the map is updated.
func (m *Memtable) Append(entry record.Entry) error {
	if err := m.wal.Append(entry); err != nil {
		return err
	}
	m.sl.put(entry)
	return nil
}

// columnRun returns every entry sharing (row, column), in ascending
// timestamp order.
func (m *Memtable) columnRun(row, column []byte) []record.Entry {
	start := record.Key{Row: row, Column: column, Timestamp: 0}
	var run []record.Entry
	for n := m.sl.seekFloor(start); n != nil; n = n.next[0] {
		if !n.entry.Key.SameColumn(record.Key{Row: row, Column: column}) {
			break
		}
		run = append(run, n.entry)
	}
	return run
}

// Get returns the CellValue at the greatest timestamp for (row, column), or
// false if absent.
func (m *Memtable) Get(row, column []byte) (record.Value, bool) {
	run := m.columnRun(row, column)
	if len(run) == 0 {
		return record.Value{}, false
	}
	return run[len(run)-1].Value, true
}

// Versions returns every (timestamp, CellValue) for (row, column),
// descending by timestamp.
func (m *Memtable) Versions(row, column []byte) []record.Entry {
	run := m.columnRun(row, column)
	out := make([]record.Entry, len(run))
	for i, e := range run {
		out[len(run)-1-i] = e
	}
	return out
}

// ScanRow returns every entry whose key has the given row, in key order.
func (m *Memtable) ScanRow(row []byte) []record.Entry {
	start := record.Key{Row: row, Column: nil, Timestamp: 0}
	var out []record.Entry
	for n := m.sl.seekFloor(start); n != nil; n = n.next[0] {
		if !bytes.Equal(n.entry.Key.Row, row) {
			break
		}
		out = append(out, n.entry)
	}
	return out
}

// RangeRows returns every entry whose row lies in [lo, hi], in key order.
func (m *Memtable) RangeRows(lo, hi []byte) []record.Entry {
	start := record.Key{Row: lo, Column: nil, Timestamp: 0}
	var out []record.Entry
	for n := m.sl.seekFloor(start); n != nil; n = n.next[0] {
		if bytes.Compare(n.entry.Key.Row, hi) > 0 {
			break
		}
		out = append(out, n.entry)
	}
	return out
}

// Rows returns the de-duplicated, sorted set of distinct rows currently
// present in the map within [lo, hi], used by range scans to enumerate row
// identities.
func (m *Memtable) Rows(lo, hi []byte) [][]byte {
	seen := make(map[string]struct{})
	var rows [][]byte
	for _, e := range m.RangeRows(lo, hi) {
		k := string(e.Key.Row)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		rows = append(rows, e.Key.Row)
	}
	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i], rows[j]) < 0 })
	return rows
}

// DrainAll collects every entry sorted by key, clears the map, and resets
// the WAL. Used exclusively by flush.
func (m *Memtable) DrainAll() ([]record.Entry, error) {
	entries := m.sl.entries()
	if err := m.wal.Reset(); err != nil {
		return nil, err
	}
	m.sl.clear()
	return entries, nil
}

// Len reports the number of distinct keys held, which governs the flush
// threshold.
func (m *Memtable) Len() int { return m.sl.len() }

// Close closes the underlying WAL.
func (m *Memtable) Close() error { return m.wal.Close() }
