// Package engine implements the per-column-family LSM engine: the
// coordinator that routes reads and writes through a memtable and an
// ordered SSTable set, runs flush and compaction, and exposes the
// filtered/aggregated read APIs external callers consume.
package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"gravelcol/internal/aggregation"
	"gravelcol/internal/config"
	"gravelcol/internal/diskmanager"
	"gravelcol/internal/filter"
	"gravelcol/internal/memtable"
	"gravelcol/internal/record"
	"gravelcol/internal/sstable"
	"gravelcol/internal/wal"
)

// ColumnFamily is the per-CF coordinator: it owns one memtable (backed by
// one WAL) and one ordered SSTable set, and serializes foreground
// reads/writes against the background compactor.
type ColumnFamily struct {
	name string
	dir  string
	dm   diskmanager.DiskManager
	cfg  *config.Config
	log  *logrus.Entry

	// memMu guards mem and lastTs. Acquired first when both locks are held
	// together.
	memMu  sync.Mutex
	mem    *memtable.Memtable
	lastTs uint64

	// sstMu guards sstables. Compaction holds it only to snapshot inputs
	// and, at the very end, to publish the merged result — never across
	// I/O.
	sstMu    sync.Mutex
	sstables []*sstable.Reader

	seqCounter atomic.Uint64

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open opens (creating if absent) the column family directory at dir,
// replaying its WAL and discovering its SSTable set by directory scan,
// then starts its background compactor.
func Open(dm diskmanager.DiskManager, dir, name string, cfg *config.Config, log *logrus.Entry) (*ColumnFamily, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	} else {
		cfg.FillDefaults()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("engine: mkdir %s: %w", dir, err)
	}

	w, err := wal.Open(dm, filepath.Join(dir, "wal.log"))
	if err != nil {
		return nil, fmt.Errorf("engine: open wal for cf %q: %w", name, err)
	}
	mem, err := memtable.Open(w)
	if err != nil {
		return nil, fmt.Errorf("engine: replay wal for cf %q: %w", name, err)
	}

	names, err := dm.List(dir, ".sst")
	if err != nil {
		return nil, fmt.Errorf("engine: list sstables for cf %q: %w", name, err)
	}

	var readers []*sstable.Reader
	var maxSeq uint64
	for _, n := range names {
		seq, ok := sstable.ParseSequence(n)
		if !ok {
			// A *.sst.tmp left by a crash mid-flush was never published;
			// discard it.
			if strings.HasSuffix(n, ".tmp") {
				if derr := dm.Delete(filepath.Join(dir, n)); derr != nil {
					return nil, fmt.Errorf("engine: remove stale temp file %s for cf %q: %w", n, name, derr)
				}
			}
			continue
		}
		r, err := sstable.Open(dm, filepath.Join(dir, n), cfg.BloomFalsePositiveRate)
		if err != nil {
			return nil, fmt.Errorf("engine: open sstable %s for cf %q: %w", n, name, err)
		}
		readers = append(readers, r)
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	sort.Slice(readers, func(i, j int) bool { return readers[i].Sequence() < readers[j].Sequence() })

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	cf := &ColumnFamily{
		name:     name,
		dir:      dir,
		dm:       dm,
		cfg:      cfg,
		log:      log.WithField("cf", name),
		mem:      mem,
		sstables: readers,
		stopCh:   make(chan struct{}),
	}
	cf.seqCounter.Store(maxSeq)

	cf.wg.Add(1)
	go cf.runCompactor()

	return cf, nil
}

// nextTimestamp returns a millisecond Unix timestamp for the next write,
// bumped past the CF's last-used timestamp so that two puts to the same
// (row, column) within the same millisecond still produce distinct,
// ordered versions.
// Must be called with memMu held.
func (cf *ColumnFamily) nextTimestamp() uint64 {
	ts := uint64(time.Now().UnixMilli())
	if ts <= cf.lastTs {
		ts = cf.lastTs + 1
	}
	cf.lastTs = ts
	return ts
}

func (cf *ColumnFamily) write(row, column []byte, value record.Value) error {
	cf.memMu.Lock()
	defer cf.memMu.Unlock()

	ts := cf.nextTimestamp()
	entry := record.Entry{Key: record.Key{Row: row, Column: column, Timestamp: ts}, Value: value}
	if err := cf.mem.Append(entry); err != nil {
		return fmt.Errorf("engine: append to cf %q: %w", cf.name, err)
	}

	if cf.mem.Len() > cf.cfg.MemtableMax {
		return cf.flushLocked()
	}
	return nil
}

// Put assigns the current timestamp and stores value as a new version.
func (cf *ColumnFamily) Put(row, column, value []byte) error {
	return cf.write(row, column, record.Put(value))
}

// Delete is DeleteWithTTL(row, column, nil).
func (cf *ColumnFamily) Delete(row, column []byte) error {
	return cf.DeleteWithTTL(row, column, nil)
}

// DeleteWithTTL stores a tombstone, optionally bounded by ttlMs.
func (cf *ColumnFamily) DeleteWithTTL(row, column []byte, ttlMs *uint64) error {
	return cf.write(row, column, record.Delete(ttlMs))
}

// snapshotSSTables takes a short-lived lock to copy the current SSTable
// list: snapshot, then release, then do I/O against the snapshot.
func (cf *ColumnFamily) snapshotSSTables() []*sstable.Reader {
	cf.sstMu.Lock()
	defer cf.sstMu.Unlock()
	return append([]*sstable.Reader(nil), cf.sstables...)
}

// Get returns the latest live value for (row, column): the memtable is
// checked first, then SSTables newest-first. A flushed SSTable with a
// higher sequence is always at least as new as a lower one for any key it
// contains, and the memtable is newer than all of them.
func (cf *ColumnFamily) Get(row, column []byte) ([]byte, bool) {
	cf.memMu.Lock()
	val, found := cf.mem.Get(row, column)
	cf.memMu.Unlock()

	if found {
		if val.IsDelete() {
			return nil, false
		}
		return val.Payload, true
	}

	ssts := cf.snapshotSSTables()
	for i := len(ssts) - 1; i >= 0; i-- {
		if val, ok := ssts[i].GetLatest(row, column); ok {
			if val.IsDelete() {
				return nil, false
			}
			return val.Payload, true
		}
	}
	return nil, false
}

// GetWithFilter point-gets (row, column), then applies f to the value;
// a non-matching value is reported as absent.
func (cf *ColumnFamily) GetWithFilter(row, column []byte, f filter.Filter) ([]byte, bool) {
	value, ok := cf.Get(row, column)
	if !ok || !f.Eval(value) {
		return nil, false
	}
	return value, true
}

// GetVersions gathers every (timestamp, value) for (row, column) across the
// memtable and all SSTables, sorts by timestamp descending, drops
// tombstones, and returns the first n (n<=0 means unbounded). Tombstones
// are filtered globally, not used as a stop marker, so this returns the n
// most-recent live puts regardless of intervening deletes — audit-style
// history.
func (cf *ColumnFamily) GetVersions(row, column []byte, n int) []filter.Version {
	cf.memMu.Lock()
	memVersions := cf.mem.Versions(row, column)
	cf.memMu.Unlock()

	all := append([]record.Entry(nil), memVersions...)
	for _, s := range cf.snapshotSSTables() {
		all = append(all, s.Versions(row, column)...)
	}
	sortEntriesByTimestampDesc(all)

	var out []filter.Version
	for _, e := range all {
		if e.Value.IsDelete() {
			continue
		}
		out = append(out, filter.Version{Timestamp: e.Key.Timestamp, Value: e.Value.Payload})
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// ScanRowVersions collects every entry for row across the memtable and all
// SSTables, groups by column, and per column sorts descending, drops
// tombstones and caps at n (n<=0 unbounded), omitting columns left empty.
func (cf *ColumnFamily) ScanRowVersions(row []byte, n int) map[string][]filter.Version {
	cf.memMu.Lock()
	memEntries := cf.mem.ScanRow(row)
	cf.memMu.Unlock()

	all := append([]record.Entry(nil), memEntries...)
	for _, s := range cf.snapshotSSTables() {
		all = append(all, s.ScanRow(row)...)
	}

	byColumn := make(map[string][]record.Entry)
	for _, e := range all {
		key := string(e.Key.Column)
		byColumn[key] = append(byColumn[key], e)
	}

	result := make(map[string][]filter.Version)
	for col, entries := range byColumn {
		sortEntriesByTimestampDesc(entries)
		var kept []filter.Version
		for _, e := range entries {
			if e.Value.IsDelete() {
				continue
			}
			kept = append(kept, filter.Version{Timestamp: e.Key.Timestamp, Value: e.Value.Payload})
			if n > 0 && len(kept) >= n {
				break
			}
		}
		if len(kept) > 0 {
			result[col] = kept
		}
	}
	return result
}

// ScanRowWithFilter applies fs to row's scan.
func (cf *ColumnFamily) ScanRowWithFilter(row []byte, fs filter.Set) map[string][]filter.Version {
	n := 0
	if fs.MaxVersions != nil {
		n = *fs.MaxVersions
	}
	return fs.Apply(cf.ScanRowVersions(row, n))
}

// distinctRows returns the de-duplicated, sorted set of rows present in
// the memtable or any SSTable within [lo, hi].
func (cf *ColumnFamily) distinctRows(lo, hi []byte) [][]byte {
	cf.memMu.Lock()
	memRows := cf.mem.Rows(lo, hi)
	cf.memMu.Unlock()

	seen := make(map[string]struct{}, len(memRows))
	rows := make([][]byte, 0, len(memRows))
	add := func(row []byte) {
		key := string(row)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		rows = append(rows, row)
	}
	for _, r := range memRows {
		add(r)
	}
	for _, s := range cf.snapshotSSTables() {
		for _, e := range s.RangeRows(lo, hi) {
			add(e.Key.Row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i], rows[j]) < 0 })
	return rows
}

// ScanWithFilter applies fs per row across [lo, hi].
func (cf *ColumnFamily) ScanWithFilter(lo, hi []byte, fs filter.Set) map[string]map[string][]filter.Version {
	out := make(map[string]map[string][]filter.Version)
	for _, row := range cf.distinctRows(lo, hi) {
		if cols := cf.ScanRowWithFilter(row, fs); len(cols) > 0 {
			out[string(row)] = cols
		}
	}
	return out
}

// Aggregate applies fs (if non-nil) to row's scan, then evaluates aggs over
// the result.
func (cf *ColumnFamily) Aggregate(row []byte, fs *filter.Set, aggs aggregation.Set) map[string]aggregation.Result {
	var scanned map[string][]filter.Version
	if fs != nil {
		scanned = cf.ScanRowWithFilter(row, *fs)
	} else {
		scanned = cf.ScanRowVersions(row, 0)
	}
	return aggregation.Apply(scanned, aggs)
}

// AggregateRange runs Aggregate per row across [lo, hi].
func (cf *ColumnFamily) AggregateRange(lo, hi []byte, fs *filter.Set, aggs aggregation.Set) map[string]map[string]aggregation.Result {
	rows := cf.distinctRows(lo, hi)
	out := make(map[string]map[string]aggregation.Result, len(rows))
	for _, row := range rows {
		out[string(row)] = cf.Aggregate(row, fs, aggs)
	}
	return out
}

// Flush drains the memtable into a new SSTable.
func (cf *ColumnFamily) Flush() error {
	cf.memMu.Lock()
	defer cf.memMu.Unlock()
	return cf.flushLocked()
}

// flushLocked writes the drained memtable as the next-sequence SSTable and
// publishes it. Must be called with memMu held; it acquires sstMu only to
// publish the new reader, never across I/O.
func (cf *ColumnFamily) flushLocked() error {
	if cf.mem.Len() == 0 {
		return nil
	}

	entries, err := cf.mem.DrainAll()
	if err != nil {
		return fmt.Errorf("engine: drain memtable for cf %q: %w", cf.name, err)
	}

	seq := cf.seqCounter.Add(1)
	path := filepath.Join(cf.dir, sstable.FileName(seq))
	if err := cf.writeSSTable(path, entries); err != nil {
		return fmt.Errorf("engine: flush cf %q: %w", cf.name, err)
	}
	reader, err := sstable.Open(cf.dm, path, cf.cfg.BloomFalsePositiveRate)
	if err != nil {
		return fmt.Errorf("engine: open flushed sstable for cf %q: %w", cf.name, err)
	}

	cf.sstMu.Lock()
	cf.sstables = append(cf.sstables, reader)
	cf.sstMu.Unlock()

	return nil
}

// writeSSTable writes entries under a temporary name and renames the file
// into place, so a crash mid-write never leaves a partial *.sst for the
// reopen scan to trip over.
func (cf *ColumnFamily) writeSSTable(path string, entries []record.Entry) error {
	tmp := path + ".tmp"
	if err := sstable.Create(cf.dm, tmp, entries); err != nil {
		return err
	}
	return cf.dm.Rename(tmp, path)
}

// Close stops the background compactor, flushes any remaining memtable
// data, and closes the WAL. Safe to call once.
func (cf *ColumnFamily) Close() error {
	var err error
	cf.closeOnce.Do(func() {
		close(cf.stopCh)
		cf.wg.Wait()

		cf.memMu.Lock()
		if ferr := cf.flushLocked(); ferr != nil {
			err = ferr
		}
		cf.memMu.Unlock()

		if cerr := cf.mem.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("engine: close cf %q: %w", cf.name, cerr)
		}
	})
	return err
}

func sortEntriesByTimestampDesc(entries []record.Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key.Timestamp > entries[j].Key.Timestamp })
}
