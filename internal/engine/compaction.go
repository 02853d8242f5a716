package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"gravelcol/internal/record"
	"gravelcol/internal/sstable"
)

// CompactionType selects which input-selection shape a CompactOptions
// runs.
type CompactionType int

// Minor merges the oldest slice of the SSTable set; Major merges all of
// it.
const (
	Minor CompactionType = iota
	Major
)

// CompactOptions configures a single compaction run's input selection and
// pruning behavior.
type CompactOptions struct {
	Type CompactionType
	// MaxVersions caps how many live Puts per (row, column) survive; nil
	// means unbounded.
	MaxVersions *int
	// MaxAgeMs drops Puts older than this many milliseconds; nil means
	// unbounded.
	MaxAgeMs *uint64
	// CleanupTombstones discards expired or no-longer-shadowing tombstones;
	// false keeps every tombstone encountered.
	CleanupTombstones bool
}

// DefaultCompactOptions is compact(default): the lightweight periodic merge
// the background compactor runs every CompactInterval. It performs a minor
// compaction with no version/age pruning and no tombstone cleanup, since
// the background loop's purpose is bounding SSTable count, not enforcing
// retention policy (that is an explicit, opt-in CompactWithOptions call).
func DefaultCompactOptions() CompactOptions {
	return CompactOptions{Type: Minor}
}

func (cf *ColumnFamily) runCompactor() {
	defer cf.wg.Done()
	ticker := time.NewTicker(cf.cfg.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cf.stopCh:
			return
		case <-ticker.C:
			if err := cf.Compact(); err != nil {
				cf.log.WithError(err).Error("background compaction failed")
			}
		}
	}
}

// Compact runs compact(default).
func (cf *ColumnFamily) Compact() error {
	return cf.CompactWithOptions(DefaultCompactOptions())
}

// MajorCompact merges every SSTable into one, with no version, age or
// tombstone pruning.
func (cf *ColumnFamily) MajorCompact() error {
	return cf.CompactWithOptions(CompactOptions{Type: Major})
}

// CompactWithOptions runs a single compaction pass: select inputs, merge by key order, optionally prune, write the merged output as
// a new SSTable, publish it in place of the inputs, then delete the input
// files.
func (cf *ColumnFamily) CompactWithOptions(opts CompactOptions) error {
	all := cf.snapshotSSTables()
	selected := selectInputs(all, opts.Type, cf.cfg.MinorFraction)
	pruning := opts.MaxVersions != nil || opts.MaxAgeMs != nil || opts.CleanupTombstones
	if len(selected) == 0 || (len(selected) == 1 && !pruning) {
		// A single input with no pruning active would be rewritten
		// byte-for-byte; a major compaction of one table still runs when a
		// retention policy needs enforcing.
		return nil
	}

	merged := mergeEntries(selected)
	if pruning {
		merged = prune(merged, opts)
	}

	seq := cf.seqCounter.Add(1)
	path := filepath.Join(cf.dir, sstable.FileName(seq))
	if err := cf.writeSSTable(path, merged); err != nil {
		return fmt.Errorf("engine: compact cf %q: %w", cf.name, err)
	}
	reader, err := sstable.Open(cf.dm, path, cf.cfg.BloomFalsePositiveRate)
	if err != nil {
		return fmt.Errorf("engine: open compacted sstable for cf %q: %w", cf.name, err)
	}

	cf.sstMu.Lock()
	cf.sstables = replaceSelected(cf.sstables, selected, reader)
	cf.sstMu.Unlock()

	for _, s := range selected {
		if err := cf.dm.Delete(s.Path()); err != nil {
			cf.log.WithError(err).WithField("path", s.Path()).Warn("failed to delete compacted sstable input")
		}
	}
	return nil
}

// selectInputs picks which SSTables a compaction run merges. all must
// already be sorted ascending by sequence. Major selects every table;
// Minor selects the max(2, n*fraction) oldest tables, clamped to n, or
// none at all when n<=1.
func selectInputs(all []*sstable.Reader, typ CompactionType, fraction float64) []*sstable.Reader {
	n := len(all)
	if typ == Major {
		return all
	}
	if n <= 1 {
		return nil
	}

	half := int(float64(n) * fraction)
	if half < 2 {
		half = 2
	}
	if half > n {
		half = n
	}
	return all[:half]
}

func mergeEntries(readers []*sstable.Reader) []record.Entry {
	var merged []record.Entry
	for _, r := range readers {
		merged = append(merged, r.ScanAll()...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Key.Compare(merged[j].Key) < 0 })
	return merged
}

// replaceSelected returns current with every reader in selected removed and
// replacement appended, re-sorted ascending by sequence.
func replaceSelected(current, selected []*sstable.Reader, replacement *sstable.Reader) []*sstable.Reader {
	toDrop := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		toDrop[s.Path()] = struct{}{}
	}

	out := make([]*sstable.Reader, 0, len(current)-len(selected)+1)
	for _, r := range current {
		if _, drop := toDrop[r.Path()]; drop {
			continue
		}
		out = append(out, r)
	}
	out = append(out, replacement)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence() < out[j].Sequence() })
	return out
}

// prune implements the per-(row,column) pruning walk: group by
// (row, column), sort each group descending by timestamp, then keep
// Puts under the version/age caps and Deletes per the tombstone-cleanup
// rule, tracking whether a live Put has been seen further down the walk.
func prune(entries []record.Entry, opts CompactOptions) []record.Entry {
	now := uint64(time.Now().UnixMilli())

	type groupKey struct {
		row    string
		column string
	}
	groups := make(map[groupKey][]record.Entry)
	var order []groupKey
	for _, e := range entries {
		k := groupKey{row: string(e.Key.Row), column: string(e.Key.Column)}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	var kept []record.Entry
	for _, k := range order {
		group := groups[k]
		sort.Slice(group, func(i, j int) bool { return group[i].Key.Timestamp > group[j].Key.Timestamp })

		seenLive := false
		expiredShadow := false
		putsKept := 0
		for _, e := range group {
			// Everything older than an expired tombstone is dropped with it:
			// removing the tombstone alone would resurrect the puts it
			// shadowed.
			if expiredShadow {
				continue
			}

			if e.Value.IsPut() {
				underVersionCap := opts.MaxVersions == nil || putsKept < *opts.MaxVersions
				underAgeCap := opts.MaxAgeMs == nil || now-e.Key.Timestamp <= *opts.MaxAgeMs
				if underVersionCap && underAgeCap {
					kept = append(kept, e)
					seenLive = true
					putsKept++
				}
				continue
			}

			if !opts.CleanupTombstones {
				kept = append(kept, e)
				continue
			}
			if e.Value.TTLMs != nil {
				if e.Key.Timestamp+*e.Value.TTLMs > now {
					kept = append(kept, e)
				} else {
					expiredShadow = true
				}
				continue
			}
			if !seenLive {
				kept = append(kept, e)
			}
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Key.Compare(kept[j].Key) < 0 })
	return kept
}
