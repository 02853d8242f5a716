package engine_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gravelcol/internal/aggregation"
	"gravelcol/internal/config"
	"gravelcol/internal/diskmanager"
	"gravelcol/internal/engine"
	"gravelcol/internal/filter"
	"gravelcol/internal/sstable"
)

func testConfig() *config.Config {
	return &config.Config{
		MemtableMax:     10,
		CompactInterval: time.Hour,
	}
}

func openCF(t *testing.T, dir string) *engine.ColumnFamily {
	t.Helper()
	cf, err := engine.Open(diskmanager.NewDiskManager(), dir, "test", testConfig(), nil)
	require.NoError(t, err)
	return cf
}

func sstFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.sst"))
	require.NoError(t, err)
	return matches
}

func TestPutThenGetReturnsLatest(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("row1"), []byte("col1"), []byte("v1")))
	require.NoError(t, cf.Put([]byte("row1"), []byte("col1"), []byte("v2")))

	v, ok := cf.Get([]byte("row1"), []byte("col1"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))

	versions := cf.GetVersions([]byte("row1"), []byte("col1"), 10)
	require.Len(t, versions, 2)
	assert.Equal(t, "v2", string(versions[0].Value))
	assert.Equal(t, "v1", string(versions[1].Value))
	assert.Greater(t, versions[0].Timestamp, versions[1].Timestamp)
}

func TestGetAbsentKey(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	_, ok := cf.Get([]byte("nope"), []byte("col"))
	assert.False(t, ok)
}

func TestDeleteShadowsPutAcrossFlush(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("row1"), []byte("col1"), []byte("v1")))
	require.NoError(t, cf.Delete([]byte("row1"), []byte("col1")))

	_, ok := cf.Get([]byte("row1"), []byte("col1"))
	assert.False(t, ok)

	require.NoError(t, cf.Flush())
	_, ok = cf.Get([]byte("row1"), []byte("col1"))
	assert.False(t, ok)

	require.NoError(t, cf.Put([]byte("row1"), []byte("col1"), []byte("v2")))
	v, ok := cf.Get([]byte("row1"), []byte("col1"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func TestGetVersionsSkipsTombstones(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("r"), []byte("c"), []byte("v1")))
	require.NoError(t, cf.Delete([]byte("r"), []byte("c")))
	require.NoError(t, cf.Put([]byte("r"), []byte("c"), []byte("v2")))

	versions := cf.GetVersions([]byte("r"), []byte("c"), 0)
	require.Len(t, versions, 2)
	assert.Equal(t, "v2", string(versions[0].Value))
	assert.Equal(t, "v1", string(versions[1].Value))
}

func TestThresholdFlushCreatesSSTableAndResetsWAL(t *testing.T) {
	dir := t.TempDir()
	cf := openCF(t, dir)
	defer cf.Close()

	for i := 0; i < 11; i++ {
		row := fmt.Sprintf("row%02d", i)
		require.NoError(t, cf.Put([]byte(row), []byte("col"), []byte("v")))
	}

	files := sstFiles(t, dir)
	require.Len(t, files, 1)

	info, err := os.Stat(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	v, ok := cf.Get([]byte("row00"), []byte("col"))
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestDurabilityAfterCrashReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	cf := openCF(t, dir)
	require.NoError(t, cf.Put([]byte("row1"), []byte("col1"), []byte("v1")))
	require.NoError(t, cf.Delete([]byte("row1"), []byte("col2")))
	// No Close: the reopened engine must recover from the WAL alone.

	reopened := openCF(t, dir)
	defer reopened.Close()

	v, ok := reopened.Get([]byte("row1"), []byte("col1"))
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
	_, ok = reopened.Get([]byte("row1"), []byte("col2"))
	assert.False(t, ok)
}

func TestCloseFlushesAndReopenDiscoversSSTables(t *testing.T) {
	dir := t.TempDir()
	cf := openCF(t, dir)
	require.NoError(t, cf.Put([]byte("row1"), []byte("col1"), []byte("v1")))
	require.NoError(t, cf.Close())

	require.NotEmpty(t, sstFiles(t, dir))

	reopened := openCF(t, dir)
	defer reopened.Close()
	v, ok := reopened.Get([]byte("row1"), []byte("col1"))
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestMajorCompactionCapsVersions(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("r"), []byte("c"), []byte("v1")))
	require.NoError(t, cf.Put([]byte("r"), []byte("c"), []byte("v2")))
	require.NoError(t, cf.Put([]byte("r"), []byte("c"), []byte("v3")))
	require.NoError(t, cf.Flush())

	maxVersions := 2
	require.NoError(t, cf.CompactWithOptions(engine.CompactOptions{
		Type:        engine.Major,
		MaxVersions: &maxVersions,
	}))

	versions := cf.GetVersions([]byte("r"), []byte("c"), 0)
	require.Len(t, versions, 2)
	assert.Equal(t, "v3", string(versions[0].Value))
	assert.Equal(t, "v2", string(versions[1].Value))
}

func TestExpiredTTLTombstoneCleanup(t *testing.T) {
	dir := t.TempDir()
	cf := openCF(t, dir)
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("r"), []byte("c"), []byte("v1")))
	ttl := uint64(10)
	require.NoError(t, cf.DeleteWithTTL([]byte("r"), []byte("c"), &ttl))
	require.NoError(t, cf.Flush())

	_, ok := cf.Get([]byte("r"), []byte("c"))
	assert.False(t, ok)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cf.CompactWithOptions(engine.CompactOptions{
		Type:              engine.Major,
		CleanupTombstones: true,
	}))

	_, ok = cf.Get([]byte("r"), []byte("c"))
	assert.False(t, ok)
	assert.Empty(t, cf.GetVersions([]byte("r"), []byte("c"), 0))

	// The surviving SSTable must contain neither the put nor the tombstone.
	files := sstFiles(t, dir)
	require.Len(t, files, 1)
	reader, err := sstable.Open(diskmanager.NewDiskManager(), files[0], 0.01)
	require.NoError(t, err)
	assert.Zero(t, reader.Len())
}

func TestTombstoneCleanupKeepsNewerPutAndAuditHistory(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("r"), []byte("c"), []byte("v1")))
	require.NoError(t, cf.Delete([]byte("r"), []byte("c")))
	require.NoError(t, cf.Put([]byte("r"), []byte("c"), []byte("v2")))
	require.NoError(t, cf.Flush())

	require.NoError(t, cf.CompactWithOptions(engine.CompactOptions{
		Type:              engine.Major,
		CleanupTombstones: true,
	}))

	v, ok := cf.Get([]byte("r"), []byte("c"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))

	versions := cf.GetVersions([]byte("r"), []byte("c"), 0)
	require.Len(t, versions, 2)
	assert.Equal(t, "v2", string(versions[0].Value))
	assert.Equal(t, "v1", string(versions[1].Value))
}

func TestCompactionPreservesReads(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, cf.Put([]byte("rowA"), []byte("col"), []byte(fmt.Sprintf("a%d", i))))
		require.NoError(t, cf.Put([]byte("rowB"), []byte("col"), []byte(fmt.Sprintf("b%d", i))))
		require.NoError(t, cf.Flush())
	}
	require.NoError(t, cf.Delete([]byte("rowB"), []byte("col")))
	require.NoError(t, cf.Flush())

	beforeA := cf.GetVersions([]byte("rowA"), []byte("col"), 0)
	beforeB := cf.GetVersions([]byte("rowB"), []byte("col"), 0)

	require.NoError(t, cf.Compact())

	assert.Equal(t, beforeA, cf.GetVersions([]byte("rowA"), []byte("col"), 0))
	assert.Equal(t, beforeB, cf.GetVersions([]byte("rowB"), []byte("col"), 0))
}

func TestMinorCompactionMergesOldestHalf(t *testing.T) {
	dir := t.TempDir()
	cf := openCF(t, dir)
	defer cf.Close()

	for i := 0; i < 4; i++ {
		row := fmt.Sprintf("row%d", i)
		require.NoError(t, cf.Put([]byte(row), []byte("col"), []byte("v")))
		require.NoError(t, cf.Flush())
	}
	require.Len(t, sstFiles(t, dir), 4)

	require.NoError(t, cf.Compact())

	// The two oldest inputs are merged into one new table with a sequence
	// past the current maximum.
	files := sstFiles(t, dir)
	require.Len(t, files, 3)
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	assert.Contains(t, names, sstable.FileName(3))
	assert.Contains(t, names, sstable.FileName(4))
	assert.Contains(t, names, sstable.FileName(5))

	for i := 0; i < 4; i++ {
		row := fmt.Sprintf("row%d", i)
		_, ok := cf.Get([]byte(row), []byte("col"))
		assert.True(t, ok, "row %d readable after compaction", i)
	}
}

func TestScanRowVersionsGroupsByColumn(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("row1"), []byte("colA"), []byte("a1")))
	require.NoError(t, cf.Put([]byte("row1"), []byte("colA"), []byte("a2")))
	require.NoError(t, cf.Put([]byte("row1"), []byte("colB"), []byte("b1")))
	require.NoError(t, cf.Delete([]byte("row1"), []byte("colC")))
	require.NoError(t, cf.Flush())
	require.NoError(t, cf.Put([]byte("row1"), []byte("colA"), []byte("a3")))

	result := cf.ScanRowVersions([]byte("row1"), 2)
	require.Len(t, result, 2)
	require.Len(t, result["colA"], 2)
	assert.Equal(t, "a3", string(result["colA"][0].Value))
	assert.Equal(t, "a2", string(result["colA"][1].Value))
	require.Len(t, result["colB"], 1)
	// colC held only a tombstone, so it is omitted entirely.
	assert.NotContains(t, result, "colC")
}

func TestGetWithFilter(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("r"), []byte("c"), []byte("hello world")))

	v, ok := cf.GetWithFilter([]byte("r"), []byte("c"), filter.Contains([]byte("world")))
	require.True(t, ok)
	assert.Equal(t, "hello world", string(v))

	_, ok = cf.GetWithFilter([]byte("r"), []byte("c"), filter.Equal([]byte("world")))
	assert.False(t, ok)
}

func TestScanWithFilterSpansMemtableAndSSTables(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("rowA"), []byte("col"), []byte("flushed")))
	require.NoError(t, cf.Put([]byte("rowB"), []byte("col"), []byte("flushed")))
	require.NoError(t, cf.Flush())
	require.NoError(t, cf.Put([]byte("rowC"), []byte("col"), []byte("fresh")))

	result := cf.ScanWithFilter([]byte("rowA"), []byte("rowC"), filter.Set{})
	require.Len(t, result, 3)

	filtered := cf.ScanWithFilter([]byte("rowA"), []byte("rowC"), filter.Set{
		ColumnFilters: []filter.ColumnFilter{
			{Column: []byte("col"), Filter: filter.Equal([]byte("fresh"))},
		},
	})
	require.Len(t, filtered, 1)
	assert.Contains(t, filtered, "rowC")
}

func TestAggregateRangeSum(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("row1"), []byte("colA"), []byte("10")))
	require.NoError(t, cf.Put([]byte("row2"), []byte("colA"), []byte("20")))

	result := cf.AggregateRange([]byte("row1"), []byte("row2"), nil, aggregation.Set{
		{Column: []byte("colA"), Type: aggregation.Sum},
	})
	require.Len(t, result, 2)
	require.Equal(t, aggregation.ResultSum, result["row1"]["colA"].Kind)
	assert.Equal(t, int64(10), result["row1"]["colA"].Sum)
	assert.Equal(t, int64(20), result["row2"]["colA"].Sum)
}

func TestAggregateWithFilterSet(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("row1"), []byte("colA"), []byte("5")))
	require.NoError(t, cf.Put([]byte("row1"), []byte("colA"), []byte("15")))
	require.NoError(t, cf.Put([]byte("row1"), []byte("colB"), []byte("x")))

	fs := &filter.Set{
		ColumnFilters: []filter.ColumnFilter{
			{Column: []byte("colA"), Filter: filter.NotEqual([]byte("5"))},
		},
	}
	result := cf.Aggregate([]byte("row1"), fs, aggregation.Set{
		{Column: []byte("colA"), Type: aggregation.Count},
		{Column: []byte("colB"), Type: aggregation.Count},
	})
	require.Equal(t, aggregation.ResultCount, result["colA"].Kind)
	assert.Equal(t, uint64(1), result["colA"].Count)
	// colB was filtered out of the scan, so its aggregation sees no column.
	require.Equal(t, aggregation.ResultError, result["colB"].Kind)
	assert.Equal(t, "Column not found", result["colB"].Err)
}

func TestTimestampsMonotonicWithinMillisecond(t *testing.T) {
	cf := openCF(t, t.TempDir())
	defer cf.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, cf.Put([]byte("r"), []byte("c"), []byte(fmt.Sprintf("v%d", i))))
	}

	versions := cf.GetVersions([]byte("r"), []byte("c"), 0)
	require.Len(t, versions, 5)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i-1].Timestamp, versions[i].Timestamp)
	}
	assert.Equal(t, "v4", string(versions[0].Value))
}
