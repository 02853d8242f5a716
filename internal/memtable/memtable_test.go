package memtable_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gravelcol/internal/diskmanager"
	"gravelcol/internal/memtable"
	"gravelcol/internal/record"
	"gravelcol/internal/wal"
)

func openMemtable(t *testing.T) *memtable.Memtable {
	t.Helper()
	w, err := wal.Open(diskmanager.NewDiskManager(), filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, err)
	m, err := memtable.Open(w)
	require.NoError(t, err)
	return m
}

func put(t *testing.T, m *memtable.Memtable, row, col string, ts uint64, val string) {
	t.Helper()
	require.NoError(t, m.Append(record.Entry{
		Key:   record.Key{Row: []byte(row), Column: []byte(col), Timestamp: ts},
		Value: record.Put([]byte(val)),
	}))
}

func TestGetReturnsLatestVersion(t *testing.T) {
	m := openMemtable(t)
	put(t, m, "row1", "col1", 1, "v1")
	put(t, m, "row1", "col1", 2, "v2")

	v, ok := m.Get([]byte("row1"), []byte("col1"))
	require.True(t, ok)
	require.True(t, v.IsPut())
	require.Equal(t, "v2", string(v.Payload))
}

func TestVersionsDescendingByTimestamp(t *testing.T) {
	m := openMemtable(t)
	put(t, m, "row1", "col1", 1, "v1")
	put(t, m, "row1", "col1", 2, "v2")
	put(t, m, "row1", "col1", 3, "v3")

	versions := m.Versions([]byte("row1"), []byte("col1"))
	require.Len(t, versions, 3)
	require.Equal(t, uint64(3), versions[0].Key.Timestamp)
	require.Equal(t, uint64(2), versions[1].Key.Timestamp)
	require.Equal(t, uint64(1), versions[2].Key.Timestamp)
}

func TestDeleteShadowsPriorPutAtGet(t *testing.T) {
	m := openMemtable(t)
	put(t, m, "row1", "col1", 1, "v1")
	require.NoError(t, m.Append(record.Entry{
		Key:   record.Key{Row: []byte("row1"), Column: []byte("col1"), Timestamp: 2},
		Value: record.Delete(nil),
	}))

	v, ok := m.Get([]byte("row1"), []byte("col1"))
	require.True(t, ok)
	require.True(t, v.IsDelete())
}

func TestScanRowReturnsAllColumnsForRow(t *testing.T) {
	m := openMemtable(t)
	put(t, m, "row1", "colA", 1, "a")
	put(t, m, "row1", "colB", 1, "b")
	put(t, m, "row2", "colA", 1, "other")

	entries := m.ScanRow([]byte("row1"))
	require.Len(t, entries, 2)
}

func TestRangeRowsAndRowsDedup(t *testing.T) {
	m := openMemtable(t)
	put(t, m, "row1", "colA", 1, "a")
	put(t, m, "row1", "colB", 2, "b")
	put(t, m, "row2", "colA", 1, "c")
	put(t, m, "row3", "colA", 1, "d")

	rows := m.Rows([]byte("row1"), []byte("row2"))
	require.Len(t, rows, 2)
	require.Equal(t, "row1", string(rows[0]))
	require.Equal(t, "row2", string(rows[1]))
}

func TestDrainAllClearsMapAndResetsWAL(t *testing.T) {
	m := openMemtable(t)
	put(t, m, "row1", "colA", 1, "a")
	put(t, m, "row1", "colB", 2, "b")

	entries, err := m.DrainAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 0, m.Len())

	_, ok := m.Get([]byte("row1"), []byte("colA"))
	require.False(t, ok)
}

func TestLenCountsDistinctKeys(t *testing.T) {
	m := openMemtable(t)
	put(t, m, "row1", "colA", 1, "a")
	put(t, m, "row1", "colA", 1, "a-overwrite")
	put(t, m, "row1", "colA", 2, "a2")
	require.Equal(t, 2, m.Len())
}
