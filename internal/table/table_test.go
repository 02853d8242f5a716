package table_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gravelcol/internal/table"
)

func TestOpenCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/newtable"
	tbl, err := table.Open(dir, nil)
	require.NoError(t, err)
	defer tbl.Close()

	assert.Equal(t, "newtable", tbl.Name())
	assert.Empty(t, tbl.CFNames())
}

func TestCreateCFAndLookup(t *testing.T) {
	tbl, err := table.Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer tbl.Close()

	cf, err := tbl.CreateCF("users")
	require.NoError(t, err)
	require.NotNil(t, cf)

	got, ok := tbl.CF("users")
	require.True(t, ok)
	assert.Same(t, cf, got)

	_, ok = tbl.CF("missing")
	assert.False(t, ok)
}

func TestCreateCFAlreadyExists(t *testing.T) {
	tbl, err := table.Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer tbl.Close()

	_, err = tbl.CreateCF("users")
	require.NoError(t, err)

	_, err = tbl.CreateCF("users")
	require.ErrorIs(t, err, table.ErrCFExists)
}

func TestReopenDiscoversCFsAndData(t *testing.T) {
	dir := t.TempDir()

	tbl, err := table.Open(dir, nil)
	require.NoError(t, err)
	cf, err := tbl.CreateCF("events")
	require.NoError(t, err)
	require.NoError(t, cf.Put([]byte("row1"), []byte("col1"), []byte("v1")))
	_, err = tbl.CreateCF("metrics")
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	reopened, err := table.Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []string{"events", "metrics"}, reopened.CFNames())

	cf, ok := reopened.CF("events")
	require.True(t, ok)
	v, ok := cf.Get([]byte("row1"), []byte("col1"))
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestCreateCFOnDiskDirectoryCollides(t *testing.T) {
	dir := t.TempDir()

	tbl, err := table.Open(dir, nil)
	require.NoError(t, err)
	_, err = tbl.CreateCF("users")
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	reopened, err := table.Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.CreateCF("users")
	require.ErrorIs(t, err, table.ErrCFExists)
}
