package record_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"gravelcol/internal/record"
)

func TestKeyCompareOrdersByRowThenColumnThenTimestamp(t *testing.T) {
	a := record.Key{Row: []byte("r1"), Column: []byte("c1"), Timestamp: 5}
	b := record.Key{Row: []byte("r1"), Column: []byte("c1"), Timestamp: 10}
	c := record.Key{Row: []byte("r1"), Column: []byte("c2"), Timestamp: 1}
	d := record.Key{Row: []byte("r2"), Column: []byte("c0"), Timestamp: 1}

	require.Negative(t, a.Compare(b))
	require.Positive(t, b.Compare(a))
	require.Negative(t, b.Compare(c))
	require.Negative(t, c.Compare(d))
	require.Zero(t, a.Compare(a))
}

func TestEncodeDecodeKeyRoundTrips(t *testing.T) {
	k := record.Key{Row: []byte("row1"), Column: []byte("col1"), Timestamp: 1700000000123}
	got, err := record.DecodeKey(record.EncodeKey(k))
	require.NoError(t, err)
	require.Equal(t, k, got)
}

func TestEncodeDecodeValuePutAndDeleteWithAndWithoutTTL(t *testing.T) {
	put := record.Put([]byte("hello world"))
	gotPut, err := record.DecodeValue(record.EncodeValue(put))
	require.NoError(t, err)
	require.True(t, gotPut.IsPut())
	require.Equal(t, put.Payload, gotPut.Payload)

	del := record.Delete(nil)
	gotDel, err := record.DecodeValue(record.EncodeValue(del))
	require.NoError(t, err)
	require.True(t, gotDel.IsDelete())
	require.Nil(t, gotDel.TTLMs)

	ttl := uint64(5000)
	delTTL := record.Delete(&ttl)
	gotDelTTL, err := record.DecodeValue(record.EncodeValue(delTTL))
	require.NoError(t, err)
	require.True(t, gotDelTTL.IsDelete())
	require.NotNil(t, gotDelTTL.TTLMs)
	require.Equal(t, ttl, *gotDelTTL.TTLMs)
}

func TestEncodeDecodeEntryRoundTrips(t *testing.T) {
	e := record.Entry{
		Key:   record.Key{Row: []byte("r"), Column: []byte("c"), Timestamp: 42},
		Value: record.Put([]byte("v")),
	}
	got, err := record.DecodeEntry(record.EncodeEntry(e))
	require.NoError(t, err)
	require.Equal(t, e.Key, got.Key)
	require.True(t, got.Value.IsPut())
	require.Equal(t, e.Value.Payload, got.Value.Payload)
}

func TestReadLengthPrefixedStopsCleanlyAtEOF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, record.WriteLengthPrefixed(&buf, []byte("first")))
	require.NoError(t, record.WriteLengthPrefixed(&buf, []byte("second")))

	r := bytes.NewReader(buf.Bytes())
	first, err := record.ReadLengthPrefixed(r)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), first)

	second, err := record.ReadLengthPrefixed(r)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), second)

	_, err = record.ReadLengthPrefixed(r)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadLengthPrefixedTreatsTruncatedTrailingRecordAsNotPresent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, record.WriteLengthPrefixed(&buf, []byte("complete")))
	// Append a truncated trailing record: a length prefix claiming more
	// payload than actually follows.
	full := buf.Bytes()
	truncated := append(full, 0, 0, 0, 100, 1, 2, 3) // length=100 but only 3 bytes follow

	r := bytes.NewReader(truncated)
	first, err := record.ReadLengthPrefixed(r)
	require.NoError(t, err)
	require.Equal(t, []byte("complete"), first)

	_, err = record.ReadLengthPrefixed(r)
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}
