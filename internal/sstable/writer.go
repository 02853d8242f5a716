package sstable

import (
	"encoding/binary"
	"fmt"
	"os"

	"gravelcol/internal/diskmanager"
	"gravelcol/internal/record"
)

// Create writes entries to path as an immutable SSTable:
//
//	[u32 BE count] ( [u32 BE klen][klen bytes key] [u32 BE vlen][vlen bytes value] ){count}
//
// Callers guarantee entries are already sorted by record.Key. Create
// flushes (fsyncs) before returning, so the file is durable the moment the
// caller observes a nil error.
func Create(dm diskmanager.DiskManager, path string, entries []record.Entry) error {
	handle, err := dm.Open(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("sstable: create %s: %w", path, err)
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(entries)))
	offset := int64(0)
	if _, err := handle.WriteAt(header, offset); err != nil {
		return fmt.Errorf("sstable: write count for %s: %w", path, err)
	}
	offset += 4

	for _, e := range entries {
		keyBlob := record.EncodeKey(e.Key)
		valBlob := record.EncodeValue(e.Value)

		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(keyBlob)))
		if _, err := handle.WriteAt(lenBuf, offset); err != nil {
			return fmt.Errorf("sstable: write key length for %s: %w", path, err)
		}
		offset += 4
		if _, err := handle.WriteAt(keyBlob, offset); err != nil {
			return fmt.Errorf("sstable: write key for %s: %w", path, err)
		}
		offset += int64(len(keyBlob))

		binary.BigEndian.PutUint32(lenBuf, uint32(len(valBlob)))
		if _, err := handle.WriteAt(lenBuf, offset); err != nil {
			return fmt.Errorf("sstable: write value length for %s: %w", path, err)
		}
		offset += 4
		if _, err := handle.WriteAt(valBlob, offset); err != nil {
			return fmt.Errorf("sstable: write value for %s: %w", path, err)
		}
		offset += int64(len(valBlob))
	}

	if err := handle.Sync(); err != nil {
		return fmt.Errorf("sstable: sync %s: %w", path, err)
	}
	return dm.Close(path)
}
