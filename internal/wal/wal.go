// Package wal implements the write-ahead log each column family's memtable
// is paired with: every Append durably persists an Entry before the
// memtable may observe it.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gravelcol/internal/diskmanager"
	"gravelcol/internal/record"
)

// WAL is a length-prefixed append-only log. Unlike a buffered/batched
// flusher, Append here writes and fsyncs on every call: the durability
// boundary is that the flush completes before Append returns successfully,
// so there is no background flush goroutine or timer here.
type WAL struct {
	mu     sync.Mutex
	dm     diskmanager.DiskManager
	path   string
	handle diskmanager.FileHandle
	offset int64
	closed bool
}

// Open creates the WAL file if absent or opens it for append at its current
// end. It does not replay; call Replay separately to recover prior entries.
func Open(dm diskmanager.DiskManager, path string) (*WAL, error) {
	handle, err := dm.Open(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	info, err := handle.Stat()
	if err != nil {
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}
	return &WAL{dm: dm, path: path, handle: handle, offset: info.Size()}, nil
}

// Replay streams every complete record from the start of the file, in
// write order. A truncated trailing record is not an error: replay stops
// at the last complete record.
func (w *WAL) Replay() ([]record.Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.handle.Stat()
	if err != nil {
		return nil, fmt.Errorf("wal: stat %s: %w", w.path, err)
	}

	sr := io.NewSectionReader(w.handle, 0, info.Size())
	br := bufio.NewReader(sr)

	var entries []record.Entry
	for {
		payload, err := record.ReadLengthPrefixed(br)
		if err != nil {
			// io.EOF (clean end) or io.ErrUnexpectedEOF (truncated trailing
			// record) both mean "recovered up to the last complete record".
			break
		}
		entry, err := record.DecodeEntry(payload)
		if err != nil {
			return nil, fmt.Errorf("wal: decode entry in %s: %w", w.path, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Append serializes e, writes its length-prefixed form at the current
// offset, and fsyncs before returning. A failed Append must not be
// considered durable by the caller, so the memtable insert only happens
// after this returns nil.
func (w *WAL) Append(e record.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("wal: closed")
	}

	payload := record.EncodeEntry(e)
	lenBuf := make([]byte, record.LengthSize)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))

	if _, err := w.handle.WriteAt(lenBuf, w.offset); err != nil {
		return fmt.Errorf("wal: write length at %d: %w", w.offset, err)
	}
	if _, err := w.handle.WriteAt(payload, w.offset+record.LengthSize); err != nil {
		return fmt.Errorf("wal: write payload at %d: %w", w.offset, err)
	}
	if err := w.handle.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}

	w.offset += int64(record.LengthSize + len(payload))
	return nil
}

// Reset truncates the WAL to empty, deleting and recreating the underlying
// file. Used exclusively by flush once the memtable has been drained.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.dm.Delete(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wal: delete %s: %w", w.path, err)
	}
	handle, err := w.dm.Open(w.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("wal: recreate %s: %w", w.path, err)
	}
	w.handle = handle
	w.offset = 0
	return nil
}

// Close closes the underlying file handle. Safe to call once.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.dm.Close(w.path); err != nil {
		return fmt.Errorf("wal: close %s: %w", w.path, err)
	}
	return nil
}
