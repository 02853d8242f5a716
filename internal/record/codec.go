package record

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Field widths used throughout the on-disk formats.
const (
	// LengthSize is the width in bytes of a length prefix.
	LengthSize = 4
	// TimestampSize is the width in bytes of an encoded Timestamp.
	TimestampSize = 8
	// TagSize is the width in bytes of an encoded ValueTag.
	TagSize = 1
	// TTLFlagSize is the width in bytes of the "has TTL" flag in an encoded Delete.
	TTLFlagSize = 1
)

// EncodeKey serializes a Key into a self-describing blob:
// [4B rowLen][row][4B colLen][col][8B timestamp], all big-endian.
func EncodeKey(k Key) []byte {
	buf := make([]byte, LengthSize+len(k.Row)+LengthSize+len(k.Column)+TimestampSize)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(len(k.Row)))
	off += LengthSize
	off += copy(buf[off:], k.Row)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(k.Column)))
	off += LengthSize
	off += copy(buf[off:], k.Column)
	binary.BigEndian.PutUint64(buf[off:], k.Timestamp)
	return buf
}

// DecodeKey parses a Key out of a blob produced by EncodeKey.
func DecodeKey(buf []byte) (Key, error) {
	if len(buf) < LengthSize {
		return Key{}, fmt.Errorf("record: key blob too short")
	}
	off := 0
	rowLen := int(binary.BigEndian.Uint32(buf[off:]))
	off += LengthSize
	if off+rowLen+LengthSize > len(buf) {
		return Key{}, fmt.Errorf("record: truncated row")
	}
	row := append([]byte(nil), buf[off:off+rowLen]...)
	off += rowLen

	colLen := int(binary.BigEndian.Uint32(buf[off:]))
	off += LengthSize
	if off+colLen+TimestampSize > len(buf) {
		return Key{}, fmt.Errorf("record: truncated column")
	}
	col := append([]byte(nil), buf[off:off+colLen]...)
	off += colLen

	ts := binary.BigEndian.Uint64(buf[off:])
	return Key{Row: row, Column: col, Timestamp: ts}, nil
}

// EncodeValue serializes a Value into a self-describing blob:
// Put:    [1B TagPut][4B len][payload]
// Delete: [1B TagDelete][1B hasTTL][8B ttlMs (present iff hasTTL)]
func EncodeValue(v Value) []byte {
	switch v.Tag {
	case TagPut:
		buf := make([]byte, TagSize+LengthSize+len(v.Payload))
		buf[0] = byte(TagPut)
		binary.BigEndian.PutUint32(buf[TagSize:], uint32(len(v.Payload)))
		copy(buf[TagSize+LengthSize:], v.Payload)
		return buf
	default: // TagDelete
		if v.TTLMs == nil {
			buf := make([]byte, TagSize+TTLFlagSize)
			buf[0] = byte(TagDelete)
			buf[TagSize] = 0
			return buf
		}
		buf := make([]byte, TagSize+TTLFlagSize+TimestampSize)
		buf[0] = byte(TagDelete)
		buf[TagSize] = 1
		binary.BigEndian.PutUint64(buf[TagSize+TTLFlagSize:], *v.TTLMs)
		return buf
	}
}

// DecodeValue parses a Value out of a blob produced by EncodeValue.
func DecodeValue(buf []byte) (Value, error) {
	if len(buf) < TagSize {
		return Value{}, fmt.Errorf("record: value blob too short")
	}
	switch ValueTag(buf[0]) {
	case TagPut:
		if len(buf) < TagSize+LengthSize {
			return Value{}, fmt.Errorf("record: truncated put value")
		}
		n := int(binary.BigEndian.Uint32(buf[TagSize:]))
		if len(buf) < TagSize+LengthSize+n {
			return Value{}, fmt.Errorf("record: truncated put payload")
		}
		payload := append([]byte(nil), buf[TagSize+LengthSize:TagSize+LengthSize+n]...)
		return Put(payload), nil
	case TagDelete:
		if len(buf) < TagSize+TTLFlagSize {
			return Value{}, fmt.Errorf("record: truncated delete value")
		}
		if buf[TagSize] == 0 {
			return Delete(nil), nil
		}
		if len(buf) < TagSize+TTLFlagSize+TimestampSize {
			return Value{}, fmt.Errorf("record: truncated delete ttl")
		}
		ttl := binary.BigEndian.Uint64(buf[TagSize+TTLFlagSize:])
		return Delete(&ttl), nil
	default:
		return Value{}, fmt.Errorf("record: unknown value tag %d", buf[0])
	}
}

// EncodeEntry serializes an Entry as [4B keyLen][key blob][value blob],
// self-describing on its own so a single length-prefixed WAL record can be
// decoded without external framing beyond that outer length.
func EncodeEntry(e Entry) []byte {
	keyBlob := EncodeKey(e.Key)
	valBlob := EncodeValue(e.Value)
	buf := make([]byte, LengthSize+len(keyBlob)+len(valBlob))
	binary.BigEndian.PutUint32(buf, uint32(len(keyBlob)))
	off := LengthSize
	off += copy(buf[off:], keyBlob)
	copy(buf[off:], valBlob)
	return buf
}

// DecodeEntry parses an Entry out of a blob produced by EncodeEntry.
func DecodeEntry(buf []byte) (Entry, error) {
	if len(buf) < LengthSize {
		return Entry{}, fmt.Errorf("record: entry blob too short")
	}
	keyLen := int(binary.BigEndian.Uint32(buf))
	if len(buf) < LengthSize+keyLen {
		return Entry{}, fmt.Errorf("record: truncated entry key")
	}
	key, err := DecodeKey(buf[LengthSize : LengthSize+keyLen])
	if err != nil {
		return Entry{}, err
	}
	val, err := DecodeValue(buf[LengthSize+keyLen:])
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Value: val}, nil
}

// ReadLengthPrefixed reads one [4B BE length][payload] record from r.
// Returns io.EOF only when zero bytes could be read for the length prefix
// (a clean end of stream). A length prefix read that hits EOF partway, or a
// payload shorter than advertised, is treated as a not-present trailing
// record and reported as io.ErrUnexpectedEOF so callers can stop without
// treating it as corruption.
func ReadLengthPrefixed(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, LengthSize)
	n, err := io.ReadFull(r, lenBuf)
	if err != nil {
		if n == 0 && err == io.EOF {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}
	length := binary.BigEndian.Uint32(lenBuf)
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return payload, nil
}

// WriteLengthPrefixed writes [4B BE length][payload] to w.
func WriteLengthPrefixed(w io.Writer, payload []byte) error {
	lenBuf := make([]byte, LengthSize)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
