package utils

import (
	. "DKV/internal/domain"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

type RecordKind int8

const (
	RecordPut    RecordKind = 1
	RecordDelete RecordKind = 2
)

func (k RecordKind) String() string {
	switch k {
	case RecordPut:
		return "PUT"
	case RecordDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("RecordKind(%d)", int8(k))
	}
}

// WalRecord is one entry of the write-ahead log. Value is only present for puts.
type WalRecord struct {
	Kind      RecordKind
	Timestamp int64 // unix millis
	Key       []byte
	Value     []byte
}

func NewPutRecord(key, value []byte) WalRecord {
	return WalRecord{Kind: RecordPut, Timestamp: time.Now().UnixMilli(), Key: key, Value: value}
}

func NewDeleteRecord(key []byte) WalRecord {
	return WalRecord{Kind: RecordDelete, Timestamp: time.Now().UnixMilli(), Key: key}
}

// EncodedSize is the number of bytes EncodeWalRecord produces for rec.
func (rec WalRecord) EncodedSize() int {
	n := 1 + 8 + 4 + len(rec.Key)
	if rec.Kind == RecordPut {
		n += 4 + len(rec.Value)
	}
	return n
}

// EncodeWalRecord lays the record out as
// kind:int8, timestamp:int64, keyLen:int32, key, [valueLen:int32, value], big-endian.
func EncodeWalRecord(rec WalRecord) []byte {
	buf := make([]byte, rec.EncodedSize())
	buf[0] = byte(rec.Kind)
	binary.BigEndian.PutUint64(buf[1:9], uint64(rec.Timestamp))
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(rec.Key)))
	off := 13 + copy(buf[13:], rec.Key)
	if rec.Kind == RecordPut {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(rec.Value)))
		copy(buf[off+4:], rec.Value)
	}
	return buf
}

// ReadOneRecord returns io.EOF only when r is exhausted at a record boundary.
// A record cut short returns an error wrapping ErrCorruption.
func ReadOneRecord(r io.Reader) (WalRecord, error) {
	var rec WalRecord

	var header [13]byte
	if _, err := io.ReadFull(r, header[:1]); err != nil {
		return rec, err
	}
	if _, err := io.ReadFull(r, header[1:]); err != nil {
		return rec, truncated(err)
	}
	rec.Kind = RecordKind(header[0])
	if rec.Kind != RecordPut && rec.Kind != RecordDelete {
		return rec, fmt.Errorf("%w: unknown wal record kind %d", ErrCorruption, header[0])
	}
	rec.Timestamp = int64(binary.BigEndian.Uint64(header[1:9]))

	key, err := readBytes(r, binary.BigEndian.Uint32(header[9:13]))
	if err != nil {
		return rec, err
	}
	rec.Key = key

	if rec.Kind == RecordPut {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return rec, truncated(err)
		}
		value, err := readBytes(r, binary.BigEndian.Uint32(lenBuf[:]))
		if err != nil {
			return rec, err
		}
		rec.Value = value
	}
	return rec, nil
}

// ReadAllRecords reads records until EOF.
func ReadAllRecords(r io.Reader) ([]WalRecord, error) {
	var records []WalRecord
	for {
		rec, err := ReadOneRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func readBytes(r io.Reader, n uint32) ([]byte, error) {
	if int32(n) < 0 {
		return nil, fmt.Errorf("%w: negative wal field length", ErrCorruption)
	}
	if left, ok := remaining(r); ok && int64(n) > left {
		return nil, fmt.Errorf("%w: wal field of %d bytes with %d left", ErrCorruption, n, left)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, truncated(err)
	}
	return b, nil
}

// remaining reports how many unread bytes r holds, when r can tell.
func remaining(r io.Reader) (int64, bool) {
	switch r := r.(type) {
	case interface{ Len() int }:
		return int64(r.Len()), true
	case interface {
		io.Seeker
		Size() int64
	}:
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		return r.Size() - pos, true
	}
	return 0, false
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated wal record", ErrCorruption)
	}
	return err
}
