package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1
	kindLock  byte = 2
)

var (
	ErrCorrupt = errors.New("fetchcache: corrupt record")
	ErrKeyLen  = errors.New("fetchcache: invalid key length in lock record")
	magic4     = [...]byte{'F', 'C', 'H', 'E'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1=entry) | created(i64 be, unix ms) | expires(i64 be, unix ms) | vlen(u32 be) | payload(vlen)
type Entry struct {
	CreatedAt time.Time
	ExpiresAt time.Time
	Payload   []byte
}

const entryHdr = 4 + 1 + 1 + 8 + 8 + 4

func EncodeEntry(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(entryHdr + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.CreatedAt.UnixMilli()))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(ceilMilli(e.ExpiresAt)))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes()
}

// ceilMilli rounds up so an entry never reads as expired before its deadline.
func ceilMilli(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}

// DecodeEntry validates framing strictly: trailing bytes are corruption.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < entryHdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}
	off := 6

	created := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	expires := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}
	if expires < created {
		return Entry{}, ErrCorrupt
	}

	return Entry{
		CreatedAt: time.UnixMilli(created),
		ExpiresAt: time.UnixMilli(expires),
		Payload:   b[off : off+vlen],
	}, nil
}

// Lock:
//
//	magic(4) | ver(1) | kind(2=lock) | acquired(i64 be) | expires(i64 be)
//	ownerLen(u16 be) | owner | keyLen(u16 be) | key
type Lock struct {
	Owner      string
	Key        string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

const lockHdr = 4 + 1 + 1 + 8 + 8

func EncodeLock(l Lock) ([]byte, error) {
	if len(l.Owner) == 0 || len(l.Owner) > 0xFFFF || len(l.Key) > 0xFFFF {
		return nil, ErrKeyLen
	}
	var buf bytes.Buffer
	buf.Grow(lockHdr + 4 + len(l.Owner) + len(l.Key))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindLock)

	var u8 [8]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], uint64(l.AcquiredAt.UnixMilli()))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(l.ExpiresAt.UnixMilli()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(l.Owner)))
	buf.Write(u2[:])
	buf.WriteString(l.Owner)

	binary.BigEndian.PutUint16(u2[:], uint16(len(l.Key)))
	buf.Write(u2[:])
	buf.WriteString(l.Key)

	return buf.Bytes(), nil
}

func DecodeLock(b []byte) (Lock, error) {
	if len(b) < lockHdr+2 || !hasMagic(b) || b[4] != version || b[5] != kindLock {
		return Lock{}, ErrCorrupt
	}
	off := 6

	acquired := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	expires := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	owner, off, ok := readStr16(b, off)
	if !ok || owner == "" {
		return Lock{}, ErrCorrupt
	}
	key, off, ok := readStr16(b, off)
	if !ok || off != len(b) {
		return Lock{}, ErrCorrupt
	}

	return Lock{
		Owner:      owner,
		Key:        key,
		AcquiredAt: time.UnixMilli(acquired),
		ExpiresAt:  time.UnixMilli(expires),
	}, nil
}

func readStr16(b []byte, off int) (string, int, bool) {
	if off+2 > len(b) {
		return "", off, false
	}
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if n > len(b)-off {
		return "", off, false
	}
	return string(b[off : off+n]), off + n, true
}
