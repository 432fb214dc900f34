package wal

import (
	"errors"
	"fmt"

	c "github.com/chenwuchao/orientdb/internal"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"
)

// On-disk framing: [payload_len u32][xxhash64(payload) u64][payload]
// payload: [kind u8][page_index u64][file_len u16][file_bytes] + per-kind tail.
// A zero length terminates a segment (preallocated space reads back as zeros).

const frameHeaderLen = c.LEN_U32 + c.LEN_U64

var ErrCorruptRecord = errors.New("wal: corrupt record frame")

func payloadLen(rec Record) int {
	n := 1 + c.LEN_U64 + c.LEN_U16 + len(rec.File())
	switch r := rec.(type) {
	case StartAtomicUpdate, EndAtomicUpdate:
		n += 16
	case SetPageData:
		n += c.LEN_U32 + c.LEN_U32 + len(r.Data)
	}
	return n
}

// FrameLen is the full on-disk footprint of rec, header included. MemoryLog
// advances positions by this amount so its LSNs mirror the disk log's.
func FrameLen(rec Record) int {
	return frameHeaderLen + payloadLen(rec)
}

// Marshal encodes rec as a full frame ready to append to a segment.
func Marshal(rec Record) []byte {
	out := make([]byte, FrameLen(rec))
	p := out[frameHeaderLen:]

	p[0] = byte(rec.Kind())
	c.Bin.PutUint64(p[1:], rec.Page())
	name := rec.File()
	c.Bin.PutUint16(p[1+c.LEN_U64:], uint16(len(name)))
	off := 1 + c.LEN_U64 + c.LEN_U16
	copy(p[off:], name)
	off += len(name)

	switch r := rec.(type) {
	case StartAtomicUpdate:
		copy(p[off:], r.UnitID[:])
	case EndAtomicUpdate:
		copy(p[off:], r.UnitID[:])
	case SetPageData:
		c.Bin.PutUint32(p[off:], r.Offset)
		c.Bin.PutUint32(p[off+c.LEN_U32:], uint32(len(r.Data)))
		copy(p[off+2*c.LEN_U32:], r.Data)
	}

	c.Bin.PutUint32(out, uint32(len(p)))
	c.Bin.PutUint64(out[c.LEN_U32:], xxhash.Sum64(p))
	return out
}

// Unmarshal decodes one payload (checksum already verified by the caller).
func Unmarshal(p []byte) (Record, error) {
	if len(p) < 1+c.LEN_U64+c.LEN_U16 {
		return nil, ErrCorruptRecord
	}
	kind := Kind(p[0])
	pageIndex := c.Bin.Uint64(p[1:])
	nameLen := int(c.Bin.Uint16(p[1+c.LEN_U64:]))
	off := 1 + c.LEN_U64 + c.LEN_U16
	if len(p) < off+nameLen {
		return nil, ErrCorruptRecord
	}
	name := string(p[off : off+nameLen])
	off += nameLen

	switch kind {
	case KindStartAtomicUpdate, KindEndAtomicUpdate:
		if len(p) < off+16 {
			return nil, ErrCorruptRecord
		}
		var unit uuid.UUID
		copy(unit[:], p[off:off+16])
		if kind == KindStartAtomicUpdate {
			return StartAtomicUpdate{UnitID: unit, PageIndex: pageIndex, FileName: name}, nil
		}
		return EndAtomicUpdate{UnitID: unit, PageIndex: pageIndex, FileName: name}, nil
	case KindAddNewPage:
		return AddNewPage{PageIndex: pageIndex, FileName: name}, nil
	case KindSetPageData:
		if len(p) < off+2*c.LEN_U32 {
			return nil, ErrCorruptRecord
		}
		dataOff := c.Bin.Uint32(p[off:])
		dataLen := int(c.Bin.Uint32(p[off+c.LEN_U32:]))
		off += 2 * c.LEN_U32
		if len(p) < off+dataLen {
			return nil, ErrCorruptRecord
		}
		data := make([]byte, dataLen)
		copy(data, p[off:off+dataLen])
		return SetPageData{Data: data, Offset: dataOff, PageIndex: pageIndex, FileName: name}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind 0x%02x", ErrCorruptRecord, byte(kind))
}

// DecodeAll walks the frames of one segment image and returns the entries it
// holds, in append order. Decoding stops at the first zero length word (the
// preallocated tail of a segment).
func DecodeAll(segment uint64, data []byte) ([]Entry, error) {
	var out []Entry
	pos := 0
	for pos+frameHeaderLen <= len(data) {
		plen := int(c.Bin.Uint32(data[pos:]))
		if plen == 0 {
			break
		}
		if pos+frameHeaderLen+plen > len(data) {
			return nil, fmt.Errorf("%w: frame at 0x%x overruns segment", ErrCorruptRecord, pos)
		}
		sum := c.Bin.Uint64(data[pos+c.LEN_U32:])
		payload := data[pos+frameHeaderLen : pos+frameHeaderLen+plen]
		if xxhash.Sum64(payload) != sum {
			return nil, fmt.Errorf("%w: checksum mismatch at 0x%x", ErrCorruptRecord, pos)
		}
		rec, err := Unmarshal(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{LSN: LSN{Segment: segment, Position: uint32(pos)}, Rec: rec})
		pos += frameHeaderLen + plen
	}
	return out, nil
}
