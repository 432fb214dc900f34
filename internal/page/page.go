// Durable slotted record page.
//
// A Page stores variable-length records inside one caller-owned PAGE_SIZE
// buffer: a fixed header, a forward-growing slot directory and a
// backward-growing record heap. Deletes tombstone their slot and thread it
// onto an intrusive LIFO freelist; appends reuse freed slots first and
// defragment the heap in place when it runs against the directory. Every
// persistent byte write is logged ahead through the attached WAL, bracketed
// per operation by a Start/End atomic-update pair whose End LSN is stamped
// into the header.
//
// A Page is NOT thread safe. One owner at a time - serialization across
// threads belongs to the latching layer above. Accessors read header fields
// unframed and are only safe under that same external latch.
package page

import (
	"bytes"
	"errors"
	"fmt"

	c "github.com/chenwuchao/orientdb/internal"
	"github.com/chenwuchao/orientdb/internal/wal"

	"github.com/google/uuid"
	"github.com/negrel/assert"
)

const (
	// Header (0x00 - 0x40)
	offMagic     = 0x00 // 8B page typing, stamped by the pager
	offCrc32     = 0x08 // 4B checksum, computed by the pager at flush
	offWalSeg    = 0x0c // 8B segment of the last applied LSN
	offWalPos    = 0x14 // 4B position of the last applied LSN
	offNextPage  = 0x18 // 8B forward sibling page, -1 if none
	offPrevPage  = 0x20 // 8B backward sibling page, -1 if none
	offFreelist  = 0x28 // 4B 1-based id of the most recently freed slot, 0 if empty
	offFreePos   = 0x2c // 4B byte offset where the record heap starts
	offFreeSpace = 0x30 // 4B bytes available for a new slot+entry
	offEntryCnt  = 0x34 // 4B live (non-tombstoned) entries
	offSlotCnt   = 0x38 // 4B slots ever allocated, live + tombstoned
	// reserved 0x3c - 0x40

	// SlotOffset is where the slot directory starts.
	SlotOffset = 0x40
)

const (
	// SlotSize is one directory entry: a 4B slot pointer word + the version.
	SlotSize = c.LEN_U32 + VSize

	entryHeaderLen = 2 * c.LEN_U32

	MaxEntrySize  = c.PAGE_SIZE - SlotOffset - SlotSize
	MaxRecordSize = MaxEntrySize - entryHeaderLen

	// Tombstoned slots keep the freelist link in the position bits, so
	// positions are capped at 16 bits. Good while PAGE_SIZE <= 64KiB;
	// widening it means growing the slot pointer word.
	tombstoneFlag = 1 << 16
	positionMask  = 0xFFFF
)

// ErrNoSpace is returned by AppendRecord when the page cannot hold the
// record. Non-fatal - the caller retries on a different page.
var ErrNoSpace = errors.New("page: not enough free space for record")

// Page operates on one buffer plus an optional WAL sink. A nil sink
// suppresses all framing and data records; that mode exists for recovery
// replay, where the log is already being reapplied.
type Page struct {
	buf       *Buffer
	wal       wal.Log
	pageIndex uint64
	fileName  string
	unit      uuid.UUID // id of the open atomic-update frame
}

// New formats raw as a fresh page: siblings unset, empty directory, heap
// starting at the page end. The whole initialization is one atomic-update
// frame whose first record after the Start is AddNewPage.
func New(raw []byte, pageIndex uint64, fileName string, log wal.Log) (*Page, error) {
	buf, err := NewBuffer(raw)
	if err != nil {
		return nil, err
	}
	p := &Page{buf: buf, wal: log, pageIndex: pageIndex, fileName: fileName}
	if err := p.format(); err != nil {
		return nil, err
	}
	return p, nil
}

// Attach wraps an already-initialized buffer read back from disk.
func Attach(raw []byte, pageIndex uint64, fileName string, log wal.Log) (*Page, error) {
	buf, err := NewBuffer(raw)
	if err != nil {
		return nil, err
	}
	return &Page{buf: buf, wal: log, pageIndex: pageIndex, fileName: fileName}, nil
}

func (p *Page) format() (err error) {
	if err = p.startAtomicUpdate(); err != nil {
		return err
	}
	defer func() { err = p.endAtomicUpdate(err) }()

	if err = p.logAddNewPage(); err != nil {
		return err
	}

	if err = p.setI64(offNextPage, -1); err != nil {
		return err
	}
	if err = p.setI64(offPrevPage, -1); err != nil {
		return err
	}
	if err = p.setU32(offFreePos, c.PAGE_SIZE); err != nil {
		return err
	}
	if err = p.setU32(offFreeSpace, c.PAGE_SIZE-SlotOffset); err != nil {
		return err
	}
	if err = p.setU32(offFreelist, 0); err != nil {
		return err
	}
	if err = p.setU32(offEntryCnt, 0); err != nil {
		return err
	}
	return p.setU32(offSlotCnt, 0)
}

// AppendRecord stores record under a new or reused slot and returns its id.
// Reused slots merge versions: the stored version becomes max(version,
// stored+1) so versions only ever move forward.
func (p *Page) AppendRecord(version Version, record []byte) (slot int, err error) {
	if err = p.startAtomicUpdate(); err != nil {
		return -1, err
	}
	defer func() { err = p.endAtomicUpdate(err) }()

	freePosition := int(p.u32(offFreePos))
	slotCount := int(p.u32(offSlotCnt))
	dirEnd := SlotOffset + slotCount*SlotSize

	entrySize := len(record) + entryHeaderLen
	freelist := int(p.u32(offFreelist))

	if !p.checkSpace(entrySize, freelist) {
		return -1, ErrNoSpace
	}

	// The heap grows down; defragment when the new entry would cross into
	// the directory (including the slot about to be allocated).
	if freelist > 0 {
		if freePosition-entrySize < dirEnd {
			if err = p.defragment(); err != nil {
				return -1, err
			}
		}
	} else {
		if freePosition-entrySize < dirEnd+SlotSize {
			if err = p.defragment(); err != nil {
				return -1, err
			}
		}
	}

	freePosition = int(p.u32(offFreePos))
	freePosition -= entrySize

	if freelist > 0 {
		slot = freelist - 1
		slotPos := SlotOffset + slot*SlotSize

		// position bits of a tombstone hold the next freelist link
		next := p.u32(slotPos) & positionMask
		if err = p.setU32(offFreelist, next); err != nil {
			return -1, err
		}
		if err = p.setU32(offFreeSpace, uint32(p.FreeSpace()-entrySize)); err != nil {
			return -1, err
		}
		if err = p.setU32(slotPos, uint32(freePosition)); err != nil {
			return -1, err
		}

		stored := VersionFrom(p.slice(slotPos+c.LEN_U32, VSize))
		merged := stored.Next()
		if stored.Compare(version) < 0 {
			merged = version
		}
		if err = p.setBytes(slotPos+c.LEN_U32, merged.Bytes()); err != nil {
			return -1, err
		}
	} else {
		slot = slotCount
		if err = p.setU32(offSlotCnt, uint32(slotCount+1)); err != nil {
			return -1, err
		}
		if err = p.setU32(offFreeSpace, uint32(p.FreeSpace()-entrySize-SlotSize)); err != nil {
			return -1, err
		}

		slotPos := SlotOffset + slot*SlotSize
		if err = p.setU32(slotPos, uint32(freePosition)); err != nil {
			return -1, err
		}
		if err = p.setBytes(slotPos+c.LEN_U32, version.Bytes()); err != nil {
			return -1, err
		}
	}

	pos := freePosition
	if err = p.setI32(pos, int32(entrySize)); err != nil {
		return -1, err
	}
	pos += c.LEN_U32
	if err = p.setU32(pos, uint32(slot)); err != nil {
		return -1, err
	}
	pos += c.LEN_U32
	if err = p.setBytes(pos, record); err != nil {
		return -1, err
	}

	if err = p.setU32(offFreePos, uint32(freePosition)); err != nil {
		return -1, err
	}
	if err = p.setU32(offEntryCnt, uint32(p.RecordsCount()+1)); err != nil {
		return -1, err
	}

	return slot, nil
}

func (p *Page) checkSpace(entrySize, freelist int) bool {
	if freelist > 0 {
		return p.FreeSpace()-entrySize >= 0
	}
	return p.FreeSpace()-entrySize-SlotSize >= 0
}

// DeleteRecord tombstones slot and pushes it onto the freelist. Returns false
// (with the frame still closed cleanly) for unknown or already-deleted slots.
func (p *Page) DeleteRecord(slot int) (ok bool, err error) {
	if err = p.startAtomicUpdate(); err != nil {
		return false, err
	}
	defer func() { err = p.endAtomicUpdate(err) }()

	if slot < 0 || slot >= int(p.u32(offSlotCnt)) {
		return false, nil
	}

	slotPos := SlotOffset + slot*SlotSize
	ptr := p.u32(slotPos)
	if ptr&tombstoneFlag != 0 {
		return false, nil
	}
	entryPosition := int(ptr & positionMask)

	freelist := p.u32(offFreelist)
	if err = p.setU32(slotPos, freelist|tombstoneFlag); err != nil {
		return false, err
	}
	if err = p.setU32(offFreelist, uint32(slot+1)); err != nil {
		return false, err
	}

	entrySize := p.i32(entryPosition)
	assert.Greater(entrySize, int32(0), "live slot points at a dead entry")

	if err = p.setI32(entryPosition, -entrySize); err != nil {
		return false, err
	}
	if err = p.setU32(offFreeSpace, uint32(p.FreeSpace()+int(entrySize))); err != nil {
		return false, err
	}
	if err = p.setU32(offEntryCnt, uint32(p.RecordsCount()-1)); err != nil {
		return false, err
	}

	return true, nil
}

// RecordVersion reads the stored version of slot. Meaningless for tombstoned
// slots - check IsDeleted first.
func (p *Page) RecordVersion(slot int) Version {
	slotPos := SlotOffset + slot*SlotSize
	return VersionFrom(p.slice(slotPos+c.LEN_U32, VSize))
}

// RecordBytes returns the payload of slot as a zero-copy view into the page
// buffer, or nil if the slot is tombstoned. The view is only valid while the
// caller's latch is held and no further mutation has run.
func (p *Page) RecordBytes(slot int) []byte {
	ptr := p.u32(SlotOffset + slot*SlotSize)
	if ptr&tombstoneFlag != 0 {
		return nil
	}
	entryPosition := int(ptr & positionMask)
	size := int(p.i32(entryPosition)) - entryHeaderLen
	return p.slice(entryPosition+entryHeaderLen, size)
}

// RecordSize returns the payload length of slot, or -1 if tombstoned.
func (p *Page) RecordSize(slot int) int {
	ptr := p.u32(SlotOffset + slot*SlotSize)
	if ptr&tombstoneFlag != 0 {
		return -1
	}
	entryPosition := int(ptr & positionMask)
	return int(p.i32(entryPosition)) - entryHeaderLen
}

func (p *Page) IsDeleted(slot int) bool {
	return p.u32(SlotOffset+slot*SlotSize)&tombstoneFlag != 0
}

// FindFirstDeleted scans the directory ascending from `from` for the first
// tombstoned slot, -1 if none.
func (p *Page) FindFirstDeleted(from int) int {
	slotCount := int(p.u32(offSlotCnt))
	for i := from; i < slotCount; i++ {
		if p.IsDeleted(i) {
			return i
		}
	}
	return -1
}

// FindFirstRecord scans the directory ascending from `from` for the first
// live slot, -1 if none.
func (p *Page) FindFirstRecord(from int) int {
	slotCount := int(p.u32(offSlotCnt))
	for i := from; i < slotCount; i++ {
		if !p.IsDeleted(i) {
			return i
		}
	}
	return -1
}

// FindLastRecord scans descending from min(slot_count-1, at) for the last
// live slot, -1 if none.
func (p *Page) FindLastRecord(at int) int {
	slotCount := int(p.u32(offSlotCnt))
	end := min(slotCount-1, at)
	for i := end; i >= 0; i-- {
		if !p.IsDeleted(i) {
			return i
		}
	}
	return -1
}

func (p *Page) FreeSpace() int {
	return int(p.u32(offFreeSpace))
}

// MaxRecordSize is the largest payload the next AppendRecord could take,
// accounting for whether a freed slot is available for reuse.
func (p *Page) MaxRecordSize() int {
	maxEntry := p.FreeSpace()
	if p.u32(offFreelist) == 0 {
		maxEntry -= SlotSize
	}
	return maxEntry - entryHeaderLen
}

func (p *Page) RecordsCount() int {
	return int(p.u32(offEntryCnt))
}

// SlotCount is the directory length: live plus tombstoned slots. It never
// shrinks.
func (p *Page) SlotCount() int {
	return int(p.u32(offSlotCnt))
}

func (p *Page) NextPage() int64 {
	return int64(p.u64(offNextPage))
}

func (p *Page) PrevPage() int64 {
	return int64(p.u64(offPrevPage))
}

// SetNextPage links the forward sibling, as its own atomic-update frame.
func (p *Page) SetNextPage(next int64) (err error) {
	if err = p.startAtomicUpdate(); err != nil {
		return err
	}
	defer func() { err = p.endAtomicUpdate(err) }()
	return p.setI64(offNextPage, next)
}

// SetPrevPage links the backward sibling, as its own atomic-update frame.
func (p *Page) SetPrevPage(prev int64) (err error) {
	if err = p.startAtomicUpdate(); err != nil {
		return err
	}
	defer func() { err = p.endAtomicUpdate(err) }()
	return p.setI64(offPrevPage, prev)
}

func (p *Page) Lsn() wal.LSN {
	return wal.LSN{
		Segment:  p.u64(offWalSeg),
		Position: p.u32(offWalPos),
	}
}

// IsEmpty is a capacity check, not a liveness check: a page whose directory
// holds only tombstones still occupies slot space and is NOT empty.
func (p *Page) IsEmpty() bool {
	return p.FreeSpace() == c.PAGE_SIZE-SlotOffset
}

func (p *Page) Index() uint64 {
	return p.pageIndex
}

func (p *Page) File() string {
	return p.fileName
}

// defragment rewrites the heap in place so all dead holes coalesce at its
// low end. Walks entries from free_position up: live entries are remembered,
// and each hole slides everything below it upward, bumping the remembered
// slots' positions by the hole width.
func (p *Page) defragment() error {
	freePosition := int(p.u32(offFreePos))
	cursor := freePosition
	var live []int

	for cursor < c.PAGE_SIZE {
		entrySize := int(p.i32(cursor))
		if entrySize > 0 {
			live = append(live, int(p.u32(cursor+c.LEN_U32)))
			cursor += entrySize
		} else {
			hole := -entrySize
			if err := p.moveBytes(freePosition, freePosition+hole, cursor-freePosition); err != nil {
				return err
			}
			cursor += hole
			freePosition += hole
			if err := p.shiftSlots(live, hole); err != nil {
				return err
			}
		}
	}

	return p.setU32(offFreePos, uint32(freePosition))
}

func (p *Page) shiftSlots(slots []int, by int) error {
	for _, slot := range slots {
		slotPos := SlotOffset + slot*SlotSize
		if err := p.setU32(slotPos, p.u32(slotPos)+uint32(by)); err != nil {
			return err
		}
	}
	return nil
}

// Unlogged reads. Offsets are either header constants or positions derived
// from slot words; anything out of range means prior corruption, so abort.

func (p *Page) u32(off int) uint32 {
	v, err := p.buf.U32(off)
	if err != nil {
		panic(err)
	}
	return v
}

func (p *Page) i32(off int) int32 {
	return int32(p.u32(off))
}

func (p *Page) u64(off int) uint64 {
	v, err := p.buf.U64(off)
	if err != nil {
		panic(err)
	}
	return v
}

func (p *Page) slice(off, n int) []byte {
	s, err := p.buf.Slice(off, n)
	if err != nil {
		panic(err)
	}
	return s
}

// Logged writes. With a WAL attached, every write first appends a
// SetPageData record carrying the exact bytes and target offset, then lands
// in the buffer - the log-ahead invariant.

func (p *Page) logWrite(off int, content []byte) error {
	if p.wal == nil {
		return nil
	}
	_, err := p.wal.Append(wal.SetPageData{
		Data:      content,
		Offset:    uint32(off),
		PageIndex: p.pageIndex,
		FileName:  p.fileName,
	})
	if err != nil {
		return fmt.Errorf("page: log page data: %w", err)
	}
	return nil
}

func (p *Page) setU32(off int, v uint32) error {
	if p.wal != nil {
		content := make([]byte, c.LEN_U32)
		c.Bin.PutUint32(content, v)
		if err := p.logWrite(off, content); err != nil {
			return err
		}
	}
	return p.buf.PutU32(off, v)
}

func (p *Page) setI32(off int, v int32) error {
	return p.setU32(off, uint32(v))
}

func (p *Page) setI64(off int, v int64) error {
	if p.wal != nil {
		content := make([]byte, c.LEN_U64)
		c.Bin.PutUint64(content, uint64(v))
		if err := p.logWrite(off, content); err != nil {
			return err
		}
	}
	return p.buf.PutU64(off, uint64(v))
}

func (p *Page) setBytes(off int, b []byte) error {
	if p.wal != nil {
		if err := p.logWrite(off, bytes.Clone(b)); err != nil {
			return err
		}
	}
	return p.buf.PutBytes(off, b)
}

func (p *Page) moveBytes(from, to, n int) error {
	if p.wal != nil {
		content, err := p.buf.Bytes(from, n)
		if err != nil {
			return err
		}
		if err := p.logWrite(to, content); err != nil {
			return err
		}
	}
	return p.buf.Move(from, to, n)
}

// Atomic-update framing. End must run on every exit path a Start ran on;
// its LSN is stamped into the header through the same logged write path, so
// the stamp's SetPageData records trail the End record of their frame.

func (p *Page) startAtomicUpdate() error {
	if p.wal == nil {
		return nil
	}
	p.unit = uuid.New()
	_, err := p.wal.Append(wal.StartAtomicUpdate{
		UnitID:    p.unit,
		PageIndex: p.pageIndex,
		FileName:  p.fileName,
	})
	if err != nil {
		return fmt.Errorf("page: start atomic update: %w", err)
	}
	return nil
}

// endAtomicUpdate closes the open frame and stamps its LSN. opErr keeps
// precedence: if the operation already failed, the page is suspect in memory
// and the caller must discard it regardless of how the close went.
func (p *Page) endAtomicUpdate(opErr error) error {
	if p.wal == nil {
		return opErr
	}
	lsn, err := p.wal.Append(wal.EndAtomicUpdate{
		UnitID:    p.unit,
		PageIndex: p.pageIndex,
		FileName:  p.fileName,
	})
	if err != nil {
		if opErr != nil {
			return opErr
		}
		return fmt.Errorf("page: end atomic update: %w", err)
	}
	if err := p.setLsn(lsn); err != nil {
		if opErr != nil {
			return opErr
		}
		return err
	}
	return opErr
}

func (p *Page) logAddNewPage() error {
	if p.wal == nil {
		return nil
	}
	_, err := p.wal.Append(wal.AddNewPage{PageIndex: p.pageIndex, FileName: p.fileName})
	if err != nil {
		return fmt.Errorf("page: log add new page: %w", err)
	}
	return nil
}

func (p *Page) setLsn(lsn wal.LSN) error {
	if err := p.setI64(offWalSeg, int64(lsn.Segment)); err != nil {
		return err
	}
	return p.setU32(offWalPos, lsn.Position)
}
