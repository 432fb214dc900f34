//go:build linux

package wal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/chenwuchao/orientdb/internal/iomgr"
)

// SEGMENT_SIZE caps one log segment; must be a multiple of iomgr.ALIGN.
const SEGMENT_SIZE = 0x100000

// DiskLog is the durable Log: fixed-size preallocated segment files written
// through io_uring with O_DIRECT. The live segment is kept in an aligned slab;
// Sync writes out the aligned range that grew since the last flush, with an
// fsync linked behind the write. LSN = (segment id, record offset in segment).
type DiskLog struct {
	log *slog.Logger
	mgr *iomgr.IoMgr
	dir string

	mu      sync.Mutex
	slab    []byte
	fd      int
	segment uint64
	pos     uint32 // append offset in the live segment
	synced  uint32 // bytes below this are durable
	op      iomgr.Op
}

func CreateDiskLog(dir string) (*DiskLog, error) {
	mgr, err := iomgr.CreateIoMgr()
	if err != nil {
		return nil, err
	}
	slab, err := iomgr.AllocSlab(SEGMENT_SIZE)
	if err != nil {
		mgr.Close()
		return nil, err
	}

	d := &DiskLog{
		log:     slog.With("src", "DiskLog"),
		mgr:     mgr,
		dir:     dir,
		slab:    slab,
		fd:      -1,
		segment: 1,
	}
	d.op.Ch = make(chan struct{}, 1)

	if err := d.openSegment(d.segment); err != nil {
		d.release()
		return nil, err
	}
	return d, nil
}

func segmentPath(dir string, segment uint64) string {
	return filepath.Join(dir, fmt.Sprintf("wal_%016x.seg", segment))
}

func (d *DiskLog) openSegment(segment uint64) error {
	fd, err := iomgr.OpenDirect(segmentPath(d.dir, segment))
	if err != nil {
		return fmt.Errorf("wal: open segment %d: %w", segment, err)
	}

	// preallocate the whole segment up front so appends never grow the file
	d.op.Fd = fd
	d.op.PrepareRange(iomgr.OpAllocate, 0, SEGMENT_SIZE)
	d.mgr.Submit(&d.op)
	<-d.op.Ch
	if d.op.Res < 0 {
		iomgr.CloseFd(fd)
		return fmt.Errorf("wal: preallocate segment %d: errno %d", segment, -d.op.Res)
	}

	clear(d.slab)
	d.fd = fd
	d.pos = 0
	d.synced = 0
	return nil
}

// Append stages rec in the live segment and returns its LSN. Durability comes
// from Sync (or rollover); a record's bytes are in the slab until then.
func (d *DiskLog) Append(rec Record) (LSN, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	frame := Marshal(rec)
	if len(frame) > SEGMENT_SIZE {
		return LSN{}, fmt.Errorf("wal: record of %d bytes exceeds segment size", len(frame))
	}

	if int(d.pos)+len(frame) > SEGMENT_SIZE {
		if err := d.flushLocked(true); err != nil {
			return LSN{}, err
		}
		if err := iomgr.CloseFd(d.fd); err != nil {
			return LSN{}, err
		}
		d.fd = -1
		if err := d.openSegment(d.segment + 1); err != nil {
			return LSN{}, err
		}
		d.segment++
	}

	lsn := LSN{Segment: d.segment, Position: d.pos}
	copy(d.slab[d.pos:], frame)
	d.pos += uint32(len(frame))
	return lsn, nil
}

// Sync makes everything appended so far durable.
func (d *DiskLog) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked(true)
}

func (d *DiskLog) flushLocked(syncit bool) error {
	if d.pos == d.synced {
		return nil
	}
	lo := uint64(d.synced) &^ (iomgr.ALIGN - 1)
	hi := (uint64(d.pos) + iomgr.ALIGN - 1) &^ (iomgr.ALIGN - 1)

	d.op.Fd = d.fd
	d.op.Sync = syncit
	d.op.PrepareSlice(iomgr.OpWrite, d.slab[lo:hi], lo)
	d.mgr.Submit(&d.op)
	<-d.op.Ch
	d.op.Sync = false
	if d.op.Res < 0 {
		return fmt.Errorf("wal: segment %d write: errno %d", d.segment, -d.op.Res)
	}

	d.synced = d.pos
	return nil
}

func (d *DiskLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.flushLocked(true)
	d.release()
	return err
}

func (d *DiskLog) release() {
	if d.fd >= 0 {
		iomgr.CloseFd(d.fd)
		d.fd = -1
	}
	if d.slab != nil {
		iomgr.DeallocSlab(d.slab)
		d.slab = nil
	}
	d.mgr.Close()
}

// LoadSegment reads one segment file back and decodes its entries for
// recovery. Plain buffered reads - O_DIRECT only matters on the write path.
func LoadSegment(dir string, segment uint64) ([]Entry, error) {
	data, err := os.ReadFile(segmentPath(dir, segment))
	if err != nil {
		return nil, err
	}
	return DecodeAll(segment, data)
}
