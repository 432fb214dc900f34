//go:build linux

// Frame-slab pager. Owns the aligned memory frames pages live in, the
// backing file, and the sibling-chain bookkeeping the layers above rely on.
// Pages themselves stay single-owner; only the pager's own bookkeeping is
// locked here.
package pager

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	c "github.com/chenwuchao/orientdb/internal"
	"github.com/chenwuchao/orientdb/internal/iomgr"
	"github.com/chenwuchao/orientdb/internal/page"
	"github.com/chenwuchao/orientdb/internal/wal"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// Header bytes owned by this layer, not by the page core: the magic word at
// 0x00 and the checksum at 0x08, covering everything from 0x0c up.
const pageMagic = uint64(0x4f5244422e504147) // "ORDB.PAG"
const crcFrom = 0x0c

var ErrNoFreeFrames = errors.New("pager: no free frames")

type Pager struct {
	log *slog.Logger
	mgr *iomgr.IoMgr
	wal wal.Log

	fileName string
	fileID   uint64
	fd       int

	slab   []byte
	frames []frame
	inUse  *bitset.BitSet
	dirty  *bitset.BitSet
	byPage map[uint64]int

	nextPage uint64

	mu sync.Mutex
}

func CreatePager(path string, frameCnt int, walLog wal.Log) (*Pager, error) {
	slab, err := iomgr.AllocSlab(c.PAGE_SIZE * frameCnt)
	if err != nil {
		return nil, err
	}
	mgr, err := iomgr.CreateIoMgr()
	if err != nil {
		iomgr.DeallocSlab(slab)
		return nil, err
	}
	fd, err := iomgr.OpenDirect(path)
	if err != nil {
		mgr.Close()
		iomgr.DeallocSlab(slab)
		return nil, err
	}

	fileName := filepath.Base(path)
	p := &Pager{
		log:      slog.With("src", "Pager", "file", fileName),
		mgr:      mgr,
		wal:      walLog,
		fileName: fileName,
		fileID:   murmur3.Sum64([]byte(fileName)),
		fd:       fd,
		slab:     slab,
		frames:   make([]frame, frameCnt),
		inUse:    bitset.New(uint(frameCnt)),
		dirty:    bitset.New(uint(frameCnt)),
		byPage:   make(map[uint64]int, frameCnt),
	}
	for i := range p.frames {
		p.frames[i].init(i, slab[c.PAGE_SIZE*i:c.PAGE_SIZE*(i+1)])
	}
	return p, nil
}

// FileID is the registry key for this pager's file, derived once from its
// name with murmur3. WAL records still identify the file by name.
func (p *Pager) FileID() uint64 {
	return p.fileID
}

func (p *Pager) freeFrame() (*frame, error) {
	i, ok := p.inUse.NextClear(0)
	if !ok || int(i) >= len(p.frames) {
		return nil, ErrNoFreeFrames
	}
	p.inUse.Set(i)
	return &p.frames[i], nil
}

// AllocatePage formats a fresh page in a free frame. The page's creation and
// header initialization go through the WAL as one atomic update.
func (p *Pager) AllocatePage() (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := p.freeFrame()
	if err != nil {
		return nil, err
	}
	clear(f.data)

	index := p.nextPage
	pg, err := page.New(f.data, index, p.fileName, p.wal)
	if err != nil {
		p.inUse.Clear(uint(f.index))
		return nil, err
	}
	p.nextPage++
	p.log.Debug("allocated page", "page", index, "frame", f.index)

	f.pageIndex = index
	p.byPage[index] = f.index
	p.dirty.Set(uint(f.index))
	return pg, nil
}

// LoadPage brings a page back from disk (or rewraps it if already framed)
// and verifies its checksum.
func (p *Pager) LoadPage(index uint64) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fi, ok := p.byPage[index]; ok {
		return page.Attach(p.frames[fi].data, index, p.fileName, p.wal)
	}

	f, err := p.freeFrame()
	if err != nil {
		return nil, err
	}

	f.op.Fd = p.fd
	f.op.PrepareSlice(iomgr.OpRead, f.data, c.PageIdToOffset(index))
	p.mgr.Submit(&f.op)
	<-f.op.Ch
	if f.op.Res < 0 {
		p.inUse.Clear(uint(f.index))
		return nil, fmt.Errorf("pager: read page %d: errno %d", index, -f.op.Res)
	}

	if err := verifyPage(f.data); err != nil {
		p.inUse.Clear(uint(f.index))
		return nil, fmt.Errorf("pager: page %d: %w", index, err)
	}

	f.pageIndex = index
	p.byPage[index] = f.index
	if index >= p.nextPage {
		p.nextPage = index + 1
	}
	return page.Attach(f.data, index, p.fileName, p.wal)
}

// FlushPage stamps the magic word and checksum, then writes the frame with a
// linked fsync.
func (p *Pager) FlushPage(index uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(index)
}

func (p *Pager) flushLocked(index uint64) error {
	fi, ok := p.byPage[index]
	if !ok {
		return fmt.Errorf("pager: page %d is not framed", index)
	}
	f := &p.frames[fi]

	stampPage(f.data)

	f.op.Fd = p.fd
	f.op.Sync = true
	f.op.PrepareSlice(iomgr.OpWrite, f.data, c.PageIdToOffset(index))
	p.mgr.Submit(&f.op)
	<-f.op.Ch
	f.op.Sync = false
	if f.op.Res < 0 {
		return fmt.Errorf("pager: write page %d: errno %d", index, -f.op.Res)
	}

	p.dirty.Clear(uint(fi))
	return nil
}

// FlushAll writes out every dirty frame.
func (p *Pager) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, ok := p.dirty.NextSet(0); ok; i, ok = p.dirty.NextSet(i + 1) {
		if err := p.flushLocked(p.frames[i].pageIndex); err != nil {
			return err
		}
	}
	return nil
}

// AppendToChain links pg behind tail in the doubly-linked page chain. Both
// links are framed single-word page updates.
func (p *Pager) AppendToChain(tail, pg *page.Page) error {
	if err := tail.SetNextPage(int64(pg.Index())); err != nil {
		return err
	}
	return pg.SetPrevPage(int64(tail.Index()))
}

// RemoveFromChain splices pg out, reconnecting prev and next (either may be
// nil at a chain end) and detaching pg's own links.
func (p *Pager) RemoveFromChain(pg, prev, next *page.Page) error {
	if prev != nil {
		if err := prev.SetNextPage(pg.NextPage()); err != nil {
			return err
		}
	}
	if next != nil {
		if err := next.SetPrevPage(pg.PrevPage()); err != nil {
			return err
		}
	}
	if err := pg.SetNextPage(-1); err != nil {
		return err
	}
	return pg.SetPrevPage(-1)
}

func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := iomgr.CloseFd(p.fd)
	p.mgr.Close()
	if e := iomgr.DeallocSlab(p.slab); err == nil {
		err = e
	}
	return err
}

func stampPage(data []byte) {
	c.Bin.PutUint64(data[0x00:], pageMagic)
	c.Bin.PutUint32(data[0x08:], uint32(xxhash.Sum64(data[crcFrom:])))
}

func verifyPage(data []byte) error {
	if c.Bin.Uint64(data[0x00:]) != pageMagic {
		return errors.New("bad magic")
	}
	if c.Bin.Uint32(data[0x08:]) != uint32(xxhash.Sum64(data[crcFrom:])) {
		return errors.New("checksum mismatch")
	}
	return nil
}
