//go:build linux

// Disk I/O manager over io_uring. Serves two callers: the WAL disk log
// (aligned segment-range appends with a linked fsync) and the pager (whole
// page frame reads and writes). Buffers handed to ops must come from
// AllocSlab - O_DIRECT needs the alignment mmap gives us.
package iomgr

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/aethne0/giouring"
	"golang.org/x/sys/unix"
)

const ALIGN = uint64(0x1000)

const MMAP_MODE = unix.MAP_ANON | unix.MAP_PRIVATE
const MMAP_PROT = unix.PROT_READ | unix.PROT_WRITE
const F_OPEN_MODE = unix.O_RDWR | unix.O_CREAT | unix.O_DIRECT
const F_OPEN_PERM = 0b_000_110_100_000
const RING_ENTRIES = 0x80
const OP_Q_SIZE = 0x100

// AllocSlab mmaps an anonymous region aligned to the system page size (check
// using `getconf PAGESIZE` - basically always 0x1000). Interior offsets that
// are multiples of ALIGN stay aligned, so slabs can be written out in pieces.
func AllocSlab(size int) ([]byte, error) {
	raw, err := unix.Mmap(-1, 0, size, MMAP_PROT, MMAP_MODE)
	if err != nil {
		slog.Error("AllocSlab", "err", err)
	}
	return raw, err
}

func DeallocSlab(ptr []byte) error {
	err := unix.Munmap(ptr)
	if err != nil {
		slog.Error("DeallocSlab", "err", err)
	}
	return err
}

// OpenDirect opens (creating if needed) a file for O_DIRECT access.
func OpenDirect(path string) (int, error) {
	return unix.Open(path, F_OPEN_MODE, F_OPEN_PERM)
}

func CloseFd(fd int) error {
	return unix.Close(fd)
}

type OpCode uint16

const (
	OpWrite OpCode = iota + 1
	OpRead
	OpSync
	OpAllocate
)

// Op is one disk operation on a single contiguous range. Completion is
// signalled on Ch; Res holds the final CQE result (negative errno on
// failure). An Op may be reused once its completion has been read from Ch.
type Op struct {
	Fd     int
	Buf    uintptr
	Len    uint32
	Off    uint64
	Opcode OpCode
	Sync   bool // OpWrite only: link an fsync behind the write

	Res int32
	Ch  chan struct{} // set by the owner, capacity 1

	want uint16
	seen uint16
	done bool
}

// PrepareSlice points the op at buf. buf must sit inside an AllocSlab region
// and keep a fixed address until the op completes.
func (o *Op) PrepareSlice(opcode OpCode, buf []byte, off uint64) {
	o.Opcode = opcode
	o.Buf = uintptr(unsafe.Pointer(&buf[0]))
	o.Len = uint32(len(buf))
	o.Off = off
}

// PrepareRange sets up a bufferless op (OpSync, OpAllocate).
func (o *Op) PrepareRange(opcode OpCode, off uint64, length uint32) {
	o.Opcode = opcode
	o.Buf = 0
	o.Len = length
	o.Off = off
}

type IoMgr struct {
	log     slog.Logger
	ring    *giouring.Ring
	opQueue chan *Op
	opSem   chan struct{}
}

func CreateIoMgr() (*IoMgr, error) {
	log := *slog.With("src", "IoMgr")

	ring, err := giouring.CreateRing(RING_ENTRIES)
	if err != nil {
		return nil, err
	}

	m := IoMgr{
		log:     log,
		ring:    ring,
		opQueue: make(chan *Op, OP_Q_SIZE),
		opSem:   make(chan struct{}, RING_ENTRIES),
	}

	go m.ringlord()
	return &m, nil
}

func (m *IoMgr) Close() {
	m.ring.QueueExit()
}

func sqeCount(op *Op) uint16 {
	if op.Opcode == OpWrite && op.Sync {
		return 2
	}
	return 1
}

// WARN: op must keep a fixed address until its completion is read from Ch.
func (m *IoMgr) Submit(op *Op) {
	for range sqeCount(op) {
		m.opSem <- struct{}{}
	}
	m.opQueue <- op
}

func (m *IoMgr) prepSQEs(op *Op) {
	op.done = false
	op.seen = 0
	op.want = sqeCount(op)

	switch op.Opcode {
	case OpWrite:
		sqe := m.ring.GetSQE()
		sqe.PrepareWrite(op.Fd, op.Buf, op.Len, op.Off)
		sqe.UserData = uint64(uintptr(unsafe.Pointer(op)))
		if op.Sync {
			sqe.Flags |= giouring.SqeIOLink
			sqe = m.ring.GetSQE()
			sqe.PrepareFsync(op.Fd, 0)
			sqe.UserData = uint64(uintptr(unsafe.Pointer(op)))
		}

	case OpRead:
		sqe := m.ring.GetSQE()
		sqe.PrepareRead(op.Fd, op.Buf, op.Len, op.Off)
		sqe.UserData = uint64(uintptr(unsafe.Pointer(op)))

	case OpSync:
		sqe := m.ring.GetSQE()
		sqe.PrepareFsync(op.Fd, 0)
		sqe.UserData = uint64(uintptr(unsafe.Pointer(op)))

	case OpAllocate:
		sqe := m.ring.GetSQE()
		sqe.PrepareFallocate(op.Fd, 0, op.Off, uint64(op.Len))
		sqe.UserData = uint64(uintptr(unsafe.Pointer(op)))

	default:
		m.log.Warn("Invalid opcode", "opcode", op.Opcode)
		atomic.StoreInt32(&op.Res, -int32(unix.EINVAL))
		op.Ch <- struct{}{}
	}
}

// The io_uring manager loop, split into three phases:
// 1. collect submitted ops from the worker-facing opQueue, get+prepare SQEs
// 2. submit new ops to the submission queue
// 3. reap completed CQEs
func (m *IoMgr) ringlord() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var queued uint = 0
	var inflight uint = 0

	for {
		if inflight == 0 && queued == 0 {
			// nothing to reap - block until at least one op shows up,
			// the COLLECT loop greedily takes the rest (if any)
			op := <-m.opQueue
			m.prepSQEs(op)
			queued += uint(op.want)
		}
	COLLECT:
		for {
			select {
			case op := <-m.opQueue:
				m.prepSQEs(op)
				queued += uint(op.want)
			default:
				break COLLECT
			}
		}

		if queued > 0 {
			submitted, err := m.ring.Submit()
			if err != nil && err != unix.ETIME && err != unix.EINTR {
				m.log.Error("Submit", "err", err)
			}
			queued -= submitted
			inflight += submitted
		}

		for inflight > 0 {
			cqe, err := m.ring.PeekCQE()
			if err == unix.EAGAIN || err == unix.EINTR || err == unix.ETIME {
				break
			} else if err != nil {
				m.log.Error("Peek cqe fatal error", "err", err)
				panic("Something wrong with your IO_URING!")
			}
			if cqe == nil {
				m.log.Warn("cqe == nil but we didnt get an err (eagain)?")
				break
			}

			inflight--

			op := (*Op)(unsafe.Pointer(uintptr(cqe.UserData)))
			op.seen++

			if !op.done && (cqe.Res < 0 || op.seen == op.want) {
				atomic.StoreInt32(&op.Res, cqe.Res)
				op.done = true
				op.Ch <- struct{}{}
			}

			m.ring.CQESeen(cqe)
			<-m.opSem
		}
	}
}
