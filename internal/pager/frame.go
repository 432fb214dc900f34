//go:build linux

package pager

import (
	"github.com/chenwuchao/orientdb/internal/iomgr"
)

// A frame is one PAGE_SIZE window into the pager's slab. While occupied it
// holds exactly one page's bytes; the frame owns a disk op it reuses for that
// page's reads and writes.
type frame struct {
	index     int
	data      []byte
	pageIndex uint64

	op iomgr.Op
}

func (f *frame) init(index int, data []byte) {
	f.index = index
	f.data = data
	f.op.Ch = make(chan struct{}, 1)
}
