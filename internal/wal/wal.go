// Write-ahead log types shared by the page core, the pager and the disk log.
package wal

import (
	"github.com/google/uuid"
)

// LSN is a log sequence number. Ordering is lexicographic on
// (Segment, Position). The zero LSN sorts before every real one.
type LSN struct {
	Segment  uint64
	Position uint32
}

func (l LSN) Compare(o LSN) int {
	switch {
	case l.Segment < o.Segment:
		return -1
	case l.Segment > o.Segment:
		return 1
	case l.Position < o.Position:
		return -1
	case l.Position > o.Position:
		return 1
	}
	return 0
}

type Kind uint8

const (
	KindStartAtomicUpdate Kind = iota + 1
	KindEndAtomicUpdate
	KindAddNewPage
	KindSetPageData
)

// Record is one of the four log record kinds. Every record names the page it
// belongs to (index within its file) and the file itself.
type Record interface {
	Kind() Kind
	Page() uint64
	File() string
}

// StartAtomicUpdate opens a recoverable bracket around one page operation.
// UnitID pairs it with its EndAtomicUpdate.
type StartAtomicUpdate struct {
	UnitID    uuid.UUID
	PageIndex uint64
	FileName  string
}

// EndAtomicUpdate closes the bracket opened by the StartAtomicUpdate with the
// same UnitID. Its assigned LSN is stamped into the page header.
type EndAtomicUpdate struct {
	UnitID    uuid.UUID
	PageIndex uint64
	FileName  string
}

// AddNewPage marks the creation of a fresh page.
type AddNewPage struct {
	PageIndex uint64
	FileName  string
}

// SetPageData carries one byte-level page write: the exact bytes and the page
// offset they land at. Replaying these in order reproduces the page.
type SetPageData struct {
	Data      []byte
	Offset    uint32
	PageIndex uint64
	FileName  string
}

func (r StartAtomicUpdate) Kind() Kind { return KindStartAtomicUpdate }
func (r EndAtomicUpdate) Kind() Kind   { return KindEndAtomicUpdate }
func (r AddNewPage) Kind() Kind        { return KindAddNewPage }
func (r SetPageData) Kind() Kind       { return KindSetPageData }

func (r StartAtomicUpdate) Page() uint64 { return r.PageIndex }
func (r EndAtomicUpdate) Page() uint64   { return r.PageIndex }
func (r AddNewPage) Page() uint64        { return r.PageIndex }
func (r SetPageData) Page() uint64       { return r.PageIndex }

func (r StartAtomicUpdate) File() string { return r.FileName }
func (r EndAtomicUpdate) File() string   { return r.FileName }
func (r AddNewPage) File() string        { return r.FileName }
func (r SetPageData) File() string       { return r.FileName }

// Log is an append-only sink assigning monotonically non-decreasing LSNs.
// Implementations must be safe for concurrent appenders; callers only inspect
// the returned LSN for EndAtomicUpdate records.
type Log interface {
	Append(rec Record) (LSN, error)
}

// Entry is a record together with the LSN it was assigned.
type Entry struct {
	LSN LSN
	Rec Record
}
