package wal

import (
	"sync"
)

// MemoryLog keeps every record in memory. It backs tests and recovery replay
// (where byte writes are already being reapplied and only ordering matters).
// Positions advance by each record's encoded frame length so that LSNs match
// what the disk log would have assigned within one segment.
type MemoryLog struct {
	mu   sync.Mutex
	recs []Entry
	next LSN
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{next: LSN{Segment: 1}}
}

func (m *MemoryLog) Append(rec Record) (LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lsn := m.next
	m.recs = append(m.recs, Entry{LSN: lsn, Rec: rec})
	m.next.Position += uint32(FrameLen(rec))
	return lsn, nil
}

// Entries returns a snapshot of everything appended so far.
func (m *MemoryLog) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.recs))
	copy(out, m.recs)
	return out
}

// Tail returns the LSN the next record will be assigned.
func (m *MemoryLog) Tail() LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}
