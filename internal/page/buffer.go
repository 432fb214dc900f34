package page

import (
	"errors"
	"fmt"

	c "github.com/chenwuchao/orientdb/internal"
)

// ErrOutOfBounds reports a buffer access outside [0, PAGE_SIZE). It is a
// programmer error: the page core panics on it in its unlogged reads and
// returns it from its logged writes.
var ErrOutOfBounds = errors.New("page: buffer access out of bounds")

// Buffer is a typed view over one caller-owned PAGE_SIZE byte region. It owns
// no data and stays bound to the region for its lifetime. All accesses are
// bounds-checked; integer encoding follows the process-wide Bin alias.
type Buffer struct {
	raw []byte
}

func NewBuffer(raw []byte) (*Buffer, error) {
	if len(raw) != c.PAGE_SIZE {
		return nil, fmt.Errorf("page: buffer must be exactly %d bytes, got %d", c.PAGE_SIZE, len(raw))
	}
	return &Buffer{raw: raw}, nil
}

func (b *Buffer) check(off, n int) error {
	if off < 0 || n < 0 || off+n > len(b.raw) {
		return fmt.Errorf("%w: off=0x%x len=0x%x", ErrOutOfBounds, off, n)
	}
	return nil
}

func (b *Buffer) U32(off int) (uint32, error) {
	if err := b.check(off, c.LEN_U32); err != nil {
		return 0, err
	}
	return c.Bin.Uint32(b.raw[off:]), nil
}

func (b *Buffer) PutU32(off int, v uint32) error {
	if err := b.check(off, c.LEN_U32); err != nil {
		return err
	}
	c.Bin.PutUint32(b.raw[off:], v)
	return nil
}

func (b *Buffer) U64(off int) (uint64, error) {
	if err := b.check(off, c.LEN_U64); err != nil {
		return 0, err
	}
	return c.Bin.Uint64(b.raw[off:]), nil
}

func (b *Buffer) PutU64(off int, v uint64) error {
	if err := b.check(off, c.LEN_U64); err != nil {
		return err
	}
	c.Bin.PutUint64(b.raw[off:], v)
	return nil
}

// Bytes returns a copy of n bytes at off.
func (b *Buffer) Bytes(off, n int) ([]byte, error) {
	if err := b.check(off, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.raw[off:off+n])
	return out, nil
}

// Slice returns the n bytes at off without copying. The slice aliases the
// underlying region and is only valid while the caller's latch is held.
func (b *Buffer) Slice(off, n int) ([]byte, error) {
	if err := b.check(off, n); err != nil {
		return nil, err
	}
	return b.raw[off : off+n : off+n], nil
}

func (b *Buffer) PutBytes(off int, p []byte) error {
	if err := b.check(off, len(p)); err != nil {
		return err
	}
	copy(b.raw[off:], p)
	return nil
}

// Move copies n bytes from off `from` to off `to` with memmove semantics:
// overlapping ranges produce the byte-wise correct result in both directions.
func (b *Buffer) Move(from, to, n int) error {
	if err := b.check(from, n); err != nil {
		return err
	}
	if err := b.check(to, n); err != nil {
		return err
	}
	copy(b.raw[to:to+n], b.raw[from:from+n])
	return nil
}
