package page

import (
	c "github.com/chenwuchao/orientdb/internal"
)

// VSize is the serialized width of a record version. The slot layout derives
// from it, so changing it changes the on-disk format.
const VSize = c.LEN_U16

// Version is a per-record stamp used by optimistic concurrency control in the
// layers above. The page only needs its total order, Next, and the fixed-width
// encoding.
type Version uint16

func (v Version) Compare(o Version) int {
	switch {
	case v < o:
		return -1
	case v > o:
		return 1
	}
	return 0
}

func (v Version) Next() Version {
	return v + 1
}

func (v Version) Bytes() []byte {
	out := make([]byte, VSize)
	c.Bin.PutUint16(out, uint16(v))
	return out
}

func VersionFrom(b []byte) Version {
	return Version(c.Bin.Uint16(b))
}
