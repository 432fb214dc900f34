// Constants
package internal

import (
	"encoding/binary"
)

const LEN_U16 = 0x02
const LEN_U32 = 0x04
const LEN_U64 = 0x08

const _PAGE_KIB = 64 // set once per process - PAGE_SIZE must stay a power of two
const PAGE_SIZE = _PAGE_KIB * 1024

func PageIdToOffset(pageId uint64) uint64 {
	return pageId * PAGE_SIZE
}

// This is an alias for endianness effectively, so we only define endianness in one place (here).
// For debugging big endian is easier to visualize, but for "prod" LittleEndian is faster (usually) (probably)
var Bin = binary.BigEndian
