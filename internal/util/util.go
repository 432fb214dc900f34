package util

import (
	"encoding/binary"
	"fmt"

	c "github.com/chenwuchao/orientdb/internal"
)

// PrettyPrintPage renders the first limit bytes of a page as u16 chunks.
// The 0x00-0x40 rows are the header, everything after is slot directory and
// record heap. Debugging aid only.
func PrettyPrintPage(data []byte, limit int) string {
	if limit > len(data) {
		limit = len(data)
	}

	const bytesPerRow = 32
	s := ""
	s += "┏━━━━━━━━┳━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┓\n"
	s += fmt.Sprintf("┃ Offset ┃ u16 Chunks (BigEndian) - %5d bytes (0x%04x)                                       ┃\n",
		c.PAGE_SIZE, c.PAGE_SIZE)
	s += fmt.Sprintln("┣━━━━━━━━╋━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┫")

	for i := 0; i < limit; i += bytesPerRow {
		if i < 0x40 {
			s += fmt.Sprintf("┃ 0x%04x ┣ ", i)
		} else {
			s += fmt.Sprintf("┃ 0x%04x ┃ ", i)
		}

		for j := 0; j < bytesPerRow; j += 2 {
			if i+j+1 < limit {
				val := binary.BigEndian.Uint16(data[i+j : i+j+2])
				s += fmt.Sprintf("%04x ", val)
			}
			// Space every 8 bytes to keep your eyes from crossing
			if (j+2)%8 == 0 {
				s += " "
			}
		}
		if i < 0x40 {
			s += fmt.Sprintln("┫")
		} else {
			s += fmt.Sprintln("┃")
		}
	}
	s += fmt.Sprintln("┗━━━━━━━━┻━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┛")

	return s
}
