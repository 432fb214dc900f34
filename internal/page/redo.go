package page

import (
	"github.com/chenwuchao/orientdb/internal/wal"
)

// Redo reapplies every logged byte write targeting (fileName, pageIndex) onto
// raw, in log order. Start/End/AddNewPage records only bracket the data and
// are skipped. Running this over a snapshot taken before an operation yields
// the byte-identical page, LSN stamp included - redo writes straight into the
// buffer, so nothing is re-logged.
func Redo(raw []byte, pageIndex uint64, fileName string, entries []wal.Entry) error {
	buf, err := NewBuffer(raw)
	if err != nil {
		return err
	}
	for _, e := range entries {
		rec, ok := e.Rec.(wal.SetPageData)
		if !ok {
			continue
		}
		if rec.PageIndex != pageIndex || rec.FileName != fileName {
			continue
		}
		if err := buf.PutBytes(int(rec.Offset), rec.Data); err != nil {
			return err
		}
	}
	return nil
}
