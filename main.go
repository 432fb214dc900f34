package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	c "github.com/chenwuchao/orientdb/internal"
	"github.com/chenwuchao/orientdb/internal/page"
	"github.com/chenwuchao/orientdb/internal/util"
	"github.com/chenwuchao/orientdb/internal/wal"

	"github.com/lmittmann/tint"
)

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	})))

	log := wal.NewMemoryLog()

	raw := make([]byte, c.PAGE_SIZE)
	pg, err := page.New(raw, 0, "demo.pdb", log)
	if err != nil {
		slog.Error("new page", "err", err)
		os.Exit(1)
	}

	for i := range 4 {
		slot, err := pg.AppendRecord(page.Version(1), fmt.Appendf(nil, "record-%d", i))
		if err != nil {
			slog.Error("append", "err", err)
			os.Exit(1)
		}
		slog.Info("appended", "slot", slot, "free", pg.FreeSpace(), "lsn", pg.Lsn())
	}

	if _, err := pg.DeleteRecord(1); err != nil {
		slog.Error("delete", "err", err)
		os.Exit(1)
	}
	slog.Info("deleted slot 1", "records", pg.RecordsCount(), "free", pg.FreeSpace())

	fmt.Print(util.PrettyPrintPage(raw, 0x100))
	slog.Info("wal", "records", len(log.Entries()), "tail", log.Tail())
}
