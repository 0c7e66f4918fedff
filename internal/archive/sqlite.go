// Package archive exports frozen monthly candle ranges to standalone
// SQLite files, one file per market per month. Archive files are the
// cold tail of the 90-day window: immutable, copyable, and readable
// without the production database.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"eldorado/internal/model"
)

// Exporter writes monthly archive files under Dir.
type Exporter struct {
	Dir string
}

// New creates an Exporter rooted at dir.
func New(dir string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive dir: %w", err)
	}
	return &Exporter{Dir: dir}, nil
}

// filePath returns "{dir}/{exchange}_{token}_{YYYYMM}.db".
func (e *Exporter) filePath(m *model.Market, month time.Time) string {
	name := fmt.Sprintf("%s_%s_%s.db", m.Exchange, m.Token(), month.Format("200601"))
	return filepath.Join(e.Dir, name)
}

// ExportMonth writes one month of candles to the market's archive
// file in a single transaction. Re-exporting a month overwrites it,
// so the archive cursor can be replayed safely.
func (e *Exporter) ExportMonth(ctx context.Context, m *model.Market, candles []model.Candle, month time.Time) error {
	path := e.filePath(m, month)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("archive open %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS candles (
			datetime       INTEGER PRIMARY KEY,
			open           TEXT NOT NULL,
			high           TEXT NOT NULL,
			low            TEXT NOT NULL,
			close          TEXT NOT NULL,
			volume         TEXT NOT NULL,
			volume_net     TEXT NOT NULL,
			volume_liq     TEXT NOT NULL,
			value          TEXT NOT NULL,
			trade_count    INTEGER NOT NULL,
			liq_count      INTEGER NOT NULL,
			first_trade_ts INTEGER NOT NULL,
			first_trade_id TEXT NOT NULL,
			last_trade_ts  INTEGER NOT NULL,
			last_trade_id  TEXT NOT NULL,
			is_validated   INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("archive schema %s: %w", path, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (datetime, open, high, low, close,
			volume, volume_net, volume_liq, value, trade_count, liq_count,
			first_trade_ts, first_trade_id, last_trade_ts, last_trade_id, is_validated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range candles {
		c := &candles[i]
		_, err := stmt.ExecContext(ctx,
			c.Datetime.Unix(), c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(),
			c.Volume.String(), c.VolumeNet.String(), c.VolumeLiq.String(), c.Value.String(),
			c.TradeCount, c.LiqCount,
			c.FirstTradeTS.Unix(), c.FirstTradeID, c.LastTradeTS.Unix(), c.LastTradeID, boolInt(c.Validated))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("archive insert %s: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[archive] wrote %d candles to %s", len(candles), path)
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
