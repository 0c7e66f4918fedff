package archive

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"eldorado/internal/model"
)

func TestExportMonth_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	exp, err := New(dir)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	m := &model.Market{ID: uuid.New(), Exchange: "gdax", Symbol: "BTC-USD", Timeframe: model.TF15}
	month := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := []model.Candle{
		{
			MarketID: m.ID, Datetime: month,
			Open: decimal.RequireFromString("40000.5"), High: decimal.RequireFromString("40100"),
			Low: decimal.RequireFromString("39900"), Close: decimal.RequireFromString("40050"),
			Volume: decimal.RequireFromString("12.5"), VolumeNet: decimal.RequireFromString("-1.5"),
			VolumeLiq: decimal.RequireFromString("0"), Value: decimal.RequireFromString("500000"),
			TradeCount: 42, LiqCount: 0,
			FirstTradeTS: month, FirstTradeID: "100",
			LastTradeTS: month.Add(14 * time.Minute), LastTradeID: "141",
			Validated: true,
		},
		{
			MarketID: m.ID, Datetime: month.Add(15 * time.Minute),
			Open: decimal.RequireFromString("40050"), High: decimal.RequireFromString("40050"),
			Low: decimal.RequireFromString("40050"), Close: decimal.RequireFromString("40050"),
			Volume: decimal.Zero, VolumeNet: decimal.Zero, VolumeLiq: decimal.Zero, Value: decimal.Zero,
			FirstTradeTS: month.Add(15 * time.Minute), FirstTradeID: "ff",
			LastTradeTS: month.Add(15 * time.Minute), LastTradeID: "ff",
		},
	}

	if err := exp.ExportMonth(context.Background(), m, candles, month); err != nil {
		t.Fatalf("export: %v", err)
	}
	// Re-export must overwrite, not fail or duplicate.
	if err := exp.ExportMonth(context.Background(), m, candles, month); err != nil {
		t.Fatalf("re-export: %v", err)
	}

	path := filepath.Join(dir, "gdax_btc_usd_202203.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM candles`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows after re-export, got %d", n)
	}

	var open string
	var tradeCount int64
	err = db.QueryRow(`SELECT open, trade_count FROM candles WHERE datetime = ?`, month.Unix()).
		Scan(&open, &tradeCount)
	if err != nil {
		t.Fatalf("read row: %v", err)
	}
	if open != "40000.5" || tradeCount != 42 {
		t.Errorf("round trip mangled row: open=%s count=%d", open, tradeCount)
	}
}
