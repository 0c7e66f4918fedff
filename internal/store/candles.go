package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"eldorado/internal/model"
)

// CandleStore persists base-timeframe candles in one table per
// exchange (candles_{tf}_{exchange}) and daily candles in the global
// candles_01d table.
type CandleStore struct {
	db *DB
}

// NewCandleStore returns a CandleStore over db.
func NewCandleStore(db *DB) *CandleStore {
	return &CandleStore{db: db}
}

// CandleTable returns the per-exchange candle table for a timeframe.
func CandleTable(exchange string, tf model.Timeframe) string {
	return fmt.Sprintf("candles_%s_%s", tf.Table(), exchange)
}

// EnsureTable creates the per-exchange candle table if missing.
func (s *CandleStore) EnsureTable(ctx context.Context, exchange string, tf model.Timeframe) error {
	table := CandleTable(exchange, tf)
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			market_id      UUID NOT NULL,
			datetime       TIMESTAMPTZ NOT NULL,
			open           NUMERIC NOT NULL,
			high           NUMERIC NOT NULL,
			low            NUMERIC NOT NULL,
			close          NUMERIC NOT NULL,
			volume         NUMERIC NOT NULL,
			volume_net     NUMERIC NOT NULL,
			volume_liq     NUMERIC NOT NULL,
			value          NUMERIC NOT NULL,
			trade_count    BIGINT NOT NULL,
			liq_count      BIGINT NOT NULL,
			first_trade_ts TIMESTAMPTZ NOT NULL,
			first_trade_id TEXT NOT NULL,
			last_trade_ts  TIMESTAMPTZ NOT NULL,
			last_trade_id  TEXT NOT NULL,
			is_validated   BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (market_id, datetime)
		)
	`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure %s: %w", table, err)
	}
	return nil
}

const candleCols = `market_id, datetime, open, high, low, close,
	volume, volume_net, volume_liq, value, trade_count, liq_count,
	first_trade_ts, first_trade_id, last_trade_ts, last_trade_id, is_validated`

// Upsert writes a candle, replacing every field except is_validated,
// which is sticky-true: once validated a bucket stays validated until
// explicitly unvalidated by a revalidation event.
func (s *CandleStore) Upsert(ctx context.Context, exchange string, tf model.Timeframe, c *model.Candle) error {
	table := CandleTable(exchange, tf)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (market_id, datetime) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			volume_net = EXCLUDED.volume_net,
			volume_liq = EXCLUDED.volume_liq,
			value = EXCLUDED.value,
			trade_count = EXCLUDED.trade_count,
			liq_count = EXCLUDED.liq_count,
			first_trade_ts = EXCLUDED.first_trade_ts,
			first_trade_id = EXCLUDED.first_trade_id,
			last_trade_ts = EXCLUDED.last_trade_ts,
			last_trade_id = EXCLUDED.last_trade_id,
			is_validated = %s.is_validated OR EXCLUDED.is_validated
	`, table, candleCols, table),
		c.MarketID, c.Datetime, c.Open, c.High, c.Low, c.Close,
		c.Volume, c.VolumeNet, c.VolumeLiq, c.Value, c.TradeCount, c.LiqCount,
		c.FirstTradeTS, c.FirstTradeID, c.LastTradeTS, c.LastTradeID, c.Validated)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, c.Datetime.Format(time.RFC3339), err)
	}
	return nil
}

// Read returns a market's candles with bucket starts in [from, to),
// ordered by datetime.
func (s *CandleStore) Read(ctx context.Context, m *model.Market, from, to time.Time) ([]model.Candle, error) {
	table := CandleTable(m.Exchange, m.Timeframe)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE market_id = $1 AND datetime >= $2 AND datetime < $3
		ORDER BY datetime
	`, candleCols, table), m.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.MarketID, &c.Datetime, &c.Open, &c.High, &c.Low, &c.Close,
			&c.Volume, &c.VolumeNet, &c.VolumeLiq, &c.Value, &c.TradeCount, &c.LiqCount,
			&c.FirstTradeTS, &c.FirstTradeID, &c.LastTradeTS, &c.LastTradeID, &c.Validated); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Datetime = c.Datetime.UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LastBefore returns the most recent candle strictly before ts, used
// for forward-fill and resume.
func (s *CandleStore) LastBefore(ctx context.Context, m *model.Market, ts time.Time) (model.Candle, bool, error) {
	table := CandleTable(m.Exchange, m.Timeframe)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE market_id = $1 AND datetime < $2
		ORDER BY datetime DESC LIMIT 1
	`, candleCols, table), m.ID, ts)

	var c model.Candle
	err := row.Scan(&c.MarketID, &c.Datetime, &c.Open, &c.High, &c.Low, &c.Close,
		&c.Volume, &c.VolumeNet, &c.VolumeLiq, &c.Value, &c.TradeCount, &c.LiqCount,
		&c.FirstTradeTS, &c.FirstTradeID, &c.LastTradeTS, &c.LastTradeID, &c.Validated)
	if err == sql.ErrNoRows {
		return model.Candle{}, false, nil
	}
	if err != nil {
		return model.Candle{}, false, fmt.Errorf("last before %s: %w", table, err)
	}
	c.Datetime = c.Datetime.UTC()
	return c, true, nil
}

// MarkValidated sets is_validated for all buckets in [from, to).
func (s *CandleStore) MarkValidated(ctx context.Context, m *model.Market, from, to time.Time) error {
	table := CandleTable(m.Exchange, m.Timeframe)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET is_validated = TRUE
		WHERE market_id = $1 AND datetime >= $2 AND datetime < $3
	`, table), m.ID, from, to)
	if err != nil {
		return fmt.Errorf("mark validated %s: %w", table, err)
	}
	return nil
}

// Unvalidate clears is_validated for buckets in [from, to); used by
// revalidation events before a repair pass.
func (s *CandleStore) Unvalidate(ctx context.Context, m *model.Market, from, to time.Time) error {
	table := CandleTable(m.Exchange, m.Timeframe)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET is_validated = FALSE
		WHERE market_id = $1 AND datetime >= $2 AND datetime < $3
	`, table), m.ID, from, to)
	if err != nil {
		return fmt.Errorf("unvalidate %s: %w", table, err)
	}
	return nil
}

// Delete removes a market's candles in [from, to).
func (s *CandleStore) Delete(ctx context.Context, m *model.Market, from, to time.Time) error {
	table := CandleTable(m.Exchange, m.Timeframe)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE market_id = $1 AND datetime >= $2 AND datetime < $3
	`, table), m.ID, from, to)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// UpsertDaily writes an exchange-reported daily candle to candles_01d.
func (s *CandleStore) UpsertDaily(ctx context.Context, dc *model.DailyCandle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candles_01d (market_id, datetime, open, high, low, close, volume, trade_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_id, datetime) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			trade_count = EXCLUDED.trade_count
	`, dc.MarketID, dc.Date, dc.Open, dc.High, dc.Low, dc.Close, dc.Volume, dc.TradeCount)
	if err != nil {
		return fmt.Errorf("upsert daily %s: %w", dc.Date.Format("2006-01-02"), err)
	}
	return nil
}

// ReadDaily returns the stored daily candle for one UTC day.
func (s *CandleStore) ReadDaily(ctx context.Context, m *model.Market, day time.Time) (model.DailyCandle, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT market_id, datetime, open, high, low, close, volume, trade_count
		FROM candles_01d WHERE market_id = $1 AND datetime = $2
	`, m.ID, model.DayStart(day))

	var dc model.DailyCandle
	err := row.Scan(&dc.MarketID, &dc.Date, &dc.Open, &dc.High, &dc.Low, &dc.Close, &dc.Volume, &dc.TradeCount)
	if err == sql.ErrNoRows {
		return model.DailyCandle{}, false, nil
	}
	if err != nil {
		return model.DailyCandle{}, false, fmt.Errorf("read daily: %w", err)
	}
	dc.Date = dc.Date.UTC()
	return dc, true, nil
}
