package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eldorado/internal/model"
)

// DetailStore persists the per-market bookkeeping singletons: trade
// watermarks, candle watermarks, and the archive cursor. They exist so
// the scheduler can resume without re-scanning data tables.
type DetailStore struct {
	db *DB
}

// NewDetailStore returns a DetailStore over db.
func NewDetailStore(db *DB) *DetailStore {
	return &DetailStore{db: db}
}

// TradeDetail returns the trade watermark row for a market.
func (s *DetailStore) TradeDetail(ctx context.Context, marketID uuid.UUID) (model.MarketTradeDetail, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT market_id, market_start_ts, first_trade_ts, first_trade_id, last_trade_ts, last_trade_id
		FROM market_trade_details WHERE market_id = $1
	`, marketID)

	var d model.MarketTradeDetail
	var start sql.NullTime
	var firstTS, lastTS sql.NullTime
	var firstID, lastID sql.NullString
	err := row.Scan(&d.MarketID, &start, &firstTS, &firstID, &lastTS, &lastID)
	if err == sql.ErrNoRows {
		return model.MarketTradeDetail{}, false, nil
	}
	if err != nil {
		return model.MarketTradeDetail{}, false, fmt.Errorf("trade detail: %w", err)
	}
	if start.Valid {
		t := start.Time.UTC()
		d.MarketStartTS = &t
	}
	if firstTS.Valid {
		d.FirstTradeTS = firstTS.Time.UTC()
	}
	if lastTS.Valid {
		d.LastTradeTS = lastTS.Time.UTC()
	}
	d.FirstTradeID = firstID.String
	d.LastTradeID = lastID.String
	return d, true, nil
}

// SaveTradeDetail upserts the trade watermark row.
func (s *DetailStore) SaveTradeDetail(ctx context.Context, d *model.MarketTradeDetail) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_trade_details (market_id, market_start_ts, first_trade_ts, first_trade_id, last_trade_ts, last_trade_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id) DO UPDATE SET
			market_start_ts = EXCLUDED.market_start_ts,
			first_trade_ts = EXCLUDED.first_trade_ts,
			first_trade_id = EXCLUDED.first_trade_id,
			last_trade_ts = EXCLUDED.last_trade_ts,
			last_trade_id = EXCLUDED.last_trade_id
	`, d.MarketID, d.MarketStartTS, nullTime(d.FirstTradeTS), nullString(d.FirstTradeID),
		nullTime(d.LastTradeTS), nullString(d.LastTradeID))
	if err != nil {
		return fmt.Errorf("save trade detail: %w", err)
	}
	return nil
}

// CandleDetail returns the candle watermark row for a market.
func (s *DetailStore) CandleDetail(ctx context.Context, marketID uuid.UUID) (model.MarketCandleDetail, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT market_id, first_candle, last_candle, prev_trade_day, prev_status, next_trade_day, next_status
		FROM market_candle_details WHERE market_id = $1
	`, marketID)

	var d model.MarketCandleDetail
	var first, last sql.NullTime
	var prevDay, nextDay sql.NullTime
	var prevStatus, nextStatus sql.NullString
	err := row.Scan(&d.MarketID, &first, &last, &prevDay, &prevStatus, &nextDay, &nextStatus)
	if err == sql.ErrNoRows {
		return model.MarketCandleDetail{}, false, nil
	}
	if err != nil {
		return model.MarketCandleDetail{}, false, fmt.Errorf("candle detail: %w", err)
	}
	if first.Valid {
		t := first.Time.UTC()
		d.FirstCandle = &t
	}
	if last.Valid {
		t := last.Time.UTC()
		d.LastCandle = &t
	}
	if prevDay.Valid {
		d.PrevTradeDay = prevDay.Time.UTC()
	}
	if nextDay.Valid {
		d.NextTradeDay = nextDay.Time.UTC()
	}
	d.PrevStatus = model.DayStatus(prevStatus.String)
	d.NextStatus = model.DayStatus(nextStatus.String)
	return d, true, nil
}

// SaveCandleDetail upserts the candle watermark row.
func (s *DetailStore) SaveCandleDetail(ctx context.Context, d *model.MarketCandleDetail) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_candle_details (market_id, first_candle, last_candle, prev_trade_day, prev_status, next_trade_day, next_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market_id) DO UPDATE SET
			first_candle = EXCLUDED.first_candle,
			last_candle = EXCLUDED.last_candle,
			prev_trade_day = EXCLUDED.prev_trade_day,
			prev_status = EXCLUDED.prev_status,
			next_trade_day = EXCLUDED.next_trade_day,
			next_status = EXCLUDED.next_status
	`, d.MarketID, d.FirstCandle, d.LastCandle,
		nullTime(d.PrevTradeDay), nullString(string(d.PrevStatus)),
		nullTime(d.NextTradeDay), nullString(string(d.NextStatus)))
	if err != nil {
		return fmt.Errorf("save candle detail: %w", err)
	}
	return nil
}

// ArchiveDetail returns the archive cursor for a market.
func (s *DetailStore) ArchiveDetail(ctx context.Context, marketID uuid.UUID) (model.MarketArchiveDetail, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT market_id, next_month, status FROM market_archive_details WHERE market_id = $1
	`, marketID)

	var d model.MarketArchiveDetail
	var status string
	err := row.Scan(&d.MarketID, &d.NextMonth, &status)
	if err == sql.ErrNoRows {
		return model.MarketArchiveDetail{}, false, nil
	}
	if err != nil {
		return model.MarketArchiveDetail{}, false, fmt.Errorf("archive detail: %w", err)
	}
	d.NextMonth = d.NextMonth.UTC()
	d.Status = model.DayStatus(status)
	return d, true, nil
}

// SaveArchiveDetail upserts the archive cursor.
func (s *DetailStore) SaveArchiveDetail(ctx context.Context, d *model.MarketArchiveDetail) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_archive_details (market_id, next_month, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (market_id) DO UPDATE SET
			next_month = EXCLUDED.next_month,
			status = EXCLUDED.status
	`, d.MarketID, d.NextMonth, string(d.Status))
	if err != nil {
		return fmt.Errorf("save archive detail: %w", err)
	}
	return nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
