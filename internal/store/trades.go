package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"eldorado/internal/model"
)

// TradeStore is append-idempotent per-market trade persistence over
// four logical buckets (rest, ws, processed, validated), one table per
// (bucket, exchange, market) named trades_{bucket}_{exchange}_{token}.
type TradeStore struct {
	db *DB
}

// NewTradeStore returns a TradeStore over db.
func NewTradeStore(db *DB) *TradeStore {
	return &TradeStore{db: db}
}

// TableName returns the trade table name for one bucket of a market.
func TableName(m *model.Market, bucket model.TradeBucket) string {
	return fmt.Sprintf("trades_%s_%s_%s", bucket, m.Exchange, m.Token())
}

// EnsureTables creates the four bucket tables for a market if they do
// not exist. Called when a market first becomes active.
func (s *TradeStore) EnsureTables(ctx context.Context, m *model.Market) error {
	for _, bucket := range []model.TradeBucket{
		model.BucketRest, model.BucketWS, model.BucketProcessed, model.BucketValidated,
	} {
		table := TableName(m, bucket)
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				trade_id    TEXT PRIMARY KEY,
				price       NUMERIC NOT NULL,
				size        NUMERIC NOT NULL,
				side        TEXT NOT NULL,
				liquidation BOOLEAN NOT NULL,
				ts          TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS %s_ts_idx ON %s (ts);
		`, table, table, table)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// Insert appends trades to a bucket, silently dropping duplicates on
// trade_id.
func (s *TradeStore) Insert(ctx context.Context, m *model.Market, bucket model.TradeBucket, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	table := TableName(m, bucket)
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (trade_id, price, size, side, liquidation, ts)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (trade_id) DO NOTHING
		`, table))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, t := range trades {
			if _, err := stmt.ExecContext(ctx, t.TradeID, t.Price, t.Size, string(t.Side), t.Liquidation, t.TS); err != nil {
				return fmt.Errorf("insert %s trade %s: %w", table, t.TradeID, err)
			}
		}
		return nil
	})
}

// Read returns a bucket's trades in [from, to), ordered ascending by
// (timestamp, trade_id) with numeric id ordering.
func (s *TradeStore) Read(ctx context.Context, m *model.Market, bucket model.TradeBucket, from, to time.Time) ([]model.Trade, error) {
	table := TableName(m, bucket)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT trade_id, price, size, side, liquidation, ts
		FROM %s
		WHERE ts >= $1 AND ts < $2
		ORDER BY ts, length(trade_id), trade_id
	`, table), from, to)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()
	return s.scanTrades(rows, m)
}

func (s *TradeStore) scanTrades(rows *sql.Rows, m *model.Market) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side string
		if err := rows.Scan(&t.TradeID, &t.Price, &t.Size, &side, &t.Liquidation, &t.TS); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.MarketID = m.ID
		t.Symbol = m.Symbol
		t.Side = model.Side(side)
		t.TS = t.TS.UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// PromoteProcessed moves the union of rest and ws rows in [from, to)
// into processed, deduplicated on trade id with ws winning on conflict,
// sorted ascending. The source rows are deleted in the same
// transaction, so applying it twice yields the same processed state.
func (s *TradeStore) PromoteProcessed(ctx context.Context, m *model.Market, from, to time.Time) ([]model.Trade, error) {
	rest, err := s.Read(ctx, m, model.BucketRest, from, to)
	if err != nil {
		return nil, err
	}
	ws, err := s.Read(ctx, m, model.BucketWS, from, to)
	if err != nil {
		return nil, err
	}
	merged := MergeTrades(rest, ws)

	processed := TableName(m, model.BucketProcessed)
	err = s.db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (trade_id, price, size, side, liquidation, ts)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (trade_id) DO NOTHING
		`, processed))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, t := range merged {
			if _, err := stmt.ExecContext(ctx, t.TradeID, t.Price, t.Size, string(t.Side), t.Liquidation, t.TS); err != nil {
				return err
			}
		}
		for _, bucket := range []model.TradeBucket{model.BucketRest, model.BucketWS} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`DELETE FROM %s WHERE ts >= $1 AND ts < $2`, TableName(m, bucket)), from, to); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("promote processed %s: %w", m.Key(), err)
	}
	return merged, nil
}

// PromoteValidated copies processed rows in [from, to) into validated.
// Processed rows are retained so validated stays a subset of processed.
func (s *TradeStore) PromoteValidated(ctx context.Context, m *model.Market, from, to time.Time) error {
	src := TableName(m, model.BucketProcessed)
	dst := TableName(m, model.BucketValidated)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (trade_id, price, size, side, liquidation, ts)
		SELECT trade_id, price, size, side, liquidation, ts
		FROM %s WHERE ts >= $1 AND ts < $2
		ON CONFLICT (trade_id) DO NOTHING
	`, dst, src), from, to)
	if err != nil {
		return fmt.Errorf("promote validated %s: %w", m.Key(), err)
	}
	return nil
}

// Delete removes a bucket's rows in [from, to).
func (s *TradeStore) Delete(ctx context.Context, m *model.Market, bucket model.TradeBucket, from, to time.Time) error {
	table := TableName(m, bucket)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE ts >= $1 AND ts < $2`, table), from, to); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// First returns the earliest trade in a bucket, by (ts, trade_id).
func (s *TradeStore) First(ctx context.Context, m *model.Market, bucket model.TradeBucket) (model.Trade, bool, error) {
	return s.edge(ctx, m, bucket, "ASC")
}

// Last returns the latest trade in a bucket, by (ts, trade_id).
func (s *TradeStore) Last(ctx context.Context, m *model.Market, bucket model.TradeBucket) (model.Trade, bool, error) {
	return s.edge(ctx, m, bucket, "DESC")
}

func (s *TradeStore) edge(ctx context.Context, m *model.Market, bucket model.TradeBucket, dir string) (model.Trade, bool, error) {
	table := TableName(m, bucket)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT trade_id, price, size, side, liquidation, ts
		FROM %s
		ORDER BY ts %s, length(trade_id) %s, trade_id %s
		LIMIT 1
	`, table, dir, dir, dir))

	var t model.Trade
	var side string
	err := row.Scan(&t.TradeID, &t.Price, &t.Size, &side, &t.Liquidation, &t.TS)
	if err == sql.ErrNoRows {
		return model.Trade{}, false, nil
	}
	if err != nil {
		return model.Trade{}, false, fmt.Errorf("edge %s: %w", table, err)
	}
	t.MarketID = m.ID
	t.Symbol = m.Symbol
	t.Side = model.Side(side)
	t.TS = t.TS.UTC()
	return t, true, nil
}
