package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"eldorado/internal/model"
)

// MarketStore reads and writes the markets and exchanges registries.
// Both are shared read-mostly between instances.
type MarketStore struct {
	db *DB
}

// NewMarketStore returns a MarketStore over db.
func NewMarketStore(db *DB) *MarketStore {
	return &MarketStore{db: db}
}

const marketCols = `id, exchange, symbol, market_type, base_asset, quote_asset,
	asset_step, asset_min, status, data_status, timeframe, mita, tradable`

// Select returns the markets for one exchange filtered by instance tag.
// An empty mita matches every market.
func (s *MarketStore) Select(ctx context.Context, exchange, mita string) ([]model.Market, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM markets
		WHERE exchange = $1 AND ($2 = '' OR mita = $2) AND status != 'terminated'
		ORDER BY symbol
	`, marketCols), exchange, mita)
	if err != nil {
		return nil, fmt.Errorf("select markets: %w", err)
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Get returns one market by id.
func (s *MarketStore) Get(ctx context.Context, id uuid.UUID) (model.Market, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM markets WHERE id = $1`, marketCols), id)
	return scanMarket(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row rowScanner) (model.Market, error) {
	var m model.Market
	var mtype, status, tf string
	var dataStatus, mita sql.NullString
	err := row.Scan(&m.ID, &m.Exchange, &m.Symbol, &mtype, &m.BaseAsset, &m.QuoteAsset,
		&m.AssetStep, &m.AssetMin, &status, &dataStatus, &tf, &mita, &m.Tradable)
	if err != nil {
		return model.Market{}, fmt.Errorf("scan market: %w", err)
	}
	m.Type = model.MarketType(mtype)
	m.Status = model.MarketStatus(status)
	m.DataStatus = dataStatus.String
	m.Timeframe = model.Timeframe(tf)
	m.Mita = mita.String
	return m, nil
}

// Upsert inserts or refreshes a market on its (exchange, symbol) key,
// preserving the id, status, timeframe, mita and tradable flag of an
// existing row.
func (s *MarketStore) Upsert(ctx context.Context, m *model.Market) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (id, exchange, symbol, market_type, base_asset, quote_asset,
			asset_step, asset_min, status, data_status, timeframe, mita, tradable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (exchange, symbol) DO UPDATE SET
			market_type = EXCLUDED.market_type,
			base_asset = EXCLUDED.base_asset,
			quote_asset = EXCLUDED.quote_asset,
			asset_step = EXCLUDED.asset_step,
			asset_min = EXCLUDED.asset_min
	`, m.ID, m.Exchange, m.Symbol, string(m.Type), m.BaseAsset, m.QuoteAsset,
		m.AssetStep, m.AssetMin, string(m.Status), m.DataStatus, string(m.Timeframe), m.Mita, m.Tradable)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.Key(), err)
	}
	return nil
}

// SetStatus updates a market's lifecycle status.
func (s *MarketStore) SetStatus(ctx context.Context, id uuid.UUID, status model.MarketStatus) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE markets SET status = $2 WHERE id = $1`, id, string(status)); err != nil {
		return fmt.Errorf("set market status: %w", err)
	}
	return nil
}

// SetDataStatus updates a market's pipeline data status, used for the
// scheduler's structured transition records.
func (s *MarketStore) SetDataStatus(ctx context.Context, id uuid.UUID, dataStatus string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE markets SET data_status = $2 WHERE id = $1`, id, dataStatus); err != nil {
		return fmt.Errorf("set market data status: %w", err)
	}
	return nil
}

// Exchanges returns the exchanges registry.
func (s *MarketStore) Exchanges(ctx context.Context) ([]model.Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, rest_url, ws_url, rank, is_spot, is_derivative FROM exchanges ORDER BY rank`)
	if err != nil {
		return nil, fmt.Errorf("select exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []model.Exchange
	for rows.Next() {
		var e model.Exchange
		if err := rows.Scan(&e.Name, &e.RESTUrl, &e.WSUrl, &e.Rank, &e.IsSpot, &e.IsDerivative); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}
