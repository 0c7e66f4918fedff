package store

import (
	"context"
	"fmt"

	"eldorado/internal/model"
)

// AlertStore appends rows to the insert-only alerts table. The table is
// multi-writer; ids are generated server-side.
type AlertStore struct {
	db *DB
}

// NewAlertStore returns an AlertStore over db.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

// Insert appends one alert row.
func (s *AlertStore) Insert(ctx context.Context, a *model.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (droplet, exchange, market_id, level, message, created_ts)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, a.Droplet, a.Exchange, a.MarketID, a.Level, a.Message)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}
