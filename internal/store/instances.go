package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eldorado/internal/model"
)

// InstanceStore manages per-market leases in the instances table. A
// lease belongs to one droplet; liveness is the last_update_ts
// heartbeat and expiry is a multiple of the market's base timeframe.
type InstanceStore struct {
	db *DB
}

// NewInstanceStore returns an InstanceStore over db.
func NewInstanceStore(db *DB) *InstanceStore {
	return &InstanceStore{db: db}
}

// Claim takes the lease on a market for droplet. It succeeds when no
// lease exists, the existing lease already belongs to droplet, or the
// existing lease's heartbeat is older than expiry. Returns ok=false
// when another live instance holds the market.
func (s *InstanceStore) Claim(ctx context.Context, droplet string, m *model.Market, expiry time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (droplet, exchange, market_id, mita, status, last_update_ts)
		VALUES ($1, $2, $3, $4, 'active', $5)
		ON CONFLICT (market_id) DO UPDATE SET
			droplet = EXCLUDED.droplet,
			exchange = EXCLUDED.exchange,
			mita = EXCLUDED.mita,
			status = 'active',
			last_update_ts = EXCLUDED.last_update_ts
		WHERE instances.droplet = $1 OR instances.last_update_ts < $6
	`, droplet, m.Exchange, m.ID, m.Mita, now, now.Add(-expiry))
	if err != nil {
		return false, fmt.Errorf("claim lease %s: %w", m.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Heartbeat refreshes droplet's lease on a market. Returns ok=false if
// the lease has been taken over by another instance.
func (s *InstanceStore) Heartbeat(ctx context.Context, droplet string, marketID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE instances SET last_update_ts = $3
		WHERE market_id = $1 AND droplet = $2
	`, marketID, droplet, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("heartbeat lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetStatus records the instance-level status for a market lease, e.g.
// "error" when the market's task halts.
func (s *InstanceStore) SetStatus(ctx context.Context, droplet string, marketID uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE instances SET status = $3, last_update_ts = $4
		WHERE market_id = $1 AND droplet = $2
	`, marketID, droplet, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set instance status: %w", err)
	}
	return nil
}

// Release drops droplet's lease on a market on graceful shutdown.
func (s *InstanceStore) Release(ctx context.Context, droplet string, marketID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM instances WHERE market_id = $1 AND droplet = $2`, marketID, droplet)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Holder returns the current lease row for a market, if any.
func (s *InstanceStore) Holder(ctx context.Context, marketID uuid.UUID) (model.Instance, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT droplet, exchange, market_id, COALESCE(mita, ''), status, last_update_ts
		FROM instances WHERE market_id = $1
	`, marketID)

	var inst model.Instance
	err := row.Scan(&inst.Droplet, &inst.Exchange, &inst.MarketID, &inst.Mita, &inst.Status, &inst.LastUpdateTS)
	if err == sql.ErrNoRows {
		return model.Instance{}, false, nil
	}
	if err != nil {
		return model.Instance{}, false, fmt.Errorf("lease holder: %w", err)
	}
	inst.LastUpdateTS = inst.LastUpdateTS.UTC()
	return inst, true, nil
}
