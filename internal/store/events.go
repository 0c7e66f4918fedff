package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"eldorado/internal/model"
)

// EventStore is the database-backed work queue. Delivery is
// at-least-once; consumers are expected to be idempotent.
type EventStore struct {
	db *DB
}

// NewEventStore returns an EventStore over db.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Enqueue inserts a new work item, ignoring an already-queued duplicate
// of the same (type, exchange, market, start, duration).
func (s *EventStore) Enqueue(ctx context.Context, e *model.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_type, exchange, market_id, start_ts, duration, droplet, status, notes, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, 'new', $7, NOW())
		ON CONFLICT (event_type, exchange, market_id, start_ts, duration) DO NOTHING
	`, string(e.Type), e.Exchange, e.MarketID, e.Start, e.Duration, nullString(e.Droplet), nullString(e.Notes))
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// Claim atomically selects the oldest new event of one of the given
// types whose droplet is unset or matches the caller, marks it open,
// and returns it. Returns ok=false when the queue is drained.
func (s *EventStore) Claim(ctx context.Context, droplet string, types []model.EventType) (model.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE events SET status = 'open', processed_ts = NULL, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM events
			WHERE status = 'new'
			  AND event_type = ANY($1::text[])
			  AND (droplet IS NULL OR droplet = $2)
			ORDER BY created_ts
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, exchange, market_id, start_ts, duration,
			COALESCE(droplet, ''), status, COALESCE(notes, ''), created_ts, attempts
	`, typeArray(types), droplet)

	var e model.Event
	var etype, status string
	err := row.Scan(&e.ID, &etype, &e.Exchange, &e.MarketID, &e.Start, &e.Duration,
		&e.Droplet, &status, &e.Notes, &e.CreatedTS, &e.Attempts)
	if err == sql.ErrNoRows {
		return model.Event{}, false, nil
	}
	if err != nil {
		return model.Event{}, false, fmt.Errorf("claim event: %w", err)
	}
	e.Type = model.EventType(etype)
	e.Status = model.EventStatus(status)
	e.Start = e.Start.UTC()
	return e, true, nil
}

// Complete resolves an open event to done or error and stamps
// processed_ts. Completing an already-completed event is a no-op
// update to the same values.
func (s *EventStore) Complete(ctx context.Context, id int64, outcome model.EventStatus, notes string) error {
	if outcome != model.EventDone && outcome != model.EventError {
		return fmt.Errorf("complete event %d: invalid outcome %q", id, outcome)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = $2, processed_ts = COALESCE(processed_ts, NOW()),
			notes = COALESCE(NULLIF($3, ''), notes)
		WHERE id = $1
	`, id, string(outcome), notes)
	if err != nil {
		return fmt.Errorf("complete event %d: %w", id, err)
	}
	return nil
}

// Release puts an open event back to new so another worker can claim
// it, used when a worker shuts down mid-item.
func (s *EventStore) Release(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = 'new' WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return fmt.Errorf("release event %d: %w", id, err)
	}
	return nil
}

// Depth returns the number of unclaimed events per queue family, for
// metrics.
func (s *EventStore) Depth(ctx context.Context, types []model.EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE status = 'new' AND event_type = ANY($1::text[])`,
		typeArray(types)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// StaleOpen returns open events created more than maxAge ago, for the
// manage mode's stuck-item sweep. The claim time is not recorded, so an
// old event that was claimed only recently is returned as well.
func (s *EventStore) StaleOpen(ctx context.Context, maxAge time.Duration) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, exchange, market_id, start_ts, duration,
			COALESCE(droplet, ''), status, COALESCE(notes, ''), created_ts, attempts
		FROM events
		WHERE status = 'open' AND created_ts < $1
		ORDER BY created_ts
	`, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return nil, fmt.Errorf("stale open events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var etype, status string
		if err := rows.Scan(&e.ID, &etype, &e.Exchange, &e.MarketID, &e.Start, &e.Duration,
			&e.Droplet, &status, &e.Notes, &e.CreatedTS, &e.Attempts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = model.EventType(etype)
		e.Status = model.EventStatus(status)
		e.Start = e.Start.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// typeArray renders event types as a Postgres text[] literal.
func typeArray(types []model.EventType) string {
	out := "{"
	for i, t := range types {
		if i > 0 {
			out += ","
		}
		out += string(t)
	}
	return out + "}"
}
