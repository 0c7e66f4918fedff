package model

import (
	"time"

	"github.com/google/uuid"
)

// DayStatus tracks the validation progress of one trading day.
type DayStatus string

const (
	DayPending   DayStatus = "pending"
	DayCompleted DayStatus = "completed"
	DayArchived  DayStatus = "archived"
)

// MarketTradeDetail is the per-market trade watermark singleton. It lets
// the scheduler resume backfills without re-scanning trade tables.
type MarketTradeDetail struct {
	MarketID uuid.UUID

	// MarketStartTS is the backfill target horizon: now-90d for live
	// mode, or the earliest exchange-reported trade for archive mode.
	MarketStartTS *time.Time

	FirstTradeTS time.Time
	FirstTradeID string
	LastTradeTS  time.Time
	LastTradeID  string
}

// MarketCandleDetail records the candle build watermarks and the
// previous/next trading day cursor for validation.
type MarketCandleDetail struct {
	MarketID      uuid.UUID
	FirstCandle   *time.Time
	LastCandle    *time.Time
	PrevTradeDay  time.Time
	PrevStatus    DayStatus
	NextTradeDay  time.Time
	NextStatus    DayStatus
}

// MarketArchiveDetail records the monthly archive cursor.
type MarketArchiveDetail struct {
	MarketID  uuid.UUID
	NextMonth time.Time
	Status    DayStatus
}

// Instance is one running process ("droplet") holding market leases.
// Lease liveness is the LastUpdateTS heartbeat; expiry is a multiple of
// the market's base timeframe.
type Instance struct {
	Droplet      string
	Exchange     string
	MarketID     uuid.UUID
	Mita         string
	Status       string
	LastUpdateTS time.Time
}
