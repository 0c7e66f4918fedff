package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ForwardFillID is the sentinel trade id carried by synthetic candles
// emitted for buckets with no trades.
const ForwardFillID = "ff"

// Candle is an OHLCV summary of one bucket, keyed by (market, Datetime)
// where Datetime is the bucket start aligned to the market's timeframe.
type Candle struct {
	MarketID uuid.UUID       `json:"market_id"`
	Datetime time.Time       `json:"datetime"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`

	Volume    decimal.Decimal `json:"volume"`
	VolumeNet decimal.Decimal `json:"volume_net"`
	VolumeLiq decimal.Decimal `json:"volume_liq"`
	Value     decimal.Decimal `json:"value"`

	TradeCount int64 `json:"trade_count"`
	LiqCount   int64 `json:"liq_count"`

	FirstTradeTS time.Time `json:"first_trade_ts"`
	FirstTradeID string    `json:"first_trade_id"`
	LastTradeTS  time.Time `json:"last_trade_ts"`
	LastTradeID  string    `json:"last_trade_id"`

	Validated bool `json:"is_validated"`
}

// IsForwardFill reports whether this candle was synthesized for an
// empty bucket.
func (c *Candle) IsForwardFill() bool {
	return c.TradeCount == 0
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// DailyCandle is the exchange-reported daily OHLCV used as external
// truth during validation. Keyed by (market, Date) at midnight UTC.
type DailyCandle struct {
	MarketID   uuid.UUID
	Date       time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	TradeCount int64
}
