package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the taker side of a trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// TradeBucket names the four logical trade stores per market.
type TradeBucket string

const (
	BucketRest      TradeBucket = "rest"
	BucketWS        TradeBucket = "ws"
	BucketProcessed TradeBucket = "processed"
	BucketValidated TradeBucket = "validated"
)

// Trade is a normalized exchange trade. Identified by (market, TradeID);
// immutable once persisted. Price and Size are exact decimals.
type Trade struct {
	MarketID    uuid.UUID
	Symbol      string // wire symbol, used for routing before the market id is attached
	TradeID     string
	Price       decimal.Decimal
	Size        decimal.Decimal
	Side        Side
	Liquidation bool
	TS          time.Time // UTC
}

// Value returns price * size in quote units.
func (t *Trade) Value() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// Before reports whether t sorts before u in canonical
// (timestamp, trade_id) order.
func (t *Trade) Before(u *Trade) bool {
	if !t.TS.Equal(u.TS) {
		return t.TS.Before(u.TS)
	}
	return lessTradeID(t.TradeID, u.TradeID)
}

// lessTradeID compares trade ids numerically when both are numeric
// (gdax, ftx), falling back to lexicographic order otherwise.
func lessTradeID(a, b string) bool {
	if len(a) != len(b) && numeric(a) && numeric(b) {
		return len(a) < len(b)
	}
	return a < b
}

func numeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
