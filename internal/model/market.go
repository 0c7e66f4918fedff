package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketType distinguishes spot pairs from derivatives.
type MarketType string

const (
	Spot      MarketType = "spot"
	Perpetual MarketType = "perpetual"
	Future    MarketType = "future"
)

// MarketStatus is the lifecycle status of a market.
type MarketStatus string

const (
	MarketNew        MarketStatus = "new"
	MarketActive     MarketStatus = "active"
	MarketTerminated MarketStatus = "terminated"
)

// Exchange is a row in the exchanges registry.
type Exchange struct {
	Name      string
	RESTUrl   string
	WSUrl     string
	Rank      int
	IsSpot    bool
	IsDerivative bool
}

// Market identifies a tradable symbol on one exchange.
// (Exchange, Symbol) is unique; Timeframe is non-null once active.
type Market struct {
	ID         uuid.UUID
	Exchange   string
	Symbol     string
	Type       MarketType
	BaseAsset  string
	QuoteAsset string

	// Optional exchange-reported sizing constraints.
	AssetStep decimal.NullDecimal
	AssetMin  decimal.NullDecimal

	Status     MarketStatus
	DataStatus string
	Timeframe  Timeframe
	Mita       string // instance tag partitioning market ownership
	Tradable   bool
}

// Token returns the market's table-name token, e.g. "BTC-USD" -> "btc_usd".
func (m *Market) Token() string {
	b := []byte(m.Symbol)
	for i, c := range b {
		switch {
		case c >= 'A' && c <= 'Z':
			b[i] = c + ('a' - 'A')
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

// Key returns "exchange:symbol" for map keys and log lines.
func (m *Market) Key() string {
	return m.Exchange + ":" + m.Symbol
}
