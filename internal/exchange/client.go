// Package exchange contains the per-exchange adapters. Each adapter
// normalizes its exchange's wire payloads into model.Trade and
// model.DailyCandle, with timestamps in UTC and prices/sizes as exact
// decimals. Everything downstream of this package is exchange-agnostic.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eldorado/internal/model"
)

// Pagination selects a page of historical trades. Each adapter reads
// the fields its exchange paginates on (AfterID for cursor-paginated
// exchanges, Start/End for time-windowed ones) and ignores the others,
// so callers may set a cursor and a window on the same request.
type Pagination struct {
	AfterID string
	Start   time.Time
	End     time.Time
	Limit   int
}

// TradePage is one bounded page of historical trades plus the
// continuation hint. Pages are sorted in the order the adapter declares
// via Client.PageDescending; callers must tolerate a one-trade overlap
// at the boundary.
type TradePage struct {
	Trades  []model.Trade
	NextID  string // next AfterID cursor, empty when exhausted
	HasMore bool
}

// MarketInfo is one entry from the exchange's market list.
type MarketInfo struct {
	Symbol     string
	Type       model.MarketType
	BaseAsset  string
	QuoteAsset string
	SizeStep   string
	MinSize    string
	Enabled    bool
}

// Client is the capability set every exchange adapter implements.
// The client performs no retries beyond honoring explicit rate-limit
// delays; retry policy lives in the scheduler.
type Client interface {
	Name() string

	// ListMarkets returns the exchange's tradable markets.
	ListMarkets(ctx context.Context) ([]MarketInfo, error)

	// Trades returns one page of historical trades for symbol.
	Trades(ctx context.Context, symbol string, p Pagination) (TradePage, error)

	// DailyCandle returns the exchange-native daily candle for the UTC
	// day containing date.
	DailyCandle(ctx context.Context, symbol string, date time.Time) (model.DailyCandle, error)

	// StreamTrades subscribes to live trades for symbols and pushes
	// normalized trades into out until ctx is cancelled. Reconnects
	// internally; returns only on cancellation or fatal error.
	StreamTrades(ctx context.Context, symbols []string, out chan<- model.Trade) error

	// IDsMonotonic reports whether trade ids increase monotonically per
	// market, which decides how the scheduler proves gap closure.
	IDsMonotonic() bool

	// PageDescending reports whether Trades pages are sorted descending
	// by trade id.
	PageDescending() bool
}

// ErrorKind is the adapter error taxonomy.
type ErrorKind int

const (
	KindTransient ErrorKind = iota // timeout, 5xx, socket reset
	KindRateLimited
	KindInvalidRequest
	KindSchemaMismatch
	KindAuthRequired
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidRequest:
		return "invalid_request"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindAuthRequired:
		return "auth_required"
	}
	return "unknown"
}

// ClientError wraps an adapter failure with its taxonomy kind. For
// KindRateLimited, RetryAfter carries the server-requested delay.
type ClientError struct {
	Kind       ErrorKind
	Op         string
	Err        error
	RetryAfter time.Duration
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, err error) *ClientError {
	return &ClientError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the taxonomy kind of err, defaulting to KindTransient
// for untyped network failures.
func KindOf(err error) ErrorKind {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// RetryAfter returns the rate-limit delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ce *ClientError
	if errors.As(err, &ce) && ce.Kind == KindRateLimited && ce.RetryAfter > 0 {
		return ce.RetryAfter, true
	}
	return 0, false
}

// IsRetryable reports whether the scheduler should retry err with
// backoff rather than failing the market.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}
