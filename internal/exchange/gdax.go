package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"eldorado/internal/model"
)

const (
	gdaxRESTUrl = "https://api.exchange.coinbase.com"
	gdaxWSUrl   = "wss://ws-feed.exchange.coinbase.com"

	gdaxPageLimit    = 1000
	wsIdleRead       = 60 * time.Second
	wsWriteWait      = 10 * time.Second
	wsReconnectBase  = 2 * time.Second
	wsReconnectCap   = 30 * time.Second
)

// GDAX is the Coinbase exchange adapter. Trade ids are monotone ints
// per product; historical pages are sorted descending by trade id and
// paginated with the CB-AFTER header cursor.
type GDAX struct {
	restURL string
	wsURL   string
	client  *http.Client

	// OnReconnect is an optional metrics hook.
	OnReconnect func()
}

// NewGDAX creates the gdax adapter against the public Coinbase API.
func NewGDAX() *GDAX {
	return &GDAX{restURL: gdaxRESTUrl, wsURL: gdaxWSUrl, client: newHTTPClient()}
}

func (g *GDAX) Name() string         { return "gdax" }
func (g *GDAX) IDsMonotonic() bool   { return true }
func (g *GDAX) PageDescending() bool { return true }

type gdaxProduct struct {
	ID              string `json:"id"`
	BaseCurrency    string `json:"base_currency"`
	QuoteCurrency   string `json:"quote_currency"`
	BaseIncrement   string `json:"base_increment"`
	BaseMinSize     string `json:"base_min_size"`
	Status          string `json:"status"`
	TradingDisabled bool   `json:"trading_disabled"`
}

func (g *GDAX) ListMarkets(ctx context.Context) ([]MarketInfo, error) {
	var products []gdaxProduct
	if _, err := g.get(ctx, "gdax.list_markets", "/products", nil, &products); err != nil {
		return nil, err
	}
	infos := make([]MarketInfo, 0, len(products))
	for _, p := range products {
		infos = append(infos, MarketInfo{
			Symbol:     p.ID,
			Type:       model.Spot,
			BaseAsset:  p.BaseCurrency,
			QuoteAsset: p.QuoteCurrency,
			SizeStep:   p.BaseIncrement,
			MinSize:    p.BaseMinSize,
			Enabled:    p.Status == "online" && !p.TradingDisabled,
		})
	}
	return infos, nil
}

type gdaxTrade struct {
	Time    string `json:"time"`
	TradeID int64  `json:"trade_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
}

func (g *GDAX) Trades(ctx context.Context, symbol string, p Pagination) (TradePage, error) {
	q := url.Values{}
	limit := p.Limit
	if limit <= 0 || limit > gdaxPageLimit {
		limit = gdaxPageLimit
	}
	q.Set("limit", strconv.Itoa(limit))
	if p.AfterID != "" {
		q.Set("after", p.AfterID)
	}

	var raw []gdaxTrade
	hdr, err := g.get(ctx, "gdax.get_trades", "/products/"+symbol+"/trades", q, &raw)
	if err != nil {
		return TradePage{}, err
	}

	trades := make([]model.Trade, 0, len(raw))
	for _, rt := range raw {
		t, err := g.normalizeTrade(symbol, rt)
		if err != nil {
			return TradePage{}, newError(KindSchemaMismatch, "gdax.get_trades", err)
		}
		trades = append(trades, t)
	}

	page := TradePage{Trades: trades}
	// CB-AFTER points at the page of older trades; an absent header or
	// a short page means the product's history is exhausted.
	if next := hdr.Get("Cb-After"); next != "" && len(raw) == limit {
		page.NextID = next
		page.HasMore = true
	}
	return page, nil
}

func (g *GDAX) normalizeTrade(symbol string, rt gdaxTrade) (model.Trade, error) {
	ts, err := time.Parse(time.RFC3339Nano, rt.Time)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade %d time %q: %w", rt.TradeID, rt.Time, err)
	}
	price, err := decimal.NewFromString(rt.Price)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade %d price %q: %w", rt.TradeID, rt.Price, err)
	}
	size, err := decimal.NewFromString(rt.Size)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade %d size %q: %w", rt.TradeID, rt.Size, err)
	}
	side := model.Sell
	if rt.Side == "buy" {
		side = model.Buy
	}
	return model.Trade{
		Symbol:  symbol,
		TradeID: strconv.FormatInt(rt.TradeID, 10),
		Price:   price,
		Size:    size,
		Side:    side,
		TS:      ts.UTC(),
	}, nil
}

func (g *GDAX) DailyCandle(ctx context.Context, symbol string, date time.Time) (model.DailyCandle, error) {
	day := model.DayStart(date)
	q := url.Values{}
	q.Set("granularity", "86400")
	q.Set("start", day.Format(time.RFC3339))
	q.Set("end", day.Add(24*time.Hour-time.Second).Format(time.RFC3339))

	// Response rows are [time, low, high, open, close, volume].
	var rows [][]float64
	if _, err := g.get(ctx, "gdax.get_daily_candle", "/products/"+symbol+"/candles", q, &rows); err != nil {
		return model.DailyCandle{}, err
	}
	for _, row := range rows {
		if len(row) < 6 {
			return model.DailyCandle{}, newError(KindSchemaMismatch, "gdax.get_daily_candle",
				fmt.Errorf("candle row has %d fields", len(row)))
		}
		if int64(row[0]) != day.Unix() {
			continue
		}
		return model.DailyCandle{
			Date:       day,
			Low:        decimal.NewFromFloat(row[1]),
			High:       decimal.NewFromFloat(row[2]),
			Open:       decimal.NewFromFloat(row[3]),
			Close:      decimal.NewFromFloat(row[4]),
			Volume:     decimal.NewFromFloat(row[5]),
			TradeCount: -1, // not reported by this exchange
		}, nil
	}
	return model.DailyCandle{}, newError(KindInvalidRequest, "gdax.get_daily_candle",
		fmt.Errorf("no daily candle for %s on %s", symbol, day.Format("2006-01-02")))
}

type gdaxSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type gdaxMatch struct {
	Type      string `json:"type"`
	TradeID   int64  `json:"trade_id"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Time      string `json:"time"`
}

// StreamTrades subscribes to the matches channel and pushes normalized
// trades into out until ctx is cancelled. Reconnects with capped
// backoff; resubscribes after every reconnect.
func (g *GDAX) StreamTrades(ctx context.Context, symbols []string, out chan<- model.Trade) error {
	delay := wsReconnectBase
	for {
		if err := g.streamOnce(ctx, symbols, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[gdax-ws] session ended: %v, reconnecting in %v", err, delay)
			if g.OnReconnect != nil {
				g.OnReconnect()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if delay *= 2; delay > wsReconnectCap {
				delay = wsReconnectCap
			}
			continue
		}
		return nil
	}
}

func (g *GDAX) streamOnce(ctx context.Context, symbols []string, out chan<- model.Trade) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := gdaxSubscribe{Type: "subscribe", ProductIDs: symbols, Channels: []string{"matches", "heartbeat"}}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[gdax-ws] connected, subscribed to %d products", len(symbols))

	// Close the socket when ctx ends so the blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(wsIdleRead))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var m gdaxMatch
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Printf("[gdax-ws] skipping unparsable frame: %v", err)
			continue
		}
		if m.Type != "match" && m.Type != "last_match" {
			continue
		}
		t, err := g.normalizeTrade(m.ProductID, gdaxTrade{
			Time: m.Time, TradeID: m.TradeID, Price: m.Price, Size: m.Size, Side: m.Side,
		})
		if err != nil {
			log.Printf("[gdax-ws] skipping malformed match: %v", err)
			continue
		}

		select {
		case out <- t:
		case <-ctx.Done():
			return nil
		}
	}
}

func (g *GDAX) get(ctx context.Context, op, path string, q url.Values, v interface{}) (http.Header, error) {
	u := g.restURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return getJSON(ctx, g.client, op, u, v)
}
