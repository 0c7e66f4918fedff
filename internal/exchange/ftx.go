package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"eldorado/internal/model"
)

const (
	ftxRESTUrl   = "https://ftx.com/api"
	ftxWSUrl     = "wss://ftx.com/ws/"
	ftxusRESTUrl = "https://ftx.us/api"
	ftxusWSUrl   = "wss://ftx.us/ws/"

	ftxPageLimit  = 100
	ftxPingPeriod = 15 * time.Second
)

// FTX is the adapter for ftx and ftxus. Trade ids are monotone ints per
// market; historical pages are windowed on (start_time, end_time] and
// sorted descending by time.
type FTX struct {
	name    string
	restURL string
	wsURL   string
	client  *http.Client

	OnReconnect func()
}

// NewFTX creates the ftx adapter.
func NewFTX() *FTX {
	return &FTX{name: "ftx", restURL: ftxRESTUrl, wsURL: ftxWSUrl, client: newHTTPClient()}
}

// NewFTXUS creates the ftxus adapter, identical wire formats on the US
// domain.
func NewFTXUS() *FTX {
	return &FTX{name: "ftxus", restURL: ftxusRESTUrl, wsURL: ftxusWSUrl, client: newHTTPClient()}
}

func (f *FTX) Name() string         { return f.name }
func (f *FTX) IDsMonotonic() bool   { return true }
func (f *FTX) PageDescending() bool { return true }

// ftxEnvelope is the success/error wrapper every FTX response carries.
type ftxEnvelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Result  json.RawMessage `json:"result"`
}

type ftxMarket struct {
	Name          string  `json:"name"`
	BaseCurrency  string  `json:"baseCurrency"`
	QuoteCurrency string  `json:"quoteCurrency"`
	Underlying    string  `json:"underlying"`
	Type          string  `json:"type"`
	Enabled       bool    `json:"enabled"`
	SizeIncrement float64 `json:"sizeIncrement"`
	MinProvideSize float64 `json:"minProvideSize"`
}

func (f *FTX) ListMarkets(ctx context.Context) ([]MarketInfo, error) {
	var markets []ftxMarket
	if err := f.get(ctx, f.name+".list_markets", "/markets", nil, &markets); err != nil {
		return nil, err
	}
	infos := make([]MarketInfo, 0, len(markets))
	for _, m := range markets {
		info := MarketInfo{
			Symbol:     m.Name,
			BaseAsset:  m.BaseCurrency,
			QuoteAsset: m.QuoteCurrency,
			SizeStep:   strconv.FormatFloat(m.SizeIncrement, 'f', -1, 64),
			MinSize:    strconv.FormatFloat(m.MinProvideSize, 'f', -1, 64),
			Enabled:    m.Enabled,
		}
		switch {
		case m.Type == "spot":
			info.Type = model.Spot
		case strings.HasSuffix(m.Name, "-PERP"):
			info.Type = model.Perpetual
			info.BaseAsset = m.Underlying
			info.QuoteAsset = "USD"
		default:
			info.Type = model.Future
			info.BaseAsset = m.Underlying
			info.QuoteAsset = "USD"
		}
		infos = append(infos, info)
	}
	return infos, nil
}

type ftxTrade struct {
	ID          int64   `json:"id"`
	Liquidation bool    `json:"liquidation"`
	Price       float64 `json:"price"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	Time        string  `json:"time"`
}

func (f *FTX) Trades(ctx context.Context, symbol string, p Pagination) (TradePage, error) {
	q := url.Values{}
	if !p.Start.IsZero() {
		q.Set("start_time", strconv.FormatInt(p.Start.Unix(), 10))
	}
	if !p.End.IsZero() {
		q.Set("end_time", strconv.FormatInt(p.End.Unix(), 10))
	}

	var raw []ftxTrade
	if err := f.get(ctx, f.name+".get_trades", "/markets/"+symbol+"/trades", q, &raw); err != nil {
		return TradePage{}, err
	}

	trades := make([]model.Trade, 0, len(raw))
	for _, rt := range raw {
		t, err := f.normalizeTrade(symbol, rt)
		if err != nil {
			return TradePage{}, newError(KindSchemaMismatch, f.name+".get_trades", err)
		}
		trades = append(trades, t)
	}

	// A full page means there are older trades before the oldest row;
	// the caller re-windows end_time to that row's timestamp.
	return TradePage{Trades: trades, HasMore: len(raw) >= ftxPageLimit}, nil
}

func (f *FTX) normalizeTrade(symbol string, rt ftxTrade) (model.Trade, error) {
	ts, err := time.Parse(time.RFC3339Nano, rt.Time)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade %d time %q: %w", rt.ID, rt.Time, err)
	}
	side := model.Sell
	if rt.Side == "buy" {
		side = model.Buy
	}
	return model.Trade{
		Symbol:      symbol,
		TradeID:     strconv.FormatInt(rt.ID, 10),
		Price:       decimal.NewFromFloat(rt.Price),
		Size:        decimal.NewFromFloat(rt.Size),
		Side:        side,
		Liquidation: rt.Liquidation,
		TS:          ts.UTC(),
	}, nil
}

type ftxCandle struct {
	StartTime string  `json:"startTime"`
	Time      float64 `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func (f *FTX) DailyCandle(ctx context.Context, symbol string, date time.Time) (model.DailyCandle, error) {
	day := model.DayStart(date)
	q := url.Values{}
	q.Set("resolution", "86400")
	q.Set("start_time", strconv.FormatInt(day.Unix(), 10))
	q.Set("end_time", strconv.FormatInt(day.Add(24*time.Hour).Unix()-1, 10))

	var rows []ftxCandle
	if err := f.get(ctx, f.name+".get_daily_candle", "/markets/"+symbol+"/candles", q, &rows); err != nil {
		return model.DailyCandle{}, err
	}
	for _, row := range rows {
		if int64(row.Time/1000) != day.Unix() {
			continue
		}
		return model.DailyCandle{
			Date:       day,
			Open:       decimal.NewFromFloat(row.Open),
			High:       decimal.NewFromFloat(row.High),
			Low:        decimal.NewFromFloat(row.Low),
			Close:      decimal.NewFromFloat(row.Close),
			Volume:     decimal.NewFromFloat(row.Volume),
			TradeCount: -1, // not reported by this exchange
		}, nil
	}
	return model.DailyCandle{}, newError(KindInvalidRequest, f.name+".get_daily_candle",
		fmt.Errorf("no daily candle for %s on %s", symbol, day.Format("2006-01-02")))
}

type ftxWSRequest struct {
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`
	Market  string `json:"market,omitempty"`
}

type ftxWSMessage struct {
	Channel string     `json:"channel"`
	Market  string     `json:"market"`
	Type    string     `json:"type"`
	Code    int        `json:"code"`
	Msg     string     `json:"msg"`
	Data    []ftxTrade `json:"data"`
}

// StreamTrades subscribes to the trades channel for every symbol and
// pushes normalized trades into out until ctx is cancelled.
func (f *FTX) StreamTrades(ctx context.Context, symbols []string, out chan<- model.Trade) error {
	delay := wsReconnectBase
	for {
		if err := f.streamOnce(ctx, symbols, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[%s-ws] session ended: %v, reconnecting in %v", f.name, err, delay)
			if f.OnReconnect != nil {
				f.OnReconnect()
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

func (f *FTX) streamOnce(ctx context.Context, symbols []string, out chan<- model.Trade) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	for _, sym := range symbols {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ftxWSRequest{Op: "subscribe", Channel: "trades", Market: sym}); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	log.Printf("[%s-ws] connected, subscribed to %d markets", f.name, len(symbols))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(ftxPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(ftxWSRequest{Op: "ping"}); err != nil {
					conn.Close()
					return
				}
			}
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

		var m ftxWSMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Printf("[%s-ws] skipping unparsable frame: %v", f.name, err)
			continue
		}
		if m.Type == "error" {
			return fmt.Errorf("ws error code=%d msg=%s", m.Code, m.Msg)
		}
		if m.Channel != "trades" || m.Type != "update" {
			continue
		}
		for _, rt := range m.Data {
			t, err := f.normalizeTrade(m.Market, rt)
			if err != nil {
				log.Printf("[%s-ws] skipping malformed trade: %v", f.name, err)
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (f *FTX) get(ctx context.Context, op, path string, q url.Values, result interface{}) error {
	u := f.restURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var env ftxEnvelope
	if _, err := getJSON(ctx, f.client, op, u, &env); err != nil {
		return err
	}
	if !env.Success {
		return newError(KindInvalidRequest, op, fmt.Errorf("exchange error: %s", env.Error))
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return newError(KindSchemaMismatch, op, err)
	}
	return nil
}
