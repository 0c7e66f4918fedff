package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eldorado/internal/model"
)

func testFTX(srv *httptest.Server) *FTX {
	return &FTX{name: "ftx", restURL: srv.URL, wsURL: "", client: srv.Client()}
}

func TestFTXTrades_UnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/BTC-PERP/trades" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"result":[
			{"id":101,"liquidation":true,"price":41000.5,"side":"sell","size":0.75,"time":"2022-03-01T00:00:02+00:00"},
			{"id":100,"liquidation":false,"price":41000.0,"side":"buy","size":1.5,"time":"2022-03-01T00:00:01+00:00"}
		]}`))
	}))
	defer srv.Close()

	page, err := testFTX(srv).Trades(context.Background(), "BTC-PERP", Pagination{})
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(page.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(page.Trades))
	}
	if page.HasMore {
		t.Error("a short page means history is exhausted")
	}

	liq := page.Trades[0]
	if liq.TradeID != "101" || !liq.Liquidation || liq.Side != model.Sell {
		t.Errorf("liquidation trade mangled: %+v", liq)
	}
	want := time.Date(2022, 3, 1, 0, 0, 2, 0, time.UTC)
	if !liq.TS.Equal(want) {
		t.Errorf("expected ts %v, got %v", want, liq.TS)
	}
}

func TestFTXTrades_ExchangeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"No such market: NOPE-PERP"}`))
	}))
	defer srv.Close()

	_, err := testFTX(srv).Trades(context.Background(), "NOPE-PERP", Pagination{})
	if KindOf(err) != KindInvalidRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestFTXDailyCandle(t *testing.T) {
	day := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("resolution"); got != "86400" {
			t.Errorf("expected daily resolution, got %s", got)
		}
		w.Write([]byte(`{"success":true,"result":[
			{"startTime":"2022-03-01T00:00:00+00:00","time":1646092800000.0,
			 "open":43000.0,"high":44800.0,"low":42500.0,"close":44400.0,"volume":987654.25}
		]}`))
	}))
	defer srv.Close()

	dc, err := testFTX(srv).DailyCandle(context.Background(), "BTC-PERP", day)
	if err != nil {
		t.Fatalf("daily candle: %v", err)
	}
	if dc.Volume.String() != "987654.25" {
		t.Errorf("expected volume 987654.25, got %s", dc.Volume)
	}
	if !dc.Date.Equal(day) {
		t.Errorf("expected date %v, got %v", day, dc.Date)
	}
}

func TestFTXListMarkets_Types(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"result":[
			{"name":"BTC/USD","baseCurrency":"BTC","quoteCurrency":"USD","type":"spot","enabled":true,"sizeIncrement":0.0001,"minProvideSize":0.001},
			{"name":"BTC-PERP","underlying":"BTC","type":"future","enabled":true,"sizeIncrement":0.0001,"minProvideSize":0.001},
			{"name":"BTC-0325","underlying":"BTC","type":"future","enabled":true,"sizeIncrement":0.0001,"minProvideSize":0.001}
		]}`))
	}))
	defer srv.Close()

	infos, err := testFTX(srv).ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("list markets: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 markets, got %d", len(infos))
	}
	if infos[0].Type != model.Spot {
		t.Errorf("BTC/USD must be spot, got %s", infos[0].Type)
	}
	if infos[1].Type != model.Perpetual {
		t.Errorf("BTC-PERP must be perpetual, got %s", infos[1].Type)
	}
	if infos[2].Type != model.Future {
		t.Errorf("BTC-0325 must be future, got %s", infos[2].Type)
	}
}
