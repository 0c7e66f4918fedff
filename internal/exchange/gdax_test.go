package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"eldorado/internal/model"
)

func testGDAX(srv *httptest.Server) *GDAX {
	return &GDAX{restURL: srv.URL, wsURL: "", client: srv.Client()}
}

func TestGDAXTrades_NormalizesAndPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/BTC-USD/trades" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "2" {
			t.Errorf("unexpected limit %s", r.URL.Query().Get("limit"))
		}
		w.Header().Set("Cb-After", "73")
		w.Write([]byte(`[
			{"time":"2022-03-01T00:00:02.000000Z","trade_id":75,"price":"41000.50","size":"0.25","side":"buy"},
			{"time":"2022-03-01T00:00:01.000000Z","trade_id":74,"price":"40999.00","size":"1.00","side":"sell"}
		]`))
	}))
	defer srv.Close()

	page, err := testGDAX(srv).Trades(context.Background(), "BTC-USD", Pagination{Limit: 2})
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(page.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(page.Trades))
	}
	if !page.HasMore || page.NextID != "73" {
		t.Errorf("expected continuation cursor 73, got hasMore=%v next=%q", page.HasMore, page.NextID)
	}

	first := page.Trades[0]
	if first.TradeID != "75" {
		t.Errorf("expected id 75, got %s", first.TradeID)
	}
	if first.Price.String() != "41000.5" {
		t.Errorf("expected price 41000.5, got %s", first.Price)
	}
	if first.Side != model.Buy {
		t.Errorf("expected buy, got %s", first.Side)
	}
	if first.Liquidation {
		t.Error("spot trades carry no liquidation flag")
	}
	want := time.Date(2022, 3, 1, 0, 0, 2, 0, time.UTC)
	if !first.TS.Equal(want) {
		t.Errorf("expected ts %v, got %v", want, first.TS)
	}
}

func TestGDAXTrades_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testGDAX(srv).Trades(context.Background(), "BTC-USD", Pagination{})
	if KindOf(err) != KindRateLimited {
		t.Fatalf("expected rate-limited, got %v", err)
	}
	if ra, ok := RetryAfter(err); !ok || ra != 3*time.Second {
		t.Errorf("expected retry-after 3s, got %v ok=%v", ra, ok)
	}
}

func TestGDAXDailyCandle_SelectsDay(t *testing.T) {
	day := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Rows are [time, low, high, open, close, volume]; an adjacent
		// day is included to check selection.
		w.Write([]byte(`[
			[` + strconv.FormatInt(day.AddDate(0, 0, -1).Unix(), 10) + `, 1, 2, 1, 2, 10],
			[` + strconv.FormatInt(day.Unix(), 10) + `, 39000, 42000, 40000, 41000, 1234.5]
		]`))
	}))
	defer srv.Close()

	dc, err := testGDAX(srv).DailyCandle(context.Background(), "BTC-USD", day.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("daily candle: %v", err)
	}
	if !dc.Date.Equal(day) {
		t.Errorf("expected date %v, got %v", day, dc.Date)
	}
	if dc.Open.String() != "40000" || dc.Low.String() != "39000" {
		t.Errorf("wrong row selected: open=%s low=%s", dc.Open, dc.Low)
	}
	if dc.TradeCount != -1 {
		t.Errorf("gdax reports no daily trade count, got %d", dc.TradeCount)
	}
}
