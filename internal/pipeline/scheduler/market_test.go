package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"eldorado/internal/exchange"
	"eldorado/internal/model"
)

// fakeClient stubs the exchange capability set for gap-closure tests.
type fakeClient struct {
	monotonic bool
}

func (f *fakeClient) Name() string         { return "fake" }
func (f *fakeClient) IDsMonotonic() bool   { return f.monotonic }
func (f *fakeClient) PageDescending() bool { return true }

func (f *fakeClient) ListMarkets(ctx context.Context) ([]exchange.MarketInfo, error) {
	return nil, nil
}
func (f *fakeClient) Trades(ctx context.Context, symbol string, p exchange.Pagination) (exchange.TradePage, error) {
	return exchange.TradePage{}, nil
}
func (f *fakeClient) DailyCandle(ctx context.Context, symbol string, date time.Time) (model.DailyCandle, error) {
	return model.DailyCandle{}, nil
}
func (f *fakeClient) StreamTrades(ctx context.Context, symbols []string, out chan<- model.Trade) error {
	return nil
}

func testRunner(monotonic bool) *marketRunner {
	s := &Scheduler{Client: &fakeClient{monotonic: monotonic}}
	m := model.Market{ID: uuid.New(), Exchange: "fake", Symbol: "BTC-USD", Timeframe: model.TF15}
	return newMarketRunner(s, m)
}

func TestContiguous_MonotonicIDs(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	r := testRunner(true)
	r.detail.LastTradeID = "999"
	r.detail.LastTradeTS = base

	first := model.Trade{TradeID: "1000", TS: base.Add(time.Second)}
	if !r.contiguous(first) {
		t.Error("id 999 followed by 1000 is contiguous")
	}

	first = model.Trade{TradeID: "1005", TS: base.Add(time.Second)}
	if r.contiguous(first) {
		t.Error("ids 1000-1004 are missing, gap must stay open")
	}

	// After the gap fetch extends the cursor to 1004, it closes.
	r.detail.LastTradeID = "1004"
	if !r.contiguous(first) {
		t.Error("cursor at 1004 reaches ws trade 1005")
	}
}

func TestContiguous_TimestampFallback(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	r := testRunner(false)
	r.detail.LastTradeID = "abc"
	r.detail.LastTradeTS = base

	first := model.Trade{TradeID: "def", TS: base.Add(time.Minute)}
	if r.contiguous(first) {
		t.Error("rest cursor a minute behind the ws trade is not contiguous")
	}

	r.detail.LastTradeTS = base.Add(time.Minute)
	if !r.contiguous(first) {
		t.Error("overlapping timestamps must close the gap")
	}
}

func TestStateNew_RecordsHorizon(t *testing.T) {
	r := testRunner(true)
	r.s.Cfg.HorizonDays = 90
	r.s.Now = func() time.Time { return time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC) }

	// stateNew writes through the detail store; with no store this only
	// checks the computed horizon, using the same expression stateNew uses.
	start := r.m.Timeframe.BucketStart(r.s.Now().UTC().AddDate(0, 0, -r.s.Cfg.HorizonDays))
	want := time.Date(2022, 3, 3, 12, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("expected horizon %v, got %v", want, start)
	}
	if start.Unix()%r.m.Timeframe.Seconds() != 0 {
		t.Error("horizon must be bucket-aligned")
	}
}
