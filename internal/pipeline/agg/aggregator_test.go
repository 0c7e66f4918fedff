package agg

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"eldorado/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAggregate_BasicCandle(t *testing.T) {
	bucket := time.Unix(1700000000, 0).UTC()
	id := uuid.New()

	trades := []model.Trade{
		{MarketID: id, TradeID: "1", TS: bucket.Add(10 * time.Second), Price: dec("10"), Size: dec("1"), Side: model.Buy},
		{MarketID: id, TradeID: "2", TS: bucket.Add(100 * time.Second), Price: dec("12"), Size: dec("2"), Side: model.Sell},
		{MarketID: id, TradeID: "3", TS: bucket.Add(500 * time.Second), Price: dec("11"), Size: dec("0.5"), Side: model.Sell, Liquidation: true},
	}

	c := Aggregate(trades, bucket, model.TF15)

	if !c.Open.Equal(dec("10")) {
		t.Errorf("expected open=10, got %s", c.Open)
	}
	if !c.High.Equal(dec("12")) {
		t.Errorf("expected high=12, got %s", c.High)
	}
	if !c.Low.Equal(dec("10")) {
		t.Errorf("expected low=10, got %s", c.Low)
	}
	if !c.Close.Equal(dec("11")) {
		t.Errorf("expected close=11, got %s", c.Close)
	}
	if !c.Volume.Equal(dec("3.5")) {
		t.Errorf("expected volume=3.5, got %s", c.Volume)
	}
	if !c.VolumeNet.Equal(dec("-1.5")) {
		t.Errorf("expected volume_net=-1.5, got %s", c.VolumeNet)
	}
	if !c.VolumeLiq.Equal(dec("0.5")) {
		t.Errorf("expected volume_liq=0.5, got %s", c.VolumeLiq)
	}
	if !c.Value.Equal(dec("39.5")) {
		t.Errorf("expected value=39.5, got %s", c.Value)
	}
	if c.TradeCount != 3 {
		t.Errorf("expected trade_count=3, got %d", c.TradeCount)
	}
	if c.LiqCount != 1 {
		t.Errorf("expected liq_count=1, got %d", c.LiqCount)
	}
	if c.FirstTradeID != "1" || c.LastTradeID != "3" {
		t.Errorf("expected first/last ids 1/3, got %s/%s", c.FirstTradeID, c.LastTradeID)
	}
	if c.Validated {
		t.Error("fresh candle must not be validated")
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	bucket := time.Unix(1700000000, 0).UTC()
	trades := []model.Trade{
		{TradeID: "1", TS: bucket.Add(time.Second), Price: dec("100.5"), Size: dec("0.25"), Side: model.Buy},
		{TradeID: "2", TS: bucket.Add(2 * time.Second), Price: dec("99.75"), Size: dec("1.5"), Side: model.Sell},
	}

	a := Aggregate(trades, bucket, model.TF15)
	b := Aggregate(trades, bucket, model.TF15)
	if !a.Volume.Equal(b.Volume) || !a.Value.Equal(b.Value) || !a.Open.Equal(b.Open) || !a.Close.Equal(b.Close) {
		t.Error("same sorted input must yield the same candle")
	}
}

func TestAggregate_InvariantOHLC(t *testing.T) {
	bucket := time.Unix(1700000000, 0).UTC()
	trades := []model.Trade{
		{TradeID: "1", TS: bucket.Add(time.Second), Price: dec("50"), Size: dec("1"), Side: model.Buy},
		{TradeID: "2", TS: bucket.Add(2 * time.Second), Price: dec("55"), Size: dec("1"), Side: model.Buy},
		{TradeID: "3", TS: bucket.Add(3 * time.Second), Price: dec("45"), Size: dec("1"), Side: model.Sell},
	}
	c := Aggregate(trades, bucket, model.TF15)

	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		t.Errorf("low %s must not exceed open %s / close %s", c.Low, c.Open, c.Close)
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		t.Errorf("high %s must not be below open %s / close %s", c.High, c.Open, c.Close)
	}
}

func TestForwardFill(t *testing.T) {
	bucket := time.Unix(1700000000, 0).UTC()
	id := uuid.New()
	prevClose := dec("100.25")

	c := ForwardFill(prevClose, bucket, id)

	for name, v := range map[string]decimal.Decimal{"open": c.Open, "high": c.High, "low": c.Low, "close": c.Close} {
		if !v.Equal(prevClose) {
			t.Errorf("expected %s=100.25, got %s", name, v)
		}
	}
	if !c.Volume.IsZero() {
		t.Errorf("expected volume=0, got %s", c.Volume)
	}
	if c.TradeCount != 0 {
		t.Errorf("expected trade_count=0, got %d", c.TradeCount)
	}
	if c.FirstTradeID != "ff" || c.LastTradeID != "ff" {
		t.Errorf("expected sentinel trade ids, got %s/%s", c.FirstTradeID, c.LastTradeID)
	}
	if !c.FirstTradeTS.Equal(bucket) || !c.LastTradeTS.Equal(bucket) {
		t.Errorf("expected trade timestamps at bucket start, got %v/%v", c.FirstTradeTS, c.LastTradeTS)
	}
	if !c.IsForwardFill() {
		t.Error("zero trade count must read as forward-fill")
	}
	if c.Validated {
		t.Error("forward-fills are always emitted unvalidated")
	}
}

func TestSumDay(t *testing.T) {
	day := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := []model.Candle{
		{Datetime: day, Open: dec("10"), High: dec("12"), Low: dec("9"), Close: dec("11"), Volume: dec("5"), TradeCount: 3},
		{Datetime: day.Add(15 * time.Minute), Open: dec("11"), High: dec("15"), Low: dec("11"), Close: dec("14"), Volume: dec("2.5"), TradeCount: 2},
		{Datetime: day.Add(30 * time.Minute), Open: dec("14"), High: dec("14"), Low: dec("8"), Close: dec("9"), Volume: dec("1"), TradeCount: 1},
	}

	dc := SumDay(candles)

	if !dc.Open.Equal(dec("10")) || !dc.Close.Equal(dec("9")) {
		t.Errorf("expected open=10 close=9, got %s/%s", dc.Open, dc.Close)
	}
	if !dc.High.Equal(dec("15")) || !dc.Low.Equal(dec("8")) {
		t.Errorf("expected high=15 low=8, got %s/%s", dc.High, dc.Low)
	}
	if !dc.Volume.Equal(dec("8.5")) {
		t.Errorf("expected volume=8.5, got %s", dc.Volume)
	}
	if dc.TradeCount != 6 {
		t.Errorf("expected trade_count=6, got %d", dc.TradeCount)
	}
	if !dc.Date.Equal(day) {
		t.Errorf("expected date %v, got %v", day, dc.Date)
	}
}
