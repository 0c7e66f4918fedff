// Package agg builds OHLCV candles from ordered trade slices. It is
// pure computation: no I/O, no suspension, deterministic for a given
// input ordering.
package agg

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"eldorado/internal/model"
)

// Aggregate folds trades into the candle for the bucket starting at
// bucketStart. Preconditions: trades are sorted ascending by
// (timestamp, trade_id), non-empty, and all fall inside
// [bucketStart, bucketStart+timeframe).
func Aggregate(trades []model.Trade, bucketStart time.Time, tf model.Timeframe) model.Candle {
	first := trades[0]
	last := trades[len(trades)-1]

	c := model.Candle{
		MarketID: first.MarketID,
		Datetime: bucketStart.UTC(),
		Open:     first.Price,
		High:     first.Price,
		Low:      first.Price,
		Close:    last.Price,

		Volume:    decimal.Zero,
		VolumeNet: decimal.Zero,
		VolumeLiq: decimal.Zero,
		Value:     decimal.Zero,

		FirstTradeTS: first.TS,
		FirstTradeID: first.TradeID,
		LastTradeTS:  last.TS,
		LastTradeID:  last.TradeID,
	}

	for i := range trades {
		t := &trades[i]
		if t.Price.GreaterThan(c.High) {
			c.High = t.Price
		}
		if t.Price.LessThan(c.Low) {
			c.Low = t.Price
		}
		c.Volume = c.Volume.Add(t.Size)
		if t.Side == model.Buy {
			c.VolumeNet = c.VolumeNet.Add(t.Size)
		} else {
			c.VolumeNet = c.VolumeNet.Sub(t.Size)
		}
		if t.Liquidation {
			c.VolumeLiq = c.VolumeLiq.Add(t.Size)
			c.LiqCount++
		}
		c.Value = c.Value.Add(t.Value())
		c.TradeCount++
	}
	return c
}

// ForwardFill synthesizes the candle for a bucket with no trades: OHLC
// all equal the previous candle's close, volumes zero, and the sentinel
// trade id. Forward-fills are always emitted unvalidated.
func ForwardFill(prevClose decimal.Decimal, bucketStart time.Time, marketID uuid.UUID) model.Candle {
	return model.Candle{
		MarketID: marketID,
		Datetime: bucketStart.UTC(),
		Open:     prevClose,
		High:     prevClose,
		Low:      prevClose,
		Close:    prevClose,

		Volume:    decimal.Zero,
		VolumeNet: decimal.Zero,
		VolumeLiq: decimal.Zero,
		Value:     decimal.Zero,

		FirstTradeTS: bucketStart.UTC(),
		FirstTradeID: model.ForwardFillID,
		LastTradeTS:  bucketStart.UTC(),
		LastTradeID:  model.ForwardFillID,
	}
}

// SumDay folds a day's base-timeframe candles into the day's OHLCV for
// comparison against the exchange daily candle. Candles must be sorted
// ascending by bucket start; forward-fills contribute only to OHLC.
func SumDay(candles []model.Candle) model.DailyCandle {
	first := candles[0]
	last := candles[len(candles)-1]

	dc := model.DailyCandle{
		MarketID: first.MarketID,
		Date:     model.DayStart(first.Datetime),
		Open:     first.Open,
		High:     first.High,
		Low:      first.Low,
		Close:    last.Close,
		Volume:   decimal.Zero,
	}
	for i := range candles {
		c := &candles[i]
		if c.High.GreaterThan(dc.High) {
			dc.High = c.High
		}
		if c.Low.LessThan(dc.Low) {
			dc.Low = c.Low
		}
		dc.Volume = dc.Volume.Add(c.Volume)
		dc.TradeCount += c.TradeCount
	}
	return dc
}
