package model

import (
	"fmt"
	"time"
)

// Timeframe is a candle bucket duration. The token form (t15, h01, d01)
// is used in table names and in the markets registry.
type Timeframe string

const (
	TF01 Timeframe = "t01" // 1 minute
	TF05 Timeframe = "t05" // 5 minutes
	TF15 Timeframe = "t15" // 15 minutes
	TF30 Timeframe = "t30" // 30 minutes
	H01  Timeframe = "h01" // 1 hour
	H04  Timeframe = "h04" // 4 hours
	D01  Timeframe = "d01" // 1 day
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF01: time.Minute,
	TF05: 5 * time.Minute,
	TF15: 15 * time.Minute,
	TF30: 30 * time.Minute,
	H01:  time.Hour,
	H04:  4 * time.Hour,
	D01:  24 * time.Hour,
}

// ParseTimeframe converts a timeframe token into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the bucket duration for this timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Seconds returns the bucket duration in whole seconds.
func (tf Timeframe) Seconds() int64 {
	return int64(timeframeDurations[tf] / time.Second)
}

// Table returns the timeframe token used in candle table names,
// e.g. "t15" in candles_t15_gdax. The daily table uses "01d".
func (tf Timeframe) Table() string {
	if tf == D01 {
		return "01d"
	}
	return string(tf)
}

// BucketStart aligns ts down to the start of its bucket in UTC.
func (tf Timeframe) BucketStart(ts time.Time) time.Time {
	return ts.UTC().Truncate(tf.Duration())
}

// BucketEnd returns the exclusive end of the bucket containing ts.
func (tf Timeframe) BucketEnd(ts time.Time) time.Time {
	return tf.BucketStart(ts).Add(tf.Duration())
}

// DayStart aligns ts down to midnight UTC.
func DayStart(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthStart aligns ts down to the first of its month, UTC.
func MonthStart(ts time.Time) time.Time {
	y, m, _ := ts.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// NextMonth returns the first instant of the month after ts.
func NextMonth(ts time.Time) time.Time {
	return MonthStart(ts).AddDate(0, 1, 0)
}
