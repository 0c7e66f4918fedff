package model

import (
	"testing"
	"time"
)

func TestBucketStartAlignment(t *testing.T) {
	ts := time.Date(2022, 3, 1, 14, 37, 12, 0, time.UTC)

	got := TF15.BucketStart(ts)
	want := time.Date(2022, 3, 1, 14, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected bucket start %v, got %v", want, got)
	}
	if got.Unix()%TF15.Seconds() != 0 {
		t.Errorf("bucket start %v not aligned to %ds", got, TF15.Seconds())
	}

	end := TF15.BucketEnd(ts)
	if !end.Equal(want.Add(15 * time.Minute)) {
		t.Errorf("expected bucket end %v, got %v", want.Add(15*time.Minute), end)
	}
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("t15")
	if err != nil {
		t.Fatalf("t15 must parse: %v", err)
	}
	if tf.Duration() != 15*time.Minute {
		t.Errorf("expected 15m, got %v", tf.Duration())
	}
	if _, err := ParseTimeframe("t99"); err == nil {
		t.Error("t99 must not parse")
	}
}

func TestTimeframeTable(t *testing.T) {
	if TF15.Table() != "t15" {
		t.Errorf("expected t15, got %s", TF15.Table())
	}
	if D01.Table() != "01d" {
		t.Errorf("daily table token must be 01d, got %s", D01.Table())
	}
}

func TestMonthHelpers(t *testing.T) {
	ts := time.Date(2022, 12, 19, 8, 0, 0, 0, time.UTC)

	if got := MonthStart(ts); !got.Equal(time.Date(2022, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("month start: got %v", got)
	}
	if got := NextMonth(ts); !got.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("next month: got %v", got)
	}
	if got := DayStart(ts); !got.Equal(time.Date(2022, 12, 19, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day start: got %v", got)
	}
}

func TestTradeOrdering(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()

	a := Trade{TradeID: "999", TS: base}
	b := Trade{TradeID: "1000", TS: base}
	if !a.Before(&b) {
		t.Error("numeric ids must order 999 before 1000 at the same timestamp")
	}

	c := Trade{TradeID: "5", TS: base.Add(time.Second)}
	if !a.Before(&c) {
		t.Error("earlier timestamp must win regardless of id")
	}
}
