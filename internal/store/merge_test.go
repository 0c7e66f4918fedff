package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"eldorado/internal/model"
)

func trade(id string, ts time.Time, price string) model.Trade {
	return model.Trade{
		TradeID: id,
		TS:      ts,
		Price:   decimal.RequireFromString(price),
		Size:    decimal.RequireFromString("1"),
		Side:    model.Buy,
	}
}

func TestMergeTrades_WSWinsOnConflict(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()

	rest := []model.Trade{trade("42", base, "100")}
	ws := []model.Trade{trade("42", base.Add(50*time.Millisecond), "100")}

	merged := MergeTrades(rest, ws)

	if len(merged) != 1 {
		t.Fatalf("expected 1 trade after dedup, got %d", len(merged))
	}
	if !merged[0].TS.Equal(ws[0].TS) {
		t.Errorf("expected ws timestamp %v to win, got %v", ws[0].TS, merged[0].TS)
	}
}

func TestMergeTrades_SortsByTimestampThenID(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()

	rest := []model.Trade{
		trade("1001", base.Add(2*time.Second), "10"),
		trade("999", base, "10"),
	}
	ws := []model.Trade{
		trade("1000", base.Add(time.Second), "10"),
		trade("1002", base.Add(2*time.Second), "10"),
	}

	merged := MergeTrades(rest, ws)

	want := []string{"999", "1000", "1001", "1002"}
	if len(merged) != len(want) {
		t.Fatalf("expected %d trades, got %d", len(want), len(merged))
	}
	for i, id := range want {
		if merged[i].TradeID != id {
			t.Errorf("position %d: expected id %s, got %s", i, id, merged[i].TradeID)
		}
	}
}

func TestMergeTrades_Idempotent(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	rest := []model.Trade{trade("1", base, "10"), trade("2", base.Add(time.Second), "11")}
	ws := []model.Trade{trade("2", base.Add(time.Second), "11"), trade("3", base.Add(2*time.Second), "12")}

	once := MergeTrades(rest, ws)
	twice := MergeTrades(once, nil)

	if len(once) != len(twice) {
		t.Fatalf("merge not idempotent: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].TradeID != twice[i].TradeID {
			t.Errorf("position %d differs: %s vs %s", i, once[i].TradeID, twice[i].TradeID)
		}
	}
}

func TestInBucket(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	trades := []model.Trade{
		trade("1", base.Add(-time.Second), "10"),
		trade("2", base, "10"),
		trade("3", base.Add(899*time.Second), "10"),
		trade("4", base.Add(900*time.Second), "10"),
	}

	in := InBucket(trades, base, base.Add(900*time.Second))

	if len(in) != 2 {
		t.Fatalf("expected 2 trades inside bucket, got %d", len(in))
	}
	if in[0].TradeID != "2" || in[1].TradeID != "3" {
		t.Errorf("expected trades 2 and 3, got %s and %s", in[0].TradeID, in[1].TradeID)
	}
}
