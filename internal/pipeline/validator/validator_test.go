package validator

import (
	"testing"

	"github.com/shopspring/decimal"

	"eldorado/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func daily(o, h, l, c, v string, count int64) model.DailyCandle {
	return model.DailyCandle{
		Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c),
		Volume: dec(v), TradeCount: count,
	}
}

func TestCompareDaily_Match(t *testing.T) {
	local := daily("10", "12", "9", "11", "1000.00000", 500)
	remote := daily("10", "12", "9", "11", "1000.00000", 500)

	if v := CompareDaily(local, remote); !v.Match {
		t.Errorf("expected match, got mismatch: %s", v.Reason)
	}
}

func TestCompareDaily_VolumeIsExact(t *testing.T) {
	local := daily("10", "12", "9", "11", "1000.00001", -1)
	remote := daily("10", "12", "9", "11", "1000.00000", -1)

	v := CompareDaily(local, remote)
	if v.Match {
		t.Error("volume 1000.00001 vs 1000.00000 must mismatch under the exact-equality rule")
	}
}

func TestCompareDaily_OHLCTolerance(t *testing.T) {
	// Inside 1e-8 relative: 10000 * (1 + 5e-9).
	local := daily("10000.00005", "12000", "9000", "11000", "100", -1)
	remote := daily("10000", "12000", "9000", "11000", "100", -1)
	if v := CompareDaily(local, remote); !v.Match {
		t.Errorf("drift within 1e-8 must pass, got: %s", v.Reason)
	}

	// Outside 1e-8 relative: 10000 * (1 + 2e-8).
	local = daily("10000.0002", "12000", "9000", "11000", "100", -1)
	if v := CompareDaily(local, remote); v.Match {
		t.Error("drift beyond 1e-8 must fail")
	}
}

func TestCompareDaily_TradeCountSkippedWhenUnreported(t *testing.T) {
	local := daily("10", "12", "9", "11", "100", 1234)
	remote := daily("10", "12", "9", "11", "100", -1)

	if v := CompareDaily(local, remote); !v.Match {
		t.Errorf("unreported exchange count must be skipped, got: %s", v.Reason)
	}

	remote.TradeCount = 1233
	if v := CompareDaily(local, remote); v.Match {
		t.Error("reported count mismatch must fail")
	}
}

func TestWithinTolerance_ZeroReference(t *testing.T) {
	if !withinTolerance(decimal.Zero, decimal.Zero) {
		t.Error("zero vs zero must pass")
	}
	if withinTolerance(dec("0.000001"), decimal.Zero) {
		t.Error("nonzero vs zero reference must fail")
	}
}
