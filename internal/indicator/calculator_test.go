package indicator

import (
	"math"
	"testing"
	"time"

	"backcast/internal/market"
)

func makeCandles(closes ...float64) []market.Candle {
	base := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    10,
		}
	}
	return out
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestCompute_EmptyInput(t *testing.T) {
	if _, err := Compute(nil, DefaultParams()); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestCompute_RejectsInvertedPeriods(t *testing.T) {
	_, err := Compute(makeCandles(rising(40)...), Params{FastPeriod: 26, SlowPeriod: 12})
	if err == nil {
		t.Fatalf("expected error when fast >= slow")
	}
}

func TestCompute_ShortWindowYieldsNaN(t *testing.T) {
	res, err := Compute(makeCandles(rising(10)...), DefaultParams())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if res.Close != 109 {
		t.Errorf("unexpected close %f", res.Close)
	}
	if res.PreviousClose != 108 {
		t.Errorf("unexpected previous close %f", res.PreviousClose)
	}
	if !math.IsNaN(res.SMASlow) || !math.IsNaN(res.MACD.Histogram) || !math.IsNaN(res.RSI) {
		t.Errorf("expected NaN for indicators without enough history, got %+v", res)
	}
}

func TestCompute_MACDBecomesAvailableAtLookback(t *testing.T) {
	need := MACDLookback(26, 9)
	if need != 34 {
		t.Fatalf("unexpected lookback %d", need)
	}

	res, err := Compute(makeCandles(rising(need-1)...), DefaultParams())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if Valid(res.MACD.Histogram) {
		t.Errorf("expected MACD unavailable below lookback, got %f", res.MACD.Histogram)
	}

	res, err = Compute(makeCandles(rising(need)...), DefaultParams())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if !Valid(res.MACD.Value) || !Valid(res.MACD.Signal) {
		t.Fatalf("expected MACD available at lookback, got %+v", res.MACD)
	}
	if res.MACD.Value <= 0 {
		t.Errorf("expected positive MACD on a rising series, got %f", res.MACD.Value)
	}
	if Valid(res.MACD.PrevHistogram) {
		t.Errorf("expected previous histogram unavailable at exact lookback")
	}
}

func TestCompute_SMAValues(t *testing.T) {
	res, err := Compute(makeCandles(rising(30)...), Params{FastPeriod: 5, SlowPeriod: 10})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	// 最后5根为 125..129
	if math.Abs(res.SMAFast-127) > 1e-9 {
		t.Errorf("unexpected fast SMA %f", res.SMAFast)
	}
	if math.Abs(res.SMASlow-124.5) > 1e-9 {
		t.Errorf("unexpected slow SMA %f", res.SMASlow)
	}
	if math.Abs(res.PrevSMAFast-126) > 1e-9 {
		t.Errorf("unexpected previous fast SMA %f", res.PrevSMAFast)
	}
	if res.VolumeRatio != 1 {
		t.Errorf("expected flat volume ratio 1, got %f", res.VolumeRatio)
	}
}
