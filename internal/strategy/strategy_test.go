package strategy

import (
	"context"
	"testing"
	"time"

	"backcast/internal/config"
	"backcast/internal/market"
)

func candles(closes ...float64) []market.Candle {
	base := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Timestamp: base.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestParseDecision(t *testing.T) {
	cases := map[string]Decision{"buy": Buy, " SELL ": Sell, "Hold": Hold, "pass": Hold}
	for in, want := range cases {
		got, err := ParseDecision(in)
		if err != nil {
			t.Fatalf("ParseDecision(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseDecision(%q) = %s want %s", in, got, want)
		}
	}
	if _, err := ParseDecision("short"); err == nil {
		t.Errorf("expected error for unknown decision")
	}
}

func TestRequiredWindow(t *testing.T) {
	if got := RequiredWindow(BuyAndHold{}); got != 1 {
		t.Errorf("expected default window 1, got %d", got)
	}
	m, err := NewMACD(0, 0, 0)
	if err != nil {
		t.Fatalf("NewMACD: %v", err)
	}
	if got := RequiredWindow(m); got != 34 {
		t.Errorf("expected MACD window 34, got %d", got)
	}
	s, err := NewSMACross(5, 50)
	if err != nil {
		t.Fatalf("NewSMACross: %v", err)
	}
	if got := RequiredWindow(s); got != 50 {
		t.Errorf("expected SMA window 50, got %d", got)
	}
}

func TestMACD_TrendDecisions(t *testing.T) {
	m, err := NewMACD(12, 26, 9)
	if err != nil {
		t.Fatalf("NewMACD: %v", err)
	}
	ctx := context.Background()

	up := candles(ramp(100, 1, 40)...)
	if d, err := m.Decide(ctx, up, false); err != nil || d != Buy {
		t.Errorf("expected BUY on uptrend while flat, got %s (%v)", d, err)
	}
	if d, err := m.Decide(ctx, up, true); err != nil || d != Hold {
		t.Errorf("expected HOLD on uptrend in position, got %s (%v)", d, err)
	}

	// 先涨后急跌，MACD 跌破信号线
	series := append(ramp(100, 1, 30), ramp(128, -3, 10)...)
	down := candles(series...)
	if d, err := m.Decide(ctx, down, true); err != nil || d != Sell {
		t.Errorf("expected SELL after reversal in position, got %s (%v)", d, err)
	}
	if d, err := m.Decide(ctx, down, false); err != nil || d != Hold {
		t.Errorf("expected HOLD after reversal while flat, got %s (%v)", d, err)
	}
}

func TestMACD_ShortWindowFails(t *testing.T) {
	m, err := NewMACD(12, 26, 9)
	if err != nil {
		t.Fatalf("NewMACD: %v", err)
	}
	if _, err := m.Decide(context.Background(), candles(ramp(100, 1, 20)...), false); err == nil {
		t.Fatalf("expected error for short window")
	}
}

func TestSMACross_Decisions(t *testing.T) {
	s, err := NewSMACross(3, 6)
	if err != nil {
		t.Fatalf("NewSMACross: %v", err)
	}
	ctx := context.Background()

	if d, _ := s.Decide(ctx, candles(1, 2, 3, 4, 5, 6), false); d != Buy {
		t.Errorf("expected BUY on rising window, got %s", d)
	}
	if d, _ := s.Decide(ctx, candles(6, 5, 4, 3, 2, 1), true); d != Sell {
		t.Errorf("expected SELL on falling window, got %s", d)
	}
	if d, _ := s.Decide(ctx, candles(6, 5, 4, 3, 2, 1), false); d != Hold {
		t.Errorf("expected HOLD on falling window while flat, got %s", d)
	}
}

func TestBuild(t *testing.T) {
	for _, name := range []string{"macd", "SMA_CROSS", "buy_and_hold", "never"} {
		if _, err := Build(config.StrategyConfig{Name: name}); err != nil {
			t.Errorf("Build(%q) error: %v", name, err)
		}
	}
	if _, err := Build(config.StrategyConfig{Name: "ai"}); err == nil {
		t.Errorf("expected error for strategy not built by factory")
	}
	if _, err := Build(config.StrategyConfig{Name: "macd", FastPeriod: 30, SlowPeriod: 10}); err == nil {
		t.Errorf("expected error for inverted MACD periods")
	}
}

func TestFuncAdapter(t *testing.T) {
	var seen bool
	f := Func(func(_ context.Context, window []market.Candle, inPosition bool) (Decision, error) {
		seen = inPosition
		return Sell, nil
	})
	d, err := f.Decide(context.Background(), candles(1), true)
	if err != nil || d != Sell || !seen {
		t.Fatalf("unexpected adapter result %s %v %v", d, err, seen)
	}
}
