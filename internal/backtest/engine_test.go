package backtest

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"backcast/internal/market"
	"backcast/internal/strategy"
)

var scenarioCloses = []float64{100, 101, 102, 103, 104, 103, 102, 101, 100, 99}

var epoch = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

func makeSeries(closes []float64) market.Series {
	candles := make([]market.Candle, len(closes))
	for i, c := range closes {
		candles[i] = market.Candle{
			Timestamp: epoch.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1,
		}
	}
	return market.Series{Pair: "ETHUSD", IntervalMinutes: 240, Candles: candles}
}

// takeProfit 首步买入一次，收益严格超过阈值时卖出。
func takeProfit(threshold float64) strategy.Strategy {
	bought := false
	var entry float64
	return strategy.Func(func(_ context.Context, window []market.Candle, inPosition bool) (strategy.Decision, error) {
		price := window[len(window)-1].Close
		if !inPosition {
			if bought {
				return strategy.Hold, nil
			}
			bought = true
			entry = price
			return strategy.Buy, nil
		}
		if (price-entry)/entry > threshold {
			return strategy.Sell, nil
		}
		return strategy.Hold, nil
	})
}

func newEngine(t *testing.T, cfg Config, s strategy.Strategy) *Engine {
	t.Helper()
	if cfg.StartingCapital == 0 {
		cfg.StartingCapital = 1000
	}
	if cfg.WindowLength == 0 {
		cfg.WindowLength = 3
	}
	e, err := NewEngine(cfg, s, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	return e
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRun_ForcedLiquidationWhenThresholdNeverExceeded(t *testing.T) {
	res, err := newEngine(t, Config{}, takeProfit(0.02)).Run(context.Background(), makeSeries(scenarioCloses))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(res.Ledger) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Ledger))
	}
	trade := res.Ledger[0]
	if trade.ExitReason != ExitForcedLiquidation {
		t.Errorf("expected forced liquidation, got %s", trade.ExitReason)
	}
	if trade.EntryPrice != 102 || trade.ExitPrice != 99 {
		t.Errorf("unexpected entry/exit %f/%f", trade.EntryPrice, trade.ExitPrice)
	}
	if !trade.EntryTime.Equal(epoch.Add(8 * time.Hour)) {
		t.Errorf("unexpected entry time %s", trade.EntryTime)
	}
	if !trade.ExitTime.Equal(epoch.Add(36 * time.Hour)) {
		t.Errorf("unexpected exit time %s", trade.ExitTime)
	}
	if trade.Periods != 7 {
		t.Errorf("expected 7 held periods, got %d", trade.Periods)
	}
	if !almostEqual(trade.HighestGain, 2.0/102) {
		t.Errorf("unexpected highest gain %f", trade.HighestGain)
	}
	if !almostEqual(trade.MaxDrawdown, -3.0/102) {
		t.Errorf("unexpected max drawdown %f", trade.MaxDrawdown)
	}
	if !almostEqual(trade.PctChange, -3.0/102) {
		t.Errorf("unexpected pct change %f", trade.PctChange)
	}
	if want := 1000.0 / 102 * 99; !almostEqual(res.EndingCapital, want) {
		t.Errorf("ending capital = %f want %f", res.EndingCapital, want)
	}
	if !almostEqual(trade.CapitalAfter, res.EndingCapital) {
		t.Errorf("capital after %f differs from ending capital %f", trade.CapitalAfter, res.EndingCapital)
	}
	if trade.TimeHeld != 28*time.Hour {
		t.Errorf("unexpected time held %s", trade.TimeHeld)
	}
	if res.Steps != 8 {
		t.Errorf("expected 8 steps, got %d", res.Steps)
	}
}

func TestRun_StrategySellAboveThreshold(t *testing.T) {
	res, err := newEngine(t, Config{}, takeProfit(0.019)).Run(context.Background(), makeSeries(scenarioCloses))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(res.Ledger) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Ledger))
	}
	trade := res.Ledger[0]
	if trade.ExitReason != ExitStrategySell || trade.ExitPrice != 104 {
		t.Errorf("expected strategy sell at 104, got %s at %f", trade.ExitReason, trade.ExitPrice)
	}
	if trade.Periods != 1 {
		t.Errorf("expected 1 held period, got %d", trade.Periods)
	}
	if want := 1000.0 / 102 * 104; !almostEqual(res.EndingCapital, want) {
		t.Errorf("ending capital = %f want %f", res.EndingCapital, want)
	}
}

func TestRun_StopLossTriggersAtTriggerPrice(t *testing.T) {
	res, err := newEngine(t, Config{StopLossFraction: 0.01}, takeProfit(0.02)).Run(context.Background(), makeSeries(scenarioCloses))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(res.Ledger) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Ledger))
	}
	trade := res.Ledger[0]
	if !almostEqual(trade.StopLossPrice, 100.98) {
		t.Errorf("unexpected trigger price %f", trade.StopLossPrice)
	}
	if trade.ExitReason != ExitStopLoss {
		t.Fatalf("expected stop loss exit, got %s", trade.ExitReason)
	}
	if !almostEqual(trade.ExitPrice, 100.98) {
		t.Errorf("expected exit at trigger 100.98, got %f", trade.ExitPrice)
	}
	// 下标 7 的K线收盘 101，最低 100.5
	if !trade.ExitTime.Equal(epoch.Add(7 * 4 * time.Hour)) {
		t.Errorf("unexpected stop time %s", trade.ExitTime)
	}
	if !almostEqual(res.EndingCapital, 990) {
		t.Errorf("ending capital = %f want 990", res.EndingCapital)
	}
}

func TestRun_StopLossTakesPrecedenceOverSell(t *testing.T) {
	calls := 0
	s := strategy.Func(func(_ context.Context, window []market.Candle, inPosition bool) (strategy.Decision, error) {
		calls++
		if !inPosition {
			return strategy.Buy, nil
		}
		return strategy.Sell, nil
	})
	// 第二步最低价击穿止损
	series := makeSeries([]float64{100, 100, 95})
	series.Candles[2].Low = 90

	res, err := newEngine(t, Config{StopLossFraction: 0.02, WindowLength: 2}, s).Run(context.Background(), series)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("strategy should not be consulted on a stop-loss step, calls=%d", calls)
	}
	if len(res.Ledger) != 1 || res.Ledger[0].ExitReason != ExitStopLoss {
		t.Fatalf("expected single stop-loss trade, got %+v", res.Ledger)
	}
	if !almostEqual(res.Ledger[0].ExitPrice, 98) {
		t.Errorf("expected exit at 98, got %f", res.Ledger[0].ExitPrice)
	}
}

func TestRun_NeverTradingConservesCapital(t *testing.T) {
	res, err := newEngine(t, Config{StopLossFraction: 0.05}, strategy.Never{}).Run(context.Background(), makeSeries(scenarioCloses))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(res.Ledger) != 0 {
		t.Errorf("expected empty ledger, got %d trades", len(res.Ledger))
	}
	if res.EndingCapital != res.StartingCapital {
		t.Errorf("capital changed: %f -> %f", res.StartingCapital, res.EndingCapital)
	}
}

func TestRun_SellAndHoldWhileFlatAreNoOps(t *testing.T) {
	s := strategy.Func(func(_ context.Context, window []market.Candle, _ bool) (strategy.Decision, error) {
		if int(window[len(window)-1].Close)%2 == 0 {
			return strategy.Sell, nil
		}
		return strategy.Hold, nil
	})
	res, err := newEngine(t, Config{WindowLength: 2}, s).Run(context.Background(), makeSeries(scenarioCloses))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(res.Ledger) != 0 || res.EndingCapital != 1000 {
		t.Errorf("expected untouched capital, got %f with %d trades", res.EndingCapital, len(res.Ledger))
	}
}

func TestRun_AtMostOneOpenPosition(t *testing.T) {
	var inPositionSteps int
	s := strategy.Func(func(_ context.Context, _ []market.Candle, inPosition bool) (strategy.Decision, error) {
		if inPosition {
			inPositionSteps++
		}
		return strategy.Buy, nil
	})
	res, err := newEngine(t, Config{}, s).Run(context.Background(), makeSeries(scenarioCloses))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(res.Ledger) != 1 {
		t.Fatalf("expected exactly one trade, got %d", len(res.Ledger))
	}
	if res.Ledger[0].ExitReason != ExitForcedLiquidation {
		t.Errorf("expected forced liquidation, got %s", res.Ledger[0].ExitReason)
	}
	if inPositionSteps != 7 {
		t.Errorf("expected 7 in-position steps, got %d", inPositionSteps)
	}
	// 重复买入不累计持有周期
	if res.Ledger[0].Periods != 0 {
		t.Errorf("buy while in position must not count as hold, periods=%d", res.Ledger[0].Periods)
	}
}

func TestRun_WalksEveryWindowInclusive(t *testing.T) {
	var ends []time.Time
	s := strategy.Func(func(_ context.Context, window []market.Candle, _ bool) (strategy.Decision, error) {
		if len(window) != 4 {
			t.Fatalf("unexpected window length %d", len(window))
		}
		ends = append(ends, window[len(window)-1].Timestamp)
		return strategy.Hold, nil
	})
	series := makeSeries(scenarioCloses)
	if _, err := newEngine(t, Config{WindowLength: 4}, s).Run(context.Background(), series); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(ends) != 7 {
		t.Fatalf("expected 7 strategy calls, got %d", len(ends))
	}
	if last, _ := series.Last(); !ends[len(ends)-1].Equal(last.Timestamp) {
		t.Errorf("last window should end at final candle, got %s", ends[len(ends)-1])
	}
}

func TestRun_StrategyErrorAbortsRun(t *testing.T) {
	cause := errors.New("model offline")
	s := strategy.Func(func(_ context.Context, window []market.Candle, _ bool) (strategy.Decision, error) {
		if window[len(window)-1].Close == 104 {
			return strategy.Hold, cause
		}
		return strategy.Buy, nil
	})
	_, err := newEngine(t, Config{}, s).Run(context.Background(), makeSeries(scenarioCloses))
	if err == nil {
		t.Fatalf("expected strategy error")
	}
	if !errors.Is(err, ErrStrategy) {
		t.Errorf("expected ErrStrategy kind, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	var se *StrategyError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StrategyError, got %T", err)
	}
	if !se.Timestamp.Equal(epoch.Add(16 * time.Hour)) {
		t.Errorf("unexpected failing timestamp %s", se.Timestamp)
	}
}

func TestRun_InsufficientHistory(t *testing.T) {
	_, err := newEngine(t, Config{WindowLength: 5}, strategy.Never{}).Run(context.Background(), makeSeries([]float64{1, 2, 3}))
	if !errors.Is(err, market.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestRun_Deterministic(t *testing.T) {
	cfg := Config{StopLossFraction: 0.01}
	a, err := newEngine(t, cfg, takeProfit(0.02)).Run(context.Background(), makeSeries(scenarioCloses))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	b, err := newEngine(t, cfg, takeProfit(0.02)).Run(context.Background(), makeSeries(scenarioCloses))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !reflect.DeepEqual(a.Ledger, b.Ledger) {
		t.Errorf("ledgers differ between identical runs")
	}
}

func TestRun_EquityCurveAndMetrics(t *testing.T) {
	res, err := newEngine(t, Config{}, takeProfit(0.019)).Run(context.Background(), makeSeries(scenarioCloses))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(res.EquityCurve) != res.Steps+1 {
		t.Fatalf("expected %d equity points, got %d", res.Steps+1, len(res.EquityCurve))
	}
	if !almostEqual(res.EquityCurve[len(res.EquityCurve)-1], res.EndingCapital) {
		t.Errorf("final equity %f differs from ending capital %f", res.EquityCurve[len(res.EquityCurve)-1], res.EndingCapital)
	}
	if !almostEqual(res.Metrics.TotalReturn, res.EndingCapital/1000-1) {
		t.Errorf("unexpected total return %f", res.Metrics.TotalReturn)
	}
	if res.Metrics.MaxDrawdown != 0 {
		t.Errorf("expected no drawdown before the sell, got %f", res.Metrics.MaxDrawdown)
	}
}

func TestNewEngine_Validation(t *testing.T) {
	if _, err := NewEngine(Config{StartingCapital: 1000, WindowLength: 3}, nil, nil); err == nil {
		t.Errorf("expected error for nil strategy")
	}
	if _, err := NewEngine(Config{StartingCapital: 0, WindowLength: 3}, strategy.Never{}, nil); err == nil {
		t.Errorf("expected error for zero capital")
	}
	if _, err := NewEngine(Config{StartingCapital: 1, StopLossFraction: 1, WindowLength: 3}, strategy.Never{}, nil); err == nil {
		t.Errorf("expected error for stop loss of 1")
	}
	macd, err := strategy.NewMACD(12, 26, 9)
	if err != nil {
		t.Fatalf("NewMACD: %v", err)
	}
	if _, err := NewEngine(Config{StartingCapital: 1000, WindowLength: 26}, macd, nil); err == nil {
		t.Errorf("expected error for window below strategy minimum")
	}
	if _, err := NewEngine(Config{StartingCapital: 1000, WindowLength: 34}, macd, nil); err != nil {
		t.Errorf("unexpected error at strategy minimum: %v", err)
	}
}
