package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"backcast/internal/config"
	"backcast/internal/market"
	"backcast/internal/monitor"
	"backcast/internal/series"
	"backcast/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		App: config.AppConfig{Environment: "test"},
		Backtest: config.BacktestConfig{
			Name:            "hold_eth_1h",
			SymbolPair:      "ETHUSD",
			IntervalMinutes: 120,
			StartDate:       "2021-01-01",
			StartingCapital: 1000,
			WindowLength:    3,
		},
		Data:     config.DataConfig{Dir: filepath.Join(root, "candles"), NativeIntervals: []int{1, 60, 1440}},
		Strategy: config.StrategyConfig{Name: "buy_and_hold"},
		Sweep: config.SweepConfig{
			StopLossMin:   0.01,
			StopLossMax:   0.02,
			StopLossStep:  0.01,
			WindowLengths: []int{3, 4},
			MaxParallel:   2,
		},
		Exchange: config.ExchangeConfig{Since: "2021-01-01", BatchSize: 100},
		Report:   config.ReportConfig{OutputDir: filepath.Join(root, "reports")},
		Database: config.DatabaseConfig{Path: filepath.Join(root, "backcast.db"), MaxOpenConns: 1},
	}
}

func writeCandles(t *testing.T, cfg *config.Config, hours int) {
	t.Helper()
	base := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, hours)
	for i := range candles {
		price := 100 + float64(i%7)
		candles[i] = market.Candle{
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			Open:       price,
			High:       price + 0.5,
			Low:        price - 0.5,
			Close:      price,
			Volume:     3,
			TradeCount: 4,
		}
	}
	path := filepath.Join(cfg.Data.Dir, series.FileName(cfg.Backtest.SymbolPair, 60))
	if err := series.WriteCSV(path, candles); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) *orchestrator {
	t.Helper()
	st, err := store.NewSQLite(cfg.Database)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	orch, err := newOrchestrator(context.Background(), cfg, nil, st)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}
	return orch
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeRun, "RUN": ModeRun, "sweep": ModeSweep, "fetch": ModeFetch, "history": ModeHistory} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("live"); err == nil {
		t.Errorf("expected error for unknown mode")
	}
}

func TestRunBacktest_WritesReportsAndArchives(t *testing.T) {
	cfg := testConfig(t)
	writeCandles(t, cfg, 48)
	orch := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	res, err := orch.RunBacktest(ctx)
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	// 48 根小时线重采样为 24 根两小时线
	if res.SeriesLength != 24 {
		t.Errorf("expected 24 resampled candles, got %d", res.SeriesLength)
	}
	if len(res.Ledger) != 1 {
		t.Fatalf("expected a single buy-and-hold trade, got %d", len(res.Ledger))
	}

	for _, name := range []string{"hold_eth_1h_ledger.csv", "hold_eth_1h_summary.yaml"} {
		if _, err := os.Stat(filepath.Join(cfg.Report.OutputDir, name)); err != nil {
			t.Errorf("expected report %s: %v", name, err)
		}
	}

	runs, err := orch.monitor.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].TradeCount != 1 || runs[0].Summary == nil {
		t.Fatalf("unexpected archived runs %+v", runs)
	}
	events, err := orch.monitor.ListEvents(ctx, monitor.EventRunFinished, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 run_finished event, got %d", len(events))
	}
	if err := orch.History(ctx, 5); err != nil {
		t.Errorf("History: %v", err)
	}
}

func TestRunBacktest_NoTradesStillArchives(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy.Name = "never"
	writeCandles(t, cfg, 12)
	orch := newTestOrchestrator(t, cfg)

	res, err := orch.RunBacktest(context.Background())
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if res.EndingCapital != 1000 {
		t.Errorf("capital should be untouched, got %f", res.EndingCapital)
	}
	runs, err := orch.monitor.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Summary != nil {
		t.Errorf("expected archived run without summary, got %+v", runs)
	}
}

func TestRunBacktest_DataUnavailable(t *testing.T) {
	cfg := testConfig(t)
	orch := newTestOrchestrator(t, cfg)
	_, err := orch.RunBacktest(context.Background())
	if !errors.Is(err, market.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestRunSweep_ArchivesEveryCase(t *testing.T) {
	cfg := testConfig(t)
	writeCandles(t, cfg, 48)
	orch := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	outcomes, err := orch.RunSweep(ctx)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("expected 4 cases, got %d", len(outcomes))
	}
	runs, err := orch.monitor.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 4 {
		t.Errorf("expected 4 archived runs, got %d", len(runs))
	}
	events, err := orch.monitor.ListEvents(ctx, monitor.EventSweepFinished, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected sweep_finished event, got %d", len(events))
	}
}

func TestStrategyFactory_AIRequiresKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy.Name = "ai"
	if _, err := strategyFactory(cfg, nil)(); err == nil {
		t.Fatalf("expected error without openai api key")
	}
	cfg.OpenAI = config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-test", Timeout: time.Second}
	s, err := strategyFactory(cfg, nil)()
	if err != nil {
		t.Fatalf("strategyFactory: %v", err)
	}
	if s == nil {
		t.Fatalf("expected strategy instance")
	}
}
