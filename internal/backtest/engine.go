package backtest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"backcast/internal/market"
	"backcast/internal/strategy"
)

// Result 汇总一次回测的输出。
type Result struct {
	Name            string
	Pair            string
	IntervalMinutes int
	StartingCapital float64
	EndingCapital   float64
	Ledger          []Trade
	SeriesLength    int
	Steps           int
	Start           time.Time
	End             time.Time
	EquityCurve     []float64
	Metrics         Metrics
}

// Engine 按步推进窗口、询问策略并维护资金与仓位。
type Engine struct {
	cfg      Config
	strategy strategy.Strategy
	logger   *zap.Logger
}

// NewEngine 构建回测引擎。
func NewEngine(cfg Config, strat strategy.Strategy, logger *zap.Logger) (*Engine, error) {
	if strat == nil {
		return nil, fmt.Errorf("backtest: strategy 不能为空")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if need := strategy.RequiredWindow(strat); cfg.WindowLength < need {
		return nil, fmt.Errorf("backtest: 窗口长度 %d 小于策略所需的 %d", cfg.WindowLength, need)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:      cfg,
		strategy: strat,
		logger:   logger.With(zap.String("backtest", cfg.Name)),
	}, nil
}

// Config 返回引擎参数。
func (e *Engine) Config() Config {
	return e.cfg
}

// Run 对序列执行完整回测。每次调用使用独立状态，相同输入产生相同账本。
func (e *Engine) Run(ctx context.Context, series market.Series) (Result, error) {
	n := series.Len()
	w := e.cfg.WindowLength
	if n < w {
		return Result{}, fmt.Errorf("backtest: 序列长度 %d 小于窗口 %d: %w", n, w, market.ErrInsufficientHistory)
	}

	sim := NewSimulator(e.cfg.StartingCapital)
	ledger := make([]Trade, 0)
	steps := 0

	e.logger.Info("回测开始",
		zap.String("pair", series.Pair),
		zap.Int("interval_minutes", series.IntervalMinutes),
		zap.Int("candles", n),
		zap.Int("window", w),
		zap.Float64("starting_capital", e.cfg.StartingCapital),
		zap.Float64("stop_loss", e.cfg.StopLossFraction),
	)

	for i := 0; i <= n-w; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		window, _ := series.Window(i, w)
		current := window[len(window)-1]
		steps++

		if t := sim.Open(); t != nil && t.HasStopLoss() && current.Low <= t.StopLossPrice {
			closed := sim.Close(current.Timestamp, t.StopLossPrice, ExitStopLoss)
			ledger = append(ledger, closed)
			e.logClose(closed)
			sim.Mark(current.Close)
			continue
		}

		decision, err := e.strategy.Decide(ctx, window, sim.InPosition())
		if err != nil {
			return Result{}, &StrategyError{Timestamp: current.Timestamp, Err: err}
		}

		switch decision {
		case strategy.Buy:
			if !sim.InPosition() {
				t := sim.Buy(current.Timestamp, current.Close, e.cfg.StopLossFraction)
				e.logger.Debug("开仓",
					zap.Time("time", t.EntryTime),
					zap.Float64("price", t.EntryPrice),
					zap.Float64("size", t.Size),
					zap.Float64("stop_loss_price", t.StopLossPrice),
				)
			}
		case strategy.Sell:
			if sim.InPosition() {
				closed := sim.Close(current.Timestamp, current.Close, ExitStrategySell)
				ledger = append(ledger, closed)
				e.logClose(closed)
			}
		case strategy.Hold:
			if t := sim.Open(); t != nil {
				t.hold(current.Close)
			}
		default:
			return Result{}, &StrategyError{
				Timestamp: current.Timestamp,
				Err:       fmt.Errorf("未知决策 %s", decision),
			}
		}

		sim.Mark(current.Close)
	}

	last, _ := series.Last()
	if sim.InPosition() {
		closed := sim.Close(last.Timestamp, last.Close, ExitForcedLiquidation)
		ledger = append(ledger, closed)
		e.logClose(closed)
	}

	first, _ := series.First()
	equity := sim.EquityHistory()
	result := Result{
		Name:            e.cfg.Name,
		Pair:            series.Pair,
		IntervalMinutes: series.IntervalMinutes,
		StartingCapital: e.cfg.StartingCapital,
		EndingCapital:   sim.Capital(),
		Ledger:          ledger,
		SeriesLength:    n,
		Steps:           steps,
		Start:           first.Timestamp,
		End:             last.Timestamp,
		EquityCurve:     equity,
		Metrics:         calculateMetrics(equity, series.IntervalMinutes),
	}

	e.logger.Info("回测完成",
		zap.Int("steps", steps),
		zap.Int("trades", len(ledger)),
		zap.Float64("ending_capital", result.EndingCapital),
		zap.Float64("total_return", result.Metrics.TotalReturn),
		zap.Float64("max_drawdown", result.Metrics.MaxDrawdown),
		zap.Float64("sharpe", result.Metrics.SharpeRatio),
	)

	return result, nil
}

func (e *Engine) logClose(t Trade) {
	e.logger.Debug("平仓",
		zap.Time("time", t.ExitTime),
		zap.Float64("price", t.ExitPrice),
		zap.String("reason", string(t.ExitReason)),
		zap.Float64("pct_change", t.PctChange),
		zap.Float64("capital", t.CapitalAfter),
	)
}
