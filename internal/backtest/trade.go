package backtest

import (
	"math"
	"time"
)

// ExitReason 表示交易平仓原因。
type ExitReason string

const (
	ExitStrategySell      ExitReason = "strategy_sell"
	ExitStopLoss          ExitReason = "stop_loss"
	ExitForcedLiquidation ExitReason = "forced_liquidation"
)

// Trade 记录一次完整的开平仓周期及其运行统计。
type Trade struct {
	EntryTime     time.Time     `json:"entry_time" yaml:"entry_time"`
	EntryPrice    float64       `json:"entry_price" yaml:"entry_price"`
	StopLossPrice float64       `json:"stop_loss_price,omitempty" yaml:"stop_loss_price,omitempty"` // 0 表示未设置
	Size          float64       `json:"size" yaml:"size"`
	Periods       int           `json:"periods" yaml:"periods"`
	PctChange     float64       `json:"pct_change" yaml:"pct_change"`
	HighestGain   float64       `json:"highest_gain" yaml:"highest_gain"`
	MaxDrawdown   float64       `json:"max_drawdown" yaml:"max_drawdown"`
	ExitTime      time.Time     `json:"exit_time" yaml:"exit_time"`
	ExitPrice     float64       `json:"exit_price" yaml:"exit_price"`
	ExitReason    ExitReason    `json:"exit_reason" yaml:"exit_reason"`
	TimeHeld      time.Duration `json:"time_held" yaml:"time_held"`
	CapitalAfter  float64       `json:"capital_after" yaml:"capital_after"`
}

func openTrade(ts time.Time, price, size, stopLossFraction float64) *Trade {
	t := &Trade{
		EntryTime:  ts,
		EntryPrice: price,
		Size:       size,
	}
	if stopLossFraction > 0 {
		t.StopLossPrice = price * (1 - stopLossFraction)
	}
	return t
}

// HasStopLoss 判断该笔交易是否设置了止损。
func (t *Trade) HasStopLoss() bool {
	return t.StopLossPrice > 0
}

func (t *Trade) observe(price float64) {
	t.PctChange = (price - t.EntryPrice) / t.EntryPrice
	t.HighestGain = math.Max(t.HighestGain, t.PctChange)
	t.MaxDrawdown = math.Min(t.MaxDrawdown, t.PctChange)
}

// hold 记录一个持有步进。
func (t *Trade) hold(price float64) {
	t.Periods++
	t.observe(price)
}

func (t *Trade) close(ts time.Time, price float64, reason ExitReason) {
	t.observe(price)
	t.ExitTime = ts
	t.ExitPrice = price
	t.ExitReason = reason
	t.TimeHeld = ts.Sub(t.EntryTime)
	t.CapitalAfter = t.Size * price
}
