package strategy

import (
	"context"
	"fmt"

	"backcast/internal/indicator"
	"backcast/internal/market"
)

// MACD 在 MACD 线上穿信号线时买入，持仓期间 MACD 不高于信号线时卖出。
type MACD struct {
	params indicator.Params
}

// NewMACD 创建 MACD 交叉策略，零值周期使用 12/26/9。
func NewMACD(fast, slow, signal int) (*MACD, error) {
	def := indicator.DefaultParams()
	if fast <= 0 {
		fast = def.FastPeriod
	}
	if slow <= 0 {
		slow = def.SlowPeriod
	}
	if signal <= 0 {
		signal = def.SignalPeriod
	}
	if fast >= slow {
		return nil, fmt.Errorf("strategy: MACD 快线周期 %d 必须小于慢线周期 %d", fast, slow)
	}
	def.FastPeriod, def.SlowPeriod, def.SignalPeriod = fast, slow, signal
	return &MACD{params: def}, nil
}

// MinWindow 返回 MACD 信号线首个有效值所需的K线数。
func (m *MACD) MinWindow() int {
	return indicator.MACDLookback(m.params.SlowPeriod, m.params.SignalPeriod)
}

// Decide 实现 Strategy 接口。
func (m *MACD) Decide(_ context.Context, window []market.Candle, inPosition bool) (Decision, error) {
	if len(window) < m.MinWindow() {
		return Hold, fmt.Errorf("strategy: MACD 需要至少 %d 根K线，当前 %d", m.MinWindow(), len(window))
	}
	res, err := indicator.Compute(window, m.params)
	if err != nil {
		return Hold, fmt.Errorf("strategy: %w", err)
	}
	if !indicator.Valid(res.MACD.Value) || !indicator.Valid(res.MACD.Signal) {
		return Hold, fmt.Errorf("strategy: MACD 计算结果无效")
	}

	above := res.MACD.Value > res.MACD.Signal
	switch {
	case inPosition && !above:
		return Sell, nil
	case !inPosition && above:
		return Buy, nil
	default:
		return Hold, nil
	}
}
