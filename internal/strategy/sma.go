package strategy

import (
	"context"
	"fmt"

	"backcast/internal/indicator"
	"backcast/internal/market"
)

// SMACross 为均线交叉策略：快线高于慢线时持有，否则空仓。
type SMACross struct {
	params indicator.Params
}

// NewSMACross 创建均线交叉策略。
func NewSMACross(fast, slow int) (*SMACross, error) {
	if fast <= 0 || slow <= 0 {
		return nil, fmt.Errorf("strategy: 均线周期必须为正 (fast=%d slow=%d)", fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("strategy: 快线周期 %d 必须小于慢线周期 %d", fast, slow)
	}
	p := indicator.DefaultParams()
	p.FastPeriod, p.SlowPeriod = fast, slow
	return &SMACross{params: p}, nil
}

// MinWindow 返回慢线周期。
func (s *SMACross) MinWindow() int {
	return s.params.SlowPeriod
}

// Decide 实现 Strategy 接口。
func (s *SMACross) Decide(_ context.Context, window []market.Candle, inPosition bool) (Decision, error) {
	if len(window) < s.MinWindow() {
		return Hold, fmt.Errorf("strategy: 均线策略需要至少 %d 根K线，当前 %d", s.MinWindow(), len(window))
	}
	res, err := indicator.Compute(window, s.params)
	if err != nil {
		return Hold, fmt.Errorf("strategy: %w", err)
	}

	above := res.SMAFast > res.SMASlow
	switch {
	case inPosition && !above:
		return Sell, nil
	case !inPosition && above:
		return Buy, nil
	default:
		return Hold, nil
	}
}
