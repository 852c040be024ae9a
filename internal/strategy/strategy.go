package strategy

import (
	"context"
	"fmt"
	"strings"

	"backcast/internal/market"
)

// Decision 为策略在单个步进上的输出。
type Decision int

const (
	Hold Decision = iota
	Buy
	Sell
)

// String 返回决策的大写名称。
func (d Decision) String() string {
	switch d {
	case Hold:
		return "HOLD"
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// ParseDecision 解析 BUY/SELL/HOLD（大小写不敏感）。
func ParseDecision(value string) (Decision, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	case "HOLD", "PASS":
		return Hold, nil
	default:
		return Hold, fmt.Errorf("strategy: 无法识别的决策 %q", value)
	}
}

// Strategy 根据尾随窗口与当前持仓状态给出决策。
// window 最后一根K线即为当前步进，实现不得修改 window。
type Strategy interface {
	Decide(ctx context.Context, window []market.Candle, inPosition bool) (Decision, error)
}

// Func 允许直接使用函数作为 Strategy。
type Func func(ctx context.Context, window []market.Candle, inPosition bool) (Decision, error)

// Decide 实现 Strategy 接口。
func (f Func) Decide(ctx context.Context, window []market.Candle, inPosition bool) (Decision, error) {
	return f(ctx, window, inPosition)
}

// WindowRequirer 由需要最少K线数量的策略实现。
type WindowRequirer interface {
	MinWindow() int
}

// RequiredWindow 返回策略声明的最小窗口，未声明时为 1。
func RequiredWindow(s Strategy) int {
	if r, ok := s.(WindowRequirer); ok && r.MinWindow() > 0 {
		return r.MinWindow()
	}
	return 1
}
