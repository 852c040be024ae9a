package strategy

import (
	"fmt"
	"strings"

	"backcast/internal/config"
)

// 内置策略名称。
const (
	NameMACD       = "macd"
	NameSMACross   = "sma_cross"
	NameBuyAndHold = "buy_and_hold"
	NameNever      = "never"
)

// Build 根据配置构建内置规则策略。ai 策略需由调用方单独构建。
func Build(cfg config.StrategyConfig) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case NameMACD:
		return NewMACD(cfg.FastPeriod, cfg.SlowPeriod, cfg.Signal)
	case NameSMACross:
		fast, slow := cfg.FastPeriod, cfg.SlowPeriod
		if fast == 0 {
			fast = 5
		}
		if slow == 0 {
			slow = 50
		}
		return NewSMACross(fast, slow)
	case NameBuyAndHold:
		return BuyAndHold{}, nil
	case NameNever:
		return Never{}, nil
	default:
		return nil, fmt.Errorf("strategy: 未知策略 %q", cfg.Name)
	}
}
