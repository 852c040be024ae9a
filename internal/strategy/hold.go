package strategy

import (
	"context"

	"backcast/internal/market"
)

// BuyAndHold 在首个步进买入后一直持有，作为基准。
type BuyAndHold struct{}

// Decide 实现 Strategy 接口。
func (BuyAndHold) Decide(_ context.Context, _ []market.Candle, inPosition bool) (Decision, error) {
	if inPosition {
		return Hold, nil
	}
	return Buy, nil
}

// Never 从不交易。
type Never struct{}

// Decide 实现 Strategy 接口。
func (Never) Decide(context.Context, []market.Candle, bool) (Decision, error) {
	return Hold, nil
}
