package backtest

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Config 定义单次回测参数。
type Config struct {
	Name             string  // 回测名称，仅用于日志与归档
	Pair             string  // 交易对
	StartingCapital  float64 // 初始资金
	StopLossFraction float64 // 止损比例，0 表示不设止损
	WindowLength     int     // 每步交给策略的尾随窗口长度
}

// Validate 校验参数取值。
func (c Config) Validate() error {
	var err error
	if c.StartingCapital <= 0 {
		err = multierr.Append(err, fmt.Errorf("starting capital 必须大于0，当前为 %f", c.StartingCapital))
	}
	if c.StopLossFraction < 0 || c.StopLossFraction >= 1 {
		err = multierr.Append(err, fmt.Errorf("stop loss 必须位于 (0,1) 或为 0，当前为 %f", c.StopLossFraction))
	}
	if c.WindowLength <= 0 {
		err = multierr.Append(err, errors.New("window length 必须大于0"))
	}
	if err != nil {
		return fmt.Errorf("backtest: 参数无效: %w", err)
	}
	return nil
}

// HasStopLoss 判断是否启用止损。
func (c Config) HasStopLoss() bool {
	return c.StopLossFraction > 0
}
