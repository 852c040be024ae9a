package backtest

import (
	"errors"
	"fmt"
	"time"
)

// ErrStrategy 为策略失败的错误类别，可用 errors.Is 判断。
var ErrStrategy = errors.New("strategy failed")

// StrategyError 携带失败窗口的末根K线时间。
type StrategyError struct {
	Timestamp time.Time
	Err       error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("backtest: 策略在 %s 决策失败: %v", e.Timestamp.UTC().Format(time.RFC3339), e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrStrategy) 成立。
func (e *StrategyError) Is(target error) bool {
	return target == ErrStrategy
}
