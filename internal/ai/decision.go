package ai

import (
	"errors"
	"fmt"
	"strings"

	"backcast/internal/strategy"
)

// Reply 表示大模型返回的单步交易指令。
type Reply struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Validate 校验回复字段合法性。
func (r Reply) Validate() error {
	if strings.TrimSpace(r.Action) == "" {
		return errors.New("action 不能为空")
	}
	if _, err := strategy.ParseDecision(r.Action); err != nil {
		return fmt.Errorf("action 字段取值非法: %s", r.Action)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence 必须在 [0,1] 区间，目前为 %f", r.Confidence)
	}
	return nil
}

// Decision 将回复映射为策略决策，信心不足时降级为 HOLD。
func (r Reply) Decision(minConfidence float64) strategy.Decision {
	d, err := strategy.ParseDecision(r.Action)
	if err != nil {
		return strategy.Hold
	}
	if d != strategy.Hold && r.Confidence < minConfidence {
		return strategy.Hold
	}
	return d
}
