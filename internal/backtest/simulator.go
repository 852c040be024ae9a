package backtest

import "time"

// Simulator 持有资金、仓位与当前交易，按收盘价估值。
type Simulator struct {
	capital      float64
	positionSize float64
	open         *Trade

	equityHistory []float64
}

// NewSimulator 以初始资金创建模拟账户。
func NewSimulator(startingCapital float64) *Simulator {
	return &Simulator{
		capital:       startingCapital,
		equityHistory: []float64{startingCapital},
	}
}

// InPosition 判断是否持仓。
func (s *Simulator) InPosition() bool {
	return s.open != nil
}

// Open 返回当前未平仓交易，空仓时为 nil。
func (s *Simulator) Open() *Trade {
	return s.open
}

// Capital 返回空仓资金，持仓期间为 0。
func (s *Simulator) Capital() float64 {
	return s.capital
}

// Buy 以给定价格全仓买入。
func (s *Simulator) Buy(ts time.Time, price, stopLossFraction float64) *Trade {
	s.positionSize = s.capital / price
	s.capital = 0
	s.open = openTrade(ts, price, s.positionSize, stopLossFraction)
	return s.open
}

// Close 以给定价格平仓并返回已平仓交易。
func (s *Simulator) Close(ts time.Time, price float64, reason ExitReason) Trade {
	t := s.open
	t.close(ts, price, reason)
	s.capital = s.positionSize * price
	s.positionSize = 0
	s.open = nil
	return *t
}

// Mark 以收盘价记录一次权益。
func (s *Simulator) Mark(price float64) {
	s.equityHistory = append(s.equityHistory, s.Equity(price))
}

// Equity 返回按给定价格估值的权益。
func (s *Simulator) Equity(price float64) float64 {
	if s.open != nil {
		return s.positionSize * price
	}
	return s.capital
}

// EquityHistory 返回权益曲线副本，首项为初始资金。
func (s *Simulator) EquityHistory() []float64 {
	return append([]float64(nil), s.equityHistory...)
}
