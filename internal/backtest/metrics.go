package backtest

import "math"

// Metrics 记录基于逐步权益曲线的绩效指标。
type Metrics struct {
	TotalReturn float64 `json:"total_return" yaml:"total_return"`
	MaxDrawdown float64 `json:"max_drawdown" yaml:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio" yaml:"sharpe_ratio"`
}

func calculateMetrics(equity []float64, intervalMinutes int) Metrics {
	if len(equity) == 0 {
		return Metrics{}
	}

	initial := equity[0]
	final := equity[len(equity)-1]
	totalReturn := 0.0
	if initial > 0 {
		totalReturn = final/initial - 1
	}

	return Metrics{
		TotalReturn: totalReturn,
		MaxDrawdown: computeDrawdown(equity),
		SharpeRatio: computeSharpe(stepReturns(equity), intervalMinutes),
	}
}

func stepReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

func computeDrawdown(equity []float64) float64 {
	var peak float64
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return math.Abs(maxDD)
}

func computeSharpe(returns []float64, intervalMinutes int) float64 {
	if len(returns) < 2 || intervalMinutes <= 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	// 按K线周期年化
	periodsPerYear := 365 * 24 * 60 / float64(intervalMinutes)
	return (mean / std) * math.Sqrt(periodsPerYear)
}
