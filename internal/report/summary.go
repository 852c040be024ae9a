package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"backcast/internal/backtest"
)

// ErrNoTrades 表示账本为空，无法计算统计。
var ErrNoTrades = errors.New("no trades")

// Summary 为一次回测的绩效汇总。指针字段为 nil 表示该统计不适用。
type Summary struct {
	Name            string    `yaml:"name,omitempty"`
	Pair            string    `yaml:"pair,omitempty"`
	IntervalMinutes int       `yaml:"interval_minutes,omitempty"`
	Start           time.Time `yaml:"start,omitempty"`
	End             time.Time `yaml:"end,omitempty"`

	Candles int `yaml:"candles"`
	Trades  int `yaml:"trades"`
	Wins    int `yaml:"wins"`
	Losses  int `yaml:"losses"`

	WinRatio       float64  `yaml:"win_ratio"`
	AverageWinPct  *float64 `yaml:"average_win_pct"`
	AverageLossPct *float64 `yaml:"average_loss_pct"`
	BestWinPct     *float64 `yaml:"best_win_pct"`
	WorstLossPct   *float64 `yaml:"worst_loss_pct"`
	MeanReturnPct  float64  `yaml:"mean_return_pct"`
	StdDevReturn   *float64 `yaml:"stddev_return_pct"`

	StartingCapital    float64 `yaml:"starting_capital"`
	EndingCapital      float64 `yaml:"ending_capital"`
	AbsoluteReturn     float64 `yaml:"absolute_return"`
	PercentReturn      float64 `yaml:"percent_return"`
	TradeToCandleRatio float64 `yaml:"trade_to_candle_ratio"`
	MaxEquityDrawdown  float64 `yaml:"max_equity_drawdown"`

	Exits map[backtest.ExitReason]int `yaml:"exits"`
}

// Summarize 根据账本与资金变化计算绩效统计。
func Summarize(ledger []backtest.Trade, startingCapital, endingCapital float64, seriesLength int) (Summary, error) {
	if len(ledger) == 0 {
		return Summary{}, ErrNoTrades
	}
	if startingCapital <= 0 {
		return Summary{}, fmt.Errorf("report: 初始资金必须大于0，当前为 %f", startingCapital)
	}
	if seriesLength <= 0 {
		return Summary{}, fmt.Errorf("report: 序列长度必须大于0，当前为 %d", seriesLength)
	}

	wins := lo.Filter(ledger, func(t backtest.Trade, _ int) bool { return t.PctChange > 0 })
	losses := lo.Filter(ledger, func(t backtest.Trade, _ int) bool { return t.PctChange <= 0 })
	returns := lo.Map(ledger, func(t backtest.Trade, _ int) float64 { return t.PctChange })

	start := decimal.NewFromFloat(startingCapital)
	end := decimal.NewFromFloat(endingCapital)
	absolute := end.Sub(start)

	s := Summary{
		Candles:            seriesLength,
		Trades:             len(ledger),
		Wins:               len(wins),
		Losses:             len(losses),
		WinRatio:           float64(len(wins)) / float64(len(ledger)),
		StartingCapital:    startingCapital,
		EndingCapital:      endingCapital,
		AbsoluteReturn:     absolute.Round(8).InexactFloat64(),
		PercentReturn:      absolute.Div(start).Round(8).InexactFloat64(),
		TradeToCandleRatio: float64(len(ledger)) / float64(seriesLength),
		MaxEquityDrawdown:  equityDrawdown(startingCapital, ledger),
		Exits: lo.CountValuesBy(ledger, func(t backtest.Trade) backtest.ExitReason {
			return t.ExitReason
		}),
	}

	if len(wins) > 0 {
		pcts := pctChanges(wins)
		s.AverageWinPct = ptr(stat.Mean(pcts, nil))
		s.BestWinPct = ptr(lo.Max(pcts))
	}
	if len(losses) > 0 {
		pcts := pctChanges(losses)
		s.AverageLossPct = ptr(stat.Mean(pcts, nil))
		s.WorstLossPct = ptr(lo.Min(pcts))
	}

	if len(returns) > 1 {
		mean, std := stat.MeanStdDev(returns, nil)
		s.MeanReturnPct = mean
		s.StdDevReturn = ptr(std)
	} else {
		s.MeanReturnPct = returns[0]
	}

	return s, nil
}

// FromResult 基于回测结果生成包含区间信息的汇总。
func FromResult(res backtest.Result) (Summary, error) {
	s, err := Summarize(res.Ledger, res.StartingCapital, res.EndingCapital, res.SeriesLength)
	if err != nil {
		return Summary{}, err
	}
	s.Name = res.Name
	s.Pair = res.Pair
	s.IntervalMinutes = res.IntervalMinutes
	s.Start = res.Start
	s.End = res.End
	return s, nil
}

func pctChanges(trades []backtest.Trade) []float64 {
	return lo.Map(trades, func(t backtest.Trade, _ int) float64 { return t.PctChange })
}

// equityDrawdown 计算按平仓后资金序列的最大回撤。
func equityDrawdown(starting float64, ledger []backtest.Trade) float64 {
	peak := starting
	maxDD := 0.0
	for _, t := range ledger {
		if t.CapitalAfter > peak {
			peak = t.CapitalAfter
		}
		if dd := (peak - t.CapitalAfter) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func ptr(v float64) *float64 {
	return &v
}
