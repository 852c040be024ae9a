package indicator

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"backcast/internal/market"
)

// Params 控制指标周期，零值字段使用默认值。
type Params struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
	RSIPeriod    int
	ATRPeriod    int
	BandPeriod   int
}

// DefaultParams 返回 MACD(12,26,9)、RSI14、ATR14、布林20 的默认参数。
func DefaultParams() Params {
	return Params{
		FastPeriod:   12,
		SlowPeriod:   26,
		SignalPeriod: 9,
		RSIPeriod:    14,
		ATRPeriod:    14,
		BandPeriod:   20,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.FastPeriod <= 0 {
		p.FastPeriod = def.FastPeriod
	}
	if p.SlowPeriod <= 0 {
		p.SlowPeriod = def.SlowPeriod
	}
	if p.SignalPeriod <= 0 {
		p.SignalPeriod = def.SignalPeriod
	}
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = def.RSIPeriod
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = def.ATRPeriod
	}
	if p.BandPeriod <= 0 {
		p.BandPeriod = def.BandPeriod
	}
	return p
}

// MACDResult 保存 MACD 关键值。
type MACDResult struct {
	Value         float64 `json:"value"`
	Signal        float64 `json:"signal"`
	Histogram     float64 `json:"histogram"`
	PrevHistogram float64 `json:"prev_histogram"`
}

// BollingerResult 保存布林带数据。
type BollingerResult struct {
	Upper     float64 `json:"upper"`
	Middle    float64 `json:"middle"`
	Lower     float64 `json:"lower"`
	Bandwidth float64 `json:"bandwidth"`
	Position  float64 `json:"position"`
}

// Result 为一个窗口的指标汇总。数据不足以计算的指标为 NaN。
type Result struct {
	Close         float64         `json:"close"`
	PreviousClose float64         `json:"previous_close"`
	SMAFast       float64         `json:"sma_fast"`
	SMASlow       float64         `json:"sma_slow"`
	PrevSMAFast   float64         `json:"prev_sma_fast"`
	PrevSMASlow   float64         `json:"prev_sma_slow"`
	EMAFast       float64         `json:"ema_fast"`
	EMASlow       float64         `json:"ema_slow"`
	MACD          MACDResult      `json:"macd"`
	RSI           float64         `json:"rsi"`
	ATR           float64         `json:"atr"`
	ATRRelative   float64         `json:"atr_relative"`
	Bollinger     BollingerResult `json:"bollinger"`
	VolumeRatio   float64         `json:"volume_ratio"`
}

// MACDLookback 返回 MACD 首个有效值所需的K线数量。
func MACDLookback(slow, signal int) int {
	return slow + signal - 1
}

// Compute 依据给定K线窗口计算常用技术指标。
func Compute(candles []market.Candle, params Params) (Result, error) {
	if len(candles) == 0 {
		return Result{}, fmt.Errorf("计算指标失败: 输入K线为空")
	}
	p := params.withDefaults()
	if p.FastPeriod >= p.SlowPeriod {
		return Result{}, fmt.Errorf("计算指标失败: 快线周期 %d 必须小于慢线周期 %d", p.FastPeriod, p.SlowPeriod)
	}

	series := NewSeries(candles)
	closes := series.Close
	n := series.Len()

	result := Result{
		Close:         Last(closes),
		PreviousClose: Prev(closes),
		SMAFast:       math.NaN(),
		SMASlow:       math.NaN(),
		PrevSMAFast:   math.NaN(),
		PrevSMASlow:   math.NaN(),
		EMAFast:       math.NaN(),
		EMASlow:       math.NaN(),
		MACD:          MACDResult{Value: math.NaN(), Signal: math.NaN(), Histogram: math.NaN(), PrevHistogram: math.NaN()},
		RSI:           math.NaN(),
		ATR:           math.NaN(),
		ATRRelative:   math.NaN(),
		Bollinger:     BollingerResult{Upper: math.NaN(), Middle: math.NaN(), Lower: math.NaN(), Bandwidth: math.NaN(), Position: math.NaN()},
		VolumeRatio:   math.NaN(),
	}

	if n >= p.FastPeriod {
		fast := talib.Sma(closes, p.FastPeriod)
		result.SMAFast = Last(fast)
		if n > p.FastPeriod {
			result.PrevSMAFast = Prev(fast)
		}
		result.EMAFast = Last(talib.Ema(closes, p.FastPeriod))
	}
	if n >= p.SlowPeriod {
		slow := talib.Sma(closes, p.SlowPeriod)
		result.SMASlow = Last(slow)
		if n > p.SlowPeriod {
			result.PrevSMASlow = Prev(slow)
		}
		result.EMASlow = Last(talib.Ema(closes, p.SlowPeriod))
	}
	if need := MACDLookback(p.SlowPeriod, p.SignalPeriod); n >= need {
		macd, signal, hist := talib.Macd(closes, p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
		result.MACD = MACDResult{
			Value:         Last(macd),
			Signal:        Last(signal),
			Histogram:     Last(hist),
			PrevHistogram: math.NaN(),
		}
		if n > need {
			result.MACD.PrevHistogram = Prev(hist)
		}
	}
	if n > p.RSIPeriod {
		result.RSI = Last(talib.Rsi(closes, p.RSIPeriod))
	}
	if n > p.ATRPeriod {
		result.ATR = Last(talib.Atr(series.High, series.Low, closes, p.ATRPeriod))
		result.ATRRelative = SafeDivide(result.ATR, result.Close)
	}
	if n >= p.BandPeriod {
		upper, middle, lower := talib.BBands(closes, p.BandPeriod, 2, 2, talib.SMA)
		result.Bollinger = buildBollinger(closes, upper, middle, lower)
		result.VolumeRatio = SafeDivide(Last(series.Volume), average(SliceTail(series.Volume, p.BandPeriod)))
	}

	return result, nil
}

func buildBollinger(close, upper, middle, lower []float64) BollingerResult {
	u := Last(upper)
	m := Last(middle)
	l := Last(lower)
	width := u - l
	bandwidth := SafeDivide(width, m)

	position := 0.0
	if width > 0 {
		position = SafeDivide(Last(close)-l, width)
	}

	// 将位置限制在[0,1]区间，便于后续使用。
	position = math.Max(0, math.Min(1, position))

	return BollingerResult{
		Upper:     u,
		Middle:    m,
		Lower:     l,
		Bandwidth: bandwidth,
		Position:  position,
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
