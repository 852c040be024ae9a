package series

import (
	"fmt"
	"math"
	"time"

	"backcast/internal/market"
)

// Resample 将序列聚合为更大的周期：open 取首、high 取最大、low 取最小、close 取末，
// volume 与成交笔数求和。桶按 Unix 纪元对齐。没有源数据的中间桶以前一桶收盘价前向填充，
// 成交量为0。目标周期等于源周期时原样返回副本。
func Resample(src market.Series, intervalMinutes int) (market.Series, error) {
	if intervalMinutes <= 0 {
		return market.Series{}, fmt.Errorf("series: 目标周期必须大于0: %d", intervalMinutes)
	}
	if src.IntervalMinutes > 0 && intervalMinutes < src.IntervalMinutes {
		return market.Series{}, fmt.Errorf("series: 不能从 %d 分钟降采样到 %d 分钟", src.IntervalMinutes, intervalMinutes)
	}

	out := market.Series{Pair: src.Pair, IntervalMinutes: intervalMinutes}
	if intervalMinutes == src.IntervalMinutes {
		out.Candles = append([]market.Candle(nil), src.Candles...)
		return out, nil
	}
	if len(src.Candles) == 0 {
		return out, nil
	}

	bucket := time.Duration(intervalMinutes) * time.Minute
	first := alignEpoch(src.Candles[0].Timestamp, bucket)
	last := alignEpoch(src.Candles[len(src.Candles)-1].Timestamp, bucket)
	count := int(last.Sub(first)/bucket) + 1

	out.Candles = make([]market.Candle, 0, count)
	idx := 0
	for b := 0; b < count; b++ {
		start := first.Add(time.Duration(b) * bucket)
		end := start.Add(bucket)

		agg := market.Candle{Timestamp: start, Low: math.Inf(1)}
		filled := false
		for idx < len(src.Candles) && src.Candles[idx].Timestamp.Before(end) {
			c := src.Candles[idx]
			if !filled {
				agg.Open = c.Open
				filled = true
			}
			agg.High = math.Max(agg.High, c.High)
			agg.Low = math.Min(agg.Low, c.Low)
			agg.Close = c.Close
			agg.Volume += c.Volume
			agg.TradeCount += c.TradeCount
			idx++
		}

		if !filled {
			// 首桶必有数据，因此 out 非空。
			prev := out.Candles[len(out.Candles)-1].Close
			agg = market.Candle{Timestamp: start, Open: prev, High: prev, Low: prev, Close: prev}
		}
		out.Candles = append(out.Candles, agg)
	}

	return out, nil
}

func alignEpoch(t time.Time, d time.Duration) time.Time {
	step := int64(d / time.Second)
	sec := t.Unix()
	rem := sec % step
	if rem < 0 {
		rem += step
	}
	return time.Unix(sec-rem, 0).UTC()
}
