package market

import (
	"fmt"
	"time"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"trade_count"`
}

// Validate 校验价格为正且 low <= open/close <= high。
func (c Candle) Validate() error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("K线 %s 价格必须为正", c.Timestamp.Format(time.RFC3339))
	}
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("K线 %s 高低价不合法: low=%f high=%f open=%f close=%f",
			c.Timestamp.Format(time.RFC3339), c.Low, c.High, c.Open, c.Close)
	}
	return nil
}

// Series 为固定周期、按时间升序排列的K线序列。
type Series struct {
	Pair            string
	IntervalMinutes int
	Candles         []Candle
}

// Len 返回序列长度。
func (s Series) Len() int {
	return len(s.Candles)
}

// Interval 返回名义周期。
func (s Series) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// First 返回首根K线，序列为空时 ok=false。
func (s Series) First() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[0], true
}

// Last 返回末根K线，序列为空时 ok=false。
func (s Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Window 返回 [start, start+length) 的切片视图，越界时 ok=false。
func (s Series) Window(start, length int) ([]Candle, bool) {
	if start < 0 || length <= 0 || start+length > len(s.Candles) {
		return nil, false
	}
	return s.Candles[start : start+length : start+length], true
}

// CheckOrdered 校验时间戳严格递增。
func (s Series) CheckOrdered() error {
	for i := 1; i < len(s.Candles); i++ {
		if !s.Candles[i].Timestamp.After(s.Candles[i-1].Timestamp) {
			return fmt.Errorf("序列时间戳未严格递增: index=%d ts=%s", i, s.Candles[i].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}
