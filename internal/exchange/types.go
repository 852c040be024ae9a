package exchange

import "fmt"

var timeframes = map[int]string{
	1:     "1m",
	3:     "3m",
	5:     "5m",
	15:    "15m",
	30:    "30m",
	60:    "1h",
	120:   "2h",
	240:   "4h",
	360:   "6h",
	480:   "8h",
	720:   "12h",
	1440:  "1d",
	4320:  "3d",
	10080: "1w",
}

// Timeframe 将分钟周期转换为 ccxt 周期字符串。
func Timeframe(minutes int) (string, error) {
	tf, ok := timeframes[minutes]
	if !ok {
		return "", fmt.Errorf("exchange: 交易所不支持 %d 分钟周期", minutes)
	}
	return tf, nil
}
