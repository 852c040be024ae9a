package market

import "errors"

var (
	// ErrDataUnavailable 表示交易对与周期组合没有源数据。
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInsufficientHistory 表示过滤后的K线数量不足窗口长度。
	ErrInsufficientHistory = errors.New("insufficient history")
)
