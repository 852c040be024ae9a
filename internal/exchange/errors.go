package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"backcast/internal/market"
)

// ErrMaintenance 表示交易所处于维护状态，本次下载放弃，可稍后重新执行 fetch。
var ErrMaintenance = errors.New("exchange: 交易所维护中")

// classifyError 归一化下载错误并判断是否值得重试。
// 交易对不存在时返回 market.ErrDataUnavailable，便于上层与本地缺失数据统一处理。
func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		message := strings.TrimSpace(ccxtErr.Message)
		switch ccxtErr.Type {
		case ccxt.OnMaintenanceErrType:
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		case ccxt.BadSymbolErrType:
			return fmt.Errorf("%w: 交易所不支持该交易对: %s", market.ErrDataUnavailable, message), false
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}
	return err, false
}
