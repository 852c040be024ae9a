package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"backcast/internal/config"
	"backcast/internal/market"
)

type ohlcvFetcher interface {
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
}

// Client 负责从交易所拉取历史K线并实现重试机制。
type Client struct {
	cfg         config.ExchangeConfig
	logger      *zap.Logger
	fetcher     ohlcvFetcher
	loadMarkets func() error
	sleep       func(ctx context.Context, d time.Duration) error

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 按配置构造 ccxt 客户端，目前支持 binance 与 binanceusdm。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", "binanceusdm":
		ex := ccxt.NewBinanceusdm(userConfig)
		return newClient(cfg, ex, func() error {
			_, err := ex.LoadMarkets()
			return err
		}, logger), nil
	case "binance":
		ex := ccxt.NewBinance(userConfig)
		return newClient(cfg, ex, func() error {
			_, err := ex.LoadMarkets()
			return err
		}, logger), nil
	default:
		return nil, fmt.Errorf("exchange: 不支持的交易所 %q", cfg.Name)
	}
}

func newClient(cfg config.ExchangeConfig, fetcher ohlcvFetcher, loadMarkets func() error, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	return &Client{
		cfg:         cfg,
		logger:      logger,
		fetcher:     fetcher,
		loadMarkets: loadMarkets,
		sleep:       sleepContext,
	}
}

// FetchCandles 获取从 since 开始的一批K线。交易所不提供成交笔数，TradeCount 为 0。
func (c *Client) FetchCandles(ctx context.Context, symbol string, intervalMinutes int, since time.Time, limit int) ([]market.Candle, error) {
	timeframe, err := Timeframe(intervalMinutes)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = c.cfg.BatchSize
	}

	var raw []ccxt.OHLCV
	err = c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.fetcher.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVSince(since.UnixMilli()),
			ccxt.WithFetchOHLCVLimit(int64(limit)),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, market.Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded || c.loadMarkets == nil {
		return nil
	}

	if err := c.loadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.cfg.Name))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return fmt.Errorf("exchange: %s 失败: %w", operation, normalizedErr)
		}

		wait := min(delay, maxDelay)
		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		if err := c.sleep(ctx, wait); err != nil {
			return err
		}

		delay = min(delay*2, maxDelay)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
