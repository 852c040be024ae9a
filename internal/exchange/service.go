package exchange

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"backcast/internal/market"
	"backcast/internal/series"
)

// candleFetcher 拉取一批K线，由 *Client 实现。
type candleFetcher interface {
	FetchCandles(ctx context.Context, symbol string, intervalMinutes int, since time.Time, limit int) ([]market.Candle, error)
}

// DownloadRequest 描述一次历史行情下载。
type DownloadRequest struct {
	Pair      string    // 本地文件使用的交易对名称，如 ETHUSD
	Symbol    string    // 交易所交易对，如 ETH/USDT:USDT
	Intervals []int     // 需要下载的原生周期（分钟）
	Since     time.Time // 起始时间（含）
	Until     time.Time // 截止时间（不含），零值表示当前时间
}

// DownloadResult 为单个周期的下载结果。
type DownloadResult struct {
	IntervalMinutes int
	Path            string
	Candles         int
}

// Downloader 分页下载历史K线并写成本地 CSV 数据源。
type Downloader struct {
	client      candleFetcher
	dir         string
	batchSize   int
	maxParallel int
	logger      *zap.Logger
	now         func() time.Time
}

// NewDownloader 创建下载器，dir 为 SeriesLoader 读取的数据目录。
func NewDownloader(client candleFetcher, dir string, batchSize int, logger *zap.Logger) (*Downloader, error) {
	if client == nil {
		return nil, fmt.Errorf("exchange: client 不能为空")
	}
	if dir == "" {
		return nil, fmt.Errorf("exchange: 数据目录不能为空")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		client:      client,
		dir:         dir,
		batchSize:   batchSize,
		maxParallel: 2,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Download 并行下载各周期K线，每个周期写出一个文件。
func (d *Downloader) Download(ctx context.Context, req DownloadRequest) ([]DownloadResult, error) {
	if req.Pair == "" || req.Symbol == "" {
		return nil, fmt.Errorf("exchange: pair 与 symbol 不能为空")
	}
	if len(req.Intervals) == 0 {
		return nil, fmt.Errorf("exchange: 至少需要一个下载周期")
	}
	until := req.Until
	if until.IsZero() {
		until = d.now()
	}
	if !until.After(req.Since) {
		return nil, fmt.Errorf("exchange: 截止时间 %s 必须晚于起始时间 %s", until.Format(time.RFC3339), req.Since.Format(time.RFC3339))
	}

	results := make([]DownloadResult, len(req.Intervals))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.maxParallel)

	for i, interval := range req.Intervals {
		group.Go(func() error {
			candles, err := d.fetchRange(groupCtx, req.Symbol, interval, req.Since, until)
			if err != nil {
				return fmt.Errorf("exchange: 下载 %d 分钟K线失败: %w", interval, err)
			}
			if len(candles) == 0 {
				return fmt.Errorf("exchange: %s %d 分钟周期在区间内无数据", req.Symbol, interval)
			}
			path := filepath.Join(d.dir, series.FileName(req.Pair, interval))
			if err := series.WriteCSV(path, candles); err != nil {
				return err
			}
			results[i] = DownloadResult{IntervalMinutes: interval, Path: path, Candles: len(candles)}
			d.logger.Info("K线下载完成",
				zap.String("symbol", req.Symbol),
				zap.Int("interval_minutes", interval),
				zap.Int("candles", len(candles)),
				zap.String("path", path),
			)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetchRange 从 since 开始分页拉取，丢弃未收盘的K线。
func (d *Downloader) fetchRange(ctx context.Context, symbol string, interval int, since, until time.Time) ([]market.Candle, error) {
	step := time.Duration(interval) * time.Minute
	byTime := make(map[int64]market.Candle)
	cursor := since

	for cursor.Before(until) {
		batch, err := d.client.FetchCandles(ctx, symbol, interval, cursor, d.batchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		var last time.Time
		for _, c := range batch {
			if c.Timestamp.After(last) {
				last = c.Timestamp
			}
			if c.Timestamp.Before(since) || c.Timestamp.Add(step).After(until) {
				continue
			}
			if err := c.Validate(); err != nil {
				d.logger.Warn("丢弃非法K线", zap.Int("interval_minutes", interval), zap.Error(err))
				continue
			}
			byTime[c.Timestamp.Unix()] = c
		}

		if len(batch) < d.batchSize || last.Before(cursor) {
			break
		}
		cursor = last.Add(step)
	}

	candles := make([]market.Candle, 0, len(byTime))
	for _, c := range byTime {
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return candles, nil
}
