package series

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"backcast/internal/config"
	"backcast/internal/market"
)

// DefaultNativeIntervals 为数据源原生提供的周期（分钟）。
var DefaultNativeIntervals = []int{1, 5, 15, 60, 720, 1440}

// Request 描述一次序列加载。
type Request struct {
	Pair            string
	IntervalMinutes int
	Start           time.Time
	End             time.Time // 零值表示加载到最后一根K线
	MinCandles      int       // 通常为策略窗口长度
}

// Result 为加载结果。
type Result struct {
	Series         market.Series
	Start          time.Time
	End            time.Time // 未指定结束日期时为最后一根K线的时间
	SourceInterval int
	Resampled      bool
}

// Loader 从本地 CSV 目录加载K线序列。
type Loader struct {
	dir       string
	intervals []int
	logger    *zap.Logger
}

// NewLoader 创建 Loader。
func NewLoader(cfg config.DataConfig, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	intervals := append([]int(nil), cfg.NativeIntervals...)
	if len(intervals) == 0 {
		intervals = append(intervals, DefaultNativeIntervals...)
	}
	sort.Ints(intervals)

	return &Loader{
		dir:       cfg.Dir,
		intervals: intervals,
		logger:    logger,
	}
}

// SourceInterval 返回加载 requested 周期时实际读取的原生周期。
// requested 本身为原生周期时原样返回，否则取严格小于它的最大原生周期。
func (l *Loader) SourceInterval(requested int) (int, bool) {
	best := 0
	for _, native := range l.intervals {
		if native == requested {
			return native, true
		}
		if native < requested {
			best = native
		}
	}
	return best, best > 0
}

// Load 读取、按需重采样并按 [Start, End) 过滤序列。
func (l *Loader) Load(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.IntervalMinutes <= 0 {
		return Result{}, fmt.Errorf("series: 周期必须大于0: %d", req.IntervalMinutes)
	}

	source, ok := l.SourceInterval(req.IntervalMinutes)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s 没有不大于 %d 分钟的原生周期", market.ErrDataUnavailable, req.Pair, req.IntervalMinutes)
	}

	path := filepath.Join(l.dir, FileName(req.Pair, source))
	candles, err := ReadCSV(path)
	if err != nil {
		return Result{}, err
	}
	if len(candles) == 0 {
		return Result{}, fmt.Errorf("%w: %s 为空", market.ErrDataUnavailable, filepath.Base(path))
	}

	series := market.Series{Pair: req.Pair, IntervalMinutes: source, Candles: candles}
	resampled := false
	if source != req.IntervalMinutes {
		l.logger.Info("请求周期非原生周期，使用更细粒度数据重采样",
			zap.String("pair", req.Pair),
			zap.Int("requested", req.IntervalMinutes),
			zap.Int("source", source),
		)
		series, err = Resample(series, req.IntervalMinutes)
		if err != nil {
			return Result{}, err
		}
		resampled = true
	}

	filtered, end := filterRange(series, req.Start, req.End)
	result := Result{
		Series:         filtered,
		Start:          req.Start,
		End:            end,
		SourceInterval: source,
		Resampled:      resampled,
	}

	if filtered.Len() < req.MinCandles {
		return result, fmt.Errorf("%w: %s 在 %s 之后仅有 %d 根K线，需要 %d",
			market.ErrInsufficientHistory, req.Pair, req.Start.Format(time.RFC3339), filtered.Len(), req.MinCandles)
	}

	l.logger.Debug("序列加载完成",
		zap.String("pair", req.Pair),
		zap.Int("interval", req.IntervalMinutes),
		zap.Int("candles", filtered.Len()),
		zap.Time("start", result.Start),
		zap.Time("end", result.End),
	)

	return result, nil
}

// filterRange 按半开区间 [start, end) 过滤；end 为零值时保留到最后一根并返回其时间。
func filterRange(s market.Series, start, end time.Time) (market.Series, time.Time) {
	out := market.Series{Pair: s.Pair, IntervalMinutes: s.IntervalMinutes}

	from := sort.Search(len(s.Candles), func(i int) bool {
		return !s.Candles[i].Timestamp.Before(start)
	})
	to := len(s.Candles)
	if !end.IsZero() {
		to = sort.Search(len(s.Candles), func(i int) bool {
			return !s.Candles[i].Timestamp.Before(end)
		})
	}
	if from < to {
		out.Candles = append([]market.Candle(nil), s.Candles[from:to]...)
	}

	if end.IsZero() {
		if last, ok := s.Last(); ok {
			end = last.Timestamp
		}
	}
	return out, end
}
