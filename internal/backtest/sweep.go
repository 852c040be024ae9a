package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"backcast/internal/market"
	"backcast/internal/strategy"
)

// SweepCase 为参数扫描中的一组参数。
type SweepCase struct {
	StopLossFraction float64
	WindowLength     int
}

// SweepInput 描述一次参数扫描。
type SweepInput struct {
	Base        Config
	Series      market.Series
	Cases       []SweepCase
	MaxParallel int
	// NewStrategy 为每次运行构建独立的策略实例。
	NewStrategy func() (strategy.Strategy, error)
	Logger      *zap.Logger
}

// SweepOutcome 为单组参数的回测结果，运行失败时 Err 非空。
type SweepOutcome struct {
	Case   SweepCase
	Result Result
	Err    error
}

// Grid 生成止损比例与窗口长度的笛卡尔积，max 包含在内。
// step 为 0 时只取 min；windows 为空时使用 defaultWindow。
func Grid(minStop, maxStop, step float64, windows []int, defaultWindow int) []SweepCase {
	stops := []float64{minStop}
	if step > 0 && maxStop > minStop {
		stops = lo.Map(lo.RangeWithSteps(minStop, maxStop+step/2, step), func(v float64, _ int) float64 {
			return math.Round(v*1e6) / 1e6
		})
	}
	if len(windows) == 0 {
		windows = []int{defaultWindow}
	}
	return lo.CrossJoinBy2(stops, lo.Uniq(windows), func(stop float64, window int) SweepCase {
		return SweepCase{StopLossFraction: stop, WindowLength: window}
	})
}

// Sweep 并行执行多组参数的回测，结果顺序与 Cases 一致。
// 单组失败记录在对应结果中，只有上下文取消会中止整个扫描。
func Sweep(ctx context.Context, in SweepInput) ([]SweepOutcome, error) {
	if in.NewStrategy == nil {
		return nil, errors.New("backtest: sweep 缺少策略构造函数")
	}
	if len(in.Cases) == 0 {
		return nil, errors.New("backtest: sweep 参数组为空")
	}
	logger := in.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := in.MaxParallel
	if limit <= 0 {
		limit = 1
	}

	outcomes := make([]SweepOutcome, len(in.Cases))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for i, c := range in.Cases {
		group.Go(func() error {
			outcomes[i] = runCase(groupCtx, in, c, logger)
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("backtest: sweep 中止: %w", err)
	}

	succeeded := lo.CountBy(outcomes, func(o SweepOutcome) bool { return o.Err == nil })
	logger.Info("参数扫描完成",
		zap.Int("cases", len(outcomes)),
		zap.Int("succeeded", succeeded),
	)
	return outcomes, nil
}

func runCase(ctx context.Context, in SweepInput, c SweepCase, logger *zap.Logger) SweepOutcome {
	out := SweepOutcome{Case: c}

	strat, err := in.NewStrategy()
	if err != nil {
		out.Err = fmt.Errorf("backtest: 构建策略失败: %w", err)
		return out
	}

	cfg := in.Base
	cfg.StopLossFraction = c.StopLossFraction
	cfg.WindowLength = c.WindowLength
	cfg.Name = fmt.Sprintf("%s_sl%g_w%d", in.Base.Name, c.StopLossFraction, c.WindowLength)

	engine, err := NewEngine(cfg, strat, logger)
	if err != nil {
		out.Err = err
		return out
	}
	out.Result, out.Err = engine.Run(ctx, in.Series)
	if out.Err != nil {
		logger.Warn("参数组回测失败",
			zap.Float64("stop_loss", c.StopLossFraction),
			zap.Int("window", c.WindowLength),
			zap.Error(out.Err),
		)
	}
	return out
}
