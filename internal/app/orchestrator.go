package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"backcast/internal/ai"
	"backcast/internal/backtest"
	"backcast/internal/config"
	"backcast/internal/exchange"
	"backcast/internal/indicator"
	"backcast/internal/monitor"
	"backcast/internal/report"
	"backcast/internal/series"
	"backcast/internal/store"
	"backcast/internal/strategy"
)

type orchestrator struct {
	cfg     *config.Config
	loader  *series.Loader
	monitor *monitor.Service
	logger  *zap.Logger

	// newStrategy 每次调用返回独立实例，便于并行扫描。
	newStrategy func() (strategy.Strategy, error)
}

func newOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.Store) (*orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("配置不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	monitorSvc, err := monitor.NewService(ctx, st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	return &orchestrator{
		cfg:         cfg,
		loader:      series.NewLoader(cfg.Data, logger),
		monitor:     monitorSvc,
		logger:      logger,
		newStrategy: strategyFactory(cfg, logger),
	}, nil
}

func strategyFactory(cfg *config.Config, logger *zap.Logger) func() (strategy.Strategy, error) {
	if strings.EqualFold(cfg.Strategy.Name, "ai") {
		opts := ai.Options{
			Params: indicator.Params{
				FastPeriod:   cfg.Strategy.FastPeriod,
				SlowPeriod:   cfg.Strategy.SlowPeriod,
				SignalPeriod: cfg.Strategy.Signal,
			},
			MinConfidence: cfg.OpenAI.MinConfidence,
		}
		return func() (strategy.Strategy, error) {
			return ai.NewStrategy(cfg.OpenAI, opts, logger)
		}
	}
	return func() (strategy.Strategy, error) {
		return strategy.Build(cfg.Strategy)
	}
}

func (o *orchestrator) loadSeries(ctx context.Context, minCandles int) (series.Result, error) {
	bt := o.cfg.Backtest
	start, err := bt.Start()
	if err != nil {
		return series.Result{}, fmt.Errorf("解析开始日期失败: %w", err)
	}
	end, err := bt.End()
	if err != nil {
		return series.Result{}, fmt.Errorf("解析结束日期失败: %w", err)
	}

	loaded, err := o.loader.Load(ctx, series.Request{
		Pair:            bt.SymbolPair,
		IntervalMinutes: bt.IntervalMinutes,
		Start:           start,
		End:             end,
		MinCandles:      minCandles,
	})
	if err != nil {
		return series.Result{}, fmt.Errorf("加载行情失败: %w", err)
	}
	return loaded, nil
}

func (o *orchestrator) baseConfig() backtest.Config {
	bt := o.cfg.Backtest
	return backtest.Config{
		Name:             bt.Name,
		Pair:             bt.SymbolPair,
		StartingCapital:  bt.StartingCapital,
		StopLossFraction: bt.StopLossFraction,
		WindowLength:     bt.WindowLength,
	}
}

// RunBacktest 执行单次回测、输出报表并归档。
func (o *orchestrator) RunBacktest(ctx context.Context) (backtest.Result, error) {
	strat, err := o.newStrategy()
	if err != nil {
		return backtest.Result{}, fmt.Errorf("初始化策略失败: %w", err)
	}
	engine, err := backtest.NewEngine(o.baseConfig(), strat, o.logger)
	if err != nil {
		return backtest.Result{}, err
	}

	loaded, err := o.loadSeries(ctx, o.cfg.Backtest.WindowLength)
	if err != nil {
		return backtest.Result{}, err
	}

	o.monitor.Emit(ctx, monitor.EventRunStarted, monitor.RunStartedPayload{
		Name:             o.cfg.Backtest.Name,
		Strategy:         o.cfg.Strategy.Name,
		Pair:             o.cfg.Backtest.SymbolPair,
		IntervalMinutes:  o.cfg.Backtest.IntervalMinutes,
		SourceInterval:   loaded.SourceInterval,
		Start:            loaded.Start,
		End:              loaded.End,
		Candles:          loaded.Series.Len(),
		StopLossFraction: o.cfg.Backtest.StopLossFraction,
		WindowLength:     o.cfg.Backtest.WindowLength,
	})

	res, err := engine.Run(ctx, loaded.Series)
	if err != nil {
		return backtest.Result{}, err
	}

	if _, err := o.finish(ctx, engine.Config(), res, true); err != nil {
		return res, err
	}
	return res, nil
}

// finish 计算汇总、写出报表并归档，返回运行ID。
func (o *orchestrator) finish(ctx context.Context, cfg backtest.Config, res backtest.Result, writeFiles bool) (int64, error) {
	var errs error

	summary, err := report.FromResult(res)
	var summaryPtr *report.Summary
	switch {
	case errors.Is(err, report.ErrNoTrades):
		o.logger.Warn("回测期间没有产生交易", zap.String("name", res.Name))
	case err != nil:
		errs = multierr.Append(errs, err)
	default:
		summaryPtr = &summary
		for _, line := range summary.Lines() {
			o.logger.Info(line)
		}
		if writeFiles {
			files, err := report.WriteFiles(o.cfg.Report.OutputDir, res.Name, res.Ledger, summary)
			if err != nil {
				errs = multierr.Append(errs, err)
			} else {
				o.logger.Info("报表已写出", zap.String("ledger", files.Ledger), zap.String("summary", files.Summary))
			}
		}
	}

	id, err := o.monitor.RecordRun(ctx, monitor.RunRecord{
		Name:             res.Name,
		Strategy:         o.cfg.Strategy.Name,
		Pair:             res.Pair,
		IntervalMinutes:  res.IntervalMinutes,
		StopLossFraction: cfg.StopLossFraction,
		WindowLength:     cfg.WindowLength,
		StartingCapital:  res.StartingCapital,
		EndingCapital:    res.EndingCapital,
		Start:            res.Start,
		End:              res.End,
		Summary:          summaryPtr,
		Ledger:           res.Ledger,
	})
	if err != nil {
		errs = multierr.Append(errs, err)
	} else {
		o.monitor.Emit(ctx, monitor.EventRunFinished, monitor.RunFinishedPayload{
			RunID:         id,
			Name:          res.Name,
			Trades:        len(res.Ledger),
			EndingCapital: res.EndingCapital,
			TotalReturn:   res.Metrics.TotalReturn,
		})
	}

	return id, errs
}

// RunSweep 对止损比例与窗口长度做参数扫描并逐一归档。
func (o *orchestrator) RunSweep(ctx context.Context) ([]backtest.SweepOutcome, error) {
	sw := o.cfg.Sweep
	cases := backtest.Grid(sw.StopLossMin, sw.StopLossMax, sw.StopLossStep, sw.WindowLengths, o.cfg.Backtest.WindowLength)
	longest := lo.Max(lo.Map(cases, func(c backtest.SweepCase, _ int) int { return c.WindowLength }))

	loaded, err := o.loadSeries(ctx, longest)
	if err != nil {
		return nil, err
	}

	outcomes, err := backtest.Sweep(ctx, backtest.SweepInput{
		Base:        o.baseConfig(),
		Series:      loaded.Series,
		Cases:       cases,
		MaxParallel: sw.MaxParallel,
		NewStrategy: o.newStrategy,
		Logger:      o.logger,
	})
	if err != nil {
		return nil, err
	}

	var errs error
	for _, out := range outcomes {
		if out.Err != nil {
			o.logger.Warn("参数组失败",
				zap.Float64("stop_loss", out.Case.StopLossFraction),
				zap.Int("window", out.Case.WindowLength),
				zap.Error(out.Err),
			)
			continue
		}
		cfg := o.baseConfig()
		cfg.StopLossFraction = out.Case.StopLossFraction
		cfg.WindowLength = out.Case.WindowLength
		if _, err := o.finish(ctx, cfg, out.Result, false); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	ok := lo.Filter(outcomes, func(out backtest.SweepOutcome, _ int) bool { return out.Err == nil })
	payload := monitor.SweepFinishedPayload{
		Name:   o.cfg.Backtest.Name,
		Cases:  len(outcomes),
		Failed: len(outcomes) - len(ok),
	}
	if len(ok) > 0 {
		best := lo.MaxBy(ok, func(a, b backtest.SweepOutcome) bool {
			return a.Result.EndingCapital > b.Result.EndingCapital
		})
		payload.BestStop = best.Case.StopLossFraction
		payload.BestWin = best.Case.WindowLength
		payload.BestFinal = best.Result.EndingCapital
		o.logger.Info("最优参数组",
			zap.Float64("stop_loss", best.Case.StopLossFraction),
			zap.Int("window", best.Case.WindowLength),
			zap.Float64("ending_capital", best.Result.EndingCapital),
		)
	}
	o.monitor.Emit(ctx, monitor.EventSweepFinished, payload)

	return outcomes, errs
}

// Fetch 从交易所下载原生周期K线到数据目录。
func (o *orchestrator) Fetch(ctx context.Context) error {
	client, err := exchange.NewClient(o.cfg.Exchange, o.logger)
	if err != nil {
		return fmt.Errorf("初始化交易所客户端失败: %w", err)
	}
	downloader, err := exchange.NewDownloader(client, o.cfg.Data.Dir, o.cfg.Exchange.BatchSize, o.logger)
	if err != nil {
		return err
	}
	since, err := config.ParseDate(o.cfg.Exchange.Since)
	if err != nil {
		return fmt.Errorf("解析 exchange.since 失败: %w", err)
	}

	results, err := downloader.Download(ctx, exchange.DownloadRequest{
		Pair:      o.cfg.Backtest.SymbolPair,
		Symbol:    o.cfg.Exchange.Market,
		Intervals: o.cfg.Data.NativeIntervals,
		Since:     since,
	})
	if err != nil {
		return err
	}

	o.monitor.Emit(ctx, monitor.EventDownload, monitor.DownloadPayload{
		Pair:      o.cfg.Backtest.SymbolPair,
		Intervals: o.cfg.Data.NativeIntervals,
		Candles:   lo.SumBy(results, func(r exchange.DownloadResult) int { return r.Candles }),
	})
	return nil
}

// History 输出最近归档的回测记录。
func (o *orchestrator) History(ctx context.Context, limit int) error {
	runs, err := o.monitor.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		o.logger.Info("暂无回测记录")
		return nil
	}
	for _, run := range runs {
		fields := []zap.Field{
			zap.Int64("id", run.ID),
			zap.String("name", run.Name),
			zap.String("strategy", run.Strategy),
			zap.String("pair", run.Pair),
			zap.Int("interval_minutes", run.IntervalMinutes),
			zap.Float64("stop_loss", run.StopLossFraction),
			zap.Int("window", run.WindowLength),
			zap.Int("trades", run.TradeCount),
			zap.Float64("ending_capital", run.EndingCapital),
			zap.Time("created_at", run.CreatedAt),
		}
		if run.Summary != nil {
			fields = append(fields, zap.Float64("win_ratio", run.Summary.WinRatio), zap.Float64("percent_return", run.Summary.PercentReturn))
		}
		o.logger.Info("回测记录", fields...)
	}
	return nil
}
