package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"backcast/internal/config"
	"backcast/internal/store"
)

// Mode 为命令行运行模式。
type Mode string

const (
	ModeRun     Mode = "run"
	ModeSweep   Mode = "sweep"
	ModeFetch   Mode = "fetch"
	ModeHistory Mode = "history"
)

// ParseMode 解析运行模式，空字符串视为 run。
func ParseMode(value string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(value))); m {
	case "":
		return ModeRun, nil
	case ModeRun, ModeSweep, ModeFetch, ModeHistory:
		return m, nil
	default:
		return "", fmt.Errorf("未知运行模式 %q (可选 run|sweep|fetch|history)", value)
	}
}

// App 聚合核心依赖并按模式驱动一次批处理。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 执行指定模式。
func (a *App) Run(ctx context.Context, mode Mode) error {
	a.logger.Info("回测系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("mode", string(mode)),
		zap.String("pair", a.cfg.Backtest.SymbolPair),
		zap.String("strategy", a.cfg.Strategy.Name),
	)

	orch, err := newOrchestrator(ctx, a.cfg, a.logger, a.store)
	if err != nil {
		return err
	}

	switch mode {
	case ModeRun:
		_, err = orch.RunBacktest(ctx)
	case ModeSweep:
		_, err = orch.RunSweep(ctx)
	case ModeFetch:
		err = orch.Fetch(ctx)
	case ModeHistory:
		err = orch.History(ctx, 20)
	default:
		err = fmt.Errorf("未知运行模式 %q", mode)
	}
	if err != nil {
		orch.monitor.RecordError(ctx, "运行失败", err, map[string]interface{}{"mode": string(mode)})
		return err
	}
	return nil
}
