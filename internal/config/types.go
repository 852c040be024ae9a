package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// DateLayout 为配置中日期字段的格式。
const DateLayout = "2006-01-02"

// Config 聚合了回测系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Data     DataConfig     `mapstructure:"data"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Report   ReportConfig   `mapstructure:"report"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// BacktestConfig 描述单次回测参数。
type BacktestConfig struct {
	Name             string  `mapstructure:"name"`
	SymbolPair       string  `mapstructure:"symbol_pair"`
	IntervalMinutes  int     `mapstructure:"interval_minutes"`
	StartDate        string  `mapstructure:"start_date"`
	EndDate          string  `mapstructure:"end_date"`
	StartingCapital  float64 `mapstructure:"starting_capital"`
	StopLossFraction float64 `mapstructure:"stop_loss_fraction"` // 0 表示不设止损
	WindowLength     int     `mapstructure:"window_length"`
}

// Start 解析开始日期（UTC 零点）。
func (c BacktestConfig) Start() (time.Time, error) {
	return ParseDate(c.StartDate)
}

// End 解析结束日期，未配置时返回零值。
func (c BacktestConfig) End() (time.Time, error) {
	if strings.TrimSpace(c.EndDate) == "" {
		return time.Time{}, nil
	}
	return ParseDate(c.EndDate)
}

// DataConfig 描述本地K线数据源。
type DataConfig struct {
	Dir             string `mapstructure:"dir"`
	NativeIntervals []int  `mapstructure:"native_intervals"`
}

// StrategyConfig 选择策略并提供参数。
type StrategyConfig struct {
	Name       string `mapstructure:"name"`
	FastPeriod int    `mapstructure:"fast_period"`
	SlowPeriod int    `mapstructure:"slow_period"`
	Signal     int    `mapstructure:"signal_period"`
}

// SweepConfig 控制止损参数扫描。
type SweepConfig struct {
	StopLossMin   float64 `mapstructure:"stop_loss_min"`
	StopLossMax   float64 `mapstructure:"stop_loss_max"`
	StopLossStep  float64 `mapstructure:"stop_loss_step"`
	WindowLengths []int   `mapstructure:"window_lengths"`
	MaxParallel   int     `mapstructure:"max_parallel"`
}

// ExchangeConfig 描述下载行情所用的交易所连接信息。
type ExchangeConfig struct {
	Name      string      `mapstructure:"name"`
	Market    string      `mapstructure:"market"`
	APIKey    string      `mapstructure:"api_key"`
	APISecret string      `mapstructure:"api_secret"`
	Since     string      `mapstructure:"since"`
	BatchSize int         `mapstructure:"batch_size"`
	Retry     RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// OpenAIConfig 描述大模型调用参数，仅 ai 策略使用。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MinConfidence 低于该信心的 BUY/SELL 按 HOLD 处理。
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// ReportConfig 控制报表输出。
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if strings.TrimSpace(c.Backtest.SymbolPair) == "" {
		err = multierr.Append(err, errors.New("backtest.symbol_pair 不能为空"))
	}
	if c.Backtest.IntervalMinutes <= 0 {
		err = multierr.Append(err, errors.New("backtest.interval_minutes 必须大于0"))
	}
	if c.Backtest.StartingCapital <= 0 {
		err = multierr.Append(err, errors.New("backtest.starting_capital 必须大于0"))
	}
	if c.Backtest.StopLossFraction < 0 || c.Backtest.StopLossFraction >= 1 {
		err = multierr.Append(err, errors.New("backtest.stop_loss_fraction 必须位于(0,1)，0 表示不启用"))
	}
	if c.Backtest.WindowLength <= 0 {
		err = multierr.Append(err, errors.New("backtest.window_length 必须大于0"))
	}
	start, startErr := c.Backtest.Start()
	if startErr != nil {
		err = multierr.Append(err, fmt.Errorf("backtest.start_date 无效: %w", startErr))
	}
	end, endErr := c.Backtest.End()
	if endErr != nil {
		err = multierr.Append(err, fmt.Errorf("backtest.end_date 无效: %w", endErr))
	}
	if startErr == nil && endErr == nil && !end.IsZero() && !end.After(start) {
		err = multierr.Append(err, errors.New("backtest.end_date 必须晚于 start_date"))
	}
	if c.Data.Dir == "" {
		err = multierr.Append(err, errors.New("data.dir 不能为空"))
	}
	if len(c.Data.NativeIntervals) == 0 {
		err = multierr.Append(err, errors.New("data.native_intervals 至少包含一个周期"))
	}
	for _, interval := range c.Data.NativeIntervals {
		if interval <= 0 {
			err = multierr.Append(err, fmt.Errorf("data.native_intervals 包含非法周期 %d", interval))
		}
	}
	if c.Strategy.Name == "" {
		err = multierr.Append(err, errors.New("strategy.name 不能为空"))
	}
	if c.Strategy.FastPeriod < 0 || c.Strategy.SlowPeriod < 0 || c.Strategy.Signal < 0 {
		err = multierr.Append(err, errors.New("strategy 周期参数不能为负"))
	}
	if c.Strategy.FastPeriod > 0 && c.Strategy.SlowPeriod > 0 && c.Strategy.FastPeriod >= c.Strategy.SlowPeriod {
		err = multierr.Append(err, errors.New("strategy.fast_period 必须小于 slow_period"))
	}
	if strings.EqualFold(c.Strategy.Name, "ai") {
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("ai 策略需要配置 openai.api_key"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
		if c.OpenAI.MinConfidence < 0 || c.OpenAI.MinConfidence > 1 {
			err = multierr.Append(err, errors.New("openai.min_confidence 必须位于 [0,1]"))
		}
	}
	if c.Sweep.MaxParallel <= 0 {
		err = multierr.Append(err, errors.New("sweep.max_parallel 必须大于0"))
	}
	if c.Sweep.StopLossMin < 0 || c.Sweep.StopLossMax >= 1 || c.Sweep.StopLossMin > c.Sweep.StopLossMax {
		err = multierr.Append(err, errors.New("sweep.stop_loss 范围必须位于[0,1)且 min <= max"))
	}
	if c.Sweep.StopLossStep < 0 {
		err = multierr.Append(err, errors.New("sweep.stop_loss_step 不能为负"))
	}
	for _, w := range c.Sweep.WindowLengths {
		if w <= 0 {
			err = multierr.Append(err, fmt.Errorf("sweep.window_lengths 包含非法窗口 %d", w))
		}
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if _, dateErr := ParseDate(c.Exchange.Since); dateErr != nil {
		err = multierr.Append(err, fmt.Errorf("exchange.since 无效: %w", dateErr))
	}
	if c.Exchange.BatchSize <= 0 {
		err = multierr.Append(err, errors.New("exchange.batch_size 必须大于0"))
	}
	if c.Report.OutputDir == "" {
		err = multierr.Append(err, errors.New("report.output_dir 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// ParseDate 按 DateLayout 解析 UTC 日期。
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
