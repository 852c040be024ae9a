package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "backcast"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("backtest.name", "backtest")
	v.SetDefault("backtest.symbol_pair", "ETHUSD")
	v.SetDefault("backtest.interval_minutes", 240)
	v.SetDefault("backtest.start_date", "2021-01-01")
	v.SetDefault("backtest.end_date", "")
	v.SetDefault("backtest.starting_capital", 1000)
	v.SetDefault("backtest.stop_loss_fraction", 0)
	v.SetDefault("backtest.window_length", 35)

	v.SetDefault("data.dir", "data/candles")
	v.SetDefault("data.native_intervals", []int{1, 5, 15, 60, 720, 1440})

	v.SetDefault("strategy.name", "macd")
	v.SetDefault("strategy.fast_period", 0)
	v.SetDefault("strategy.slow_period", 0)
	v.SetDefault("strategy.signal_period", 0)

	v.SetDefault("sweep.stop_loss_min", 0.01)
	v.SetDefault("sweep.stop_loss_max", 0.10)
	v.SetDefault("sweep.stop_loss_step", 0.01)
	v.SetDefault("sweep.window_lengths", []int{})
	v.SetDefault("sweep.max_parallel", 4)

	v.SetDefault("exchange.name", "binanceusdm")
	v.SetDefault("exchange.market", "ETH/USDT:USDT")
	v.SetDefault("exchange.since", "2021-01-01")
	v.SetDefault("exchange.batch_size", 500)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")
	v.SetDefault("openai.min_confidence", 0)

	v.SetDefault("report.output_dir", "reports")

	v.SetDefault("database.path", "data/backcast.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
