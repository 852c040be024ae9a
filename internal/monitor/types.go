package monitor

import (
	"time"

	"backcast/internal/backtest"
	"backcast/internal/report"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventRunFinished   EventType = "run_finished"
	EventSweepFinished EventType = "sweep_finished"
	EventDownload      EventType = "download"
	EventError         EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RunStartedPayload 记录回测启动参数。
type RunStartedPayload struct {
	Name             string    `json:"name"`
	Strategy         string    `json:"strategy"`
	Pair             string    `json:"pair"`
	IntervalMinutes  int       `json:"interval_minutes"`
	SourceInterval   int       `json:"source_interval"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Candles          int       `json:"candles"`
	StopLossFraction float64   `json:"stop_loss_fraction"`
	WindowLength     int       `json:"window_length"`
}

// RunFinishedPayload 记录回测结束状态。
type RunFinishedPayload struct {
	RunID         int64   `json:"run_id"`
	Name          string  `json:"name"`
	Trades        int     `json:"trades"`
	EndingCapital float64 `json:"ending_capital"`
	TotalReturn   float64 `json:"total_return"`
}

// SweepFinishedPayload 汇总参数扫描。
type SweepFinishedPayload struct {
	Name      string  `json:"name"`
	Cases     int     `json:"cases"`
	Failed    int     `json:"failed"`
	BestStop  float64 `json:"best_stop_loss"`
	BestWin   int     `json:"best_window"`
	BestFinal float64 `json:"best_ending_capital"`
}

// DownloadPayload 记录行情下载结果。
type DownloadPayload struct {
	Pair      string `json:"pair"`
	Intervals []int  `json:"intervals"`
	Candles   int    `json:"candles"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// RunRecord 为归档的一次回测。
type RunRecord struct {
	ID               int64            `json:"id"`
	Name             string           `json:"name"`
	Strategy         string           `json:"strategy"`
	Pair             string           `json:"pair"`
	IntervalMinutes  int              `json:"interval_minutes"`
	StopLossFraction float64          `json:"stop_loss_fraction"`
	WindowLength     int              `json:"window_length"`
	StartingCapital  float64          `json:"starting_capital"`
	EndingCapital    float64          `json:"ending_capital"`
	Start            time.Time        `json:"start"`
	End              time.Time        `json:"end"`
	TradeCount       int              `json:"trade_count"`
	Summary          *report.Summary  `json:"summary,omitempty"` // 无交易时为 nil
	Ledger           []backtest.Trade `json:"-"`
	CreatedAt        time.Time        `json:"created_at"`
}
