package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"backcast/internal/backtest"
	"backcast/internal/report"
	"backcast/internal/store"
)

const schemaEvents = `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`

const schemaRuns = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	strategy TEXT NOT NULL,
	pair TEXT NOT NULL,
	interval_minutes INTEGER NOT NULL,
	stop_loss_fraction REAL NOT NULL,
	window_length INTEGER NOT NULL,
	starting_capital REAL NOT NULL,
	ending_capital REAL NOT NULL,
	range_start TEXT NOT NULL,
	range_end TEXT NOT NULL,
	trade_count INTEGER NOT NULL,
	summary TEXT,
	created_at TEXT NOT NULL
);
`

const schemaTrades = `
CREATE TABLE IF NOT EXISTS backtest_trades (
	run_id INTEGER NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	entry_time TEXT NOT NULL,
	entry_price REAL NOT NULL,
	stop_loss_price REAL NOT NULL,
	size REAL NOT NULL,
	periods INTEGER NOT NULL,
	pct_change REAL NOT NULL,
	highest_gain REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	exit_time TEXT NOT NULL,
	exit_price REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	capital_after REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// Service 负责持久化监控事件与回测归档。
type Service struct {
	store  *store.Store
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.Migrate(ctx, schemaEvents, schemaRuns, schemaTrades); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{
		store:  st,
		db:     st.DB(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// Emit 写入事件，失败只记录日志。
func (s *Service) Emit(ctx context.Context, typ EventType, payload interface{}) {
	if err := s.Record(ctx, Event{Type: typ, Payload: payload}); err != nil {
		s.logger.Warn("记录监控事件失败", zap.String("type", string(typ)), zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	s.Emit(ctx, EventError, ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	})
}

// RecordRun 在单个事务中归档回测参数、汇总与账本，返回运行ID。
func (s *Service) RecordRun(ctx context.Context, run RunRecord) (int64, error) {
	var summary sql.NullString
	if run.Summary != nil {
		raw, err := json.Marshal(run.Summary)
		if err != nil {
			return 0, fmt.Errorf("monitor: 序列化汇总失败: %w", err)
		}
		summary = sql.NullString{String: string(raw), Valid: true}
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}

	var id int64
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO backtest_runs (name, strategy, pair, interval_minutes, stop_loss_fraction, window_length,
	starting_capital, ending_capital, range_start, range_end, trade_count, summary, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.Name, run.Strategy, run.Pair, run.IntervalMinutes, run.StopLossFraction, run.WindowLength,
			run.StartingCapital, run.EndingCapital, formatTime(run.Start), formatTime(run.End),
			len(run.Ledger), summary, formatTime(run.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("monitor: 写入回测记录失败: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("monitor: 获取回测ID失败: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO backtest_trades (run_id, seq, entry_time, entry_price, stop_loss_price, size, periods,
	pct_change, highest_gain, max_drawdown, exit_time, exit_price, exit_reason, capital_after)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("monitor: 准备交易写入失败: %w", err)
		}
		defer stmt.Close()

		for i, t := range run.Ledger {
			if _, err := stmt.ExecContext(ctx,
				id, i, formatTime(t.EntryTime), t.EntryPrice, t.StopLossPrice, t.Size, t.Periods,
				t.PctChange, t.HighestGain, t.MaxDrawdown, formatTime(t.ExitTime), t.ExitPrice,
				string(t.ExitReason), t.CapitalAfter,
			); err != nil {
				return fmt.Errorf("monitor: 写入交易 %d 失败: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("回测已归档", zap.Int64("run_id", id), zap.String("name", run.Name), zap.Int("trades", len(run.Ledger)))
	return id, nil
}

// ListRuns 返回最近的回测记录（不含账本），按时间倒序。
func (s *Service) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, strategy, pair, interval_minutes, stop_loss_fraction, window_length,
	starting_capital, ending_capital, range_start, range_end, trade_count, summary, created_at
FROM backtest_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询回测记录失败: %w", err)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		var (
			run                 RunRecord
			start, end, created string
			summary             sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Name, &run.Strategy, &run.Pair, &run.IntervalMinutes,
			&run.StopLossFraction, &run.WindowLength, &run.StartingCapital, &run.EndingCapital,
			&start, &end, &run.TradeCount, &summary, &created); err != nil {
			return nil, fmt.Errorf("monitor: 解析回测记录失败: %w", err)
		}
		run.Start = parseTime(start)
		run.End = parseTime(end)
		run.CreatedAt = parseTime(created)
		if summary.Valid {
			var sum report.Summary
			if err := json.Unmarshal([]byte(summary.String), &sum); err != nil {
				return nil, fmt.Errorf("monitor: 解析汇总失败: %w", err)
			}
			run.Summary = &sum
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取回测记录失败: %w", err)
	}
	return runs, nil
}

// LoadLedger 读取指定回测的账本。
func (s *Service) LoadLedger(ctx context.Context, runID int64) ([]backtest.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT entry_time, entry_price, stop_loss_price, size, periods, pct_change, highest_gain, max_drawdown,
	exit_time, exit_price, exit_reason, capital_after
FROM backtest_trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询账本失败: %w", err)
	}
	defer rows.Close()

	ledger := make([]backtest.Trade, 0)
	for rows.Next() {
		var (
			t                   backtest.Trade
			entry, exit, reason string
		)
		if err := rows.Scan(&entry, &t.EntryPrice, &t.StopLossPrice, &t.Size, &t.Periods, &t.PctChange,
			&t.HighestGain, &t.MaxDrawdown, &exit, &t.ExitPrice, &reason, &t.CapitalAfter); err != nil {
			return nil, fmt.Errorf("monitor: 解析交易失败: %w", err)
		}
		t.EntryTime = parseTime(entry)
		t.ExitTime = parseTime(exit)
		t.ExitReason = backtest.ExitReason(reason)
		t.TimeHeld = t.ExitTime.Sub(t.EntryTime)
		ledger = append(ledger, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取账本失败: %w", err)
	}
	return ledger, nil
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var typ, payload, created string
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}
		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: parseTime(created),
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
