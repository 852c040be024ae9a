package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.yaml.in/yaml/v3"

	"backcast/internal/backtest"
)

var ledgerHeader = []string{
	"entry_time", "entry_price", "stop_loss_price", "size", "periods",
	"pct_change", "highest_gain", "max_drawdown",
	"exit_time", "exit_price", "exit_reason", "time_held", "capital_after",
}

// WriteLedgerCSV 以 CSV 格式输出账本。
func WriteLedgerCSV(w io.Writer, ledger []backtest.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ledgerHeader); err != nil {
		return fmt.Errorf("report: 写入账本表头失败: %w", err)
	}
	for _, t := range ledger {
		stop := ""
		if t.HasStopLoss() {
			stop = formatF(t.StopLossPrice)
		}
		record := []string{
			t.EntryTime.UTC().Format(time.RFC3339),
			formatF(t.EntryPrice),
			stop,
			formatF(t.Size),
			strconv.Itoa(t.Periods),
			formatF(t.PctChange),
			formatF(t.HighestGain),
			formatF(t.MaxDrawdown),
			t.ExitTime.UTC().Format(time.RFC3339),
			formatF(t.ExitPrice),
			string(t.ExitReason),
			t.TimeHeld.String(),
			money(t.CapitalAfter),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("report: 写入账本失败: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryYAML 以 YAML 格式输出汇总。
func WriteSummaryYAML(w io.Writer, s Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("report: 序列化汇总失败: %w", err)
	}
	return enc.Close()
}

// Files 为写出的报表路径。
type Files struct {
	Ledger  string
	Summary string
}

// WriteFiles 在 dir 下写出 <name>_ledger.csv 与 <name>_summary.yaml。
func WriteFiles(dir, name string, ledger []backtest.Trade, s Summary) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("report: 创建目录失败: %w", err)
	}
	base := sanitize(name)
	files := Files{
		Ledger:  filepath.Join(dir, base+"_ledger.csv"),
		Summary: filepath.Join(dir, base+"_summary.yaml"),
	}

	if err := writeFile(files.Ledger, func(w io.Writer) error { return WriteLedgerCSV(w, ledger) }); err != nil {
		return Files{}, err
	}
	if err := writeFile(files.Summary, func(w io.Writer) error { return WriteSummaryYAML(w, s) }); err != nil {
		return Files{}, err
	}
	return files, nil
}

// Lines 将汇总渲染为便于日志输出的文本行。
func (s Summary) Lines() []string {
	return []string{
		fmt.Sprintf("回测: %s %s %d分钟 %s ~ %s", s.Name, s.Pair, s.IntervalMinutes,
			s.Start.UTC().Format(time.RFC3339), s.End.UTC().Format(time.RFC3339)),
		fmt.Sprintf("资金: %s -> %s (%s, %s)", money(s.StartingCapital), money(s.EndingCapital),
			money(s.AbsoluteReturn), pct(&s.PercentReturn)),
		fmt.Sprintf("交易: %d 笔, 盈利 %d, 亏损 %d, 胜率 %s", s.Trades, s.Wins, s.Losses, pct(&s.WinRatio)),
		fmt.Sprintf("平均盈利 %s, 平均亏损 %s, 最大盈利 %s, 最大亏损 %s",
			pct(s.AverageWinPct), pct(s.AverageLossPct), pct(s.BestWinPct), pct(s.WorstLossPct)),
		fmt.Sprintf("K线 %d 根, 交易/K线 %.4f, 平仓资金最大回撤 %s",
			s.Candles, s.TradeToCandleRatio, pct(&s.MaxEquityDrawdown)),
	}
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: 创建文件失败: %w", err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: 关闭文件失败: %w", err)
	}
	return nil
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "backtest"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, name)
}

func pct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return decimal.NewFromFloat(*v*100).StringFixed(2) + "%"
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
