package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backcast/internal/market"
)

const fieldCount = 7

// FileName 返回交易对与周期对应的数据文件名，例如 ETHUSD_60.csv。
func FileName(pair string, intervalMinutes int) string {
	return fmt.Sprintf("%s_%d.csv", strings.ToUpper(strings.TrimSpace(pair)), intervalMinutes)
}

// ReadCSV 读取 (unix, open, high, low, close, volume, trades) 格式的K线文件。
// 文件不存在时返回 market.ErrDataUnavailable。
func ReadCSV(path string) ([]market.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", market.ErrDataUnavailable, filepath.Base(path))
		}
		return nil, fmt.Errorf("series: 打开数据文件失败: %w", err)
	}
	defer f.Close()

	return decodeCSV(f)
}

func decodeCSV(r io.Reader) ([]market.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	candles := make([]market.Candle, 0, 1024)
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("series: 解析第 %d 行失败: %w", line, err)
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		// 兼容带表头的文件
		if line == 1 && !isNumeric(record[0]) {
			continue
		}
		candle, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("series: 第 %d 行: %w", line, err)
		}
		candles = append(candles, candle)
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp.Equal(candles[i-1].Timestamp) {
			return nil, fmt.Errorf("series: 时间戳重复 %s", candles[i].Timestamp.Format(time.RFC3339))
		}
	}

	return candles, nil
}

func parseRecord(record []string) (market.Candle, error) {
	if len(record) < fieldCount {
		return market.Candle{}, fmt.Errorf("字段数量不足: %d", len(record))
	}

	unix, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("时间戳无效 %q: %w", record[0], err)
	}

	values := make([]float64, 5)
	for i := 0; i < 5; i++ {
		d, err := decimal.NewFromString(strings.TrimSpace(record[i+1]))
		if err != nil {
			return market.Candle{}, fmt.Errorf("数值无效 %q: %w", record[i+1], err)
		}
		values[i] = d.InexactFloat64()
	}

	trades, err := decimal.NewFromString(strings.TrimSpace(record[6]))
	if err != nil {
		return market.Candle{}, fmt.Errorf("成交笔数无效 %q: %w", record[6], err)
	}

	candle := market.Candle{
		Timestamp:  time.Unix(unix, 0).UTC(),
		Open:       values[0],
		High:       values[1],
		Low:        values[2],
		Close:      values[3],
		Volume:     values[4],
		TradeCount: trades.IntPart(),
	}
	if err := candle.Validate(); err != nil {
		return market.Candle{}, err
	}
	return candle, nil
}

// WriteCSV 以加载器可读取的格式写出K线，不含表头。
func WriteCSV(path string, candles []market.Candle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("series: 创建目录失败: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("series: 创建数据文件失败: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, c := range candles {
		record := []string{
			strconv.FormatInt(c.Timestamp.Unix(), 10),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
			strconv.FormatInt(c.TradeCount, 10),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("series: 写入数据失败: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("series: 写入数据失败: %w", err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func isNumeric(s string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return err == nil
}
