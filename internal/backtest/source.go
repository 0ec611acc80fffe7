package backtest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"quantbt/internal/market"
)

// ErrNoData 数据源没有该标的的数据。
var ErrNoData = errors.New("no data")

var csvColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

var csvTimeLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

// CSVSource 从目录读取 <SYMBOL>_<tf>.csv；优先查找 <dir>/<MARKET>/ 子目录。
type CSVSource struct {
	dir string
}

var _ market.Source = (*CSVSource)(nil)

func NewCSVSource(dir string) (*CSVSource, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("csv 目录不能为空")
	}
	return &CSVSource{dir: dir}, nil
}

func (c *CSVSource) path(req market.Request) (string, error) {
	name := strings.ToUpper(req.Symbol) + "_" + strings.ToLower(req.Timeframe.Key) + ".csv"
	candidates := []string{filepath.Join(c.dir, name)}
	if req.Market != "" {
		candidates = append([]string{filepath.Join(c.dir, strings.ToUpper(req.Market), name)}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s %s: %w", req.Symbol, req.Timeframe, ErrNoData)
}

func (c *CSVSource) FetchBars(ctx context.Context, req market.Request) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	p, err := c.path(req)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
	}
	return bars.Between(req.Start, req.End), nil
}

// ReadCSV 解析带表头的 OHLCV CSV；列顺序由表头决定，结果按时间升序去重。
func ReadCSV(r io.Reader) (market.Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := index["timestamp"]; !ok {
		if i, ok := index["date"]; ok {
			index["timestamp"] = i
		}
	}
	for _, col := range csvColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("缺少列 %s", col)
		}
	}
	var out market.Series
	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		ts, err := parseTimestamp(rec[index["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		bar := market.Bar{Time: ts}
		fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
		for i, col := range csvColumns[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[index[col]]), 64)
			if err != nil {
				return nil, fmt.Errorf("第 %d 行 %s: %w", line, col, err)
			}
			*fields[i] = v
		}
		out = append(out, bar)
	}
	return out.Normalize(), nil
}

// WriteCSV 按 ReadCSV 可读的格式写出序列。
func WriteCSV(w io.Writer, bars market.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("无法解析时间 %q", raw)
}
