package backtest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quantbt/internal/market"

	"github.com/adshao/go-binance/v2"
)

const binanceMaxLimit = 1000

// BinanceSource 基于 go-binance 现货 K 线接口，按 limit 分页拉取完整区间。
type BinanceSource struct {
	client *binance.Client
}

var _ market.Source = (*BinanceSource)(nil)

func NewBinanceSource(baseURL string, timeout time.Duration) *BinanceSource {
	client := binance.NewClient("", "")
	if base := strings.TrimSpace(baseURL); base != "" {
		client.BaseURL = base
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) FetchBars(ctx context.Context, req market.Request) (market.Series, error) {
	symbol := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(req.Symbol), "/", ""))
	if symbol == "" || req.Timeframe.SourceInterval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	step := req.Timeframe.Duration.Milliseconds()
	if step <= 0 {
		return nil, fmt.Errorf("无效周期 %s", req.Timeframe)
	}
	cursor, end := bounds(req)
	if end > time.Now().UnixMilli() {
		end = time.Now().UnixMilli()
	}
	var out market.Series
	for cursor <= end {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kls, err := b.client.NewKlinesService().
			Symbol(symbol).
			Interval(req.Timeframe.SourceInterval).
			StartTime(cursor).
			EndTime(end).
			Limit(binanceMaxLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance 拉取 %s 失败: %w", symbol, err)
		}
		if len(kls) == 0 {
			break
		}
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			out = append(out, market.Bar{
				Time:   time.UnixMilli(kl.OpenTime).UTC(),
				Open:   parseFloat(kl.Open),
				High:   parseFloat(kl.High),
				Low:    parseFloat(kl.Low),
				Close:  parseFloat(kl.Close),
				Volume: parseFloat(kl.Volume),
			})
		}
		last := kls[len(kls)-1]
		if last == nil || len(kls) < binanceMaxLimit {
			break
		}
		cursor = last.OpenTime + step
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %s: %w", symbol, req.Timeframe, ErrNoData)
	}
	return out.Normalize(), nil
}

func parseFloat(raw string) float64 {
	f, _ := strconv.ParseFloat(raw, 64)
	return f
}
