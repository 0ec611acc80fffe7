package market

import (
	"context"
	"time"
)

// Request 描述一次历史数据拉取。
type Request struct {
	Symbol    string
	Market    string
	Timeframe Timeframe
	Start     time.Time
	End       time.Time
}

// Source 历史 K 线数据源（CSV、交易所、缓存包装等）。
type Source interface {
	FetchBars(ctx context.Context, req Request) (Series, error)
}

// SourceFunc 便于测试时用闭包实现 Source。
type SourceFunc func(ctx context.Context, req Request) (Series, error)

func (f SourceFunc) FetchBars(ctx context.Context, req Request) (Series, error) {
	return f(ctx, req)
}
