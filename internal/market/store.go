package market

import (
	"context"
	"time"
)

// BarStore 持久化 K 线缓存；fetchedAt 用于判断是否过期。
type BarStore interface {
	Fresh(ctx context.Context, req Request, maxAge time.Duration, now time.Time) (Series, bool, error)
	Put(ctx context.Context, req Request, bars Series, fetchedAt time.Time) error
}
