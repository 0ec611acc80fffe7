package app

import (
	"context"
	"sync"
	"time"

	"quantbt/internal/backtest"
	"quantbt/internal/logger"
	"quantbt/internal/preset"
	backtesthttp "quantbt/internal/transport/http/backtest"
)

// BacktestService 管理回测数据、执行器与 HTTP 暴露。
type BacktestService struct {
	bars     *backtest.BarStore
	results  *backtest.ResultStore
	presets  *preset.Registry
	runner   *backtest.Runner
	server   *backtesthttp.Server
	cacheTTL time.Duration

	closeOnce sync.Once
}

// Start 绑定上下文，之后提交的任务随 ctx 取消。
func (b *BacktestService) Start(ctx context.Context) {
	if b == nil {
		return
	}
	if b.runner != nil {
		b.runner.SetContext(ctx)
	}
}

// purgeLoop 定期清理超过日线 TTL 两倍仍未刷新的缓存行。
func (b *BacktestService) purgeLoop(ctx context.Context, every time.Duration) error {
	if b == nil || b.bars == nil || b.cacheTTL <= 0 {
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			b.purge(ctx, now)
		}
	}
}

func (b *BacktestService) purge(ctx context.Context, now time.Time) int64 {
	n, err := b.bars.Purge(ctx, now.Add(-2*b.cacheTTL))
	if err != nil {
		logger.Warnf("[backtest] 清理行情缓存失败: %v", err)
		return 0
	}
	if n > 0 {
		logger.Infof("[backtest] 已清理 %d 条过期行情缓存", n)
	}
	return n
}

// Close 释放回测相关资源。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		if b.results != nil {
			_ = b.results.Close()
		}
		if b.bars != nil {
			_ = b.bars.Close()
		}
	})
}
