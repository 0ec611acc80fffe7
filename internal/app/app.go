package app

import (
	"context"
	"fmt"
	"time"

	"quantbt/internal/backtest"
	brcfg "quantbt/internal/config"
	"quantbt/internal/logger"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测服务。
type App struct {
	cfg      *brcfg.Config
	backtest *BacktestService
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return NewAppBuilder(cfg).Build(context.Background())
}

// Run 启动 HTTP 服务并阻塞到 ctx 结束，退出前等待后台回测收尾。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.backtest == nil || a.backtest.server == nil {
		return fmt.Errorf("backtest service not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	a.backtest.Start(ctx)

	group.Go(func() error {
		if err := a.backtest.server.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.backtest.purgeLoop(ctx, time.Hour)
	})

	err := group.Wait()
	a.backtest.runner.Wait()
	return err
}

// Runner 暴露回测执行器，供命令行同步执行。
func (a *App) Runner() *backtest.Runner {
	if a == nil || a.backtest == nil {
		return nil
	}
	return a.backtest.runner
}

// Close 释放存储资源，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.backtest.Close()
}
