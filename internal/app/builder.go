package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"quantbt/internal/backtest"
	brcfg "quantbt/internal/config"
	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/preset"
	"quantbt/internal/strategy"
	backtesthttp "quantbt/internal/transport/http/backtest"
)

type AppBuilder struct {
	cfg *brcfg.Config

	upstreamFn func(brcfg.DataConfig) (market.Source, []string, error)
	presetsFn  func(string) (*preset.Registry, error)
}

type AppBuilderOption func(*AppBuilder)

// WithUpstream 替换缓存层之下的行情数据源。
func WithUpstream(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.upstreamFn = func(brcfg.DataConfig) (market.Source, []string, error) {
			return src, []string{"custom"}, nil
		}
	}
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		upstreamFn: buildUpstream,
		presetsFn:  loadPresetRegistry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// buildUpstream CRYPTO 走 Binance，其余市场读本地 CSV。
func buildUpstream(cfg brcfg.DataConfig) (market.Source, []string, error) {
	csvSrc, err := backtest.NewCSVSource(cfg.CSVDir)
	if err != nil {
		return nil, nil, err
	}
	router := backtest.NewRouter(csvSrc)
	binance := backtest.NewBinanceSource(cfg.BinanceRESTURL, cfg.HTTPTimeout())
	router.Register("CRYPTO", backtest.NewGuardedSource("binance", binance, cfg.CircuitFailures, cfg.CircuitCooldown()))
	return router, []string{"csv:" + cfg.CSVDir, "CRYPTO→binance:" + cfg.BinanceRESTURL}, nil
}

// loadPresetRegistry 预设文件不存在时只使用内置预设。
func loadPresetRegistry(path string) (*preset.Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return preset.NewStatic(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warnf("预设文件 %s 不存在，仅使用内置预设", path)
		return preset.NewStatic(), nil
	}
	return preset.NewRegistry(path)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	svc := &BacktestService{cacheTTL: cfg.Data.DailyTTL()}
	ok := false
	defer func() {
		if !ok {
			svc.Close()
		}
	}()

	bars, err := backtest.NewBarStore(cfg.Data.CachePath)
	if err != nil {
		return nil, fmt.Errorf("初始化行情缓存失败: %w", err)
	}
	svc.bars = bars

	upstream, routes, err := b.upstreamFn(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("初始化行情数据源失败: %w", err)
	}
	source, err := backtest.NewCachedSource(backtest.CacheConfig{
		Source:          upstream,
		Store:           bars,
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
		DailyTTL:        cfg.Data.DailyTTL(),
		IntradayTTL:     cfg.Data.IntradayTTL(),
	})
	if err != nil {
		return nil, err
	}

	results, err := backtest.NewResultStore(cfg.Results.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化回测结果库失败: %w", err)
	}
	svc.results = results
	if n, err := results.FailInterrupted(ctx); err != nil {
		logger.Warnf("标记中断任务失败: %v", err)
	} else if n > 0 {
		logger.Warnf("✓ %d 个上次未完成的回测已标记为失败", n)
	}

	presets, err := b.presetsFn(cfg.Presets.Path)
	if err != nil {
		return nil, fmt.Errorf("加载预设失败: %w", err)
	}
	svc.presets = presets
	presets.Subscribe(func(s preset.Snapshot) {
		logger.Infof("✓ 预设已更新 (version=%d, %d 个)", s.Version, len(s.Presets))
	})

	runner, err := backtest.NewRunner(backtest.RunnerConfig{
		Source:   source,
		Results:  results,
		Markets:  cfg.MarketConfigs(),
		Presets:  presets.Resolve,
		Validate: presets.ValidateParams,
		Optimizer: backtest.OptimizerDefaults{
			MaxCombinations: cfg.Optimizer.MaxCombinations,
			TopN:            cfg.Optimizer.TopN,
			Workers:         cfg.Optimizer.Workers,
			Metric:          cfg.Optimizer.Metric,
		},
		MaxConcurrent: cfg.Engine.MaxConcurrentRuns,
	})
	if err != nil {
		return nil, err
	}
	svc.runner = runner

	server, err := backtesthttp.NewServer(backtesthttp.Config{
		Addr:    cfg.App.HTTPAddr,
		Runner:  runner,
		Results: results,
		Bars:    bars,
		Presets: presets,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测 HTTP 失败: %w", err)
	}
	svc.server = server
	logger.Infof("✓ 回测 HTTP 接口监听 %s", cfg.App.HTTPAddr)

	ok = true
	return &App{
		cfg:      cfg,
		backtest: svc,
		Summary:  buildSummary(cfg, runner, presets, routes),
	}, nil
}

func buildSummary(cfg *brcfg.Config, runner *backtest.Runner, presets *preset.Registry, routes []string) *StartupSummary {
	markets := make([]MarketLine, 0)
	for _, name := range runner.MarketNames() {
		mc, err := runner.Market(name)
		if err != nil {
			continue
		}
		markets = append(markets, MarketLine{
			Name:           mc.Name,
			Currency:       mc.Currency,
			CommissionRate: mc.CommissionRate,
			MinOrderAmount: mc.MinOrderAmount,
			TradingDays:    mc.TradingDaysPerYear,
		})
	}
	return &StartupSummary{
		Env:      cfg.App.Env,
		HTTPAddr: cfg.App.HTTPAddr,
		Data: DataSummary{
			CachePath:   cfg.Data.CachePath,
			Routes:      routes,
			DailyTTL:    cfg.Data.DailyTTL(),
			IntradayTTL: cfg.Data.IntradayTTL(),
			RatePerMin:  cfg.Data.RateLimitPerMin,
		},
		ResultsDB:  cfg.Results.DBPath,
		Markets:    markets,
		Strategies: strategy.Names(),
		Presets:    presets.Names(),
		Timeframes: market.SupportedTimeframes(),
		MaxRuns:    cfg.Engine.MaxConcurrentRuns,
	}
}
