package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quantbt/internal/engine"
	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/optimizer"
	"quantbt/internal/strategy"
)

// OptimizeRequest 描述一次同步参数扫描。
type OptimizeRequest struct {
	Strategy    string                     `json:"strategy"`
	Ranges      map[string]optimizer.Range `json:"parameter_ranges"`
	Market      string                     `json:"market"`
	Symbols     []string                   `json:"symbols"`
	Preset      string                     `json:"preset,omitempty"`
	Timeframe   string                     `json:"timeframe"`
	Start       time.Time                  `json:"start"`
	End         time.Time                  `json:"end"`
	InitialCash float64                    `json:"initial_capital"`
	Metric      string                     `json:"metric,omitempty"`
	TopN        int                        `json:"top_n,omitempty"`
}

// OptimizeResult 扫描结果，Trials 已按指标排序并截取前 TopN。
type OptimizeResult struct {
	Strategy     string            `json:"strategy"`
	Market       string            `json:"market"`
	Symbols      []string          `json:"symbols"`
	Metric       string            `json:"metric"`
	Combinations int               `json:"total_combinations"`
	Trials       []optimizer.Trial `json:"results"`
	Skipped      []string          `json:"skipped_symbols,omitempty"`
}

// Optimize 加载一次行情后对参数网格并行回测，各组合共享只读数据。
func (r *Runner) Optimize(ctx context.Context, req OptimizeRequest, onProgress engine.ProgressFunc) (OptimizeResult, error) {
	name := strings.ToLower(strings.TrimSpace(req.Strategy))
	defaults, err := strategy.Defaults(name)
	if err != nil {
		return OptimizeResult{}, err
	}
	if len(req.Ranges) == 0 {
		return OptimizeResult{}, fmt.Errorf("parameter_ranges 不能为空")
	}
	for key := range req.Ranges {
		if _, ok := defaults[key]; !ok {
			return OptimizeResult{}, fmt.Errorf("%s 不支持参数 %s", name, key)
		}
	}
	u, err := r.universe(req.Preset, req.Market, req.Symbols)
	if err != nil {
		return OptimizeResult{}, err
	}
	tf, err := checkWindow(req.Timeframe, req.Start, req.End)
	if err != nil {
		return OptimizeResult{}, err
	}
	if err := checkCapital(u.market, req.InitialCash); err != nil {
		return OptimizeResult{}, err
	}
	count, err := optimizer.CountCombinations(req.Ranges)
	if err != nil {
		return OptimizeResult{}, err
	}
	maxCombos := r.optimize.MaxCombinations
	if maxCombos <= 0 {
		maxCombos = optimizer.DefaultMaxCombinations
	}
	if count > maxCombos {
		return OptimizeResult{}, fmt.Errorf("%w: %d > %d", optimizer.ErrTooManyCombinations, count, maxCombos)
	}
	metric := req.Metric
	if metric == "" {
		metric = r.optimize.Metric
	}
	topN := req.TopN
	if topN <= 0 {
		topN = r.optimize.TopN
	}

	data, skipped, err := LoadSeries(ctx, r.source, LoadRequest{
		Symbols:   u.symbols,
		Market:    u.market.Name,
		Timeframe: tf,
		Start:     req.Start,
		End:       req.End,
	})
	if err != nil {
		return OptimizeResult{}, err
	}
	logger.Infof("[optimizer] %s %s 开始扫描 %d 个组合，标的 %d 个", name, u.market.Name, count, len(data))
	trials, err := optimizer.Run(ctx, optimizer.Request{
		Strategy:        name,
		Ranges:          req.Ranges,
		Data:            data,
		Market:          u.market,
		Timeframe:       tf,
		InitialCash:     req.InitialCash,
		Metric:          metric,
		TopN:            topN,
		Workers:         r.optimize.Workers,
		MaxCombinations: maxCombos,
		OnProgress:      onProgress,
	})
	if err != nil {
		return OptimizeResult{}, err
	}
	if metric == "" {
		metric = "sharpe_ratio"
	}
	return OptimizeResult{
		Strategy:     name,
		Market:       u.market.Name,
		Symbols:      u.symbols,
		Metric:       metric,
		Combinations: count,
		Trials:       trials,
		Skipped:      skipped,
	}, nil
}

// Bars 取回测区间内单个标的的 K 线，供图表展示。
func (r *Runner) Bars(ctx context.Context, run Run, symbol string) (market.Series, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	found := false
	for _, s := range run.Symbols {
		if s == symbol {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("任务 %s 不包含标的 %s", run.ID, symbol)
	}
	tf, err := market.ParseTimeframe(run.Timeframe)
	if err != nil {
		return nil, err
	}
	bars, err := r.source.FetchBars(ctx, market.Request{
		Symbol:    symbol,
		Market:    run.Market,
		Timeframe: tf,
		Start:     run.Start,
		End:       run.End,
	})
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}
	return bars.Normalize(), nil
}
