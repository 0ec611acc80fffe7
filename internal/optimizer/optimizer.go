package optimizer

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"quantbt/internal/analytics"
	"quantbt/internal/engine"
	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/strategy"
)

// Request 一次参数扫描的输入；Data 在各次运行间只读共享。
type Request struct {
	Strategy        string
	Ranges          map[string]Range
	Data            map[string]market.Series
	Market          market.Config
	Timeframe       market.Timeframe
	InitialCash     float64
	Metric          string
	TopN            int
	Workers         int
	MaxCombinations int
	OnProgress      engine.ProgressFunc
}

// Trial 单个参数组合的回测结果。
type Trial struct {
	Parameters  map[string]float64 `json:"parameters"`
	Summary     analytics.Summary  `json:"summary"`
	TotalFills  int                `json:"total_fills"`
	FinalEquity float64            `json:"final_equity"`
}

func (r *Request) normalize() error {
	if _, err := strategy.Defaults(r.Strategy); err != nil {
		return err
	}
	if r.Metric == "" {
		r.Metric = "sharpe_ratio"
	}
	if _, ok := (analytics.Summary{}).Metric(r.Metric); !ok {
		return fmt.Errorf("不支持的优化指标 %q", r.Metric)
	}
	if r.TopN <= 0 {
		r.TopN = 10
	}
	if r.Workers <= 0 {
		r.Workers = runtime.NumCPU()
	}
	if r.MaxCombinations <= 0 {
		r.MaxCombinations = DefaultMaxCombinations
	}
	if r.InitialCash <= 0 {
		return fmt.Errorf("initial cash 必须大于 0")
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("没有可用的行情数据")
	}
	return nil
}

// Run 并行执行每个组合（互不共享可变状态），按指标排序后返回前 TopN。
// 单个组合失败只记录日志；ctx 取消时返回 ctx.Err()。
func Run(ctx context.Context, req Request) ([]Trial, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	count, err := CountCombinations(req.Ranges)
	if err != nil {
		return nil, err
	}
	if count > req.MaxCombinations {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyCombinations, count, req.MaxCombinations)
	}
	combos, err := GenerateCombinations(req.Ranges)
	if err != nil {
		return nil, err
	}

	broker := engine.NewBroker(req.Market, req.Timeframe)
	tradingDays := broker.Config().TradingDaysPerYear
	total := len(combos)
	results := make([]*Trial, total)

	var mu sync.Mutex
	done := 0
	report := func() {
		mu.Lock()
		done++
		pct := done * 100 / total
		if req.OnProgress != nil {
			req.OnProgress(pct)
		}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(req.Workers)
	for i, combo := range combos {
		if gctx.Err() != nil {
			break
		}
		i, combo := i, combo
		g.Go(func() error {
			defer report()
			trial, err := runOne(gctx, req, broker, tradingDays, combo)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warnf("[optimizer] 组合 %d/%d 失败 (params=%v): %v", i+1, total, combo, err)
				return nil
			}
			results[i] = &trial
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trials := make([]Trial, 0, total)
	for _, r := range results {
		if r != nil {
			trials = append(trials, *r)
		}
	}
	Rank(trials, req.Metric)
	if len(trials) > req.TopN {
		trials = trials[:req.TopN]
	}
	return trials, nil
}

// Rank 按指标降序排列；max_drawdown 越小越好，升序排列。
func Rank(trials []Trial, metric string) {
	asc := metric == "max_drawdown"
	sort.SliceStable(trials, func(i, j int) bool {
		a, _ := trials[i].Summary.Metric(metric)
		b, _ := trials[j].Summary.Metric(metric)
		if asc {
			return a < b
		}
		return a > b
	})
}

func runOne(ctx context.Context, req Request, broker *engine.Broker, tradingDays int, combo map[string]float64) (trial Trial, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	params := make(map[string]any, len(combo))
	for k, v := range combo {
		params[k] = v
	}
	strat, err := strategy.New(req.Strategy, params)
	if err != nil {
		return Trial{}, err
	}
	eng, err := engine.New(engine.Config{
		Strategy:    strat,
		Broker:      broker,
		Data:        req.Data,
		InitialCash: req.InitialCash,
	})
	if err != nil {
		return Trial{}, err
	}
	res, err := eng.RunContext(ctx)
	if err != nil {
		return Trial{}, err
	}
	summary, _ := analytics.Summarize(res, tradingDays)
	return Trial{
		Parameters:  combo,
		Summary:     summary,
		TotalFills:  len(res.Trades),
		FinalEquity: res.FinalEquity,
	}, nil
}
