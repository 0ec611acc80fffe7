package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quantbt/internal/analytics"
	"quantbt/internal/engine"
	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/strategy"

	"github.com/google/uuid"
)

// PresetFunc 将预设名解析为市场与标的列表。
type PresetFunc func(name string) (marketName string, symbols []string, err error)

// ParamValidator 在策略自身校验之外追加的参数校验（如 JSON schema）。
type ParamValidator func(strategy string, params map[string]any) error

// OptimizerDefaults 参数扫描请求未指定时使用的默认值。
type OptimizerDefaults struct {
	MaxCombinations int
	TopN            int
	Workers         int
	Metric          string
}

// RunnerConfig 配置 Runner。
type RunnerConfig struct {
	Source        market.Source
	Results       *ResultStore
	Markets       map[string]market.Config
	Presets       PresetFunc
	Validate      ParamValidator
	Optimizer     OptimizerDefaults
	MaxConcurrent int
}

// Runner 校验回测请求，异步执行并把进度与结果写入 ResultStore。
type Runner struct {
	source   market.Source
	results  *ResultStore
	markets  map[string]market.Config
	presets  PresetFunc
	validate ParamValidator
	optimize OptimizerDefaults

	sem     chan struct{}
	baseCtx context.Context
	wg      sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// plan 为校验后的请求，可直接执行。
type plan struct {
	req       RunRequest
	market    market.Config
	timeframe market.Timeframe
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	markets := make(map[string]market.Config, len(cfg.Markets))
	for name, mc := range cfg.Markets {
		markets[strings.ToUpper(name)] = mc
	}
	return &Runner{
		source:   cfg.Source,
		results:  cfg.Results,
		markets:  markets,
		presets:  cfg.Presets,
		validate: cfg.Validate,
		optimize: cfg.Optimizer,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

func (r *Runner) SetContext(ctx context.Context) {
	if ctx != nil {
		r.baseCtx = ctx
	}
}

func (r *Runner) ctx() context.Context {
	if r.baseCtx != nil {
		return r.baseCtx
	}
	return context.Background()
}

// Market 返回市场配置，配置文件中的覆盖优先。
func (r *Runner) Market(name string) (market.Config, error) {
	if mc, ok := r.markets[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return mc.WithDefaults(), nil
	}
	mc, err := market.Lookup(name)
	if err != nil {
		return market.Config{}, err
	}
	return mc.WithDefaults(), nil
}

// MarketNames 返回内置与配置新增的全部市场名（排序后）。
func (r *Runner) MarketNames() []string {
	names := market.Names()
	for name := range r.markets {
		if _, err := market.Lookup(name); err != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *Runner) prepare(req RunRequest) (plan, error) {
	req.Strategy = strings.TrimSpace(req.Strategy)
	if req.Strategy == "" {
		return plan{}, fmt.Errorf("strategy 不能为空")
	}
	u, err := r.universe(req.Preset, req.Market, req.Symbols)
	if err != nil {
		return plan{}, err
	}
	req.Market, req.Symbols = u.market.Name, u.symbols
	tf, err := checkWindow(req.Timeframe, req.Start, req.End)
	if err != nil {
		return plan{}, err
	}
	req.Timeframe = tf.Key
	if err := checkCapital(u.market, req.InitialCash); err != nil {
		return plan{}, err
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	if r.validate != nil {
		if err := r.validate(req.Strategy, req.Parameters); err != nil {
			return plan{}, err
		}
	}
	// 提前构造一次以校验参数。
	if _, err := strategy.New(req.Strategy, req.Parameters); err != nil {
		return plan{}, err
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = fmt.Sprintf("%s %s %s~%s", req.Strategy, u.market.Name, req.Start.Format(DateLayout), req.End.Format(DateLayout))
	}
	return plan{req: req, market: u.market, timeframe: tf}, nil
}

type universe struct {
	market  market.Config
	symbols []string
}

// universe 展开 preset 并确定市场与标的；显式给出的 market/symbols 优先于预设。
func (r *Runner) universe(presetName, marketName string, symbols []string) (universe, error) {
	if presetName != "" {
		if r.presets == nil {
			return universe{}, fmt.Errorf("未配置 preset")
		}
		mkt, presetSymbols, err := r.presets(presetName)
		if err != nil {
			return universe{}, err
		}
		if marketName == "" {
			marketName = mkt
		}
		if len(symbols) == 0 {
			symbols = presetSymbols
		}
	}
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return universe{}, fmt.Errorf("symbols 不能为空")
	}
	mc, err := r.Market(marketName)
	if err != nil {
		return universe{}, err
	}
	return universe{market: mc, symbols: symbols}, nil
}

func checkWindow(timeframe string, start, end time.Time) (market.Timeframe, error) {
	if timeframe == "" {
		timeframe = market.Daily.Key
	}
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return market.Timeframe{}, err
	}
	if start.IsZero() || end.IsZero() {
		return market.Timeframe{}, fmt.Errorf("start/end 不能为空")
	}
	if !start.Before(end) {
		return market.Timeframe{}, fmt.Errorf("start 必须早于 end")
	}
	return tf, nil
}

func checkCapital(mc market.Config, cash float64) error {
	if !(cash > 0) {
		return fmt.Errorf("initial capital 必须大于 0")
	}
	if cash < mc.MinOrderAmount {
		return fmt.Errorf("initial capital 不能低于 %s 最小下单金额 %.0f %s", mc.Name, mc.MinOrderAmount, mc.Currency)
	}
	return nil
}

// Submit 校验并创建任务后立即返回，回测在后台执行。
func (r *Runner) Submit(req RunRequest) (Run, error) {
	if r.results == nil {
		return Run{}, fmt.Errorf("result store 未配置")
	}
	p, err := r.prepare(req)
	if err != nil {
		return Run{}, err
	}
	now := time.Now().UTC()
	run := Run{
		ID:          uuid.NewString(),
		Name:        p.req.Name,
		Strategy:    p.req.Strategy,
		Parameters:  p.req.Parameters,
		Market:      p.req.Market,
		Symbols:     p.req.Symbols,
		Timeframe:   p.req.Timeframe,
		Start:       p.req.Start,
		End:         p.req.End,
		InitialCash: p.req.InitialCash,
		Status:      RunStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.results.InsertRun(r.ctx(), run); err != nil {
		return Run{}, err
	}
	logger.Infof("[backtest] 任务 %s 提交：%s %s %v %s", run.ID, run.Strategy, run.Market, run.Symbols, run.Timeframe)
	ctx, cancel := context.WithCancel(r.ctx())
	r.mu.Lock()
	r.cancels[run.ID] = cancel
	r.mu.Unlock()
	r.wg.Add(1)
	go r.runLoop(ctx, run.ID, p)
	return run, nil
}

// Execute 同步执行回测，不写入 ResultStore。
func (r *Runner) Execute(ctx context.Context, req RunRequest, onProgress engine.ProgressFunc) (Outcome, error) {
	p, err := r.prepare(req)
	if err != nil {
		return Outcome{}, err
	}
	return r.execute(ctx, p, onProgress)
}

// Cancel 取消排队或执行中的任务；任务不存在或已结束时返回 false。
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait 等待所有后台任务结束。
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) runLoop(ctx context.Context, runID string, p plan) {
	defer r.wg.Done()
	log := logger.With("run_id", runID)
	defer func() {
		r.mu.Lock()
		if cancel, ok := r.cancels[runID]; ok {
			cancel()
			delete(r.cancels, runID)
		}
		r.mu.Unlock()
	}()
	select {
	case r.sem <- struct{}{}:
	default:
		log.Warn("[backtest] 等待可用 worker")
		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			r.fail(runID, ctx.Err())
			return
		}
	}
	defer func() { <-r.sem }()

	// 状态写入使用宿主 ctx，任务取消后仍能落库。
	storeCtx := r.ctx()
	if err := r.results.UpdateRunStatus(storeCtx, runID, RunStatusRunning, ""); err != nil {
		log.Warn("[backtest] 更新状态失败", "error", err)
	}
	last := -1
	onProgress := func(pct int) {
		if pct == last {
			return
		}
		last = pct
		if err := r.results.UpdateProgress(storeCtx, runID, pct); err != nil {
			log.Warn("[backtest] 更新进度失败", "progress", pct, "error", err)
		}
	}
	out, err := r.execute(ctx, p, onProgress)
	if err != nil {
		r.fail(runID, err)
		return
	}
	message := ""
	if len(out.Skipped) > 0 {
		message = "跳过无数据标的: " + strings.Join(out.Skipped, ", ")
	}
	if err := r.results.CompleteRun(storeCtx, runID, out.Summary, out.Result.EquityCurve, out.RoundTrips, message); err != nil {
		log.Error("[backtest] 保存结果失败", "error", err)
		r.fail(runID, err)
		return
	}
	log.Info("[backtest] 回测完成", "total_return", out.Summary.TotalReturn, "trades", len(out.Result.Trades))
}

func (r *Runner) fail(runID string, err error) {
	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "任务已取消"
	}
	logger.Warnf("[backtest] run %s 失败: %s", runID, msg)
	if uerr := r.results.UpdateRunStatus(r.ctx(), runID, RunStatusFailed, msg); uerr != nil {
		logger.Warnf("[backtest] run %s 更新状态失败: %v", runID, uerr)
	}
}

func (r *Runner) execute(ctx context.Context, p plan, onProgress engine.ProgressFunc) (out Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("内部错误: %v", rec)
		}
	}()
	data, skipped, err := LoadSeries(ctx, r.source, LoadRequest{
		Symbols:   p.req.Symbols,
		Market:    p.market.Name,
		Timeframe: p.timeframe,
		Start:     p.req.Start,
		End:       p.req.End,
	})
	if err != nil {
		return Outcome{}, err
	}
	strat, err := strategy.New(p.req.Strategy, p.req.Parameters)
	if err != nil {
		return Outcome{}, err
	}
	eng, err := engine.New(engine.Config{
		Strategy:    strat,
		Broker:      engine.NewBroker(p.market, p.timeframe),
		Data:        data,
		InitialCash: p.req.InitialCash,
		OnProgress:  onProgress,
	})
	if err != nil {
		return Outcome{}, err
	}
	res, err := eng.RunContext(ctx)
	if err != nil {
		return Outcome{}, err
	}
	summary, trips := analytics.Summarize(res, p.market.TradingDaysPerYear)
	return Outcome{Result: res, Summary: summary, RoundTrips: trips, Skipped: skipped}, nil
}
