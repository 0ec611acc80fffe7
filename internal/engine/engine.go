package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"quantbt/internal/logger"
	"quantbt/internal/market"
)

// ProgressFunc 接收 0~100 的进度值。
type ProgressFunc func(pct int)

type Config struct {
	Strategy    Strategy
	Broker      *Broker
	Data        map[string]market.Series
	InitialCash float64
	OnProgress  ProgressFunc
}

// EquityPoint 资金曲线上的一个采样点。
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
	Cash      float64   `json:"cash"`
}

// Result 单次回测产出。
type Result struct {
	Trades      []FilledOrder `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	FinalEquity float64       `json:"final_equity"`
	InitialCash float64       `json:"initial_cash"`
}

// Engine 按对齐后的时间轴逐根推进：撮合上一根的订单 → 收盘估值 → 记录权益 → 调用策略。
// 单线程执行，Portfolio 由本次运行独占。
type Engine struct {
	strategy   Strategy
	broker     *Broker
	data       map[string]market.Series
	portfolio  *Portfolio
	onProgress ProgressFunc

	initialCash float64
	index       map[string]map[int64]market.Bar
	trades      []FilledOrder
	curve       []EquityPoint
}

func New(cfg Config) (*Engine, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("strategy 不能为空")
	}
	if cfg.Broker == nil {
		return nil, fmt.Errorf("broker 不能为空")
	}
	if cfg.InitialCash < 0 {
		return nil, fmt.Errorf("initial cash 不能为负: %f", cfg.InitialCash)
	}
	index := make(map[string]map[int64]market.Bar, len(cfg.Data))
	for sym, series := range cfg.Data {
		byKey := make(map[int64]market.Bar, len(series))
		for _, bar := range series {
			byKey[bar.Key()] = bar
		}
		index[sym] = byKey
	}
	return &Engine{
		strategy:    cfg.Strategy,
		broker:      cfg.Broker,
		data:        cfg.Data,
		portfolio:   NewPortfolio(cfg.InitialCash),
		onProgress:  cfg.OnProgress,
		initialCash: cfg.InitialCash,
		index:       index,
	}, nil
}

// Portfolio 暴露只读视图，便于运行结束后检查持仓。
func (e *Engine) Portfolio() PortfolioView {
	return e.portfolio.View()
}

// Run 执行完整回测。
func (e *Engine) Run() Result {
	res, _ := e.RunContext(context.Background())
	return res
}

// RunContext 在每根 K 线之间检查 ctx；取消时返回已完成部分与 ctx.Err()。
func (e *Engine) RunContext(ctx context.Context) (Result, error) {
	timeline := e.align()
	if len(timeline) < 2 {
		logger.Warnf("[engine] 对齐后的 K 线不足 2 根 (%d)，跳过回测", len(timeline))
		e.progress(100)
		return e.result(), nil
	}

	total := len(timeline)
	var pending []PendingOrder
	var prevBars map[string]market.Bar
	var runErr error

	for i, ts := range timeline {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		bars := e.barsAt(ts)

		if len(pending) > 0 {
			e.fill(pending, bars, prevBars)
			pending = nil
		}

		prices := make(map[string]float64, len(bars))
		for sym, bar := range bars {
			prices[sym] = bar.Close
		}
		e.portfolio.MarkPrices(prices)

		e.curve = append(e.curve, EquityPoint{
			Timestamp: time.Unix(0, ts).UTC(),
			Equity:    e.portfolio.Equity(),
			Cash:      e.portfolio.Cash(),
		})

		if i >= total-1 {
			break
		}

		pending = e.strategy.OnBar(bars, e.portfolio.View())
		prevBars = bars
		e.progress((i + 1) * 100 / total)
	}

	e.progress(100)
	return e.result(), runErr
}

func (e *Engine) result() Result {
	return Result{
		Trades:      e.trades,
		EquityCurve: e.curve,
		FinalEquity: e.portfolio.Equity(),
		InitialCash: e.initialCash,
	}
}

func (e *Engine) progress(pct int) {
	if e.onProgress != nil {
		e.onProgress(pct)
	}
}

// align 求所有标的共同存在的时间戳，升序返回。
func (e *Engine) align() []int64 {
	if len(e.index) == 0 {
		return nil
	}
	var common map[int64]struct{}
	for _, byKey := range e.index {
		if common == nil {
			common = make(map[int64]struct{}, len(byKey))
			for k := range byKey {
				common[k] = struct{}{}
			}
			continue
		}
		for k := range common {
			if _, ok := byKey[k]; !ok {
				delete(common, k)
			}
		}
	}
	out := make([]int64, 0, len(common))
	for k := range common {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) barsAt(ts int64) map[string]market.Bar {
	bars := make(map[string]market.Bar, len(e.index))
	for sym, byKey := range e.index {
		if bar, ok := byKey[ts]; ok {
			bars[sym] = bar
		}
	}
	return bars
}

// fill 以当前 K 线开盘价撮合上一根产生的订单，无法成交的订单记日志后丢弃。
func (e *Engine) fill(orders []PendingOrder, bars, prevBars map[string]market.Bar) {
	for _, order := range orders {
		bar, ok := bars[order.Symbol]
		if !ok {
			logger.Warnf("[engine] %s 无数据，取消 %s 订单", order.Symbol, order.Side)
			continue
		}
		switch order.Side {
		case SideBuy:
			e.fillBuy(order, bar, e.signalBar(order.Symbol, prevBars))
		case SideSell:
			if _, held := e.portfolio.Position(order.Symbol); !held {
				logger.Warnf("[engine] %s 无持仓，取消卖出", order.Symbol)
				continue
			}
			e.fillSell(order, bar, e.signalBar(order.Symbol, prevBars))
		default:
			logger.Warnf("[engine] %s 未知方向 %q，忽略", order.Symbol, order.Side)
		}
	}
}

func (e *Engine) fillBuy(order PendingOrder, bar, signal market.Bar) {
	fillPrice := e.broker.FillPrice(bar.Open, SideBuy)
	current := 0.0
	if pos, ok := e.portfolio.Position(order.Symbol); ok {
		current = pos.MarketValue()
	}
	equity := e.portfolio.Equity()
	qty := e.broker.SizeQuantity(equity, order.Weight, fillPrice, current)
	if qty == 0 {
		logger.Infof("[engine] %s 买入数量为 0，取消订单", order.Symbol)
		return
	}
	if ok, reason := e.broker.Validate(equity, e.portfolio.Cash(), fillPrice, qty); !ok {
		logger.Infof("[engine] %s 买入被拒绝: %s", order.Symbol, reason)
		return
	}
	commission := e.broker.Commission(fillPrice, qty)
	e.portfolio.ExecuteBuy(order.Symbol, qty, fillPrice, commission)
	e.record(order.Symbol, SideBuy, signal, bar, fillPrice, qty, commission)
}

// fillSell 始终全部平仓，引擎层不建模部分卖出。
func (e *Engine) fillSell(order PendingOrder, bar, signal market.Bar) {
	pos, _ := e.portfolio.Position(order.Symbol)
	fillPrice := e.broker.FillPrice(bar.Open, SideSell)
	qty := pos.Quantity
	commission := e.broker.Commission(fillPrice, qty)
	e.portfolio.ExecuteSell(order.Symbol, qty, fillPrice, commission)
	e.record(order.Symbol, SideSell, signal, bar, fillPrice, qty, commission)
}

func (e *Engine) record(symbol string, side Side, signal, bar market.Bar, fillPrice float64, qty int64, commission float64) {
	fill := FilledOrder{
		Symbol:      symbol,
		Side:        side,
		SignalPrice: signal.Close,
		SignalTime:  signal.Time,
		FillPrice:   fillPrice,
		FillTime:    bar.Time,
		Quantity:    qty,
		Commission:  commission,
	}
	e.trades = append(e.trades, fill)
	logger.Infof("[engine] %s %s %d @ %.4f 金额 %.2f (手续费 %.4f)", side, symbol, qty, fillPrice, fill.Notional(), commission)
}

// signalBar 取上一对齐时刻的 K 线；缺失时退回该标的首根 K 线。
func (e *Engine) signalBar(symbol string, prevBars map[string]market.Bar) market.Bar {
	if bar, ok := prevBars[symbol]; ok {
		return bar
	}
	if series := e.data[symbol]; len(series) > 0 {
		return series[0]
	}
	return market.Bar{}
}
