package engine

import "quantbt/internal/market"

// Strategy 在每个对齐时刻收到各标的当前 K 线与只读账户视图，返回待下一根 K 线撮合的订单。
// 实现可自行维护按 symbol 划分的历史状态，引擎不会读取或重置。
type Strategy interface {
	Name() string
	OnBar(bars map[string]market.Bar, portfolio PortfolioView) []PendingOrder
}

// StrategyFunc 便于测试与简单场景。
type StrategyFunc func(bars map[string]market.Bar, portfolio PortfolioView) []PendingOrder

func (f StrategyFunc) Name() string { return "func" }

func (f StrategyFunc) OnBar(bars map[string]market.Bar, portfolio PortfolioView) []PendingOrder {
	return f(bars, portfolio)
}
