package strategy

import (
	"sort"

	"quantbt/internal/market"
)

// history 单个标的的私有状态：收盘价、成交量与入场价。
type history struct {
	closes     []float64
	volumes    []float64
	entryPrice float64
	prevMACD   float64
	prevSignal float64
	hasPrev    bool
}

// book 按 symbol 维护 history，引擎不感知其结构。
type book map[string]*history

func (b book) push(symbol string, bar market.Bar) *history {
	h, ok := b[symbol]
	if !ok {
		h = &history{}
		b[symbol] = h
	}
	h.closes = append(h.closes, bar.Close)
	h.volumes = append(h.volumes, bar.Volume)
	return h
}

// sortedSymbols 保证同一输入下订单顺序固定。
func sortedSymbols(bars map[string]market.Bar) []string {
	out := make([]string, 0, len(bars))
	for sym := range bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
