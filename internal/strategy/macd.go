package strategy

import (
	"fmt"

	"quantbt/internal/engine"
	"quantbt/internal/market"
)

type MACDParams struct {
	FastPeriod     int     `mapstructure:"fast_period"`
	SlowPeriod     int     `mapstructure:"slow_period"`
	SignalPeriod   int     `mapstructure:"signal_period"`
	PositionWeight float64 `mapstructure:"position_weight"`
}

func defaultMACD() *MACDParams {
	return &MACDParams{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9, PositionWeight: 0.3}
}

func (p *MACDParams) validate() error {
	if p.FastPeriod < 2 || p.SignalPeriod < 1 {
		return fmt.Errorf("fast_period 至少为 2，signal_period 至少为 1")
	}
	if p.FastPeriod >= p.SlowPeriod {
		return fmt.Errorf("fast_period 需小于 slow_period")
	}
	return weight(p.PositionWeight)
}

// macdCross 金叉买入、死叉卖出，需要上一根的 MACD/信号值。
type macdCross struct {
	p     MACDParams
	state book
}

func newMACD(p MACDParams) *macdCross {
	return &macdCross{p: p, state: make(book)}
}

func (s *macdCross) Name() string { return "macd_crossover" }

func (s *macdCross) OnBar(bars map[string]market.Bar, pf engine.PortfolioView) []engine.PendingOrder {
	var orders []engine.PendingOrder
	for _, sym := range sortedSymbols(bars) {
		h := s.state.push(sym, bars[sym])
		macd, signal, ok := lastMACD(h.closes, s.p.FastPeriod, s.p.SlowPeriod, s.p.SignalPeriod)
		if !ok {
			h.hasPrev = false
			continue
		}
		prevMACD, prevSignal, hadPrev := h.prevMACD, h.prevSignal, h.hasPrev
		h.prevMACD, h.prevSignal, h.hasPrev = macd, signal, true
		if !hadPrev {
			continue
		}
		_, held := pf.Position(sym)
		switch {
		case prevMACD <= prevSignal && macd > signal && !held:
			orders = append(orders, engine.Buy(sym, s.p.PositionWeight,
				fmt.Sprintf("MACD 金叉 %.4f > %.4f", macd, signal)))
		case prevMACD >= prevSignal && macd < signal && held:
			orders = append(orders, engine.Sell(sym,
				fmt.Sprintf("MACD 死叉 %.4f < %.4f", macd, signal)))
		}
	}
	return orders
}
