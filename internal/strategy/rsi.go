package strategy

import (
	"fmt"

	"quantbt/internal/engine"
	"quantbt/internal/market"
)

type RSIParams struct {
	Period              int     `mapstructure:"rsi_period"`
	OversoldThreshold   float64 `mapstructure:"oversold_threshold"`
	OverboughtThreshold float64 `mapstructure:"overbought_threshold"`
	PositionWeight      float64 `mapstructure:"position_weight"`
}

func defaultRSI() *RSIParams {
	return &RSIParams{Period: 14, OversoldThreshold: 30, OverboughtThreshold: 70, PositionWeight: 0.3}
}

func (p *RSIParams) validate() error {
	if p.Period < 2 {
		return fmt.Errorf("rsi_period 至少为 2")
	}
	if p.OversoldThreshold >= p.OverboughtThreshold {
		return fmt.Errorf("oversold_threshold 需小于 overbought_threshold")
	}
	return weight(p.PositionWeight)
}

// rsiStrategy 超卖买入、超买卖出。
type rsiStrategy struct {
	p     RSIParams
	state book
}

func newRSI(p RSIParams) *rsiStrategy {
	return &rsiStrategy{p: p, state: make(book)}
}

func (s *rsiStrategy) Name() string { return "rsi" }

func (s *rsiStrategy) OnBar(bars map[string]market.Bar, pf engine.PortfolioView) []engine.PendingOrder {
	var orders []engine.PendingOrder
	for _, sym := range sortedSymbols(bars) {
		h := s.state.push(sym, bars[sym])
		val, ok := lastRSI(h.closes, s.p.Period)
		if !ok {
			continue
		}
		_, held := pf.Position(sym)
		switch {
		case val < s.p.OversoldThreshold && !held:
			orders = append(orders, engine.Buy(sym, s.p.PositionWeight,
				fmt.Sprintf("RSI 超卖 %.1f < %.0f", val, s.p.OversoldThreshold)))
		case val > s.p.OverboughtThreshold && held:
			orders = append(orders, engine.Sell(sym,
				fmt.Sprintf("RSI 超买 %.1f > %.0f", val, s.p.OverboughtThreshold)))
		}
	}
	return orders
}
