package strategy

import (
	"fmt"

	"quantbt/internal/engine"
	"quantbt/internal/market"
)

type MeanReversionParams struct {
	LookbackPeriod int     `mapstructure:"lookback_period"`
	EntryThreshold float64 `mapstructure:"entry_threshold"`
	ExitThreshold  float64 `mapstructure:"exit_threshold"`
	PositionWeight float64 `mapstructure:"position_weight"`
}

func defaultMeanReversion() *MeanReversionParams {
	return &MeanReversionParams{LookbackPeriod: 20, EntryThreshold: 2.0, ExitThreshold: 0.5, PositionWeight: 0.3}
}

func (p *MeanReversionParams) validate() error {
	if p.LookbackPeriod < 2 {
		return fmt.Errorf("lookback_period 至少为 2")
	}
	if err := positive("entry_threshold", p.EntryThreshold); err != nil {
		return err
	}
	return weight(p.PositionWeight)
}

// meanReversion 价格偏离均值超过 z-score 阈值时买入，回归后卖出。
type meanReversion struct {
	p     MeanReversionParams
	state book
}

func newMeanReversion(p MeanReversionParams) *meanReversion {
	return &meanReversion{p: p, state: make(book)}
}

func (s *meanReversion) Name() string { return "mean_reversion" }

func (s *meanReversion) OnBar(bars map[string]market.Bar, pf engine.PortfolioView) []engine.PendingOrder {
	var orders []engine.PendingOrder
	for _, sym := range sortedSymbols(bars) {
		bar := bars[sym]
		h := s.state.push(sym, bar)
		mean, std, ok := lastMeanStd(h.closes, s.p.LookbackPeriod)
		if !ok || std == 0 {
			continue
		}
		z := (bar.Close - mean) / std
		_, held := pf.Position(sym)
		switch {
		case z < -s.p.EntryThreshold && !held:
			orders = append(orders, engine.Buy(sym, s.p.PositionWeight,
				fmt.Sprintf("z-score %.2f < -%.2f", z, s.p.EntryThreshold)))
		case held && z > -s.p.ExitThreshold:
			orders = append(orders, engine.Sell(sym,
				fmt.Sprintf("z-score %.2f > -%.2f", z, s.p.ExitThreshold)))
		}
	}
	return orders
}
