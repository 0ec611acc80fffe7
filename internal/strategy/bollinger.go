package strategy

import (
	"fmt"

	"quantbt/internal/engine"
	"quantbt/internal/market"
)

type BollingerParams struct {
	Period         int     `mapstructure:"bb_period"`
	StdDev         float64 `mapstructure:"bb_std"`
	PositionWeight float64 `mapstructure:"position_weight"`
}

func defaultBollinger() *BollingerParams {
	return &BollingerParams{Period: 20, StdDev: 2.0, PositionWeight: 0.3}
}

func (p *BollingerParams) validate() error {
	if p.Period < 2 {
		return fmt.Errorf("bb_period 至少为 2")
	}
	if err := positive("bb_std", p.StdDev); err != nil {
		return err
	}
	return weight(p.PositionWeight)
}

// bollinger 跌破下轨买入，突破上轨卖出。
type bollinger struct {
	p     BollingerParams
	state book
}

func newBollinger(p BollingerParams) *bollinger {
	return &bollinger{p: p, state: make(book)}
}

func (s *bollinger) Name() string { return "bollinger_bands" }

func (s *bollinger) OnBar(bars map[string]market.Bar, pf engine.PortfolioView) []engine.PendingOrder {
	var orders []engine.PendingOrder
	for _, sym := range sortedSymbols(bars) {
		bar := bars[sym]
		h := s.state.push(sym, bar)
		upper, lower, ok := lastBands(h.closes, s.p.Period, s.p.StdDev)
		if !ok {
			continue
		}
		_, held := pf.Position(sym)
		switch {
		case bar.Close <= lower && !held:
			orders = append(orders, engine.Buy(sym, s.p.PositionWeight,
				fmt.Sprintf("跌破下轨 %.2f <= %.2f", bar.Close, lower)))
		case bar.Close >= upper && held:
			orders = append(orders, engine.Sell(sym,
				fmt.Sprintf("突破上轨 %.2f >= %.2f", bar.Close, upper)))
		}
	}
	return orders
}
