package strategy

import (
	"fmt"

	"quantbt/internal/engine"
	"quantbt/internal/market"
)

type MomentumParams struct {
	MAPeriod        int     `mapstructure:"ma_period"`
	VolumeMAPeriod  int     `mapstructure:"volume_ma_period"`
	VolumeThreshold float64 `mapstructure:"volume_threshold"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct   float64 `mapstructure:"take_profit_pct"`
	PositionWeight  float64 `mapstructure:"position_weight"`
}

func defaultMomentum() *MomentumParams {
	return &MomentumParams{
		MAPeriod:        20,
		VolumeMAPeriod:  20,
		VolumeThreshold: 2.0,
		StopLossPct:     0.05,
		TakeProfitPct:   0.15,
		PositionWeight:  0.3,
	}
}

func (p *MomentumParams) validate() error {
	if p.MAPeriod < 1 || p.VolumeMAPeriod < 1 {
		return fmt.Errorf("ma_period/volume_ma_period 至少为 1")
	}
	if err := positive("stop_loss_pct", p.StopLossPct); err != nil {
		return err
	}
	if err := positive("take_profit_pct", p.TakeProfitPct); err != nil {
		return err
	}
	return weight(p.PositionWeight)
}

// momentum 收盘站上均线且放量时买入；持仓期间按信号收盘价计算止损止盈。
type momentum struct {
	p     MomentumParams
	state book
}

func newMomentum(p MomentumParams) *momentum {
	return &momentum{p: p, state: make(book)}
}

func (s *momentum) Name() string { return "momentum_breakout" }

func (s *momentum) OnBar(bars map[string]market.Bar, pf engine.PortfolioView) []engine.PendingOrder {
	var orders []engine.PendingOrder
	for _, sym := range sortedSymbols(bars) {
		bar := bars[sym]
		h := s.state.push(sym, bar)

		if _, held := pf.Position(sym); held {
			if h.entryPrice <= 0 {
				continue
			}
			pnl := (bar.Close - h.entryPrice) / h.entryPrice
			switch {
			case pnl <= -s.p.StopLossPct:
				orders = append(orders, engine.Sell(sym, fmt.Sprintf("止损 %.2f%%", pnl*100)))
				h.entryPrice = 0
			case pnl >= s.p.TakeProfitPct:
				orders = append(orders, engine.Sell(sym, fmt.Sprintf("止盈 %.2f%%", pnl*100)))
				h.entryPrice = 0
			}
			continue
		}

		ma, ok := lastSMA(h.closes, s.p.MAPeriod)
		if !ok {
			continue
		}
		volMA, ok := lastSMA(h.volumes, s.p.VolumeMAPeriod)
		if !ok || volMA <= 0 {
			continue
		}
		if bar.Close > ma && bar.Volume >= volMA*s.p.VolumeThreshold {
			orders = append(orders, engine.Buy(sym, s.p.PositionWeight,
				fmt.Sprintf("突破 MA %.2f > %.2f, 量能 %.1fx", bar.Close, ma, bar.Volume/volMA)))
			h.entryPrice = bar.Close
		}
	}
	return orders
}
