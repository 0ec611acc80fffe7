package config

import (
	"strings"

	"quantbt/internal/market"
)

// MarketConfigs 合并内置市场、engine 级仓位限制与 markets 覆盖；未内置的市场名视为新增市场。
func (c *Config) MarketConfigs() map[string]market.Config {
	out := make(map[string]market.Config)
	for _, name := range market.Names() {
		base := market.MustLookup(name)
		base.MaxPositionWeight = c.Engine.MaxPositionWeight
		base.MinCashReserveRatio = c.Engine.MinCashReserveRatio
		out[name] = base
	}
	for name, ov := range c.Markets {
		key := strings.ToUpper(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		base, ok := out[key]
		if !ok {
			base = market.Config{
				Name:                key,
				TradingDaysPerYear:  252,
				MaxPositionWeight:   c.Engine.MaxPositionWeight,
				MinCashReserveRatio: c.Engine.MinCashReserveRatio,
			}
		}
		out[key] = market.Override(base, ov.overlay())
	}
	return out
}

func (m MarketOverride) overlay() market.Overlay {
	return market.Overlay{
		CommissionRate:      m.CommissionRate,
		MinCommission:       m.MinCommission,
		SlippageDaily:       m.SlippageDaily,
		SlippageIntraday:    m.SlippageIntraday,
		MinOrderAmount:      m.MinOrderAmount,
		Currency:            m.Currency,
		TradingDaysPerYear:  m.TradingDaysPerYear,
		MaxPositionWeight:   m.MaxPositionWeight,
		MinCashReserveRatio: m.MinCashReserveRatio,
	}
}
