package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/engine"
	"quantbt/internal/logger"
)

// RoundTrip 一次完整的开平仓。同一标的在平仓前的多次买入合并为一笔，入场价为加权均价。
type RoundTrip struct {
	Symbol           string     `json:"symbol"`
	Quantity         int64      `json:"quantity"`
	EntrySignalPrice float64    `json:"entry_signal_price"`
	EntrySignalTime  time.Time  `json:"entry_signal_time"`
	EntryPrice       float64    `json:"entry_price"`
	EntryTime        time.Time  `json:"entry_time"`
	EntryCommission  float64    `json:"entry_commission"`
	ExitSignalPrice  float64    `json:"exit_signal_price,omitempty"`
	ExitPrice        float64    `json:"exit_price,omitempty"`
	ExitTime         *time.Time `json:"exit_time,omitempty"`
	ExitCommission   float64    `json:"exit_commission,omitempty"`
	PnL              *float64   `json:"pnl,omitempty"`
	PnLPercent       *float64   `json:"pnl_percent,omitempty"`
	HoldingDays      int        `json:"holding_days"`
}

// Closed 是否已平仓。
func (r RoundTrip) Closed() bool {
	return r.PnL != nil
}

type openLeg struct {
	trip       RoundTrip
	cost       decimal.Decimal
	commission decimal.Decimal
}

// PairTrades 按成交顺序把 BUY/SELL 配成 RoundTrip；未平仓的持仓保留在末尾，PnL 为空。
func PairTrades(trades []engine.FilledOrder) []RoundTrip {
	var out []RoundTrip
	open := make(map[string]*openLeg)
	var order []string
	for _, f := range trades {
		switch f.Side {
		case engine.SideBuy:
			leg, ok := open[f.Symbol]
			if !ok {
				leg = &openLeg{trip: RoundTrip{
					Symbol:           f.Symbol,
					EntrySignalPrice: f.SignalPrice,
					EntrySignalTime:  f.SignalTime,
					EntryTime:        f.FillTime,
				}}
				open[f.Symbol] = leg
				order = append(order, f.Symbol)
			}
			leg.trip.Quantity += f.Quantity
			leg.cost = leg.cost.Add(notional(f.FillPrice, f.Quantity))
			leg.commission = leg.commission.Add(decFromFloat(f.Commission))
		case engine.SideSell:
			leg, ok := open[f.Symbol]
			if !ok {
				logger.Warnf("[analytics] %s 卖出没有对应买入，忽略", f.Symbol)
				continue
			}
			delete(open, f.Symbol)
			order = removeSymbol(order, f.Symbol)
			out = append(out, closeLeg(leg, f))
		}
	}
	for _, sym := range order {
		out = append(out, finishOpen(open[sym]))
	}
	return out
}

func finishOpen(leg *openLeg) RoundTrip {
	trip := leg.trip
	if trip.Quantity > 0 {
		trip.EntryPrice = decToFloat(leg.cost.Div(decimal.NewFromInt(trip.Quantity)))
	}
	trip.EntryCommission = decToFloat(leg.commission)
	return trip
}

func closeLeg(leg *openLeg, sell engine.FilledOrder) RoundTrip {
	trip := finishOpen(leg)
	exit := sell.FillTime
	trip.ExitSignalPrice = sell.SignalPrice
	trip.ExitPrice = sell.FillPrice
	trip.ExitTime = &exit
	trip.ExitCommission = sell.Commission

	buyCost := leg.cost.Add(leg.commission)
	revenue := notional(sell.FillPrice, sell.Quantity).Sub(decFromFloat(sell.Commission))
	pnl := revenue.Sub(buyCost)
	pnlF := decToFloat(pnl)
	pct := 0.0
	if buyCost.IsPositive() {
		pct = decToFloat(pnl.Div(buyCost))
	}
	trip.PnL = &pnlF
	trip.PnLPercent = &pct
	trip.HoldingDays = int(exit.Sub(trip.EntryTime).Hours() / 24)
	return trip
}

func removeSymbol(list []string, sym string) []string {
	out := list[:0]
	for _, s := range list {
		if s != sym {
			out = append(out, s)
		}
	}
	return out
}

// ClosedPnL 提取已平仓交易的盈亏序列（保持顺序）。
func ClosedPnL(trips []RoundTrip) []float64 {
	var out []float64
	for _, t := range trips {
		if t.Closed() {
			out = append(out, *t.PnL)
		}
	}
	return out
}
