package engine

import "time"

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PendingOrder 策略在 t 时刻给出的下单意图，按权益比例表示，t+1 开盘撮合。
// SELL 的 Weight 被忽略，始终全部平仓。
type PendingOrder struct {
	Symbol string  `json:"symbol"`
	Side   Side    `json:"side"`
	Weight float64 `json:"weight"`
	Reason string  `json:"reason,omitempty"`
}

// Buy 构造按权益比例买入的订单。
func Buy(symbol string, weight float64, reason string) PendingOrder {
	return PendingOrder{Symbol: symbol, Side: SideBuy, Weight: weight, Reason: reason}
}

// Sell 构造全部平仓订单。
func Sell(symbol, reason string) PendingOrder {
	return PendingOrder{Symbol: symbol, Side: SideSell, Weight: 1.0, Reason: reason}
}

// FilledOrder 成交记录，写入后不再修改。
type FilledOrder struct {
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	SignalPrice float64   `json:"signal_price"`
	SignalTime  time.Time `json:"signal_time"`
	FillPrice   float64   `json:"fill_price"`
	FillTime    time.Time `json:"fill_time"`
	Quantity    int64     `json:"quantity"`
	Commission  float64   `json:"commission"`
}

// Notional 成交金额（不含手续费）。
func (f FilledOrder) Notional() float64 {
	return f.FillPrice * float64(f.Quantity)
}
