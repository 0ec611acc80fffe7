package engine

import "fmt"

// Position 单一标的持仓账本。数量为 0 时由 Portfolio 移除。
type Position struct {
	Symbol    string  `json:"symbol"`
	Quantity  int64   `json:"quantity"`
	AvgCost   float64 `json:"avg_cost"`
	MarkPrice float64 `json:"mark_price"`
}

func (p Position) MarketValue() float64 {
	return float64(p.Quantity) * p.MarkPrice
}

// Increase 加仓并按加权平均重算成本，mark 价同步为成交价。
func (p *Position) Increase(qty int64, price float64) error {
	if qty <= 0 {
		return fmt.Errorf("%s increase %d: %w", p.Symbol, qty, ErrInvalidQuantity)
	}
	total := p.Quantity + qty
	p.AvgCost = (p.AvgCost*float64(p.Quantity) + price*float64(qty)) / float64(total)
	p.Quantity = total
	p.MarkPrice = price
	return nil
}

// Decrease 减仓，平均成本保持不变。
func (p *Position) Decrease(qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%s decrease %d: %w", p.Symbol, qty, ErrInvalidQuantity)
	}
	if qty > p.Quantity {
		return fmt.Errorf("%s decrease %d > %d: %w", p.Symbol, qty, p.Quantity, ErrOverSell)
	}
	p.Quantity -= qty
	return nil
}

func (p Position) IsClosed() bool {
	return p.Quantity == 0
}
