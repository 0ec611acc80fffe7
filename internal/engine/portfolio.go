package engine

import (
	"fmt"
	"sort"
)

// PortfolioView 策略可见的只读账户视图。
type PortfolioView interface {
	Cash() float64
	Equity() float64
	Position(symbol string) (Position, bool)
	PositionWeight(symbol string) float64
	Positions() []Position
}

// Portfolio 现金 + 持仓，归属单次回测独占。
type Portfolio struct {
	cash      float64
	positions map[string]*Position
}

func NewPortfolio(initialCash float64) *Portfolio {
	return &Portfolio{
		cash:      initialCash,
		positions: make(map[string]*Position),
	}
}

func (p *Portfolio) Cash() float64 {
	return p.cash
}

// Equity 按 symbol 排序累加市值，保证浮点结果可复现。
func (p *Portfolio) Equity() float64 {
	total := p.cash
	for _, sym := range p.symbols() {
		total += p.positions[sym].MarketValue()
	}
	return total
}

// Position 返回持仓副本；未持有时 ok=false，不会隐式创建。
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

func (p *Portfolio) PositionWeight(symbol string) float64 {
	pos, ok := p.positions[symbol]
	if !ok {
		return 0
	}
	equity := p.Equity()
	if equity == 0 {
		return 0
	}
	return pos.MarketValue() / equity
}

// Positions 返回按 symbol 排序的持仓副本。
func (p *Portfolio) Positions() []Position {
	syms := p.symbols()
	out := make([]Position, 0, len(syms))
	for _, sym := range syms {
		out = append(out, *p.positions[sym])
	}
	return out
}

// MarkPrices 更新已持有标的的 mark 价，未持有的 symbol 忽略。
func (p *Portfolio) MarkPrices(prices map[string]float64) {
	for sym, price := range prices {
		if pos, ok := p.positions[sym]; ok {
			pos.MarkPrice = price
		}
	}
}

// ExecuteBuy 扣减现金并加仓。现金不足说明 Broker 校验被绕过，直接 panic。
func (p *Portfolio) ExecuteBuy(symbol string, qty int64, fillPrice, commission float64) {
	totalCost := fillPrice*float64(qty) + commission
	if totalCost > p.cash {
		panic(fmt.Errorf("buy %s %d@%.4f cost %.4f > cash %.4f: %w", symbol, qty, fillPrice, totalCost, p.cash, ErrInsufficientCash))
	}
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
	}
	if err := pos.Increase(qty, fillPrice); err != nil {
		panic(err)
	}
	p.cash -= totalCost
	p.positions[symbol] = pos
}

// ExecuteSell 减仓并入账，清仓后移除持仓。
func (p *Portfolio) ExecuteSell(symbol string, qty int64, fillPrice, commission float64) {
	pos, ok := p.positions[symbol]
	if !ok {
		panic(fmt.Errorf("sell %s: %w", symbol, ErrUnknownPosition))
	}
	if err := pos.Decrease(qty); err != nil {
		panic(err)
	}
	p.cash += fillPrice*float64(qty) - commission
	if pos.IsClosed() {
		delete(p.positions, symbol)
		return
	}
	pos.MarkPrice = fillPrice
}

func (p *Portfolio) symbols() []string {
	out := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// readOnly 屏蔽 Portfolio 的写方法，交给策略使用。
type readOnly struct {
	p *Portfolio
}

func (r readOnly) Cash() float64                           { return r.p.Cash() }
func (r readOnly) Equity() float64                         { return r.p.Equity() }
func (r readOnly) Position(symbol string) (Position, bool) { return r.p.Position(symbol) }
func (r readOnly) PositionWeight(symbol string) float64    { return r.p.PositionWeight(symbol) }
func (r readOnly) Positions() []Position                   { return r.p.Positions() }

// View 返回只读视图。
func (p *Portfolio) View() PortfolioView {
	return readOnly{p: p}
}
