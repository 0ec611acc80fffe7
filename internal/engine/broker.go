package engine

import (
	"math"

	"quantbt/internal/market"
)

// Broker 定价、定量与下单校验策略，构造后只读。
type Broker struct {
	cfg market.Config
	tf  market.Timeframe
}

func NewBroker(cfg market.Config, tf market.Timeframe) *Broker {
	return &Broker{cfg: cfg.WithDefaults(), tf: tf}
}

func (b *Broker) Config() market.Config {
	return b.cfg
}

func (b *Broker) Timeframe() market.Timeframe {
	return b.tf
}

func (b *Broker) Slippage() float64 {
	return b.cfg.Slippage(b.tf)
}

// FillPrice 买入上浮、卖出下调，两个方向都对交易者不利。
func (b *Broker) FillPrice(nextOpen float64, side Side) float64 {
	slip := b.Slippage()
	if side == SideBuy {
		return nextOpen * (1 + slip)
	}
	return nextOpen * (1 - slip)
}

func (b *Broker) Commission(fillPrice float64, qty int64) float64 {
	raw := fillPrice * float64(qty) * b.cfg.CommissionRate
	return math.Max(raw, b.cfg.MinCommission)
}

// SizeQuantity 将目标权重换算为整数数量，受单标的集中度上限约束。
func (b *Broker) SizeQuantity(equity, weight, fillPrice, currentValue float64) int64 {
	if !(weight > 0) || !(fillPrice > 0) {
		return 0
	}
	target := equity * weight
	allowed := equity*b.cfg.MaxPositionWeight - currentValue
	target = math.Min(target, allowed)
	if target < b.cfg.MinOrderAmount {
		return 0
	}
	qty := math.Floor(target / fillPrice)
	if qty < 0 {
		return 0
	}
	return int64(qty)
}

// Validate 依次检查现金、现金储备与最小下单金额，第一个失败项即返回。
func (b *Broker) Validate(equity, cash, fillPrice float64, qty int64) (bool, RejectReason) {
	orderValue := fillPrice * float64(qty)
	totalCost := orderValue + b.Commission(fillPrice, qty)
	if totalCost > cash {
		return false, RejectInsufficientCash
	}
	if cash-totalCost < equity*b.cfg.MinCashReserveRatio {
		return false, RejectCashReserveViolation
	}
	if orderValue < b.cfg.MinOrderAmount {
		return false, RejectBelowMinOrder
	}
	return true, RejectNone
}
