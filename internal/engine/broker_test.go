package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"quantbt/internal/market"
)

func krBroker() *Broker {
	return NewBroker(market.MustLookup("KR"), market.Daily)
}

func usBroker() *Broker {
	return NewBroker(market.MustLookup("US"), market.Daily)
}

func TestBrokerCommission(t *testing.T) {
	cases := []struct {
		name   string
		broker *Broker
		price  float64
		qty    int64
		want   float64
	}{
		{"kr rate", krBroker(), 70000, 100, 1050},
		{"kr small", krBroker(), 1000, 1, 0.15},
		{"us rate", usBroker(), 150, 50, 18.75},
		{"us minimum", usBroker(), 10, 1, 1.0},
		{"us above minimum", usBroker(), 200, 10, 5.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, tc.broker.Commission(tc.price, tc.qty), 1e-9)
		})
	}
}

func TestBrokerSlippageByTimeframe(t *testing.T) {
	assert.Equal(t, 0.001, krBroker().Slippage())
	assert.Equal(t, 0.0005, NewBroker(market.MustLookup("KR"), market.Hourly).Slippage())
}

func TestBrokerFillPriceIsAdverse(t *testing.T) {
	b := krBroker()
	assert.InDelta(t, 70070.0, b.FillPrice(70000, SideBuy), 1e-6)
	assert.InDelta(t, 69930.0, b.FillPrice(70000, SideSell), 1e-6)
}

func TestBrokerSizeQuantity(t *testing.T) {
	kr := krBroker()
	assert.Equal(t, int64(28), kr.SizeQuantity(10_000_000, 0.2, 70070, 0))
	// 集中度上限 0.40：允许额度 4,000,000 - 3,000,000
	assert.Equal(t, int64(14), kr.SizeQuantity(10_000_000, 0.5, 70000, 3_000_000))
	assert.Equal(t, int64(0), kr.SizeQuantity(10_000_000, 0.005, 70000, 0))
	assert.Equal(t, int64(0), kr.SizeQuantity(10_000_000, 0.3, 70000, 4_500_000))
	assert.Equal(t, int64(0), kr.SizeQuantity(10_000_000, 0, 70000, 0))
	assert.Equal(t, int64(0), kr.SizeQuantity(10_000_000, math.NaN(), 70000, 0))
	assert.Equal(t, int64(0), kr.SizeQuantity(10_000_000, 0.2, 0, 0))

	assert.Equal(t, int64(0), usBroker().SizeQuantity(10_000, 0.005, 150, 0))
}

func TestBrokerValidate(t *testing.T) {
	kr := krBroker()
	cases := []struct {
		name   string
		equity float64
		cash   float64
		price  float64
		qty    int64
		ok     bool
		reason RejectReason
	}{
		{"valid", 10_000_000, 10_000_000, 70000, 10, true, RejectNone},
		{"insufficient cash", 10_000_000, 500_000, 70000, 10, false, RejectInsufficientCash},
		{"cash reserve", 10_000_000, 1_200_000, 70000, 10, false, RejectCashReserveViolation},
		{"below min order", 10_000_000, 10_000_000, 70000, 1, false, RejectBelowMinOrder},
		// 现金检查优先于最小金额检查
		{"order of checks", 10_000_000, 1000, 70000, 1, false, RejectInsufficientCash},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := kr.Validate(tc.equity, tc.cash, tc.price, tc.qty)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestBrokerDefaultsLimits(t *testing.T) {
	b := NewBroker(market.Config{Name: "X", CommissionRate: 0.001, MinCashReserveRatio: -1}, market.Daily)
	assert.Equal(t, market.DefaultMaxPositionWeight, b.Config().MaxPositionWeight)
	assert.Equal(t, market.DefaultMinCashReserveRatio, b.Config().MinCashReserveRatio)
	assert.Equal(t, 252, b.Config().TradingDaysPerYear)
}

func TestBrokerKeepsZeroCashReserve(t *testing.T) {
	b := NewBroker(market.Config{Name: "X", MaxPositionWeight: 1}, market.Daily)
	assert.Equal(t, 0.0, b.Config().MinCashReserveRatio)
	// 无现金储备时可以把现金用到 0
	ok, reason := b.Validate(1000, 1000, 10, 100)
	assert.True(t, ok)
	assert.Equal(t, RejectNone, reason)
}
