package analytics

import (
	"math"

	"github.com/shopspring/decimal"
)

var decimalZero = decimal.Zero

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// notional price*qty 按十进制计算，避免成交金额累加时的二进制误差。
func notional(price float64, qty int64) decimal.Decimal {
	return decFromFloat(price).Mul(decimal.NewFromInt(qty))
}
