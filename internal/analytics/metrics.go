package analytics

import (
	"math"
	"sort"
)

// RiskFreeRate 年化无风险利率，Sharpe/Sortino 共用。
const RiskFreeRate = 0.02

// Returns 逐期收益率，首项为 0，长度与输入一致。
func Returns(equity []float64) []float64 {
	out := make([]float64, len(equity))
	for i := 1; i < len(equity); i++ {
		if equity[i-1] != 0 {
			out[i] = equity[i]/equity[i-1] - 1
		}
	}
	return out
}

func TotalReturn(equity []float64) float64 {
	if len(equity) == 0 || equity[0] == 0 {
		return 0
	}
	return equity[len(equity)-1]/equity[0] - 1
}

// AnnualReturn 按样本点数 / 年交易日折算年数后复利年化。
func AnnualReturn(equity []float64, tradingDays int) float64 {
	if tradingDays <= 0 || len(equity) == 0 {
		return 0
	}
	years := float64(len(equity)) / float64(tradingDays)
	return math.Pow(1+TotalReturn(equity), 1/years) - 1
}

func Sharpe(equity []float64, tradingDays int) float64 {
	rets := Returns(equity)
	sd := sampleStd(rets)
	if sd == 0 || tradingDays <= 0 {
		return 0
	}
	excess := mean(rets) - RiskFreeRate/float64(tradingDays)
	return math.Sqrt(float64(tradingDays)) * excess / sd
}

// Sortino 分母为负收益的样本标准差；负收益不足两期时返回 0。
func Sortino(equity []float64, tradingDays int) float64 {
	rets := Returns(equity)
	var downside []float64
	for _, r := range rets {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	sd := sampleStd(downside)
	if sd == 0 || tradingDays <= 0 {
		return 0
	}
	excess := mean(rets) - RiskFreeRate/float64(tradingDays)
	return math.Sqrt(float64(tradingDays)) * excess / sd
}

// MaxDrawdown 以正数返回最大回撤比例。
func MaxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (v - peak) / peak; dd < worst {
				worst = dd
			}
		}
	}
	return math.Abs(worst)
}

func Calmar(equity []float64, tradingDays int) float64 {
	mdd := MaxDrawdown(equity)
	if mdd == 0 {
		return 0
	}
	return AnnualReturn(equity, tradingDays) / mdd
}

// ValueAtRisk 历史模拟法单期 VaR（线性插值分位数），以正数表示损失。
func ValueAtRisk(equity []float64, confidence float64) float64 {
	rets := Returns(equity)
	if len(rets) == 0 || sampleStd(rets) == 0 {
		return 0
	}
	return math.Abs(percentile(rets, (1-confidence)*100))
}

func WinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}

// ProfitFactor 总盈利/总亏损；无亏损但有盈利时为 +Inf。
func ProfitFactor(pnls []float64) float64 {
	var profit, loss float64
	for _, p := range pnls {
		switch {
		case p > 0:
			profit += p
		case p < 0:
			loss -= p
		}
	}
	if loss == 0 {
		if profit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return profit / loss
}

// MaxConsecutive 最长连胜（win=true）或连亏（盈亏 <= 0）次数。
func MaxConsecutive(pnls []float64, win bool) int {
	best, cur := 0, 0
	for _, p := range pnls {
		if (p > 0) == win {
			cur++
			if cur > best {
				best = cur
			}
			continue
		}
		cur = 0
	}
	return best
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// sampleStd 样本标准差 (n-1)，样本不足两个时为 0。
func sampleStd(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	ss := 0.0
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

func percentile(vals []float64, p float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
