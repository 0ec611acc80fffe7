package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// 中文说明：
// 指标统一走 go-talib，输入为收盘价（或成交量）序列，返回最新值。
// 样本不足时 ok=false，调用方直接跳过本根 K 线。

// lastSMA 最近 period 个值的简单均值。
func lastSMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	window := values[len(values)-period:]
	return lastValid(talib.Sma(window, period))
}

// lastMeanStd 最近 period 个值的均值与总体标准差。
// 标准差按窗口均值两遍计算，价格在 1e7 以上时仍能区分无波动与小幅波动。
func lastMeanStd(values []float64, period int) (mean, std float64, ok bool) {
	if period <= 0 || len(values) < period {
		return 0, 0, false
	}
	window := values[len(values)-period:]
	if flat(window) {
		return window[0], 0, true
	}
	mean, ok = lastValid(talib.Sma(window, period))
	if !ok {
		return 0, 0, false
	}
	var sum, sumSq float64
	for _, v := range window {
		d := v - mean
		sum += d
		sumSq += d * d
	}
	n := float64(period)
	// 修正项抵消均值本身的舍入误差
	variance := (sumSq - sum*sum/n) / n
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance), true
}

// lastRSI Wilder RSI，需要 period+1 个样本；全程无波动时视为无效。
func lastRSI(closes []float64, period int) (float64, bool) {
	if period < 2 || len(closes) < period+1 || flat(closes) {
		return 0, false
	}
	return lastValid(talib.Rsi(closes, period))
}

// lastMACD 返回最新 MACD 线与信号线。
func lastMACD(closes []float64, fast, slow, signal int) (macd, sig float64, ok bool) {
	if len(closes) < slow+signal {
		return 0, 0, false
	}
	macdSeries, signalSeries, _ := talib.Macd(closes, fast, slow, signal)
	macd, ok = lastValid(macdSeries)
	if !ok {
		return 0, 0, false
	}
	sig, ok = lastValid(signalSeries)
	return macd, sig, ok
}

// lastBands 布林带上下轨（SMA 中轨）。
func lastBands(closes []float64, period int, nbDev float64) (upper, lower float64, ok bool) {
	mean, std, ok := lastMeanStd(closes, period)
	if !ok {
		return 0, 0, false
	}
	return mean + nbDev*std, mean - nbDev*std, true
}

func lastValid(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func flat(values []float64) bool {
	for i := 1; i < len(values); i++ {
		if values[i] != values[0] {
			return false
		}
	}
	return true
}
