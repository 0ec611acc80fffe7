package analytics

import (
	"encoding/json"
	"math"
	"strconv"

	"quantbt/internal/engine"
)

// Factor 可能为 +Inf 的比率；JSON 中编码为 "inf"。
type Factor float64

func (f Factor) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, 1) {
		return []byte(`"inf"`), nil
	}
	if math.IsNaN(v) || math.IsInf(v, -1) {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
}

func (f *Factor) UnmarshalJSON(b []byte) error {
	if string(b) == `"inf"` {
		*f = Factor(math.Inf(1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Factor(v)
	return nil
}

// Summary 单次回测的收益、风险与交易统计。
type Summary struct {
	InitialCash          float64  `json:"initial_cash"`
	FinalEquity          float64  `json:"final_equity"`
	TotalReturn          float64  `json:"total_return"`
	AnnualReturn         float64  `json:"annual_return"`
	SharpeRatio          float64  `json:"sharpe_ratio"`
	SortinoRatio         float64  `json:"sortino_ratio"`
	MaxDrawdown          float64  `json:"max_drawdown"`
	CalmarRatio          float64  `json:"calmar_ratio"`
	ValueAtRisk95        float64  `json:"value_at_risk_95"`
	TotalTrades          int      `json:"total_trades"`
	WinRate              float64  `json:"win_rate"`
	ProfitFactor         Factor   `json:"profit_factor"`
	MaxConsecutiveWins   int      `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int      `json:"max_consecutive_losses"`
	AvgWin               *float64 `json:"avg_win,omitempty"`
	AvgLoss              *float64 `json:"avg_loss,omitempty"`
}

// Metric 按名称取指标值，参数扫描排序使用。
func (s Summary) Metric(name string) (float64, bool) {
	switch name {
	case "total_return":
		return s.TotalReturn, true
	case "annual_return":
		return s.AnnualReturn, true
	case "sharpe_ratio":
		return s.SharpeRatio, true
	case "sortino_ratio":
		return s.SortinoRatio, true
	case "max_drawdown":
		return s.MaxDrawdown, true
	case "calmar_ratio":
		return s.CalmarRatio, true
	case "win_rate":
		return s.WinRate, true
	case "profit_factor":
		return float64(s.ProfitFactor), true
	case "final_equity":
		return s.FinalEquity, true
	default:
		return 0, false
	}
}

// MetricNames 支持排序的指标。
func MetricNames() []string {
	return []string{
		"annual_return", "calmar_ratio", "final_equity", "max_drawdown", "profit_factor",
		"sharpe_ratio", "sortino_ratio", "total_return", "win_rate",
	}
}

// Summarize 基于资金曲线与成交记录计算汇总指标；空曲线只填权益字段。
func Summarize(res engine.Result, tradingDays int) (Summary, []RoundTrip) {
	s := Summary{
		InitialCash: res.InitialCash,
		FinalEquity: res.FinalEquity,
	}
	trips := PairTrades(res.Trades)
	if len(res.EquityCurve) > 0 {
		equity := make([]float64, len(res.EquityCurve))
		for i, pt := range res.EquityCurve {
			equity[i] = pt.Equity
		}
		s.TotalReturn = TotalReturn(equity)
		s.AnnualReturn = AnnualReturn(equity, tradingDays)
		s.SharpeRatio = Sharpe(equity, tradingDays)
		s.SortinoRatio = Sortino(equity, tradingDays)
		s.MaxDrawdown = MaxDrawdown(equity)
		s.CalmarRatio = Calmar(equity, tradingDays)
		s.ValueAtRisk95 = ValueAtRisk(equity, 0.95)
	}

	pnls := ClosedPnL(trips)
	s.TotalTrades = len(pnls)
	if len(pnls) == 0 {
		return s, trips
	}
	s.WinRate = WinRate(pnls)
	s.ProfitFactor = Factor(ProfitFactor(pnls))
	s.MaxConsecutiveWins = MaxConsecutive(pnls, true)
	s.MaxConsecutiveLosses = MaxConsecutive(pnls, false)
	var wins, losses []float64
	for _, p := range pnls {
		if p > 0 {
			wins = append(wins, p)
		} else {
			losses = append(losses, p)
		}
	}
	if len(wins) > 0 {
		v := mean(wins)
		s.AvgWin = &v
	}
	if len(losses) > 0 {
		v := mean(losses)
		s.AvgLoss = &v
	}
	return s, trips
}
