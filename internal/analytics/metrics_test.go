package analytics

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mixed   = []float64{100, 200, 50, -30, -10, 80}
	allWin  = []float64{100, 200, 50, 30}
	allLoss = []float64{-100, -200, -50, -30}
)

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}

func TestReturnsAndTotal(t *testing.T) {
	rets := Returns([]float64{100, 110})
	require.Len(t, rets, 2)
	assert.Equal(t, 0.0, rets[0])
	assert.InDelta(t, 0.1, rets[1], 1e-12)

	assert.InDelta(t, 0.1, TotalReturn(linspace(100, 110, 11)), 1e-12)
	assert.InDelta(t, -0.1, TotalReturn([]float64{100, 90}), 1e-12)
	assert.Equal(t, 0.0, TotalReturn(nil))
}

func TestAnnualReturn(t *testing.T) {
	assert.InDelta(t, 0.1, AnnualReturn(linspace(100, 110, 252), 252), 1e-9)
	assert.InDelta(t, 1.1*1.1-1, AnnualReturn(linspace(100, 110, 126), 252), 1e-9)
}

func TestSharpe(t *testing.T) {
	assert.Greater(t, Sharpe(linspace(100, 120, 252), 252), 0.0)
	assert.Equal(t, 0.0, Sharpe([]float64{100, 100, 100, 100}, 252))

	eq := []float64{100, 101, 102, 101.5, 103}
	rets := Returns(eq)
	want := math.Sqrt(252) * (mean(rets) - 0.02/252) / sampleStd(rets)
	assert.InDelta(t, want, Sharpe(eq, 252), 1e-12)
}

func TestSortino(t *testing.T) {
	assert.Equal(t, 0.0, Sortino(linspace(100, 120, 252), 252))
	assert.Greater(t, Sortino([]float64{100, 105, 102, 108, 103, 110}, 252), 0.0)
	assert.Equal(t, 0.0, Sortino([]float64{100, 100, 101, 102}, 252))
}

func TestMaxDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdown([]float64{100, 101, 102, 103}))
	assert.InDelta(t, 0.2, MaxDrawdown([]float64{100, 120, 96, 110}), 1e-12)
	assert.InDelta(t, 0.25, MaxDrawdown([]float64{100, 200, 150}), 1e-12)
}

func TestCalmar(t *testing.T) {
	eq := []float64{100, 120, 108, 130}
	assert.InDelta(t, AnnualReturn(eq, 252)/MaxDrawdown(eq), Calmar(eq, 252), 1e-12)
	assert.Equal(t, 0.0, Calmar([]float64{100, 101, 102, 103}, 252))
}

func TestValueAtRisk(t *testing.T) {
	assert.Greater(t, ValueAtRisk([]float64{100, 102, 98, 105, 97, 103, 99, 106, 95, 108}, 0.95), 0.0)
	assert.Equal(t, 0.0, ValueAtRisk([]float64{100, 100, 100}, 0.95))
	assert.Equal(t, 0.0, ValueAtRisk([]float64{100}, 0.95))

	// 5 个收益 [0, -0.1, 0.1, -0.2, 0.05]，5% 分位在最小两个之间插值
	eq := []float64{100, 90, 99, 79.2, 83.16}
	assert.InDelta(t, 0.18, ValueAtRisk(eq, 0.95), 1e-9)
}

func TestTradeStats(t *testing.T) {
	assert.InDelta(t, 4.0/6.0, WinRate(mixed), 1e-12)
	assert.Equal(t, 1.0, WinRate(allWin))
	assert.Equal(t, 0.0, WinRate(allLoss))
	assert.Equal(t, 0.0, WinRate(nil))

	assert.InDelta(t, 430.0/40.0, ProfitFactor(mixed), 1e-12)
	assert.True(t, math.IsInf(ProfitFactor(allWin), 1))
	assert.Equal(t, 0.0, ProfitFactor(allLoss))
	assert.Equal(t, 0.0, ProfitFactor(nil))
	assert.Equal(t, 0.0, ProfitFactor([]float64{0, 0, 0}))

	assert.Equal(t, 3, MaxConsecutive(mixed, true))
	assert.Equal(t, 2, MaxConsecutive(mixed, false))
	assert.Equal(t, 4, MaxConsecutive(allWin, true))
	assert.Equal(t, 0, MaxConsecutive(allWin, false))
	assert.Equal(t, 4, MaxConsecutive(allLoss, false))
	assert.Equal(t, 0, MaxConsecutive(nil, true))
}

func TestFactorJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		F Factor `json:"f"`
	}{Factor(math.Inf(1))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"f":"inf"}`, string(b))

	var out struct {
		F Factor `json:"f"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, math.IsInf(float64(out.F), 1))
	require.NoError(t, json.Unmarshal([]byte(`{"f":1.5}`), &out))
	assert.Equal(t, Factor(1.5), out.F)
}
