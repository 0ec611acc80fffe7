package backtest

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"quantbt/internal/analytics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTradesCSV(t *testing.T) {
	pnl, pct := 120.0, 0.12
	exit := day0.AddDate(0, 0, 5)
	trips := []analytics.RoundTrip{
		{Symbol: "AAA", Quantity: 10, EntrySignalPrice: 99.5, EntrySignalTime: day0, EntryPrice: 100, EntryTime: day0, ExitPrice: 112, ExitTime: &exit, PnL: &pnl, PnLPercent: &pct, HoldingDays: 5},
		{Symbol: "BBB", Quantity: 3, EntryPrice: 50, EntryTime: exit},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, trips))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, tradeCSVHeader, rows[0])
	assert.Equal(t, "AAA", rows[1][0])
	assert.Equal(t, "99.5", rows[1][2])
	assert.Equal(t, "2024-01-06T00:00:00Z", rows[1][9])
	assert.Equal(t, "120", rows[1][11])
	assert.Equal(t, "5", rows[1][13])
	assert.Equal(t, "", rows[2][8], "未平仓无出场价")
	assert.Equal(t, "", rows[2][11])
}

func TestSubmitComparison(t *testing.T) {
	store := newResultStore(t)
	r, err := NewRunner(RunnerConfig{Source: swingSource(), Results: store, MaxConcurrent: 2})
	require.NoError(t, err)

	base := baseRunRequest()
	req := CompareRequest{
		Name: "震荡",
		Strategies: []StrategySpec{
			{Strategy: "rsi"},
			{Strategy: "bollinger_bands", Parameters: map[string]any{"bb_period": 10}},
		},
		Market:      base.Market,
		Symbols:     base.Symbols,
		Start:       base.Start,
		End:         base.End,
		InitialCash: base.InitialCash,
	}
	runs, err := r.SubmitComparison(req)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Contains(t, runs[0].Name, "震荡")
	r.Wait()

	ctx := context.Background()
	latest := make([]Run, 0, len(runs))
	for _, run := range runs {
		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		latest = append(latest, got)
	}
	cmp := SummarizeComparison(latest)
	assert.Equal(t, RunStatusCompleted, cmp.Status)
	assert.Equal(t, 100, cmp.Progress)

	bad := req
	bad.Strategies = append([]StrategySpec{}, req.Strategies...)
	bad.Strategies[1] = StrategySpec{Strategy: "nope"}
	_, err = r.SubmitComparison(bad)
	assert.ErrorContains(t, err, "策略 2")
	all, err := store.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2, "校验失败时不应创建任务")

	_, err = r.SubmitComparison(CompareRequest{Strategies: []StrategySpec{{Strategy: "rsi"}}})
	assert.Error(t, err)
}

func TestSummarizeComparison(t *testing.T) {
	mk := func(statuses ...string) []Run {
		out := make([]Run, len(statuses))
		for i, s := range statuses {
			out[i] = Run{Status: s}
		}
		return out
	}
	c := SummarizeComparison(mk(RunStatusCompleted, RunStatusRunning, RunStatusPending, RunStatusCompleted))
	assert.Equal(t, RunStatusRunning, c.Status)
	assert.Equal(t, 50, c.Progress)

	c = SummarizeComparison(mk(RunStatusCompleted, RunStatusFailed))
	assert.Equal(t, RunStatusFailed, c.Status)
	assert.Equal(t, 0, c.Progress)

	assert.Equal(t, RunStatusPending, SummarizeComparison(nil).Status)
}
