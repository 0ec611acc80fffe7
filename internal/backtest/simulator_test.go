package backtest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"

	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/optimizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// swing 先连续下跌触发 RSI 超卖，再连续上涨触发超买。
func swing() market.Series {
	var closes []float64
	for i := 0; i < 20; i++ {
		closes = append(closes, 100-2*float64(i))
	}
	for j := 1; j <= 20; j++ {
		closes = append(closes, 62+3*float64(j))
	}
	return dailyBars(closes...)
}

func swingSource() market.Source {
	return market.SourceFunc(func(ctx context.Context, req market.Request) (market.Series, error) {
		if req.Symbol == "AAA" {
			return swing().Between(req.Start, req.End), nil
		}
		return nil, fmt.Errorf("%s: %w", req.Symbol, ErrNoData)
	})
}

func baseRunRequest() RunRequest {
	return RunRequest{
		Strategy:    "rsi",
		Market:      "kr",
		Symbols:     []string{"aaa", "ZZZ"},
		Timeframe:   "1d",
		Start:       day0,
		End:         day0.AddDate(0, 3, 0),
		InitialCash: 10_000_000,
	}
}

func TestRunnerExecute(t *testing.T) {
	r, err := NewRunner(RunnerConfig{Source: swingSource()})
	require.NoError(t, err)

	var progress []int
	out, err := r.Execute(context.Background(), baseRunRequest(), func(pct int) { progress = append(progress, pct) })
	require.NoError(t, err)
	assert.Equal(t, []string{"ZZZ"}, out.Skipped)
	require.Len(t, out.Result.Trades, 2)
	require.Len(t, out.RoundTrips, 1)
	assert.True(t, out.RoundTrips[0].Closed())
	assert.Equal(t, 1, out.Summary.TotalTrades)
	assert.Len(t, out.Result.EquityCurve, 40)
	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
}

func TestRunnerValidation(t *testing.T) {
	r, err := NewRunner(RunnerConfig{Source: swingSource()})
	require.NoError(t, err)
	ctx := context.Background()

	cases := map[string]func(*RunRequest){
		"missing strategy": func(req *RunRequest) { req.Strategy = "" },
		"unknown strategy": func(req *RunRequest) { req.Strategy = "nope" },
		"bad params":       func(req *RunRequest) { req.Parameters = map[string]any{"rsi_period": 1} },
		"unknown market":   func(req *RunRequest) { req.Market = "JP" },
		"no symbols":       func(req *RunRequest) { req.Symbols = []string{" "} },
		"bad timeframe":    func(req *RunRequest) { req.Timeframe = "7m" },
		"inverted dates":   func(req *RunRequest) { req.Start, req.End = req.End, req.Start },
		"zero capital":     func(req *RunRequest) { req.InitialCash = 0 },
		"below min order":  func(req *RunRequest) { req.InitialCash = 50_000 },
		"unknown preset":   func(req *RunRequest) { req.Preset = "kospi10" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := baseRunRequest()
			mutate(&req)
			_, err := r.Execute(ctx, req, nil)
			assert.Error(t, err)
		})
	}
}

func TestRunnerPresetAndOverrides(t *testing.T) {
	minOrder := 1.0
	r, err := NewRunner(RunnerConfig{
		Source: swingSource(),
		Presets: func(name string) (string, []string, error) {
			if name != "demo" {
				return "", nil, fmt.Errorf("unknown preset %s", name)
			}
			return "KR", []string{"AAA"}, nil
		},
		Markets: map[string]market.Config{"kr": market.Override(market.MustLookup("KR"), market.Overlay{MinOrderAmount: &minOrder})},
	})
	require.NoError(t, err)

	mc, err := r.Market("KR")
	require.NoError(t, err)
	assert.Equal(t, 1.0, mc.MinOrderAmount)

	req := baseRunRequest()
	req.Market = ""
	req.Symbols = nil
	req.Preset = "demo"
	req.InitialCash = 50_000
	out, err := r.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Skipped)
	assert.Equal(t, 1, out.Summary.TotalTrades)
}

func TestRunnerSubmitPersistsResult(t *testing.T) {
	store := newResultStore(t)
	r, err := NewRunner(RunnerConfig{Source: swingSource(), Results: store, MaxConcurrent: 2})
	require.NoError(t, err)

	run, err := r.Submit(baseRunRequest())
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)
	assert.Equal(t, "KR", run.Market)
	assert.Equal(t, []string{"AAA", "ZZZ"}, run.Symbols)
	assert.Contains(t, run.Name, "rsi KR")
	r.Wait()

	ctx := context.Background()
	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Contains(t, got.Message, "ZZZ")
	require.NotNil(t, got.Summary)
	assert.Len(t, got.EquityCurve, 40)

	trips, err := store.ListTrades(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, trips, 1)
	assert.False(t, r.Cancel(run.ID), "已结束的任务不可取消")
}

func TestRunnerLogsRunID(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	r, err := NewRunner(RunnerConfig{Source: swingSource(), Results: newResultStore(t)})
	require.NoError(t, err)
	run, err := r.Submit(baseRunRequest())
	require.NoError(t, err)
	r.Wait()

	assert.Contains(t, buf.String(), "run_id="+run.ID)
	assert.Contains(t, buf.String(), "回测完成")
}

func TestRunnerSubmitMarksFailure(t *testing.T) {
	store := newResultStore(t)
	r, err := NewRunner(RunnerConfig{Source: swingSource(), Results: store})
	require.NoError(t, err)

	req := baseRunRequest()
	req.Symbols = []string{"ZZZ"}
	run, err := r.Submit(req)
	require.NoError(t, err)
	r.Wait()

	got, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, ErrNoUsableData.Error(), got.Message)
}

func TestRunnerSubmitRequiresStore(t *testing.T) {
	r, err := NewRunner(RunnerConfig{Source: swingSource()})
	require.NoError(t, err)
	_, err = r.Submit(baseRunRequest())
	assert.Error(t, err)

	_, err = NewRunner(RunnerConfig{})
	assert.Error(t, err)
}

func TestRunnerParamValidator(t *testing.T) {
	r, err := NewRunner(RunnerConfig{
		Source: swingSource(),
		Validate: func(name string, params map[string]any) error {
			if v, ok := params["rsi_period"]; ok && v == 99 {
				return fmt.Errorf("rsi_period 超出 schema 范围")
			}
			return nil
		},
	})
	require.NoError(t, err)
	req := baseRunRequest()
	req.Parameters = map[string]any{"rsi_period": 99}
	_, err = r.Execute(context.Background(), req, nil)
	assert.ErrorContains(t, err, "schema")
}

func TestRunnerOptimize(t *testing.T) {
	r, err := NewRunner(RunnerConfig{
		Source:    swingSource(),
		Optimizer: OptimizerDefaults{MaxCombinations: 10, TopN: 2, Workers: 2, Metric: "total_return"},
	})
	require.NoError(t, err)
	ctx := context.Background()
	req := OptimizeRequest{
		Strategy:    "RSI",
		Ranges:      map[string]optimizer.Range{"rsi_period": {Min: 10, Max: 14, Step: 2}},
		Market:      "KR",
		Symbols:     []string{"AAA", "ZZZ"},
		Start:       day0,
		End:         day0.AddDate(0, 3, 0),
		InitialCash: 10_000_000,
	}
	var last int
	res, err := r.Optimize(ctx, req, func(pct int) { last = pct })
	require.NoError(t, err)
	assert.Equal(t, "rsi", res.Strategy)
	assert.Equal(t, "total_return", res.Metric)
	assert.Equal(t, 3, res.Combinations)
	assert.Len(t, res.Trials, 2)
	assert.Equal(t, []string{"ZZZ"}, res.Skipped)
	assert.Equal(t, 100, last)

	bad := req
	bad.Ranges = map[string]optimizer.Range{"window": {Min: 1, Max: 2, Step: 1}}
	_, err = r.Optimize(ctx, bad, nil)
	assert.ErrorContains(t, err, "window")

	tooMany := req
	tooMany.Ranges = map[string]optimizer.Range{"rsi_period": {Min: 2, Max: 40, Step: 1}}
	_, err = r.Optimize(ctx, tooMany, nil)
	assert.ErrorIs(t, err, optimizer.ErrTooManyCombinations)

	empty := req
	empty.Ranges = nil
	_, err = r.Optimize(ctx, empty, nil)
	assert.Error(t, err)
}

func TestRunnerBars(t *testing.T) {
	r, err := NewRunner(RunnerConfig{Source: swingSource()})
	require.NoError(t, err)
	run := sampleRun("x")
	run.Symbols = []string{"AAA", "ZZZ"}
	run.End = day0.AddDate(0, 3, 0)

	bars, err := r.Bars(context.Background(), run, "aaa")
	require.NoError(t, err)
	assert.Len(t, bars, 40)

	_, err = r.Bars(context.Background(), run, "ZZZ")
	assert.ErrorIs(t, err, ErrNoData)
	_, err = r.Bars(context.Background(), run, "BBB")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-01")
	require.NoError(t, err)
	assert.True(t, d.Equal(day0.AddDate(0, 2, 0)))

	d, err = ParseDate("2024-03-01T09:00:00+09:00")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Hour())

	_, err = ParseDate("03/01/2024")
	assert.Error(t, err)
	_, err = ParseDate("")
	assert.Error(t, err)
}
