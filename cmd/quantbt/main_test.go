package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quantbt/internal/analytics"
	"quantbt/internal/backtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowFlagsRunRequest(t *testing.T) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var w windowFlags
	w.bind(fs)
	require.NoError(t, fs.Parse([]string{"-market", "us", "-symbols", "AAPL, msft,,", "-start", "2024-01-01", "-end", "2024-06-30", "-capital", "5000"}))

	req, err := w.runRequest("rsi", `{"rsi_period": 10}`)
	require.NoError(t, err)
	assert.Equal(t, "rsi", req.Strategy)
	assert.Equal(t, []string{"AAPL", "msft"}, req.Symbols)
	assert.Equal(t, "1d", req.Timeframe)
	assert.Equal(t, 5000.0, req.InitialCash)
	assert.Equal(t, 10.0, req.Parameters["rsi_period"])
	assert.Equal(t, 2024, req.End.Year())

	_, err = w.runRequest("rsi", `{bad`)
	assert.ErrorContains(t, err, "-params")

	w.start = ""
	_, err = w.runRequest("rsi", "")
	assert.ErrorContains(t, err, "-start")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"a": 1}))
	assert.JSONEq(t, `{"a":1}`, buf.String())
}

func TestRunExitCodes(t *testing.T) {
	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"bogus"}))
	assert.Equal(t, 0, run([]string{"help"}))

	bad := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("app:\n  log_level: loud\n"), 0o644))
	t.Setenv("QUANTBT_CONFIG", bad)
	assert.Equal(t, 1, run([]string{"run"}))
}

func TestRunSummary(t *testing.T) {
	req := backtest.RunRequest{
		Strategy:  "rsi",
		Timeframe: "1d",
		Start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	out := backtest.Outcome{
		Summary: analytics.Summary{
			InitialCash: 10000,
			FinalEquity: 11250,
			TotalReturn: 0.125,
			MaxDrawdown: -0.08,
			TotalTrades: 4,
			WinRate:     0.5,
		},
		Skipped: []string{"ZZZ"},
	}
	text := runSummary(req, out)
	assert.Contains(t, text, "rsi 1d 2024-01-01 ~ 2024-06-30")
	assert.Contains(t, text, "期末权益 11250.00")
	assert.Contains(t, text, "总收益率 12.50%")
	assert.Contains(t, text, "最大回撤 -8.00%")
	assert.Contains(t, text, "胜率 50.0%")
	assert.Contains(t, text, "跳过无数据标的: ZZZ")
}
