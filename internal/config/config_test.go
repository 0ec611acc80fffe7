package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.Data.DailyTTL())
	assert.Equal(t, 6*time.Hour, cfg.Data.IntradayTTL())
	assert.Equal(t, 0.40, cfg.Engine.MaxPositionWeight)
	assert.Equal(t, 0.05, cfg.Engine.MinCashReserveRatio)
	assert.Equal(t, 10000, cfg.Optimizer.MaxCombinations)
	assert.Equal(t, runtime.NumCPU(), cfg.Optimizer.Workers)
	assert.Equal(t, "sharpe_ratio", cfg.Optimizer.Metric)
	assert.Equal(t, 5, cfg.Data.CircuitFailures)
	assert.Equal(t, time.Minute, cfg.Data.CircuitCooldown())
	assert.NoError(t, validate(cfg))
}

func TestLoadWithInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
app:
  log_level: debug
data:
  cache_ttl_daily_seconds: 3600
markets:
  kr:
    commission_rate: 0.0003
`)
	main := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
app:
  http_addr: ":8080"
engine:
  max_position_weight: 0.25
optimizer:
  top_n: 3
  workers: 2
markets:
  sandbox:
    commission_rate: 0.001
    min_order_amount: 1
`)
	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, time.Hour, cfg.Data.DailyTTL())
	assert.Equal(t, 3, cfg.Optimizer.TopN)
	assert.Equal(t, 2, cfg.Optimizer.Workers)

	markets := cfg.MarketConfigs()
	kr := markets["KR"]
	assert.Equal(t, 0.0003, kr.CommissionRate)
	assert.Equal(t, 0.25, kr.MaxPositionWeight)
	assert.Equal(t, 245, kr.TradingDaysPerYear)
	assert.Equal(t, 0.25, markets["US"].MaxPositionWeight)

	sandbox, ok := markets["SANDBOX"]
	require.True(t, ok)
	assert.Equal(t, "SANDBOX", sandbox.Name)
	assert.Equal(t, 1.0, sandbox.MinOrderAmount)
	assert.Equal(t, 252, sandbox.TradingDaysPerYear)
}

func TestLoadExplicitZeroIsValidated(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", `
optimizer:
  top_n: 0
`)
	_, err := Load(p)
	assert.ErrorContains(t, err, "optimizer.top_n")
}

func TestLoadExplicitZeroReachesMarkets(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", `
engine:
  min_cash_reserve_ratio: 0
markets:
  us:
    min_commission: 0
    commission_rate: 0
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Engine.MinCashReserveRatio)

	markets := cfg.MarketConfigs()
	assert.Equal(t, 0.0, markets["KR"].MinCashReserveRatio)
	us := markets["US"]
	assert.Equal(t, 0.0, us.MinCommission)
	assert.Equal(t, 0.0, us.CommissionRate)
	assert.Equal(t, 0.0, us.MinCashReserveRatio)
	assert.Equal(t, "USD", us.Currency)
	assert.Equal(t, 100.0, us.MinOrderAmount)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"log level":   "app:\n  log_level: loud\n",
		"weight":      "engine:\n  max_position_weight: 1.5\n",
		"metric":      "optimizer:\n  metric: luck\n",
		"market neg":  "markets:\n  us:\n    commission_rate: -0.1\n",
		"market cap":  "markets:\n  us:\n    max_position_weight: 0\n",
		"market days": "markets:\n  us:\n    trading_days_per_year: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(p)
			assert.Error(t, err)
		})
	}
}

func TestLoadResolvesPathsPerFile(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "abs", "runs.db")
	writeFile(t, dir, "base.yaml", "data:\n  csv_dir: csv\nresults:\n  db_path: "+abs+"\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "env"), 0o755))
	main := writeFile(t, filepath.Join(dir, "env"), "config.yaml", `
include:
  - ../base.yaml
presets:
  path: presets.yaml
data:
  cache_path: ../cache/bars.db
`)
	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "csv"), cfg.Data.CSVDir)
	assert.Equal(t, filepath.Join(dir, "env", "presets.yaml"), cfg.Presets.Path)
	assert.Equal(t, filepath.Join(dir, "cache", "bars.db"), cfg.Data.CachePath)
	assert.Equal(t, abs, cfg.Results.DBPath)
	// 未配置的路径保持默认值，相对进程工作目录
	cfg2, err := Load(writeFile(t, dir, "bare.yaml", "app:\n  env: test\n"))
	require.NoError(t, err)
	assert.Equal(t, defaultPresetsPath, cfg2.Presets.Path)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "cycle")
}

func TestLoadEnvOverride(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", "app:\n  http_addr: \":8080\"\n")
	t.Setenv("QUANTBT_APP_HTTP_ADDR", ":7070")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.App.HTTPAddr)
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	configs, err := filepath.Abs(filepath.Join("..", "..", "configs"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(configs, "presets.yaml"), cfg.Presets.Path)
	assert.Equal(t, filepath.Join(filepath.Dir(configs), "data", "cache", "bars.db"), cfg.Data.CachePath)
	assert.Empty(t, cfg.App.LogPath)
	us := cfg.MarketConfigs()["US"]
	assert.Equal(t, 1.0, us.MinCommission)
	assert.Equal(t, 0.0025, us.CommissionRate)
}
