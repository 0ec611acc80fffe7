package config

import (
	"strings"
	"time"
)

// Config 是 quantbt 的主配置载体。
type Config struct {
	App       AppConfig                 `toml:"app"`
	Data      DataConfig                `toml:"data"`
	Results   ResultsConfig             `toml:"results"`
	Engine    EngineConfig              `toml:"engine"`
	Optimizer OptimizerConfig           `toml:"optimizer"`
	Presets   PresetsConfig             `toml:"presets"`
	Markets   map[string]MarketOverride `toml:"markets"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

// DataConfig 行情数据来源与本地缓存。
type DataConfig struct {
	CachePath               string `toml:"cache_path"`
	CacheTTLDailySeconds    int    `toml:"cache_ttl_daily_seconds"`
	CacheTTLIntradaySeconds int    `toml:"cache_ttl_intraday_seconds"`
	CSVDir                  string `toml:"csv_dir"`
	RateLimitPerMin         int    `toml:"rate_limit_per_min"`
	BinanceRESTURL          string `toml:"binance_rest_url"`
	HTTPTimeoutSeconds      int    `toml:"http_timeout_seconds"`
	CircuitFailures         int    `toml:"circuit_failures"`
	CircuitCooldownSeconds  int    `toml:"circuit_cooldown_seconds"`
}

func (d DataConfig) DailyTTL() time.Duration {
	return time.Duration(d.CacheTTLDailySeconds) * time.Second
}

func (d DataConfig) IntradayTTL() time.Duration {
	return time.Duration(d.CacheTTLIntradaySeconds) * time.Second
}

func (d DataConfig) HTTPTimeout() time.Duration {
	return time.Duration(d.HTTPTimeoutSeconds) * time.Second
}

func (d DataConfig) CircuitCooldown() time.Duration {
	return time.Duration(d.CircuitCooldownSeconds) * time.Second
}

type ResultsConfig struct {
	DBPath string `toml:"db_path"`
}

// EngineConfig 对所有市场生效的仓位限制与并发度。
type EngineConfig struct {
	MaxPositionWeight   float64 `toml:"max_position_weight"`
	MinCashReserveRatio float64 `toml:"min_cash_reserve_ratio"`
	MaxConcurrentRuns   int     `toml:"max_concurrent_runs"`
}

type OptimizerConfig struct {
	MaxCombinations int    `toml:"max_combinations"`
	TopN            int    `toml:"top_n"`
	Workers         int    `toml:"workers"`
	Metric          string `toml:"metric"`
}

// PresetsConfig 指向可热更新的预设文件。
type PresetsConfig struct {
	Path string `toml:"path"`
}

// MarketOverride 覆盖内置市场参数；未出现在配置中的字段为 nil，沿用内置值。
type MarketOverride struct {
	CommissionRate      *float64 `toml:"commission_rate"`
	MinCommission       *float64 `toml:"min_commission"`
	SlippageDaily       *float64 `toml:"slippage_daily"`
	SlippageIntraday    *float64 `toml:"slippage_intraday"`
	MinOrderAmount      *float64 `toml:"min_order_amount"`
	Currency            *string  `toml:"currency"`
	TradingDaysPerYear  *int     `toml:"trading_days_per_year"`
	MaxPositionWeight   *float64 `toml:"max_position_weight"`
	MinCashReserveRatio *float64 `toml:"min_cash_reserve_ratio"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
