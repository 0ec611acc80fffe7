package config

import (
	"runtime"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultAppHTTPAddr       = ":9991"
	defaultCachePath         = "data/cache/bars.db"
	defaultCacheTTLDaily     = 86400
	defaultCacheTTLIntraday  = 21600
	defaultCSVDir            = "data/csv"
	defaultRateLimitPerMin   = 600
	defaultBinanceREST       = "https://api.binance.com"
	defaultHTTPTimeout       = 15
	defaultCircuitFailures   = 5
	defaultCircuitCooldown   = 60
	defaultResultsDB         = "data/results/runs.db"
	defaultMaxPositionWeight = 0.40
	defaultMinCashReserve    = 0.05
	defaultMaxConcurrentRuns = 2
	defaultMaxCombinations   = 10000
	defaultTopN              = 10
	defaultMetric            = "sharpe_ratio"
	defaultPresetsPath       = "configs/presets.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Optimizer.applyDefaults(keys)
	applyFieldDefaults(keys,
		stringFieldDefault("results.db_path", &c.Results.DBPath, defaultResultsDB),
		stringFieldDefault("presets.path", &c.Presets.Path, defaultPresetsPath),
	)
	if c.Markets == nil {
		c.Markets = make(map[string]MarketOverride)
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
	a.LogLevel = strings.ToLower(strings.TrimSpace(a.LogLevel))
	a.LogFormat = strings.ToLower(strings.TrimSpace(a.LogFormat))
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.cache_path", &d.CachePath, defaultCachePath),
		stringFieldDefault("data.csv_dir", &d.CSVDir, defaultCSVDir),
		stringFieldDefault("data.binance_rest_url", &d.BinanceRESTURL, defaultBinanceREST),
		intFieldDefault("data.cache_ttl_daily_seconds", &d.CacheTTLDailySeconds, defaultCacheTTLDaily),
		intFieldDefault("data.cache_ttl_intraday_seconds", &d.CacheTTLIntradaySeconds, defaultCacheTTLIntraday),
		intFieldDefault("data.rate_limit_per_min", &d.RateLimitPerMin, defaultRateLimitPerMin),
		intFieldDefault("data.http_timeout_seconds", &d.HTTPTimeoutSeconds, defaultHTTPTimeout),
		intFieldDefault("data.circuit_failures", &d.CircuitFailures, defaultCircuitFailures),
		intFieldDefault("data.circuit_cooldown_seconds", &d.CircuitCooldownSeconds, defaultCircuitCooldown),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "engine.max_position_weight",
			need:  func() bool { return e.MaxPositionWeight <= 0 },
			apply: func() { e.MaxPositionWeight = defaultMaxPositionWeight },
		},
		fieldDefault{
			key:   "engine.min_cash_reserve_ratio",
			need:  func() bool { return e.MinCashReserveRatio <= 0 },
			apply: func() { e.MinCashReserveRatio = defaultMinCashReserve },
		},
		intFieldDefault("engine.max_concurrent_runs", &e.MaxConcurrentRuns, defaultMaxConcurrentRuns),
	)
}

func (o *OptimizerConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("optimizer.max_combinations", &o.MaxCombinations, defaultMaxCombinations),
		intFieldDefault("optimizer.top_n", &o.TopN, defaultTopN),
		intFieldDefault("optimizer.workers", &o.Workers, runtime.NumCPU()),
		stringFieldDefault("optimizer.metric", &o.Metric, defaultMetric),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
