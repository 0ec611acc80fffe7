package config

import (
	"fmt"
	"strings"

	"quantbt/internal/analytics"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Optimizer.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Results.DBPath) == "" {
		return fmt.Errorf("results.db_path cannot be empty")
	}
	for name, m := range c.Markets {
		if err := m.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	switch a.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.CachePath) == "" {
		return fmt.Errorf("data.cache_path cannot be empty")
	}
	if d.CacheTTLDailySeconds <= 0 {
		return fmt.Errorf("data.cache_ttl_daily_seconds must be > 0")
	}
	if d.CacheTTLIntradaySeconds <= 0 {
		return fmt.Errorf("data.cache_ttl_intraday_seconds must be > 0")
	}
	if d.RateLimitPerMin <= 0 {
		return fmt.Errorf("data.rate_limit_per_min must be > 0")
	}
	if d.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("data.http_timeout_seconds must be > 0")
	}
	if d.CircuitFailures <= 0 {
		return fmt.Errorf("data.circuit_failures must be > 0")
	}
	if d.CircuitCooldownSeconds <= 0 {
		return fmt.Errorf("data.circuit_cooldown_seconds must be > 0")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.MaxPositionWeight <= 0 || e.MaxPositionWeight > 1 {
		return fmt.Errorf("engine.max_position_weight must be in (0,1]")
	}
	if e.MinCashReserveRatio < 0 || e.MinCashReserveRatio >= 1 {
		return fmt.Errorf("engine.min_cash_reserve_ratio must be in [0,1)")
	}
	if e.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("engine.max_concurrent_runs must be > 0")
	}
	return nil
}

func (o *OptimizerConfig) validate() error {
	if o.MaxCombinations <= 0 {
		return fmt.Errorf("optimizer.max_combinations must be > 0")
	}
	if o.TopN <= 0 {
		return fmt.Errorf("optimizer.top_n must be > 0")
	}
	if o.Workers <= 0 {
		return fmt.Errorf("optimizer.workers must be > 0")
	}
	if _, ok := (analytics.Summary{}).Metric(o.Metric); !ok {
		return fmt.Errorf("optimizer.metric %q not supported (available: %s)", o.Metric, strings.Join(analytics.MetricNames(), ", "))
	}
	return nil
}

func (m MarketOverride) validate(name string) error {
	prefix := "markets." + strings.ToLower(name)
	checks := map[string]*float64{
		"commission_rate":        m.CommissionRate,
		"min_commission":         m.MinCommission,
		"slippage_daily":         m.SlippageDaily,
		"slippage_intraday":      m.SlippageIntraday,
		"min_order_amount":       m.MinOrderAmount,
		"max_position_weight":    m.MaxPositionWeight,
		"min_cash_reserve_ratio": m.MinCashReserveRatio,
	}
	for field, v := range checks {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s.%s must be >= 0", prefix, field)
		}
	}
	if v := m.MaxPositionWeight; v != nil && (*v <= 0 || *v > 1) {
		return fmt.Errorf("%s.max_position_weight must be in (0,1]", prefix)
	}
	if v := m.MinCashReserveRatio; v != nil && *v >= 1 {
		return fmt.Errorf("%s.min_cash_reserve_ratio must be < 1", prefix)
	}
	if v := m.TradingDaysPerYear; v != nil && (*v <= 0 || *v > 366) {
		return fmt.Errorf("%s.trading_days_per_year must be in [1,366]", prefix)
	}
	if v := m.Currency; v != nil && strings.TrimSpace(*v) == "" {
		return fmt.Errorf("%s.currency must not be empty", prefix)
	}
	return nil
}
