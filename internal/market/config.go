package market

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultMaxPositionWeight 单一标的持仓市值占权益的上限。
	DefaultMaxPositionWeight = 0.40
	// DefaultMinCashReserveRatio 买入后需保留的最低现金比例。
	DefaultMinCashReserveRatio = 0.05
)

// Config 为单个市场的交易成本参数，创建后只读。
type Config struct {
	Name                string  `json:"name" mapstructure:"name"`
	CommissionRate      float64 `json:"commission_rate" mapstructure:"commission_rate"`
	MinCommission       float64 `json:"min_commission" mapstructure:"min_commission"`
	SlippageDaily       float64 `json:"slippage_daily" mapstructure:"slippage_daily"`
	SlippageIntraday    float64 `json:"slippage_intraday" mapstructure:"slippage_intraday"`
	MinOrderAmount      float64 `json:"min_order_amount" mapstructure:"min_order_amount"`
	Currency            string  `json:"currency" mapstructure:"currency"`
	TradingDaysPerYear  int     `json:"trading_days_per_year" mapstructure:"trading_days_per_year"`
	MaxPositionWeight   float64 `json:"max_position_weight" mapstructure:"max_position_weight"`
	MinCashReserveRatio float64 `json:"min_cash_reserve_ratio" mapstructure:"min_cash_reserve_ratio"`
}

var presets = map[string]Config{
	"KR": {
		Name:                "KR",
		CommissionRate:      0.00015,
		MinCommission:       0,
		SlippageDaily:       0.001,
		SlippageIntraday:    0.0005,
		MinOrderAmount:      100000,
		Currency:            "KRW",
		TradingDaysPerYear:  245,
		MaxPositionWeight:   DefaultMaxPositionWeight,
		MinCashReserveRatio: DefaultMinCashReserveRatio,
	},
	"US": {
		Name:                "US",
		CommissionRate:      0.0025,
		MinCommission:       1.0,
		SlippageDaily:       0.001,
		SlippageIntraday:    0.0005,
		MinOrderAmount:      100,
		Currency:            "USD",
		TradingDaysPerYear:  252,
		MaxPositionWeight:   DefaultMaxPositionWeight,
		MinCashReserveRatio: DefaultMinCashReserveRatio,
	},
	"CRYPTO": {
		Name:                "CRYPTO",
		CommissionRate:      0.001,
		MinCommission:       0,
		SlippageDaily:       0.0005,
		SlippageIntraday:    0.0002,
		MinOrderAmount:      10,
		Currency:            "USDT",
		TradingDaysPerYear:  365,
		MaxPositionWeight:   DefaultMaxPositionWeight,
		MinCashReserveRatio: DefaultMinCashReserveRatio,
	},
}

// Lookup 返回内置市场配置。
func Lookup(name string) (Config, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	cfg, ok := presets[key]
	if !ok {
		return Config{}, fmt.Errorf("未知市场: %s (可选: %s)", name, strings.Join(Names(), ", "))
	}
	return cfg, nil
}

// MustLookup 供测试与内置默认值使用，未知市场直接 panic。
func MustLookup(name string) Config {
	cfg, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Names 返回所有内置市场名称。
func Names() []string {
	out := make([]string, 0, len(presets))
	for k := range presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Overlay 为市场参数的部分覆盖，nil 字段沿用 base，显式的零值同样生效。
type Overlay struct {
	CommissionRate      *float64
	MinCommission       *float64
	SlippageDaily       *float64
	SlippageIntraday    *float64
	MinOrderAmount      *float64
	Currency            *string
	TradingDaysPerYear  *int
	MaxPositionWeight   *float64
	MinCashReserveRatio *float64
}

// Override 用 overlay 中已设置的字段覆盖 base，配置文件用它微调内置市场。
func Override(base Config, overlay Overlay) Config {
	setFloat(&base.CommissionRate, overlay.CommissionRate)
	setFloat(&base.MinCommission, overlay.MinCommission)
	setFloat(&base.SlippageDaily, overlay.SlippageDaily)
	setFloat(&base.SlippageIntraday, overlay.SlippageIntraday)
	setFloat(&base.MinOrderAmount, overlay.MinOrderAmount)
	setFloat(&base.MaxPositionWeight, overlay.MaxPositionWeight)
	setFloat(&base.MinCashReserveRatio, overlay.MinCashReserveRatio)
	if overlay.Currency != nil {
		base.Currency = *overlay.Currency
	}
	if overlay.TradingDaysPerYear != nil {
		base.TradingDaysPerYear = *overlay.TradingDaysPerYear
	}
	return base.WithDefaults()
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// WithDefaults 补齐手工构造配置中缺失的字段。
// MaxPositionWeight 与 TradingDaysPerYear 的零值无意义，按未设置处理；
// MinCashReserveRatio 为 0 表示不保留现金，只有负值才回落到默认比例。
func (c Config) WithDefaults() Config {
	if c.MaxPositionWeight <= 0 {
		c.MaxPositionWeight = DefaultMaxPositionWeight
	}
	if c.MinCashReserveRatio < 0 {
		c.MinCashReserveRatio = DefaultMinCashReserveRatio
	}
	if c.TradingDaysPerYear <= 0 {
		c.TradingDaysPerYear = 252
	}
	return c
}

// Slippage 根据周期返回滑点比例。
func (c Config) Slippage(tf Timeframe) float64 {
	if tf.IsDaily() {
		return c.SlippageDaily
	}
	return c.SlippageIntraday
}
