package strategy

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"quantbt/internal/engine"
)

// Params 各策略参数结构需实现的校验。
type Params interface {
	validate() error
}

type entry struct {
	defaults func() Params
	build    func(Params) engine.Strategy
}

var registry = map[string]entry{
	"mean_reversion": {
		defaults: func() Params { return defaultMeanReversion() },
		build:    func(p Params) engine.Strategy { return newMeanReversion(*p.(*MeanReversionParams)) },
	},
	"momentum_breakout": {
		defaults: func() Params { return defaultMomentum() },
		build:    func(p Params) engine.Strategy { return newMomentum(*p.(*MomentumParams)) },
	},
	"rsi": {
		defaults: func() Params { return defaultRSI() },
		build:    func(p Params) engine.Strategy { return newRSI(*p.(*RSIParams)) },
	},
	"macd_crossover": {
		defaults: func() Params { return defaultMACD() },
		build:    func(p Params) engine.Strategy { return newMACD(*p.(*MACDParams)) },
	},
	"bollinger_bands": {
		defaults: func() Params { return defaultBollinger() },
		build:    func(p Params) engine.Strategy { return newBollinger(*p.(*BollingerParams)) },
	},
}

// Names 返回已注册策略名（排序后）。
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has 判断策略是否存在。
func Has(name string) bool {
	_, ok := registry[normalize(name)]
	return ok
}

// Defaults 返回策略默认参数（map 形式，便于 API 与参数扫描展示）。
func Defaults(name string) (map[string]any, error) {
	e, ok := registry[normalize(name)]
	if !ok {
		return nil, unknown(name)
	}
	out := make(map[string]any)
	if err := mapstructure.Decode(e.defaults(), &out); err != nil {
		return nil, fmt.Errorf("encode defaults %s: %w", name, err)
	}
	return out, nil
}

// New 按名称与参数构造策略实例；params 覆盖默认值，未知参数报错。
func New(name string, params map[string]any) (engine.Strategy, error) {
	key := normalize(name)
	e, ok := registry[key]
	if !ok {
		return nil, unknown(name)
	}
	p := e.defaults()
	if len(params) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           p,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			DecodeHook:       mapstructure.DecodeHookFuncKind(integralOnly),
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(params); err != nil {
			return nil, fmt.Errorf("%s 参数解析失败: %w", key, err)
		}
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s 参数非法: %w", key, err)
	}
	return e.build(p), nil
}

// integralOnly 整数参数只接受整数值，14.5 报错而不是被截断为 14。
func integralOnly(from, to reflect.Kind, data any) (any, error) {
	switch to {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}
	if from != reflect.Float32 && from != reflect.Float64 {
		return data, nil
	}
	f := reflect.ValueOf(data).Float()
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("需要整数，得到 %v", f)
	}
	return data, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func unknown(name string) error {
	return fmt.Errorf("unknown strategy %q, available: %s", name, strings.Join(Names(), ", "))
}

func positive(name string, v float64) error {
	if !(v > 0) {
		return fmt.Errorf("%s 必须大于 0", name)
	}
	return nil
}

func weight(v float64) error {
	if !(v > 0) || v > 1 {
		return fmt.Errorf("position_weight 需在 (0,1] 区间: %v", v)
	}
	return nil
}
