package optimizer

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// DefaultMaxCombinations 单次扫描允许的组合上限。
const DefaultMaxCombinations = 10000

// ErrTooManyCombinations 组合数超过上限。
var ErrTooManyCombinations = errors.New("too many parameter combinations")

// Range 单个参数的闭区间扫描范围。
type Range struct {
	Min  float64 `json:"min" mapstructure:"min"`
	Max  float64 `json:"max" mapstructure:"max"`
	Step float64 `json:"step" mapstructure:"step"`
}

// Values 生成 [Min, Max] 内以 Step 递增的取值；Max 允许半个步长的误差，结果保留 10 位小数。
func (r Range) Values() ([]float64, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = round10(r.Min + float64(i)*r.Step)
	}
	return out, nil
}

func (r Range) count() (int, error) {
	if !(r.Step > 0) {
		return 0, fmt.Errorf("step 必须大于 0: %v", r.Step)
	}
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Max < r.Min {
		return 0, fmt.Errorf("区间非法: min=%v max=%v", r.Min, r.Max)
	}
	stop := r.Max + r.Step*0.5
	n := math.Ceil((stop - r.Min) / r.Step)
	if n < 1 {
		n = 1
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("步数过多: %v", n)
	}
	return int(n), nil
}

func round10(v float64) float64 {
	const scale = 1e10
	return math.Round(v*scale) / scale
}

// CountCombinations 不展开组合直接计算数量；空范围视为 1 个（默认参数）组合。
func CountCombinations(ranges map[string]Range) (int, error) {
	total := 1
	for name, r := range ranges {
		n, err := r.count()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		if total > math.MaxInt32/n {
			return math.MaxInt32, nil
		}
		total *= n
	}
	return total, nil
}

// GenerateCombinations 参数名排序后做笛卡尔积，最后一个参数变化最快。
func GenerateCombinations(ranges map[string]Range) ([]map[string]float64, error) {
	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	combos := []map[string]float64{{}}
	for _, name := range names {
		values, err := ranges[name].Values()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		next := make([]map[string]float64, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, v := range values {
				c := make(map[string]float64, len(base)+1)
				for k, bv := range base {
					c[k] = bv
				}
				c[name] = v
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos, nil
}
