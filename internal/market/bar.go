package market

import (
	"sort"
	"time"
)

// Bar 表示单个标的在某一时刻的 OHLCV 观测值，由数据层产出后不再修改。
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series 为按时间升序排列的 K 线序列。
type Series []Bar

// Key 返回用于时间对齐的整数键。
func (b Bar) Key() int64 {
	return b.Time.UnixNano()
}

// Sorted 判断序列是否严格递增。
func (s Series) Sorted() bool {
	for i := 1; i < len(s); i++ {
		if !s[i].Time.After(s[i-1].Time) {
			return false
		}
	}
	return true
}

// Normalize 返回按时间升序、去重（同一时刻保留最后一条）的副本。
func (s Series) Normalize() Series {
	if len(s) == 0 {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Time.Equal(b.Time) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

// Closes 提取收盘价序列。
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Between 返回 [start,end] 闭区间内的子序列；零值表示不限制。
func (s Series) Between(start, end time.Time) Series {
	var out Series
	for _, b := range s {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
