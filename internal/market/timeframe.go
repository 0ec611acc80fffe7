package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述回测使用的 K 线周期（内部 duration + 数据源 interval）。
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

var supportedTimeframes = map[string]Timeframe{
	"5m":  {Key: "5m", Duration: 5 * time.Minute, SourceInterval: "5m"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, SourceInterval: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, SourceInterval: "30m"},
	"1h":  {Key: "1h", Duration: time.Hour, SourceInterval: "1h"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, SourceInterval: "1d"},
}

var timeframeAliases = map[string]string{
	"d1": "1d",
	"h1": "1h",
	"m5": "5m",
}

// Daily 日线周期，测试与默认配置共用。
var Daily = supportedTimeframes["1d"]

// Hourly 小时线周期。
var Hourly = supportedTimeframes["1h"]

// ParseTimeframe 返回标准化周期定义，兼容 D1/H1 等写法。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if alias, ok := timeframeAliases[key]; ok {
		key = alias
	}
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期: %s", input)
	}
	return tf, nil
}

// SupportedTimeframes 返回所有支持的 key（排序后）。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsDaily 判断是否为日线及以上周期；滑点与缓存 TTL 按此区分。
func (tf Timeframe) IsDaily() bool {
	return tf.Duration >= 24*time.Hour
}

func (tf Timeframe) String() string {
	return tf.Key
}
