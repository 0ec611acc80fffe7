package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type StartupSummary struct {
	Env        string
	HTTPAddr   string
	Data       DataSummary
	ResultsDB  string
	Markets    []MarketLine
	Strategies []string
	Presets    []string
	Timeframes []string
	MaxRuns    int
}

type DataSummary struct {
	CachePath   string
	Routes      []string
	DailyTTL    time.Duration
	IntradayTTL time.Duration
	RatePerMin  int
}

type MarketLine struct {
	Name           string
	Currency       string
	CommissionRate float64
	MinOrderAmount float64
	TradingDays    int
}

func (s *StartupSummary) Print() {
	_, _ = s.WriteTo(os.Stdout)
}

// WriteTo 输出启动摘要。
func (s *StartupSummary) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	title := "启动配置摘要 (STARTUP SUMMARY)"
	b.WriteString(strings.Repeat("=", 80) + "\n")
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	b.WriteString("[服务 (SERVICE)]\n")
	fmt.Fprintf(&b, "  环境: %s\n", s.Env)
	fmt.Fprintf(&b, "  HTTP: %s\n", s.HTTPAddr)
	fmt.Fprintf(&b, "  并发回测: %d\n", s.MaxRuns)
	fmt.Fprintf(&b, "  结果库: %s\n\n", s.ResultsDB)

	b.WriteString("[行情数据 (MARKET DATA)]\n")
	fmt.Fprintf(&b, "  缓存: %s\n", s.Data.CachePath)
	fmt.Fprintf(&b, "  数据源: %s\n", formatList(s.Data.Routes))
	fmt.Fprintf(&b, "  TTL: 日线 %s / 日内 %s\n", s.Data.DailyTTL, s.Data.IntradayTTL)
	fmt.Fprintf(&b, "  限流: %d 次/分钟\n", s.Data.RatePerMin)
	fmt.Fprintf(&b, "  周期: %s\n\n", formatList(s.Timeframes))

	b.WriteString("[市场 (MARKETS)]\n")
	if len(s.Markets) == 0 {
		b.WriteString("  (无配置)\n")
	}
	for _, m := range s.Markets {
		fmt.Fprintf(&b, "  > %-8s %-5s 佣金 %.4f%%  最小下单 %g  年交易日 %d\n",
			m.Name, m.Currency, m.CommissionRate*100, m.MinOrderAmount, m.TradingDays)
	}
	b.WriteString("\n")

	b.WriteString("[策略与预设 (STRATEGIES & PRESETS)]\n")
	fmt.Fprintf(&b, "  策略: %s\n", formatList(s.Strategies))
	fmt.Fprintf(&b, "  预设: %s\n", formatList(s.Presets))
	b.WriteString(strings.Repeat("=", 80) + "\n")

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
