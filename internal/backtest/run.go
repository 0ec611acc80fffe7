package backtest

import (
	"fmt"
	"strings"
	"time"

	"quantbt/internal/analytics"
	"quantbt/internal/engine"
)

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// DateLayout 请求中日期的默认格式；也接受 RFC3339。
const DateLayout = "2006-01-02"

// RunRequest 描述一次回测提交。Preset 非空时由 Runner 解析为 Market/Symbols。
type RunRequest struct {
	Name        string         `json:"name"`
	Strategy    string         `json:"strategy"`
	Parameters  map[string]any `json:"parameters"`
	Market      string         `json:"market"`
	Symbols     []string       `json:"symbols"`
	Preset      string         `json:"preset,omitempty"`
	Timeframe   string         `json:"timeframe"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	InitialCash float64        `json:"initial_capital"`
}

// Run 回测任务的持久化视图。
type Run struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Strategy    string               `json:"strategy"`
	Parameters  map[string]any       `json:"parameters"`
	Market      string               `json:"market"`
	Symbols     []string             `json:"symbols"`
	Timeframe   string               `json:"timeframe"`
	Start       time.Time            `json:"start"`
	End         time.Time            `json:"end"`
	InitialCash float64              `json:"initial_capital"`
	Status      string               `json:"status"`
	Progress    int                  `json:"progress"`
	Message     string               `json:"message,omitempty"`
	Summary     *analytics.Summary   `json:"summary,omitempty"`
	EquityCurve []engine.EquityPoint `json:"equity_curve,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// Outcome 同步执行的完整产出。
type Outcome struct {
	Result     engine.Result         `json:"-"`
	Summary    analytics.Summary     `json:"summary"`
	RoundTrips []analytics.RoundTrip `json:"trades"`
	Skipped    []string              `json:"skipped_symbols,omitempty"`
}

// ParseDate 解析 YYYY-MM-DD 或 RFC3339，结果统一为 UTC。
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("日期不能为空")
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("无法解析日期 %q", raw)
	}
	return t.UTC(), nil
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
