package market

import (
	"fmt"
	"math"
	"strings"
)

// Snapshot 输出序列的简要描述，用于日志与 CLI。
func (s Series) Snapshot(label string) string {
	if len(s) == 0 {
		return ""
	}
	first := s[0]
	last := s[len(s)-1]
	base := first.Close
	if base == 0 {
		base = first.Open
	}
	low := math.MaxFloat64
	high := -math.MaxFloat64
	for _, bar := range s {
		if bar.Low < low {
			low = bar.Low
		}
		if bar.High > high {
			high = bar.High
		}
	}
	var sb strings.Builder
	lbl := strings.TrimSpace(label)
	if lbl == "" {
		lbl = "window"
	}
	sb.WriteString(fmt.Sprintf("%s bars=%d %s~%s close≈%.4f", lbl, len(s),
		first.Time.UTC().Format("2006-01-02"), last.Time.UTC().Format("2006-01-02"), last.Close))
	if base != 0 {
		sb.WriteString(fmt.Sprintf(" (%+.2f%%)", (last.Close-base)/base*100))
	}
	sb.WriteString(fmt.Sprintf(", 区间 %.4f–%.4f", low, high))
	return sb.String()
}
