package backtest

import (
	"fmt"
	"strings"
	"time"
)

// StrategySpec 对比任务中的单个策略及其参数。
type StrategySpec struct {
	Strategy   string         `json:"strategy"`
	Parameters map[string]any `json:"parameters"`
}

// CompareRequest 在相同标的、区间与资金下对比多个策略。
type CompareRequest struct {
	Name        string         `json:"name"`
	Strategies  []StrategySpec `json:"strategies"`
	Market      string         `json:"market"`
	Symbols     []string       `json:"symbols"`
	Preset      string         `json:"preset,omitempty"`
	Timeframe   string         `json:"timeframe"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	InitialCash float64        `json:"initial_capital"`
}

// Comparison 对比任务的聚合视图。
type Comparison struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Runs     []Run  `json:"runs"`
}

// SubmitComparison 为每个策略提交一个回测任务；任一策略校验失败时不提交任何任务。
func (r *Runner) SubmitComparison(req CompareRequest) ([]Run, error) {
	if len(req.Strategies) < 2 {
		return nil, fmt.Errorf("对比至少需要 2 个策略")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "compare"
	}
	reqs := make([]RunRequest, len(req.Strategies))
	for i, entry := range req.Strategies {
		reqs[i] = RunRequest{
			Name:        fmt.Sprintf("[对比] %s - %s", name, strings.TrimSpace(entry.Strategy)),
			Strategy:    entry.Strategy,
			Parameters:  entry.Parameters,
			Market:      req.Market,
			Symbols:     req.Symbols,
			Preset:      req.Preset,
			Timeframe:   req.Timeframe,
			Start:       req.Start,
			End:         req.End,
			InitialCash: req.InitialCash,
		}
		if _, err := r.prepare(reqs[i]); err != nil {
			return nil, fmt.Errorf("策略 %d (%s): %w", i+1, entry.Strategy, err)
		}
	}
	runs := make([]Run, 0, len(reqs))
	for _, rr := range reqs {
		run, err := r.Submit(rr)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// SummarizeComparison 全部完成为 completed；任一失败为 failed；否则按完成比例计算进度。
func SummarizeComparison(runs []Run) Comparison {
	out := Comparison{Runs: runs}
	if len(runs) == 0 {
		out.Status = RunStatusPending
		return out
	}
	completed, failed := 0, 0
	for _, run := range runs {
		switch run.Status {
		case RunStatusCompleted:
			completed++
		case RunStatusFailed:
			failed++
		}
	}
	switch {
	case completed == len(runs):
		out.Status, out.Progress = RunStatusCompleted, 100
	case failed > 0:
		out.Status = RunStatusFailed
	default:
		out.Status = RunStatusRunning
		out.Progress = completed * 100 / len(runs)
	}
	return out
}
