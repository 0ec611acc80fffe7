package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quantbt/internal/analytics"
	"quantbt/internal/engine"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrRunNotFound 指定 id 的回测不存在。
var ErrRunNotFound = errors.New("backtest run not found")

type runModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Name            string         `gorm:"column:name"`
	Strategy        string         `gorm:"column:strategy;index"`
	Parameters      datatypes.JSON `gorm:"column:parameters;type:TEXT"`
	Market          string         `gorm:"column:market"`
	Symbols         datatypes.JSON `gorm:"column:symbols;type:TEXT"`
	Timeframe       string         `gorm:"column:timeframe"`
	StartUnix       int64          `gorm:"column:start_ts"`
	EndUnix         int64          `gorm:"column:end_ts"`
	InitialCash     float64        `gorm:"column:initial_capital"`
	Status          string         `gorm:"column:status;index"`
	Progress        int            `gorm:"column:progress"`
	Message         string         `gorm:"column:message"`
	Summary         datatypes.JSON `gorm:"column:summary;type:TEXT"`
	EquityCurve     datatypes.JSON `gorm:"column:equity_curve;type:TEXT"`
	CreatedAtUnix   int64          `gorm:"column:created_at;index"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`
	CompletedAtUnix *int64         `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type tradeModel struct {
	ID               int64    `gorm:"column:id;primaryKey;autoIncrement"`
	RunID            string   `gorm:"column:run_id;index:idx_trades_run_symbol,priority:1"`
	Symbol           string   `gorm:"column:symbol;index:idx_trades_run_symbol,priority:2"`
	Seq              int      `gorm:"column:seq"`
	Quantity         int64    `gorm:"column:quantity"`
	EntrySignalPrice float64  `gorm:"column:entry_signal_price"`
	EntrySignalUnix  int64    `gorm:"column:entry_signal_at"`
	EntryPrice       float64  `gorm:"column:entry_price"`
	EntryUnix        int64    `gorm:"column:entry_at"`
	EntryCommission  float64  `gorm:"column:entry_commission"`
	ExitSignalPrice  float64  `gorm:"column:exit_signal_price"`
	ExitPrice        float64  `gorm:"column:exit_price"`
	ExitUnix         *int64   `gorm:"column:exit_at"`
	ExitCommission   float64  `gorm:"column:exit_commission"`
	PnL              *float64 `gorm:"column:pnl"`
	PnLPercent       *float64 `gorm:"column:pnl_percent"`
	HoldingDays      int      `gorm:"column:holding_days"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

// ResultStore 使用 gorm + sqlite 持久化回测任务、成交配对与资金曲线。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// DriverName 指向 modernc 的纯 Go 驱动，避免依赖 cgo。
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 写入一条新任务。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	m, err := newRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpdateRunStatus 更新状态与说明。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	return s.updates(ctx, id, map[string]any{
		"status":     status,
		"message":    message,
		"updated_at": time.Now().UnixMilli(),
	})
}

// UpdateProgress 仅更新进度百分比。
func (s *ResultStore) UpdateProgress(ctx context.Context, id string, pct int) error {
	return s.updates(ctx, id, map[string]any{
		"progress":   pct,
		"updated_at": time.Now().UnixMilli(),
	})
}

// CompleteRun 在同一事务中写入指标、资金曲线和配对成交，并标记完成。
func (s *ResultStore) CompleteRun(ctx context.Context, id string, summary analytics.Summary, curve []engine.EquityPoint, trips []analytics.RoundTrip, message string) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	curveJSON, err := json.Marshal(curve)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&runModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":       RunStatusCompleted,
			"progress":     100,
			"message":      message,
			"summary":      datatypes.JSON(summaryJSON),
			"equity_curve": datatypes.JSON(curveJSON),
			"updated_at":   now,
			"completed_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRunNotFound
		}
		if err := tx.Where("run_id = ?", id).Delete(&tradeModel{}).Error; err != nil {
			return err
		}
		if len(trips) == 0 {
			return nil
		}
		rows := make([]tradeModel, 0, len(trips))
		for i, rt := range trips {
			rows = append(rows, newTradeModel(id, i, rt))
		}
		return tx.CreateInBatches(rows, 200).Error
	})
}

// GetRun 读取完整任务（含资金曲线）。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return m.toRun()
}

// ListRuns 按创建时间倒序分页列出任务，不加载资金曲线。
func (s *ResultStore) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var models []runModel
	err := s.db.WithContext(ctx).
		Omit("equity_curve").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := m.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// ListTrades 返回任务的配对成交，按平仓顺序。
func (s *ResultStore) ListTrades(ctx context.Context, runID string) ([]analytics.RoundTrip, error) {
	var rows []tradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]analytics.RoundTrip, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRoundTrip())
	}
	return out, nil
}

// DeleteRun 删除任务及其成交。
func (s *ResultStore) DeleteRun(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&tradeModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&runModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// FailInterrupted 将上次进程退出时未完成的任务标记为失败。
func (s *ResultStore) FailInterrupted(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&runModel{}).
		Where("status IN ?", []string{RunStatusPending, RunStatusRunning}).
		Updates(map[string]any{
			"status":     RunStatusFailed,
			"message":    "进程重启，任务中断",
			"updated_at": time.Now().UnixMilli(),
		})
	return res.RowsAffected, res.Error
}

func (s *ResultStore) updates(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func newRunModel(run Run) (runModel, error) {
	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return runModel{}, err
	}
	symbols, err := json.Marshal(run.Symbols)
	if err != nil {
		return runModel{}, err
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	m := runModel{
		ID:            run.ID,
		Name:          run.Name,
		Strategy:      run.Strategy,
		Parameters:    datatypes.JSON(params),
		Market:        run.Market,
		Symbols:       datatypes.JSON(symbols),
		Timeframe:     run.Timeframe,
		StartUnix:     run.Start.UnixMilli(),
		EndUnix:       run.End.UnixMilli(),
		InitialCash:   run.InitialCash,
		Status:        run.Status,
		Progress:      run.Progress,
		Message:       run.Message,
		CreatedAtUnix: created.UnixMilli(),
		UpdatedAtUnix: created.UnixMilli(),
	}
	if m.Status == "" {
		m.Status = RunStatusPending
	}
	return m, nil
}

func (m runModel) toRun() (Run, error) {
	run := Run{
		ID:          m.ID,
		Name:        m.Name,
		Strategy:    m.Strategy,
		Market:      m.Market,
		Timeframe:   m.Timeframe,
		Start:       time.UnixMilli(m.StartUnix).UTC(),
		End:         time.UnixMilli(m.EndUnix).UTC(),
		InitialCash: m.InitialCash,
		Status:      m.Status,
		Progress:    m.Progress,
		Message:     m.Message,
		CreatedAt:   time.UnixMilli(m.CreatedAtUnix).UTC(),
		UpdatedAt:   time.UnixMilli(m.UpdatedAtUnix).UTC(),
	}
	if m.CompletedAtUnix != nil {
		t := time.UnixMilli(*m.CompletedAtUnix).UTC()
		run.CompletedAt = &t
	}
	if len(m.Parameters) > 0 {
		if err := json.Unmarshal(m.Parameters, &run.Parameters); err != nil {
			return Run{}, fmt.Errorf("解析 parameters 失败: %w", err)
		}
	}
	if len(m.Symbols) > 0 {
		if err := json.Unmarshal(m.Symbols, &run.Symbols); err != nil {
			return Run{}, fmt.Errorf("解析 symbols 失败: %w", err)
		}
	}
	if len(m.Summary) > 0 && string(m.Summary) != "null" {
		var summary analytics.Summary
		if err := json.Unmarshal(m.Summary, &summary); err != nil {
			return Run{}, fmt.Errorf("解析 summary 失败: %w", err)
		}
		run.Summary = &summary
	}
	if len(m.EquityCurve) > 0 && string(m.EquityCurve) != "null" {
		if err := json.Unmarshal(m.EquityCurve, &run.EquityCurve); err != nil {
			return Run{}, fmt.Errorf("解析 equity_curve 失败: %w", err)
		}
	}
	return run, nil
}

func newTradeModel(runID string, seq int, rt analytics.RoundTrip) tradeModel {
	m := tradeModel{
		RunID:            runID,
		Symbol:           rt.Symbol,
		Seq:              seq,
		Quantity:         rt.Quantity,
		EntrySignalPrice: rt.EntrySignalPrice,
		EntrySignalUnix:  rt.EntrySignalTime.UnixMilli(),
		EntryPrice:       rt.EntryPrice,
		EntryUnix:        rt.EntryTime.UnixMilli(),
		EntryCommission:  rt.EntryCommission,
		ExitSignalPrice:  rt.ExitSignalPrice,
		ExitPrice:        rt.ExitPrice,
		ExitCommission:   rt.ExitCommission,
		PnL:              rt.PnL,
		PnLPercent:       rt.PnLPercent,
		HoldingDays:      rt.HoldingDays,
	}
	if rt.ExitTime != nil {
		ts := rt.ExitTime.UnixMilli()
		m.ExitUnix = &ts
	}
	return m
}

func (m tradeModel) toRoundTrip() analytics.RoundTrip {
	rt := analytics.RoundTrip{
		Symbol:           m.Symbol,
		Quantity:         m.Quantity,
		EntrySignalPrice: m.EntrySignalPrice,
		EntrySignalTime:  time.UnixMilli(m.EntrySignalUnix).UTC(),
		EntryPrice:       m.EntryPrice,
		EntryTime:        time.UnixMilli(m.EntryUnix).UTC(),
		EntryCommission:  m.EntryCommission,
		ExitSignalPrice:  m.ExitSignalPrice,
		ExitPrice:        m.ExitPrice,
		ExitCommission:   m.ExitCommission,
		PnL:              m.PnL,
		PnLPercent:       m.PnLPercent,
		HoldingDays:      m.HoldingDays,
	}
	if m.ExitUnix != nil {
		t := time.UnixMilli(*m.ExitUnix).UTC()
		rt.ExitTime = &t
	}
	return rt
}
