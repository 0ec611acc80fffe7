package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quantbt/internal/market"

	_ "modernc.org/sqlite"
)

// Manifest 记录某个 symbol/market/timeframe 缓存的统计信息。
type Manifest struct {
	Symbol      string    `json:"symbol"`
	Market      string    `json:"market"`
	Timeframe   string    `json:"timeframe"`
	MinTime     time.Time `json:"min_time"`
	MaxTime     time.Time `json:"max_time"`
	Rows        int64     `json:"rows"`
	LastFetched time.Time `json:"last_fetched"`
}

// BarStore 基于 sqlite 的 K 线缓存，每行带 fetched_at 用于 TTL 判断。
type BarStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

var _ market.BarStore = (*BarStore)(nil)

func NewBarStore(path string) (*BarStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("cache path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureBarSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BarStore{db: db, path: path}, nil
}

func (s *BarStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureBarSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			symbol     TEXT NOT NULL,
			market     TEXT NOT NULL,
			timeframe  TEXT NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			fetched_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, market, timeframe, ts)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bars_fetched ON bars(symbol, market, timeframe, fetched_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func cacheKey(req market.Request) (string, string, string) {
	return strings.ToUpper(req.Symbol), strings.ToUpper(req.Market), strings.ToLower(req.Timeframe.Key)
}

func bounds(req market.Request) (int64, int64) {
	start, end := int64(0), int64(1<<62)
	if !req.Start.IsZero() {
		start = req.Start.UnixMilli()
	}
	if !req.End.IsZero() {
		end = req.End.UnixMilli()
	}
	return start, end
}

// Put 批量写入 K 线（同一时刻覆盖并刷新 fetched_at）。
func (s *BarStore) Put(ctx context.Context, req market.Request, bars market.Series, fetchedAt time.Time) error {
	if len(bars) == 0 {
		return nil
	}
	symbol, mkt, tf := cacheKey(req)
	if symbol == "" || mkt == "" || tf == "" {
		return fmt.Errorf("symbol/market/timeframe 不能为空")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, market, timeframe, ts, open, high, low, close, volume, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, market, timeframe, ts) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    fetched_at=excluded.fetched_at`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	stamp := fetchedAt.UnixMilli()
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, mkt, tf, b.Time.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume, stamp); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// coverageSlack 缓存首尾与请求边界之间允许的空档（周末、节假日、停牌）。
const coverageSlack = 7 * 24 * time.Hour

// Fresh 返回区间内 fetched_at 未超过 maxAge 的 K 线。
// 缓存首尾距请求起止超过 coverageSlack 时视为未命中，先窄后宽的请求会重新回源；
// 上游本身缺数据的区间同样每次回源。
func (s *BarStore) Fresh(ctx context.Context, req market.Request, maxAge time.Duration, now time.Time) (market.Series, bool, error) {
	symbol, mkt, tf := cacheKey(req)
	start, end := bounds(req)
	cutoff := now.Add(-maxAge).UnixMilli()
	bars, err := s.query(ctx, `
		SELECT ts, open, high, low, close, volume FROM bars
		WHERE symbol = ? AND market = ? AND timeframe = ?
		  AND ts BETWEEN ? AND ? AND fetched_at >= ?
		ORDER BY ts ASC`, symbol, mkt, tf, start, end, cutoff)
	if err != nil {
		return nil, false, err
	}
	if len(bars) == 0 || !covers(req, bars) {
		return nil, false, nil
	}
	return bars, true, nil
}

func covers(req market.Request, bars market.Series) bool {
	if !req.Start.IsZero() && bars[0].Time.Sub(req.Start) > coverageSlack {
		return false
	}
	if !req.End.IsZero() && req.End.Sub(bars[len(bars)-1].Time) > coverageSlack {
		return false
	}
	return true
}

// Range 读取区间内全部缓存，不考虑 TTL。
func (s *BarStore) Range(ctx context.Context, req market.Request) (market.Series, error) {
	symbol, mkt, tf := cacheKey(req)
	start, end := bounds(req)
	return s.query(ctx, `
		SELECT ts, open, high, low, close, volume FROM bars
		WHERE symbol = ? AND market = ? AND timeframe = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC`, symbol, mkt, tf, start, end)
}

func (s *BarStore) query(ctx context.Context, q string, args ...any) (market.Series, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out market.Series
	for rows.Next() {
		var ts int64
		var b market.Bar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		b.Time = time.UnixMilli(ts).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// Manifest 汇总缓存覆盖范围；无数据时 Rows=0。
func (s *BarStore) Manifest(ctx context.Context, req market.Request) (Manifest, error) {
	symbol, mkt, tf := cacheKey(req)
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(ts), 0), COALESCE(MAX(ts), 0), COUNT(1), COALESCE(MAX(fetched_at), 0)
		FROM bars WHERE symbol = ? AND market = ? AND timeframe = ?`, symbol, mkt, tf)
	var minTS, maxTS, rows, last int64
	if err := row.Scan(&minTS, &maxTS, &rows, &last); err != nil {
		return Manifest{}, err
	}
	m := Manifest{Symbol: symbol, Market: mkt, Timeframe: tf, Rows: rows}
	if rows > 0 {
		m.MinTime = time.UnixMilli(minTS).UTC()
		m.MaxTime = time.UnixMilli(maxTS).UTC()
		m.LastFetched = time.UnixMilli(last).UTC()
	}
	return m, nil
}

// Purge 删除 fetched_at 早于 before 的缓存行，返回删除条数。
func (s *BarStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bars WHERE fetched_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
