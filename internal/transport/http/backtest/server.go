package backtesthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quantbt/internal/backtest"
	"quantbt/internal/market"
	"quantbt/internal/optimizer"
	"quantbt/internal/preset"
	"quantbt/internal/report"
	"quantbt/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// PresetCatalog 提供预设列表。
type PresetCatalog interface {
	List() []preset.Preset
}

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr    string
	runner  *backtest.Runner
	results *backtest.ResultStore
	bars    *backtest.BarStore
	presets PresetCatalog
	router  *gin.Engine
}

// Config 描述回测 HTTP Server 的依赖。
type Config struct {
	Addr    string
	Runner  *backtest.Runner
	Results *backtest.ResultStore
	Bars    *backtest.BarStore
	Presets PresetCatalog
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner 不能为空")
	}
	if cfg.Results == nil {
		return nil, errors.New("result store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    cfg.Addr,
		runner:  cfg.Runner,
		results: cfg.Results,
		bars:    cfg.Bars,
		presets: cfg.Presets,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

// Handler 暴露路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api := s.router.Group("/api")
	api.GET("/strategies", s.handleStrategies)
	api.GET("/presets", s.handlePresets)
	api.GET("/markets", s.handleMarkets)

	runs := api.Group("/backtests")
	runs.POST("", s.handleRunStart)
	runs.GET("", s.handleRunList)
	runs.GET("/:id", s.handleRunDetail)
	runs.GET("/:id/status", s.handleRunStatus)
	runs.GET("/:id/trades", s.handleRunTrades)
	runs.GET("/:id/export", s.handleRunExport)
	runs.GET("/:id/chart", s.handleEquityChart)
	runs.GET("/:id/chart/:symbol", s.handlePriceChart)
	runs.DELETE("/:id", s.handleRunDelete)

	api.POST("/compare", s.handleCompareStart)
	api.GET("/compare", s.handleCompareStatus)
	api.POST("/optimize", s.handleOptimize)

	api.GET("/data/ohlcv", s.handleOHLCV)
	api.GET("/data/manifest", s.handleManifest)
}

// window 为请求中的公共字段，日期接受 YYYY-MM-DD 或 RFC3339。
type window struct {
	Market         string   `json:"market"`
	Symbols        []string `json:"symbols"`
	Preset         string   `json:"preset"`
	Timeframe      string   `json:"timeframe"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	InitialCapital float64  `json:"initial_capital"`
}

func (w window) dates() (time.Time, time.Time, error) {
	start, err := backtest.ParseDate(w.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := backtest.ParseDate(w.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date: %w", err)
	}
	return start, end, nil
}

type runPayload struct {
	window
	Name       string         `json:"name"`
	Strategy   string         `json:"strategy"`
	Parameters map[string]any `json:"parameters"`
}

type comparePayload struct {
	window
	Name       string                  `json:"name"`
	Strategies []backtest.StrategySpec `json:"strategies"`
}

type optimizePayload struct {
	window
	Strategy        string                     `json:"strategy"`
	ParameterRanges map[string]optimizer.Range `json:"parameter_ranges"`
	Metric          string                     `json:"metric"`
	TopN            int                        `json:"top_n"`
}

func (s *Server) handleStrategies(c *gin.Context) {
	names := strategy.Names()
	items := make([]gin.H, 0, len(names))
	for _, name := range names {
		defaults, err := strategy.Defaults(name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		items = append(items, gin.H{"name": name, "defaults": defaults})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": items})
}

func (s *Server) handlePresets(c *gin.Context) {
	if s.presets == nil {
		c.JSON(http.StatusOK, gin.H{"presets": []preset.Preset{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"presets": s.presets.List()})
}

func (s *Server) handleMarkets(c *gin.Context) {
	names := s.runner.MarketNames()
	items := make([]market.Config, 0, len(names))
	for _, name := range names {
		mc, err := s.runner.Market(name)
		if err != nil {
			continue
		}
		items = append(items, mc)
	}
	c.JSON(http.StatusOK, gin.H{"markets": items})
}

func (s *Server) handleRunStart(c *gin.Context) {
	var req runPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, end, err := req.dates()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.runner.Submit(backtest.RunRequest{
		Name:        req.Name,
		Strategy:    req.Strategy,
		Parameters:  req.Parameters,
		Market:      req.Market,
		Symbols:     req.Symbols,
		Preset:      req.Preset,
		Timeframe:   req.Timeframe,
		Start:       start,
		End:         end,
		InitialCash: req.InitialCapital,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset 非法"})
		return
	}
	runs, err := s.results.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) loadRun(c *gin.Context) (backtest.Run, bool) {
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return backtest.Run{}, false
	}
	return run, true
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunStatus(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       run.ID,
		"status":   run.Status,
		"progress": run.Progress,
		"message":  run.Message,
	})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	trades, err := s.results.ListTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunExport(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	trades, err := s.results.ListTrades(c.Request.Context(), run.ID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := backtest.WriteTradesCSV(&buf, trades); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=backtest_%s.csv", run.ID))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) handleEquityChart(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	if run.Status != backtest.RunStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("任务状态为 %s，尚无结果", run.Status)})
		return
	}
	subtitle := ""
	if run.Summary != nil {
		subtitle = fmt.Sprintf("总收益 %.2f%% | 最大回撤 %.2f%% | Sharpe %.2f",
			run.Summary.TotalReturn*100, run.Summary.MaxDrawdown*100, run.Summary.SharpeRatio)
	}
	html, err := report.RenderEquity(report.EquityInput{Title: run.Name, Subtitle: subtitle, Curve: run.EquityCurve})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (s *Server) handlePriceChart(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	bars, err := s.runner.Bars(c.Request.Context(), run, c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	trades, err := s.results.ListTrades(c.Request.Context(), run.ID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	html, err := report.RenderPrice(report.PriceInput{Symbol: c.Param("symbol"), Bars: bars, Trades: trades})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (s *Server) handleRunDelete(c *gin.Context) {
	id := c.Param("id")
	cancelled := s.runner.Cancel(id)
	if err := s.results.DeleteRun(c.Request.Context(), id); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id, "cancelled": cancelled})
}

func (s *Server) handleCompareStart(c *gin.Context) {
	var req comparePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, end, err := req.dates()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runs, err := s.runner.SubmitComparison(backtest.CompareRequest{
		Name:        req.Name,
		Strategies:  req.Strategies,
		Market:      req.Market,
		Symbols:     req.Symbols,
		Preset:      req.Preset,
		Timeframe:   req.Timeframe,
		Start:       start,
		End:         end,
		InitialCash: req.InitialCapital,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ids := make([]string, len(runs))
	for i, run := range runs {
		ids[i] = run.ID
	}
	c.JSON(http.StatusAccepted, gin.H{"run_ids": ids, "runs": runs})
}

func (s *Server) handleCompareStatus(c *gin.Context) {
	raw := strings.Split(c.Query("ids"), ",")
	runs := make([]backtest.Run, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		run, err := s.results.GetRun(c.Request.Context(), id)
		if err != nil {
			writeStoreError(c, err)
			return
		}
		runs = append(runs, run)
	}
	if len(runs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids 必填"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"comparison": backtest.SummarizeComparison(runs)})
}

func (s *Server) handleOptimize(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := checkRanges(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req optimizePayload
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, end, err := req.dates()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.runner.Optimize(c.Request.Context(), backtest.OptimizeRequest{
		Strategy:    req.Strategy,
		Ranges:      req.ParameterRanges,
		Market:      req.Market,
		Symbols:     req.Symbols,
		Preset:      req.Preset,
		Timeframe:   req.Timeframe,
		Start:       start,
		End:         end,
		InitialCash: req.InitialCapital,
		Metric:      req.Metric,
		TopN:        req.TopN,
	}, nil)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"optimization": res})
}

// checkRanges 在解码前检查 parameter_ranges 的结构，给出逐字段的错误信息。
func checkRanges(body []byte) error {
	if !gjson.ValidBytes(body) {
		return errors.New("请求体不是合法 JSON")
	}
	ranges := gjson.GetBytes(body, "parameter_ranges")
	if !ranges.Exists() || !ranges.IsObject() {
		return errors.New("parameter_ranges 必须是对象")
	}
	var err error
	ranges.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			err = fmt.Errorf("parameter_ranges.%s 必须是对象", key.String())
			return false
		}
		for _, field := range []string{"min", "max", "step"} {
			if v := value.Get(field); v.Type != gjson.Number {
				err = fmt.Errorf("parameter_ranges.%s.%s 必须是数字", key.String(), field)
				return false
			}
		}
		return true
	})
	return err
}

func (s *Server) handleOHLCV(c *gin.Context) {
	req, ok := barQuery(c)
	if !ok {
		return
	}
	start, err := backtest.ParseDate(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from: " + err.Error()})
		return
	}
	end, err := backtest.ParseDate(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to: " + err.Error()})
		return
	}
	run := backtest.Run{ID: "ohlcv", Symbols: []string{req.Symbol}, Market: req.Market, Timeframe: req.Timeframe.Key, Start: start, End: end}
	bars, err := s.runner.Bars(c.Request.Context(), run, req.Symbol)
	if err != nil {
		if errors.Is(err, backtest.ErrNoData) {
			c.JSON(http.StatusOK, gin.H{"bars": []market.Bar{}})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bars": bars})
}

func (s *Server) handleManifest(c *gin.Context) {
	if s.bars == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情缓存未启用"})
		return
	}
	req, ok := barQuery(c)
	if !ok {
		return
	}
	info, err := s.bars.Manifest(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func barQuery(c *gin.Context) (market.Request, bool) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	mkt := strings.TrimSpace(c.Query("market"))
	if symbol == "" || mkt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/market 必填"})
		return market.Request{}, false
	}
	tf, err := market.ParseTimeframe(c.DefaultQuery("timeframe", market.Daily.Key))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return market.Request{}, false
	}
	return market.Request{
		Symbol:    strings.ToUpper(symbol),
		Market:    strings.ToUpper(mkt),
		Timeframe: tf,
	}, true
}

func writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, backtest.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
