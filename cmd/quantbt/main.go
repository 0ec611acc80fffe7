package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"quantbt/internal/app"
	"quantbt/internal/backtest"
	brcfg "quantbt/internal/config"
	"quantbt/internal/logger"
	"quantbt/internal/optimizer"
)

const usage = `用法: quantbt <command> [flags]

命令:
  serve      启动回测 HTTP 服务
  run        同步执行一次回测并输出 JSON
  optimize   同步执行参数网格扫描并输出 JSON

配置文件路径取自 QUANTBT_CONFIG，默认 configs/config.yaml。`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 返回进程退出码，所有 defer 在 main 调用 os.Exit 之前执行完毕。
func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve", "run", "optimize":
	case "-h", "--help", "help":
		fmt.Println(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "未知命令 %q\n\n%s\n", cmd, usage)
		return 2
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		log.Printf("读取配置失败: %v", err)
		return 1
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Printf("初始化日志文件失败: %v", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}
	if cmd != "serve" && logFile == nil {
		// stdout 只留给 JSON 结果。
		logger.SetOutput(os.Stderr)
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg)
	case "run":
		err = runOnce(ctx, cfg, rest)
	case "optimize":
		err = optimize(ctx, cfg, rest)
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.Printf("%s 失败: %v", cmd, err)
		return 1
	}
	return 0
}

func loadConfig() (*brcfg.Config, error) {
	cfgPath := os.Getenv("QUANTBT_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		log.Printf("配置文件 %s 不存在，使用默认配置", cfgPath)
		return brcfg.Default(), nil
	}
	return brcfg.Load(cfgPath)
}

func serve(ctx context.Context, cfg *brcfg.Config) error {
	logger.Infof("✓ 配置加载成功（环境=%s，HTTP=%s）", cfg.App.Env, cfg.App.HTTPAddr)
	a, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// windowFlags run 与 optimize 共用的区间参数。
type windowFlags struct {
	market    string
	symbols   string
	preset    string
	timeframe string
	start     string
	end       string
	capital   float64
}

func (w *windowFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&w.market, "market", "", "市场 (KR/US/CRYPTO)")
	fs.StringVar(&w.symbols, "symbols", "", "逗号分隔的标的列表")
	fs.StringVar(&w.preset, "preset", "", "标的预设名，优先于 -market/-symbols")
	fs.StringVar(&w.timeframe, "timeframe", "1d", "K 线周期")
	fs.StringVar(&w.start, "start", "", "开始日期 YYYY-MM-DD")
	fs.StringVar(&w.end, "end", "", "结束日期 YYYY-MM-DD")
	fs.Float64Var(&w.capital, "capital", 0, "初始资金")
}

// runRequest 组装 RunRequest；params 为空时使用策略默认参数。
func (w *windowFlags) runRequest(name, params string) (backtest.RunRequest, error) {
	start, err := backtest.ParseDate(w.start)
	if err != nil {
		return backtest.RunRequest{}, fmt.Errorf("-start: %w", err)
	}
	end, err := backtest.ParseDate(w.end)
	if err != nil {
		return backtest.RunRequest{}, fmt.Errorf("-end: %w", err)
	}
	var symbols []string
	for _, s := range strings.Split(w.symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	var parsed map[string]any
	if strings.TrimSpace(params) != "" {
		if err := json.Unmarshal([]byte(params), &parsed); err != nil {
			return backtest.RunRequest{}, fmt.Errorf("-params: %w", err)
		}
	}
	return backtest.RunRequest{
		Name:        "cli",
		Strategy:    name,
		Parameters:  parsed,
		Market:      w.market,
		Symbols:     symbols,
		Preset:      w.preset,
		Timeframe:   w.timeframe,
		Start:       start,
		End:         end,
		InitialCash: w.capital,
	}, nil
}

func runOnce(ctx context.Context, cfg *brcfg.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var w windowFlags
	w.bind(fs)
	name := fs.String("strategy", "", "策略名")
	params := fs.String("params", "", "策略参数 JSON，如 {\"rsi_period\":10}")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := w.runRequest(*name, *params)
	if err != nil {
		return err
	}
	a, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	out, err := a.Runner().Execute(ctx, req, func(pct int) {
		logger.Debugf("[run] 进度 %d%%", pct)
	})
	if err != nil {
		return err
	}
	logger.InfoBlock(runSummary(req, out))
	return printJSON(os.Stdout, out)
}

// runSummary 人读的回测摘要，走日志输出，stdout 只保留 JSON。
func runSummary(req backtest.RunRequest, out backtest.Outcome) string {
	s := out.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "[run] %s %s %s ~ %s\n", req.Strategy, req.Timeframe,
		req.Start.Format(time.DateOnly), req.End.Format(time.DateOnly))
	fmt.Fprintf(&b, "[run] 期末权益 %.2f (初始 %.2f)\n", s.FinalEquity, s.InitialCash)
	fmt.Fprintf(&b, "[run] 总收益率 %.2f%%  年化 %.2f%%  最大回撤 %.2f%%\n", s.TotalReturn*100, s.AnnualReturn*100, s.MaxDrawdown*100)
	fmt.Fprintf(&b, "[run] 夏普 %.3f  成交 %d 次  胜率 %.1f%%\n", s.SharpeRatio, s.TotalTrades, s.WinRate*100)
	if len(out.Skipped) > 0 {
		fmt.Fprintf(&b, "[run] 跳过无数据标的: %s\n", strings.Join(out.Skipped, ", "))
	}
	return b.String()
}

func optimize(ctx context.Context, cfg *brcfg.Config, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ContinueOnError)
	var w windowFlags
	w.bind(fs)
	name := fs.String("strategy", "", "策略名")
	ranges := fs.String("ranges", "", "参数区间 JSON，如 {\"rsi_period\":{\"min\":10,\"max\":20,\"step\":5}}")
	metric := fs.String("metric", "", "排序指标")
	topN := fs.Int("top", 0, "返回前 N 组")
	if err := fs.Parse(args); err != nil {
		return err
	}
	base, err := w.runRequest(*name, "")
	if err != nil {
		return err
	}
	var parsed map[string]optimizer.Range
	if err := json.Unmarshal([]byte(*ranges), &parsed); err != nil {
		return fmt.Errorf("-ranges: %w", err)
	}
	a, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	res, err := a.Runner().Optimize(ctx, backtest.OptimizeRequest{
		Strategy:    base.Strategy,
		Ranges:      parsed,
		Market:      base.Market,
		Symbols:     base.Symbols,
		Preset:      base.Preset,
		Timeframe:   base.Timeframe,
		Start:       base.Start,
		End:         base.End,
		InitialCash: base.InitialCash,
		Metric:      *metric,
		TopN:        *topN,
	}, func(pct int) {
		logger.Infof("[optimize] 进度 %d%%", pct)
	})
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stderr, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
