package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/pkg/circuit"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNoUsableData 所有标的均无数据。
var ErrNoUsableData = errors.New("没有可用的行情数据")

const (
	DefaultDailyTTL    = 24 * time.Hour
	DefaultIntradayTTL = 6 * time.Hour
)

// CacheConfig 配置 CachedSource。
type CacheConfig struct {
	Source          market.Source
	Store           market.BarStore
	RateLimitPerMin int
	DailyTTL        time.Duration
	IntradayTTL     time.Duration
	Now             func() time.Time
}

// CachedSource 先查缓存，未命中时经限流调用底层数据源并回写缓存。
type CachedSource struct {
	source      market.Source
	store       market.BarStore
	limiter     *rate.Limiter
	dailyTTL    time.Duration
	intradayTTL time.Duration
	now         func() time.Time
}

var _ market.Source = (*CachedSource)(nil)

func NewCachedSource(cfg CacheConfig) (*CachedSource, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source 不能为空")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	burst := cfg.RateLimitPerMin / 60
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
		burst = 8
	}
	if burst < 1 {
		burst = 1
	}
	c := &CachedSource{
		source:      cfg.Source,
		store:       cfg.Store,
		limiter:     rate.NewLimiter(ratePerSec, burst),
		dailyTTL:    cfg.DailyTTL,
		intradayTTL: cfg.IntradayTTL,
		now:         cfg.Now,
	}
	if c.dailyTTL <= 0 {
		c.dailyTTL = DefaultDailyTTL
	}
	if c.intradayTTL <= 0 {
		c.intradayTTL = DefaultIntradayTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// TTL 日线与日内周期使用不同的缓存有效期。
func (c *CachedSource) TTL(tf market.Timeframe) time.Duration {
	if tf.IsDaily() {
		return c.dailyTTL
	}
	return c.intradayTTL
}

func (c *CachedSource) FetchBars(ctx context.Context, req market.Request) (market.Series, error) {
	now := c.now()
	cached, ok, err := c.store.Fresh(ctx, req, c.TTL(req.Timeframe), now)
	if err != nil {
		logger.Warnf("[backtest] 读取缓存失败 %s %s: %v", req.Symbol, req.Timeframe, err)
	}
	if ok {
		logger.Debugf("[backtest] 缓存命中: %s %s %s (%d 条)", req.Symbol, req.Market, req.Timeframe, len(cached))
		return cached, nil
	}
	logger.Infof("[backtest] 缓存未命中: %s %s %s，请求数据源", req.Symbol, req.Market, req.Timeframe)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	bars, err := c.source.FetchBars(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		if err := c.store.Put(ctx, req, bars, now); err != nil {
			logger.Warnf("[backtest] 写入缓存失败 %s: %v", req.Symbol, err)
		}
	}
	return bars, nil
}

// Router 按市场名选择数据源，未注册的市场走 fallback。
type Router struct {
	mu       sync.RWMutex
	sources  map[string]market.Source
	fallback market.Source
}

var _ market.Source = (*Router)(nil)

func NewRouter(fallback market.Source) *Router {
	return &Router{sources: make(map[string]market.Source), fallback: fallback}
}

func (r *Router) Register(marketName string, src market.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[strings.ToUpper(marketName)] = src
}

func (r *Router) FetchBars(ctx context.Context, req market.Request) (market.Series, error) {
	r.mu.RLock()
	src, ok := r.sources[strings.ToUpper(req.Market)]
	r.mu.RUnlock()
	if !ok {
		src = r.fallback
	}
	if src == nil {
		return nil, fmt.Errorf("市场 %s 没有可用的数据源", req.Market)
	}
	return src.FetchBars(ctx, req)
}

// GuardedSource 用熔断器包装远程数据源；无数据与调用方取消不计入失败。
type GuardedSource struct {
	source  market.Source
	breaker *circuit.CircuitBreaker
}

var _ market.Source = (*GuardedSource)(nil)

func NewGuardedSource(name string, src market.Source, failures int, cooldown time.Duration) *GuardedSource {
	return &GuardedSource{source: src, breaker: circuit.NewCircuitBreaker(name, failures, cooldown)}
}

func (g *GuardedSource) FetchBars(ctx context.Context, req market.Request) (market.Series, error) {
	var bars market.Series
	err := g.breaker.Do(func() error {
		var err error
		bars, err = g.source.FetchBars(ctx, req)
		return err
	}, countableFailure)
	if errors.Is(err, circuit.ErrOpen) {
		return nil, fmt.Errorf("%s %s: 数据源暂不可用: %w", req.Market, req.Symbol, err)
	}
	return bars, err
}

func countableFailure(err error) bool {
	return !errors.Is(err, ErrNoData) && !errors.Is(err, context.Canceled)
}

// LoadRequest 批量加载多个标的的参数。
type LoadRequest struct {
	Symbols   []string
	Market    string
	Timeframe market.Timeframe
	Start     time.Time
	End       time.Time
}

// LoadSeries 并发拉取各标的；无数据的标的被跳过并返回在 skipped 中，全部为空时返回 ErrNoUsableData。
func LoadSeries(ctx context.Context, src market.Source, req LoadRequest) (map[string]market.Series, []string, error) {
	if src == nil {
		return nil, nil, fmt.Errorf("source 不能为空")
	}
	var (
		mu      sync.Mutex
		data    = make(map[string]market.Series, len(req.Symbols))
		skipped []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, sym := range req.Symbols {
		sym := sym
		g.Go(func() error {
			bars, err := src.FetchBars(gctx, market.Request{
				Symbol:    sym,
				Market:    req.Market,
				Timeframe: req.Timeframe,
				Start:     req.Start,
				End:       req.End,
			})
			if err != nil && !errors.Is(err, ErrNoData) {
				return fmt.Errorf("%s: %w", sym, err)
			}
			bars = bars.Normalize()
			mu.Lock()
			defer mu.Unlock()
			if len(bars) == 0 {
				logger.Warnf("[backtest] %s 无数据，跳过", sym)
				skipped = append(skipped, sym)
				return nil
			}
			data[sym] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	sort.Strings(skipped)
	if len(data) == 0 {
		return nil, skipped, ErrNoUsableData
	}
	return data, skipped, nil
}
