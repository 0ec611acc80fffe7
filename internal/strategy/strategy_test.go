package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbt/internal/engine"
	"quantbt/internal/market"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func flatBook() engine.PortfolioView {
	return engine.NewPortfolio(100000).View()
}

func holding(symbol string) engine.PortfolioView {
	p := engine.NewPortfolio(100000)
	p.ExecuteBuy(symbol, 1, 1, 0)
	return p.View()
}

// feed 依次推送收盘价，返回最后一根 K 线产生的订单。
func feed(t *testing.T, s engine.Strategy, closes []float64, volumes []float64, pf engine.PortfolioView) [][]engine.PendingOrder {
	t.Helper()
	out := make([][]engine.PendingOrder, 0, len(closes))
	for i, c := range closes {
		vol := 1000.0
		if volumes != nil {
			vol = volumes[i]
		}
		bar := market.Bar{Time: t0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: vol}
		out = append(out, s.OnBar(map[string]market.Bar{"AAA": bar}, pf))
	}
	return out
}

func mustNew(t *testing.T, name string, params map[string]any) engine.Strategy {
	t.Helper()
	s, err := New(name, params)
	require.NoError(t, err)
	return s
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"bollinger_bands", "macd_crossover", "mean_reversion", "momentum_breakout", "rsi"}, Names())
	assert.True(t, Has(" RSI "))

	_, err := New("turtle", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: bollinger_bands, macd_crossover")

	defaults, err := Defaults("rsi")
	require.NoError(t, err)
	assert.Equal(t, 14, defaults["rsi_period"])
	assert.Equal(t, 0.3, defaults["position_weight"])

	for _, name := range Names() {
		s := mustNew(t, name, nil)
		assert.Equal(t, name, s.Name())
	}
}

func TestNewDecodesParams(t *testing.T) {
	s := mustNew(t, "rsi", map[string]any{"rsi_period": 10.0, "oversold_threshold": "25"})
	r := s.(*rsiStrategy)
	assert.Equal(t, 10, r.p.Period)
	assert.Equal(t, 25.0, r.p.OversoldThreshold)
	assert.Equal(t, 70.0, r.p.OverboughtThreshold)

	_, err := New("rsi", map[string]any{"rsi_len": 10})
	assert.Error(t, err)

	_, err = New("macd_crossover", map[string]any{"fast_period": 30})
	assert.ErrorContains(t, err, "fast_period")

	_, err = New("mean_reversion", map[string]any{"position_weight": 1.5})
	assert.Error(t, err)

	_, err = New("rsi", map[string]any{"rsi_period": 14.5})
	assert.ErrorContains(t, err, "需要整数")
	_, err = New("rsi", map[string]any{"rsi_period": float32(14)})
	assert.NoError(t, err)
}

func TestMeanReversion(t *testing.T) {
	s := mustNew(t, "mean_reversion", map[string]any{"lookback_period": 5, "entry_threshold": 1.5, "exit_threshold": 0.5})
	orders := feed(t, s, []float64{10, 10, 10, 10, 5}, nil, flatBook())
	for _, o := range orders[:4] {
		assert.Empty(t, o)
	}
	require.Len(t, orders[4], 1)
	assert.Equal(t, engine.SideBuy, orders[4][0].Side)
	assert.Equal(t, 0.3, orders[4][0].Weight)

	next := feed(t, s, []float64{10}, nil, holding("AAA"))
	require.Len(t, next[0], 1)
	assert.Equal(t, engine.SideSell, next[0][0].Side)
}

func TestMeanStdAtHighPriceLevels(t *testing.T) {
	level := make([]float64, 20)
	alt := make([]float64, 20)
	for i := range level {
		level[i] = 1e7 + 0.1
		alt[i] = 9e7 + float64(i%2)
	}
	mean, std, ok := lastMeanStd(level, 20)
	require.True(t, ok)
	assert.Equal(t, 1e7+0.1, mean)
	assert.Equal(t, 0.0, std)

	mean, std, ok = lastMeanStd(alt, 20)
	require.True(t, ok)
	assert.InDelta(t, 9e7+0.5, mean, 1e-6)
	assert.InDelta(t, 0.5, std, 1e-9)

	// 窗口无波动时不产生信号
	s := mustNew(t, "mean_reversion", map[string]any{"lookback_period": 20})
	for _, o := range feed(t, s, level, nil, flatBook()) {
		assert.Empty(t, o)
	}
}

func TestRSI(t *testing.T) {
	s := mustNew(t, "rsi", map[string]any{"rsi_period": 3})
	orders := feed(t, s, []float64{10, 9, 8, 7}, nil, flatBook())
	assert.Empty(t, orders[2])
	require.Len(t, orders[3], 1)
	assert.Equal(t, engine.SideBuy, orders[3][0].Side)

	// RSI 依次约为 33.3、55.6、70.4
	rising := feed(t, s, []float64{8, 9, 10}, nil, holding("AAA"))
	assert.Empty(t, rising[0])
	assert.Empty(t, rising[1])
	require.Len(t, rising[2], 1)
	assert.Equal(t, engine.SideSell, rising[2][0].Side)
}

func TestRSIIgnoresFlatHistory(t *testing.T) {
	s := mustNew(t, "rsi", map[string]any{"rsi_period": 3})
	for _, o := range feed(t, s, []float64{5, 5, 5, 5, 5}, nil, flatBook()) {
		assert.Empty(t, o)
	}
}

func TestMACDCrossover(t *testing.T) {
	s := mustNew(t, "macd_crossover", map[string]any{"fast_period": 3, "slow_period": 6, "signal_period": 3})
	// 加速下跌后反转上涨
	var closes []float64
	var price float64
	for i := 0; i < 15; i++ {
		price = 100 - 0.2*float64(i*i)
		closes = append(closes, price)
	}
	turn := len(closes)
	for i := 0; i < 10; i++ {
		price += 2
		closes = append(closes, price)
	}
	orders := feed(t, s, closes, nil, flatBook())
	firstBuy := -1
	for i, o := range orders {
		if i < 8 {
			assert.Empty(t, o, "bar %d", i)
		}
		if len(o) > 0 && firstBuy < 0 {
			assert.Equal(t, engine.SideBuy, o[0].Side)
			firstBuy = i
		}
	}
	require.GreaterOrEqual(t, firstBuy, turn)
}

func TestBollingerBands(t *testing.T) {
	s := mustNew(t, "bollinger_bands", map[string]any{"bb_period": 5, "bb_std": 1.5})
	orders := feed(t, s, []float64{10, 11, 10, 11, 5}, nil, flatBook())
	require.Len(t, orders[4], 1)
	assert.Equal(t, engine.SideBuy, orders[4][0].Side)

	next := feed(t, s, []float64{20}, nil, holding("AAA"))
	require.Len(t, next[0], 1)
	assert.Equal(t, engine.SideSell, next[0][0].Side)
}

func TestMomentumBreakout(t *testing.T) {
	params := map[string]any{"ma_period": 3, "volume_ma_period": 3, "take_profit_pct": 0.1}
	s := mustNew(t, "momentum_breakout", params)
	orders := feed(t, s, []float64{10, 10, 12}, []float64{100, 100, 400}, flatBook())
	require.Len(t, orders[2], 1)
	assert.Equal(t, engine.SideBuy, orders[2][0].Side)

	next := feed(t, s, []float64{13.5}, []float64{100}, holding("AAA"))
	require.Len(t, next[0], 1)
	assert.Equal(t, engine.SideSell, next[0][0].Side)
	assert.Contains(t, next[0][0].Reason, "止盈")

	s = mustNew(t, "momentum_breakout", params)
	feed(t, s, []float64{10, 10, 12}, []float64{100, 100, 400}, flatBook())
	stop := feed(t, s, []float64{11}, []float64{100}, holding("AAA"))
	require.Len(t, stop[0], 1)
	assert.Contains(t, stop[0][0].Reason, "止损")
}

func TestStrategiesRunThroughEngine(t *testing.T) {
	var series market.Series
	price := 100.0
	for i := 0; i < 120; i++ {
		switch {
		case i%20 < 10:
			price -= 1.5
		default:
			price += 1.5
		}
		series = append(series, market.Bar{
			Time: t0.AddDate(0, 0, i), Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 1000 + float64(i%7)*300,
		})
	}
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			e, err := engine.New(engine.Config{
				Strategy:    mustNew(t, name, nil),
				Broker:      engine.NewBroker(market.MustLookup("US"), market.Daily),
				Data:        map[string]market.Series{"AAA": series},
				InitialCash: 100000,
			})
			require.NoError(t, err)
			res := e.Run()
			assert.Len(t, res.EquityCurve, len(series))
			for _, f := range res.Trades {
				assert.True(t, f.FillTime.After(f.SignalTime))
			}
		})
	}
}
