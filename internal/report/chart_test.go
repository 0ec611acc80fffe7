package report

import (
	"testing"
	"time"

	"quantbt/internal/analytics"
	"quantbt/internal/engine"
	"quantbt/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bars(n int) market.Series {
	out := make(market.Series, n)
	for i := range out {
		c := 100 + float64(i%7) - float64(i%3)
		out[i] = market.Bar{Time: day0.AddDate(0, 0, i), Open: c - 1, High: c + 2, Low: c - 2, Close: c, Volume: 1000 + float64(i)}
	}
	return out
}

func TestRenderEquity(t *testing.T) {
	curve := []engine.EquityPoint{
		{Timestamp: day0, Equity: 1000, Cash: 1000},
		{Timestamp: day0.AddDate(0, 0, 1), Equity: 1100, Cash: 400},
		{Timestamp: day0.AddDate(0, 0, 2), Equity: 990, Cash: 400},
	}
	html, err := RenderEquity(EquityInput{Title: "rsi KR", Subtitle: "总收益 -1%", Curve: curve})
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "echarts")
	assert.Contains(t, page, "rsi KR")
	assert.Contains(t, page, "2024-01-03")
	assert.Contains(t, page, "-10")

	_, err = RenderEquity(EquityInput{})
	assert.Error(t, err)
}

func TestRenderPrice(t *testing.T) {
	series := bars(60)
	exit := series[40].Time
	pnl := 12.5
	trips := []analytics.RoundTrip{
		{Symbol: "aaa", EntryTime: series[10].Time, EntryPrice: 101.25, ExitTime: &exit, ExitPrice: 105.75, PnL: &pnl},
		{Symbol: "BBB", EntryTime: series[5].Time, EntryPrice: 77.5},
	}
	html, err := RenderPrice(PriceInput{Symbol: "aaa", Bars: series, Trades: trips})
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "AAA")
	assert.Contains(t, page, "MACD")
	assert.Contains(t, page, "101.25")
	assert.Contains(t, page, "105.75")
	assert.NotContains(t, page, "77.5")

	_, err = RenderPrice(PriceInput{Symbol: "AAA"})
	assert.Error(t, err)
	_, err = RenderPrice(PriceInput{Bars: series})
	assert.Error(t, err)
}

func TestMACDSeriesShortHistory(t *testing.T) {
	dif, dea, hist := macdSeries(bars(20))
	assert.Nil(t, dif)
	assert.Nil(t, dea)
	assert.Nil(t, hist)

	dif, _, _ = macdSeries(bars(60))
	require.Len(t, dif, 60)
	assert.True(t, dif[0] != dif[0], "预热段应为 NaN")
	assert.False(t, dif[59] != dif[59])
}

func TestDrawdownBars(t *testing.T) {
	got := drawdownBars([]float64{100, 120, 90, 130})
	require.Len(t, got, 4)
	assert.Equal(t, 0.0, got[1].Value)
	assert.Equal(t, -25.0, got[2].Value)
	assert.Equal(t, 0.0, got[3].Value)
}
