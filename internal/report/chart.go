package report

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"

	"quantbt/internal/analytics"
	"quantbt/internal/engine"
	"quantbt/internal/market"
)

// EquityInput 资金曲线报告的输入。
type EquityInput struct {
	Title    string
	Subtitle string
	Curve    []engine.EquityPoint
}

// PriceInput 单标的 K 线报告的输入，Trades 中属于该标的的开平仓会标注在图上。
type PriceInput struct {
	Symbol string
	Bars   market.Series
	Trades []analytics.RoundTrip
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"
	colorCash          = "#fbbf24"
	colorVolume        = "#a78bfa"
	colorDIF           = "#22d3ee"
	colorDEA           = "#fb7185"

	chartWidthPx    = 1280
	equityHeightPx  = 480
	drawdownHeight  = 220
	klineHeightPx   = 520
	volumeHeightPx  = 200
	macdHeightPx    = 220
	macdSlowPeriod  = 26
	macdFastPeriod  = 12
	macdSignalRange = 9
)

// RenderEquity 输出包含资金曲线与回撤的 HTML 页面。
func RenderEquity(in EquityInput) ([]byte, error) {
	if len(in.Curve) == 0 {
		return nil, fmt.Errorf("equity curve is empty")
	}
	xAxis := make([]string, len(in.Curve))
	equity := make([]opts.LineData, len(in.Curve))
	cash := make([]opts.LineData, len(in.Curve))
	values := make([]float64, len(in.Curve))
	for i, p := range in.Curve {
		xAxis[i] = axisLabel(p.Timestamp)
		equity[i] = opts.LineData{Value: round(p.Equity, 2)}
		cash[i] = opts.LineData{Value: round(p.Cash, 2)}
		values[i] = p.Equity
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Equity"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(title, equityHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      in.Subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.SetXAxis(xAxis)
	line.AddSeries("权益", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.AddSeries("现金", cash, charts.WithLineStyleOpts(opts.LineStyle{Color: colorCash, Width: 1}))

	dd := charts.NewBar()
	dd.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(title, drawdownHeight)),
		charts.WithTitleOpts(opts.Title{Title: "回撤", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary}}),
	)
	dd.SetXAxis(xAxis)
	dd.AddSeries("Drawdown", drawdownBars(values))

	return renderPage(line, dd)
}

// RenderPrice 输出单标的 K 线、成交量与 MACD 页面，并标注买卖点。
func RenderPrice(in PriceInput) ([]byte, error) {
	if in.Symbol == "" {
		return nil, fmt.Errorf("symbol required for price chart")
	}
	if len(in.Bars) == 0 {
		return nil, fmt.Errorf("no bars for %s", in.Symbol)
	}
	symbol := strings.ToUpper(in.Symbol)
	bars := in.Bars
	xAxis := make([]string, len(bars))
	for i, b := range bars {
		xAxis[i] = axisLabel(b.Time)
	}

	minPrice, maxPrice := priceBounds(bars)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(symbol, klineHeightPx)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:      symbol,
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	klineData := make([]opts.KlineData, len(bars))
	for i, b := range bars {
		klineData[i] = opts.KlineData{Value: [4]float64{b.Open, b.Close, b.Low, b.High}}
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries(symbol, klineData)

	buys, sells := tradeMarkers(symbol, bars, in.Trades)
	marks := charts.NewScatter()
	marks.SetXAxis(xAxis)
	marks.AddSeries("买入", buys, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBull}))
	marks.AddSeries("卖出", sells, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBear}))
	kline.Overlap(marks)

	return renderPage(kline, volumeChart(symbol, xAxis, bars), macdChart(symbol, xAxis, bars))
}

func volumeChart(symbol string, xAxis []string, bars market.Series) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(symbol, volumeHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "Volume", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary}}),
	)
	vols := make([]opts.BarData, len(bars))
	for i, b := range bars {
		color := colorBear
		if b.Close >= b.Open {
			color = colorBull
		}
		vols[i] = opts.BarData{Value: b.Volume, ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.6)}}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorVolume}))
	return bar
}

func macdChart(symbol string, xAxis []string, bars market.Series) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(symbol, macdHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "MACD", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary}}),
	)
	dif, dea, hist := macdSeries(bars)
	histData := make([]opts.BarData, len(bars))
	for i := range histData {
		if i >= len(hist) || math.IsNaN(hist[i]) {
			histData[i] = opts.BarData{Value: nil}
			continue
		}
		color := colorBear
		if hist[i] >= 0 {
			color = colorBull
		}
		histData[i] = opts.BarData{Value: round(hist[i], 4), ItemStyle: &opts.ItemStyle{Color: color}}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("MACD Hist", histData)

	line := charts.NewLine()
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.SetXAxis(xAxis)
	line.AddSeries("DIF", toLineData(dif, len(bars)), charts.WithLineStyleOpts(opts.LineStyle{Color: colorDIF, Width: 2}))
	line.AddSeries("DEA", toLineData(dea, len(bars)), charts.WithLineStyleOpts(opts.LineStyle{Color: colorDEA, Width: 2}))
	bar.Overlap(line)
	return bar
}

// macdSeries 数据不足慢线周期时返回空序列，图表只显示 K 线。
func macdSeries(bars market.Series) (dif, dea, hist []float64) {
	if len(bars) < macdSlowPeriod+macdSignalRange {
		return nil, nil, nil
	}
	dif, dea, hist = talib.Macd(bars.Closes(), macdFastPeriod, macdSlowPeriod, macdSignalRange)
	// talib 预热段输出 0，统一置为 NaN 以免画出假值。
	warm := macdSlowPeriod + macdSignalRange - 2
	for i := 0; i < warm && i < len(dif); i++ {
		dif[i], dea[i], hist[i] = math.NaN(), math.NaN(), math.NaN()
	}
	return dif, dea, hist
}

func tradeMarkers(symbol string, bars market.Series, trips []analytics.RoundTrip) (buys, sells []opts.ScatterData) {
	index := make(map[int64]int, len(bars))
	for i, b := range bars {
		index[b.Time.Unix()] = i
	}
	buys = make([]opts.ScatterData, len(bars))
	sells = make([]opts.ScatterData, len(bars))
	for i := range bars {
		buys[i] = opts.ScatterData{Value: nil}
		sells[i] = opts.ScatterData{Value: nil}
	}
	for _, t := range trips {
		if !strings.EqualFold(t.Symbol, symbol) {
			continue
		}
		if i, ok := index[t.EntryTime.Unix()]; ok {
			buys[i] = opts.ScatterData{Value: round(t.EntryPrice, 4), Symbol: "triangle", SymbolSize: 12}
		}
		if t.ExitTime != nil {
			if i, ok := index[t.ExitTime.Unix()]; ok {
				sells[i] = opts.ScatterData{Value: round(t.ExitPrice, 4), Symbol: "pin", SymbolSize: 14}
			}
		}
	}
	return buys, sells
}

func drawdownBars(equity []float64) []opts.BarData {
	out := make([]opts.BarData, len(equity))
	peak := 0.0
	for i, v := range equity {
		if v > peak {
			peak = v
		}
		dd := 0.0
		if peak > 0 {
			dd = (v - peak) / peak
		}
		out[i] = opts.BarData{Value: round(dd*100, 2), ItemStyle: &opts.ItemStyle{Color: colorBear, Opacity: opts.Float(0.7)}}
	}
	return out
}

func renderPage(chartsToRender ...components.Charter) ([]byte, error) {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(chartsToRender...)
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func initOpts(title string, height int) opts.Initialization {
	return opts.Initialization{
		PageTitle:       title,
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func axisLabel(ts time.Time) string {
	ts = ts.UTC()
	if ts.Hour() == 0 && ts.Minute() == 0 {
		return ts.Format("2006-01-02")
	}
	return ts.Format("01-02 15:04")
}

func toLineData(series []float64, length int) []opts.LineData {
	line := make([]opts.LineData, length)
	offset := length - len(series)
	if offset < 0 {
		offset = 0
	}
	for i := 0; i < offset; i++ {
		line[i] = opts.LineData{Value: nil}
	}
	for i := 0; i < len(series) && offset+i < length; i++ {
		val := series[i]
		if math.IsNaN(val) {
			line[offset+i] = opts.LineData{Value: nil}
		} else {
			line[offset+i] = opts.LineData{Value: round(val, 4)}
		}
	}
	return line
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(bars market.Series) (minVal, maxVal float64) {
	if len(bars) == 0 {
		return 0, 0
	}
	minVal = bars[0].Low
	maxVal = bars[0].High
	for _, b := range bars {
		if b.Low < minVal {
			minVal = b.Low
		}
		if b.High > maxVal {
			maxVal = b.High
		}
	}
	return minVal, maxVal
}
