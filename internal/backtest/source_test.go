package backtest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"quantbt/internal/market"
	"quantbt/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	raw := strings.Join([]string{
		"Date,Close,Open,High,Low,Volume",
		"2024-01-03,12,11,13,10,300",
		"2024-01-02,11,10,12,9,200",
		"2024-01-02,11.5,10,12,9,250",
	}, "\n")
	bars, err := ReadCSV(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars.Sorted())
	assert.Equal(t, 11.5, bars[0].Close, "同一时刻保留最后一条")
	assert.Equal(t, 10.0, bars[0].Open)
	assert.Equal(t, 300.0, bars[1].Volume)
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("timestamp,open,high,low,close\n"))
	assert.ErrorContains(t, err, "volume")

	_, err = ReadCSV(strings.NewReader("timestamp,open,high,low,close,volume\nnot-a-date,1,1,1,1,1\n"))
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("timestamp,open,high,low,close,volume\n2024-01-01,x,1,1,1,1\n"))
	assert.ErrorContains(t, err, "open")
}

func TestWriteCSVRoundTrip(t *testing.T) {
	src := dailyBars(10, 10.5, 11.25)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, src))
	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, src.Closes(), got.Closes())
	assert.True(t, got[2].Time.Equal(src[2].Time))
}

func TestCSVSourcePrefersMarketDir(t *testing.T) {
	dir := t.TempDir()
	write := func(path string, bars market.Series) {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		f, err := os.Create(path)
		require.NoError(t, err)
		defer f.Close()
		require.NoError(t, WriteCSV(f, bars))
	}
	write(filepath.Join(dir, "AAA_1d.csv"), dailyBars(1, 2, 3))
	write(filepath.Join(dir, "KR", "AAA_1d.csv"), dailyBars(7, 8, 9))

	src, err := NewCSVSource(dir)
	require.NoError(t, err)
	ctx := context.Background()

	bars, err := src.FetchBars(ctx, market.Request{Symbol: "aaa", Market: "KR", Timeframe: market.Daily})
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 8, 9}, bars.Closes())

	bars, err = src.FetchBars(ctx, market.Request{
		Symbol: "AAA", Market: "US", Timeframe: market.Daily,
		Start: day0.AddDate(0, 0, 1), End: day0.AddDate(0, 0, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, bars.Closes())

	_, err = src.FetchBars(ctx, market.Request{Symbol: "BBB", Market: "KR", Timeframe: market.Daily})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestCachedSourceHitAndExpiry(t *testing.T) {
	var calls atomic.Int32
	upstream := market.SourceFunc(func(ctx context.Context, req market.Request) (market.Series, error) {
		calls.Add(1)
		return dailyBars(1, 2, 3), nil
	})
	now := day0.AddDate(0, 2, 0)
	cached, err := NewCachedSource(CacheConfig{
		Source:      upstream,
		Store:       newBarStore(t),
		DailyTTL:    24 * time.Hour,
		IntradayTTL: time.Hour,
		Now:         func() time.Time { return now },
	})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cached.TTL(market.Daily))
	assert.Equal(t, time.Hour, cached.TTL(market.Hourly))

	ctx := context.Background()
	req := market.Request{Symbol: "AAA", Market: "KR", Timeframe: market.Daily}
	first, err := cached.FetchBars(ctx, req)
	require.NoError(t, err)
	second, err := cached.FetchBars(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.Closes(), second.Closes())

	now = now.Add(25 * time.Hour)
	_, err = cached.FetchBars(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "过期后应重新拉取")
}

func TestCachedSourcePropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	cached, err := NewCachedSource(CacheConfig{
		Source: market.SourceFunc(func(ctx context.Context, req market.Request) (market.Series, error) {
			return nil, boom
		}),
		Store: newBarStore(t),
	})
	require.NoError(t, err)
	_, err = cached.FetchBars(context.Background(), market.Request{Symbol: "AAA", Market: "KR", Timeframe: market.Daily})
	assert.ErrorIs(t, err, boom)

	_, err = NewCachedSource(CacheConfig{Store: newBarStore(t)})
	assert.Error(t, err)
}

func TestRouter(t *testing.T) {
	tagged := func(v float64) market.Source {
		return market.SourceFunc(func(ctx context.Context, req market.Request) (market.Series, error) {
			return dailyBars(v), nil
		})
	}
	r := NewRouter(tagged(1))
	r.Register("crypto", tagged(2))
	ctx := context.Background()

	bars, err := r.FetchBars(ctx, market.Request{Symbol: "BTCUSDT", Market: "CRYPTO"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, bars[0].Close)
	bars, err = r.FetchBars(ctx, market.Request{Symbol: "AAPL", Market: "US"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, bars[0].Close)

	_, err = NewRouter(nil).FetchBars(ctx, market.Request{Market: "US"})
	assert.Error(t, err)
}

func TestGuardedSource(t *testing.T) {
	var calls int32
	var fail atomic.Bool
	fail.Store(true)
	src := market.SourceFunc(func(ctx context.Context, req market.Request) (market.Series, error) {
		atomic.AddInt32(&calls, 1)
		if req.Symbol == "NONE" {
			return nil, ErrNoData
		}
		if fail.Load() {
			return nil, errors.New("502 bad gateway")
		}
		return market.Series{{Time: time.Unix(0, 0).UTC(), Close: 1}}, nil
	})
	g := NewGuardedSource("test", src, 2, time.Hour)
	ctx := context.Background()
	req := market.Request{Symbol: "BTCUSDT", Market: "CRYPTO", Timeframe: market.Daily}

	for i := 0; i < 3; i++ {
		_, err := g.FetchBars(ctx, market.Request{Symbol: "NONE", Market: "CRYPTO", Timeframe: market.Daily})
		assert.ErrorIs(t, err, ErrNoData)
	}
	_, err := g.FetchBars(ctx, req)
	assert.Error(t, err)
	_, err = g.FetchBars(ctx, req)
	assert.Error(t, err)
	assert.EqualValues(t, 5, atomic.LoadInt32(&calls))

	fail.Store(false)
	_, err = g.FetchBars(ctx, req)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.EqualValues(t, 5, atomic.LoadInt32(&calls), "熔断期间不应调用数据源")
}

func TestLoadSeries(t *testing.T) {
	src := market.SourceFunc(func(ctx context.Context, req market.Request) (market.Series, error) {
		switch req.Symbol {
		case "AAA":
			return dailyBars(3, 1, 2), nil
		case "BBB":
			return nil, nil
		default:
			return nil, ErrNoData
		}
	})
	ctx := context.Background()
	data, skipped, err := LoadSeries(ctx, src, LoadRequest{Symbols: []string{"CCC", "AAA", "BBB"}, Market: "KR", Timeframe: market.Daily})
	require.NoError(t, err)
	assert.Len(t, data, 1)
	assert.Equal(t, []float64{3, 1, 2}, data["AAA"].Closes())
	assert.Equal(t, []string{"BBB", "CCC"}, skipped)

	_, _, err = LoadSeries(ctx, src, LoadRequest{Symbols: []string{"BBB"}, Market: "KR", Timeframe: market.Daily})
	assert.ErrorIs(t, err, ErrNoUsableData)

	failing := market.SourceFunc(func(ctx context.Context, req market.Request) (market.Series, error) {
		return nil, errors.New("network down")
	})
	_, _, err = LoadSeries(ctx, failing, LoadRequest{Symbols: []string{"AAA"}, Market: "KR", Timeframe: market.Daily})
	assert.ErrorContains(t, err, "network down")
}
