package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/niftyrun/internal/cache"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/domain/indicators"
	"github.com/sawpanic/niftyrun/internal/instruments"
)

func TestHeartbeatFeed(t *testing.T) {
	feed := NewHeartbeatFeed("", 10*time.Millisecond)
	defer feed.Close()
	ctx := context.Background()

	first, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, instruments.NIFTY50, first.Symbol)
	assert.Equal(t, HeartbeatLTP, first.LTP)

	second, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.False(t, second.Timestamp.Before(first.Timestamp))
	assert.Equal(t, 10*time.Millisecond, feed.Interval())

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = feed.Next(cctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, feed.Close())
	_, err = feed.Next(ctx)
	assert.ErrorIs(t, err, ErrFeedClosed)
}

func TestSliceFeed(t *testing.T) {
	feed := NewSliceFeed(time.Second, Tick{Symbol: "NIFTY50", LTP: 1}, Tick{Symbol: "NIFTY50", LTP: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	a, err := feed.Next(ctx)
	require.NoError(t, err)
	b, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, []float64{a.LTP, b.LTP})

	_, err = feed.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWSFeed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribed"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"NIFTY50","ltp":24580.5,"volume":1200,"ts":1758514500.5}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	feed, err := NewWSFeed("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"NIFTY50"}, time.Second)
	require.NoError(t, err)
	defer feed.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tick, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "NIFTY50", tick.Symbol)
	assert.Equal(t, 24580.5, tick.LTP)
	assert.Equal(t, 1200.0, tick.Volume)
	assert.Equal(t, int64(1758514500), tick.Timestamp.Unix())

	assert.JSONEq(t, `{"action":"subscribe","symbols":["NIFTY50"]}`, <-subscribed)
}

func TestNewWSFeed_InvalidURL(t *testing.T) {
	_, err := NewWSFeed("http://example.com", nil, time.Second)
	assert.Error(t, err)
}

func TestDecodeTick(t *testing.T) {
	_, ok := decodeTick([]byte(`{"symbol":"","ltp":1}`))
	assert.False(t, ok)
	_, ok = decodeTick([]byte(`not json`))
	assert.False(t, ok)
	tick, ok := decodeTick([]byte(`{"symbol":"BANKNIFTY","ltp":51234.5}`))
	assert.True(t, ok)
	assert.False(t, tick.Timestamp.IsZero())
}

func TestMockProvider(t *testing.T) {
	s := MockProvider{}.Snapshot(context.Background(), "NIFTY50")
	require.NotNil(t, s.PCR)
	assert.Equal(t, 1.05, *s.PCR)
	assert.Equal(t, 24600.0, *s.MaxPain)
	assert.Equal(t, "CE_unwind PE_build", s.Trend())
	assert.Nil(t, s.ATM)

	assert.True(t, NeutralProvider{}.Snapshot(context.Background(), "NIFTY50").IsNeutral())
}

func TestAuthHeaders(t *testing.T) {
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, AuthHeaders("Bearer abc"))
	assert.Equal(t, map[string]string{"Cookie": "session=xyz"}, AuthHeaders("cookie: session=xyz"))
	assert.Empty(t, AuthHeaders(""))
	assert.Equal(t, "NIFTY", APISymbol("NIFTY50"))
	assert.Equal(t, "BANKNIFTY", APISymbol("BANKNIFTY"))
}

func chainServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/v1/option-chain", r.URL.Path)
		assert.Equal(t, "NIFTY", r.URL.Query().Get("symbol"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func httpProvider(url string, c cache.Cache) *HTTPProvider {
	return NewHTTPProvider(HTTPConfig{BaseURL: url, Auth: "Bearer tok", Timeout: time.Second, CacheTTL: time.Minute, RPS: 1000}, c)
}

func TestHTTPProvider_Normalizes(t *testing.T) {
	var hits int32
	srv := chainServer(t, http.StatusOK,
		`{"pcr":0.92,"maxPain":24500,"oiTrend":"PE_unwind","atm":{"strike":24550,"CE":{"ltp":120.5,"iv":12.4,"delta":0.51},"PE":{"ltp":98,"iv":13.1,"delta":-0.49}}}`, &hits)

	s := httpProvider(srv.URL, nil).Snapshot(context.Background(), "NIFTY50")
	require.NotNil(t, s.PCR)
	assert.Equal(t, 0.92, *s.PCR)
	assert.Equal(t, 24500.0, *s.MaxPain)
	assert.Equal(t, "PE_unwind", s.Trend())
	require.NotNil(t, s.ATM)
	assert.Equal(t, 24550.0, s.ATM.Strike)
	assert.Equal(t, -0.49, *s.ATM.PE.Delta)

	g := domain.GreeksFromATM(s.ATM, domain.OptionCE)
	assert.Equal(t, 0.51, *g.Delta)
}

func TestHTTPProvider_SnakeCaseAndRepair(t *testing.T) {
	var hits int32
	srv := chainServer(t, http.StatusOK, `{"pcr": 1.2, "max_pain": 24700, "oi_trend": "CE_unwind",}`, &hits)

	s := httpProvider(srv.URL, nil).Snapshot(context.Background(), "NIFTY50")
	require.NotNil(t, s.MaxPain)
	assert.Equal(t, 24700.0, *s.MaxPain)
	assert.Equal(t, "CE_unwind", s.Trend())
}

func TestHTTPProvider_FailsOpenToNeutral(t *testing.T) {
	var hits int32
	srv := chainServer(t, http.StatusInternalServerError, `{"error":"down"}`, &hits)
	p := httpProvider(srv.URL, nil)

	for i := 0; i < 5; i++ {
		s := p.Snapshot(context.Background(), "NIFTY50")
		assert.True(t, s.IsNeutral())
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "breaker opens after three consecutive failures")
	assert.Equal(t, "open", p.BreakerState())
}

func TestHTTPProvider_Unreachable(t *testing.T) {
	p := NewHTTPProvider(HTTPConfig{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond, RPS: 1000}, nil)
	assert.True(t, p.Snapshot(context.Background(), "NIFTY50").IsNeutral())
}

func TestHTTPProvider_Caches(t *testing.T) {
	var hits int32
	srv := chainServer(t, http.StatusOK, `{"pcr":1.1}`, &hits)
	p := httpProvider(srv.URL, cache.New())

	for i := 0; i < 3; i++ {
		s := p.Snapshot(context.Background(), "NIFTY50")
		require.NotNil(t, s.PCR)
		assert.Equal(t, 1.1, *s.PCR)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestHTTPProvider_DoesNotCacheFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"pcr":0.8}`))
	}))
	t.Cleanup(srv.Close)
	store := cache.New()
	p := httpProvider(srv.URL, store)

	assert.True(t, p.Snapshot(context.Background(), "NIFTY50").IsNeutral())
	assert.Equal(t, 0, store.Len())

	s := p.Snapshot(context.Background(), "NIFTY50")
	require.NotNil(t, s.PCR)
	assert.Equal(t, 0.8, *s.PCR)
	assert.Equal(t, 1, store.Len())
}

func TestNewOptionChainProvider(t *testing.T) {
	p, err := NewOptionChainProvider("mock", HTTPConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, MockProvider{}, p)

	p, err = NewOptionChainProvider("sensibull", HTTPConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPProvider{}, p)

	_, err = NewOptionChainProvider("nse", HTTPConfig{}, nil)
	assert.Error(t, err)
}

func TestSnapshotBuilder_Demo(t *testing.T) {
	b, err := NewSnapshotBuilder(LevelsDemo, MockProvider{}, nil)
	require.NoError(t, err)

	ts := time.Date(2025, 9, 22, 10, 15, 0, 0, instruments.IST)
	snap, err := b.Build(context.Background(), Tick{Symbol: "NIFTY50", LTP: 24572.3, Timestamp: ts})
	require.NoError(t, err)

	assert.InDelta(t, 24622.3, snap.DayHigh, 1e-9)
	assert.InDelta(t, 24522.3, snap.DayLow, 1e-9)
	assert.InDelta(t, 24547.3, snap.PrevClose, 1e-9)
	require.NotNil(t, snap.VWAP)
	assert.InDelta(t, 24562.3, *snap.VWAP, 1e-9)
	assert.Equal(t, "CE_unwind PE_build", snap.OptionChain.Trend())
	assert.Nil(t, snap.Breadth.Advances)
	assert.True(t, snap.Timestamp.Equal(ts))
}

func TestSnapshotBuilder_Rejects(t *testing.T) {
	b, err := NewSnapshotBuilder("", nil, nil)
	require.NoError(t, err)

	_, err = b.Build(context.Background(), Tick{Symbol: "FINNIFTY", LTP: 1})
	assert.ErrorIs(t, err, instruments.ErrUnknownSymbol)

	_, err = b.Build(context.Background(), Tick{Symbol: "NIFTY50", LTP: 0})
	assert.Error(t, err)

	_, err = NewSnapshotBuilder("live", nil, nil)
	assert.Error(t, err)
}

func TestSnapshotBuilder_Session(t *testing.T) {
	b, err := NewSnapshotBuilder(LevelsSession, nil, nil)
	require.NoError(t, err)
	b.SetPriorSession("NIFTY50", 24700, 24400, 24500)
	ctx := context.Background()

	day1 := time.Date(2025, 9, 22, 9, 30, 0, 0, instruments.IST)
	ticks := []Tick{
		{Symbol: "NIFTY50", LTP: 24550, Volume: 10, Timestamp: day1},
		{Symbol: "NIFTY50", LTP: 24600, Volume: 30, Timestamp: day1.Add(20 * time.Second)},
		{Symbol: "NIFTY50", LTP: 24520, Volume: 20, Timestamp: day1.Add(70 * time.Second)},
	}
	var snap domain.MarketSnapshot
	for _, tk := range ticks {
		snap, err = b.Build(ctx, tk)
		require.NoError(t, err)
	}

	// seeded prior session, not the running extremes
	assert.Equal(t, 24700.0, snap.DayHigh)
	assert.Equal(t, 24400.0, snap.DayLow)
	assert.Equal(t, 24500.0, snap.PrevClose)
	assert.Nil(t, snap.VWAP)
	require.Len(t, snap.Bars, 2)
	assert.Equal(t, 24550.0, snap.Bars[0].Open)
	assert.Equal(t, 24600.0, snap.Bars[0].High)
	assert.Equal(t, 40.0, snap.Bars[0].Volume)
	assert.Equal(t, 24520.0, snap.Bars[1].Close)

	next := time.Date(2025, 9, 23, 9, 15, 0, 0, instruments.IST)
	snap, err = b.Build(ctx, Tick{Symbol: "NIFTY50", LTP: 24530, Timestamp: next})
	require.NoError(t, err)
	assert.Equal(t, 24600.0, snap.DayHigh)
	assert.Equal(t, 24520.0, snap.DayLow)
	assert.Equal(t, 24520.0, snap.PrevClose)
	assert.Len(t, snap.Bars, 1)
}

func TestSnapshotBuilder_SessionUsesPriorDayLevels(t *testing.T) {
	b, err := NewSnapshotBuilder(LevelsSession, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	day1 := time.Date(2025, 9, 22, 9, 30, 0, 0, instruments.IST)
	var snap domain.MarketSnapshot
	for i, ltp := range []float64{24000, 24400, 23800, 24100} {
		snap, err = b.Build(ctx, Tick{Symbol: "NIFTY50", LTP: ltp, Timestamp: day1.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	// no completed session yet, the running day stands in
	assert.Equal(t, 24400.0, snap.DayHigh)
	assert.Equal(t, 23800.0, snap.DayLow)
	assert.Equal(t, 24100.0, snap.PrevClose)

	day2 := time.Date(2025, 9, 23, 9, 15, 0, 0, instruments.IST)
	for _, ltp := range []float64{24200, 24900, 24150} {
		snap, err = b.Build(ctx, Tick{Symbol: "NIFTY50", LTP: ltp, Timestamp: day2})
		require.NoError(t, err)
		assert.Equal(t, 24400.0, snap.DayHigh)
		assert.Equal(t, 23800.0, snap.DayLow)
		assert.Equal(t, 24100.0, snap.PrevClose)
	}

	cpr := indicators.CalculateCPR(snap.DayHigh, snap.DayLow, snap.PrevClose)
	assert.InDelta(t, (24400.0+23800.0+24100.0)/3, cpr.Pivot, 1e-9)
}
