package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/niftyrun/internal/config"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/execution"
	"github.com/sawpanic/niftyrun/internal/instruments"
	"github.com/sawpanic/niftyrun/internal/marketdata"
	"github.com/sawpanic/niftyrun/internal/stream"
)

func TestApp_DecisionReachesPaperExecutor(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.Capital = 2000000
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{})
	require.NoError(t, err)
	defer a.Close()

	go func() { _ = a.publisher.Run(ctx) }()

	executor := execution.NewPaperExecutor(execution.PaperOptions{Events: a.events, Bus: a.bus, Positions: a.publisher})
	require.NoError(t, executor.Subscribe(a.bus))

	ts := time.Date(2025, 9, 22, 10, 15, 0, 0, instruments.IST)
	snap, err := a.snapshots.Build(ctx, marketdata.Tick{Symbol: "NIFTY50", LTP: marketdata.HeartbeatLTP, Timestamp: ts})
	require.NoError(t, err)

	res, err := a.pipeline.Process(ctx, snap)
	require.NoError(t, err)
	require.NotNil(t, res.Outcome.Decision)
	assert.Equal(t, domain.ActionBuyCE, res.Outcome.Decision.Action)

	require.Len(t, executor.Orders(), 1)
	assert.Equal(t, 1, a.store.Current().OpenPositions)
	assert.Len(t, a.bus.Messages(stream.TopicDecisions), 1)
	assert.Len(t, a.bus.Messages(stream.TopicBrokerEvents), 1)
}

func TestApp_BacktestPolicy(t *testing.T) {
	cfg := config.Default()
	a, err := newApp(context.Background(), cfg, appOptions{backtest: true})
	require.NoError(t, err)
	defer a.Close()

	ts := time.Date(2025, 9, 22, 10, 15, 0, 0, instruments.IST)
	snap, err := a.snapshots.Build(context.Background(), marketdata.Tick{Symbol: "NIFTY50", LTP: marketdata.HeartbeatLTP, Timestamp: ts})
	require.NoError(t, err)

	res, err := a.pipeline.Process(context.Background(), snap)
	require.NoError(t, err)
	require.NotNil(t, res.Outcome.NoTrade)
	assert.Equal(t, domain.ReasonUnderMinSize, res.Outcome.NoTrade.Reason)
	assert.True(t, res.Outcome.NoTrade.Backtest)
}

func TestApp_Feed(t *testing.T) {
	cfg := config.Default()
	a, err := newApp(context.Background(), cfg, appOptions{})
	require.NoError(t, err)
	defer a.Close()

	feed, err := a.feed()
	require.NoError(t, err)
	defer feed.Close()
	assert.Equal(t, time.Second, feed.Interval())

	a.cfg.Feed = config.FeedConfig{Mode: config.FeedWebSocket, WSURL: "http://example.com", Interval: time.Second}
	_, err = a.feed()
	assert.Error(t, err)
}
