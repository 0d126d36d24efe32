package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/niftyrun/internal/audit"
	"github.com/sawpanic/niftyrun/internal/decision"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/domain/guards"
	"github.com/sawpanic/niftyrun/internal/domain/signals"
	"github.com/sawpanic/niftyrun/internal/domain/sizing"
	"github.com/sawpanic/niftyrun/internal/instruments"
	"github.com/sawpanic/niftyrun/internal/marketdata"
	"github.com/sawpanic/niftyrun/internal/pipeline"
	"github.com/sawpanic/niftyrun/internal/riskstate"
	"github.com/sawpanic/niftyrun/internal/stream"
)

// closingFeed replays ticks and then reports the feed closed
type closingFeed struct {
	ticks    []marketdata.Tick
	interval time.Duration
}

func (f *closingFeed) Next(ctx context.Context) (marketdata.Tick, error) {
	if err := ctx.Err(); err != nil {
		return marketdata.Tick{}, err
	}
	if len(f.ticks) == 0 {
		return marketdata.Tick{}, marketdata.ErrFeedClosed
	}
	t := f.ticks[0]
	f.ticks = f.ticks[1:]
	return t, nil
}

func (f *closingFeed) Interval() time.Duration { return f.interval }
func (f *closingFeed) Close() error { return nil }

type runnerFixture struct {
	runner *pipeline.Runner
	sink   *captureSink
	bus    *stream.MemoryBus
}

func newRunnerFixture(t *testing.T, capital int64, state domain.RiskState) *runnerFixture {
	t.Helper()
	f := &runnerFixture{sink: &captureSink{}, bus: stream.NewMemoryBus(64, nil)}
	require.NoError(t, f.bus.Start(context.Background()))

	chain, err := guards.NewChain(guards.DefaultGuardConfig())
	require.NoError(t, err)
	registry, err := signals.NewRegistryFromConfig(signals.DefaultConfig())
	require.NoError(t, err)
	assembler, err := decision.NewAssembler(decision.DefaultPolicy())
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.Options{
		Guards:    chain,
		Registry:  registry,
		Assembler: assembler,
		Emitter:   audit.NewEmitter(f.sink),
		Risk:      riskstate.NewStore(state),
		Sizing: pipeline.Sizing{
			Capital:         decimal.NewFromInt(capital),
			PerTradeRiskPct: decimal.NewFromFloat(0.01),
			PointValue:      decimal.NewFromInt(1),
			Stop:            sizing.DefaultStopRule(),
		},
		Handler: pipeline.PublishDecisions(f.bus),
	})
	require.NoError(t, err)

	builder, err := marketdata.NewSnapshotBuilder(marketdata.LevelsDemo, marketdata.MockProvider{}, nil)
	require.NoError(t, err)
	f.runner = pipeline.NewRunner(p, builder, pipeline.RunnerOptions{Bus: f.bus})
	return f
}

func tickAt(ts time.Time) marketdata.Tick {
	return marketdata.Tick{Symbol: instruments.NIFTY50, LTP: marketdata.HeartbeatLTP, Timestamp: ts}
}

func agentTypes(t *testing.T, bus *stream.MemoryBus) []domain.AgentEventType {
	t.Helper()
	var out []domain.AgentEventType
	for _, m := range bus.Messages(stream.TopicAgentEvents) {
		env, err := stream.Decode(m.Payload)
		require.NoError(t, err)
		var ev domain.AgentEvent
		require.NoError(t, env.Into(&ev))
		out = append(out, ev.Type)
	}
	return out
}

func TestRunner_ProcessesUntilFeedCloses(t *testing.T) {
	f := newRunnerFixture(t, 17000, domain.RiskState{})
	feed := &closingFeed{interval: time.Second, ticks: []marketdata.Tick{
		tickAt(cycleTime),
		tickAt(cycleTime.Add(time.Second)),
	}}

	require.NoError(t, f.runner.Run(context.Background(), feed))

	assert.Len(t, f.sink.all(), 2)
	stats := f.runner.Stats()
	assert.Equal(t, int64(2), stats.Cycles)
	assert.Equal(t, int64(2), stats.NoTrades)
	assert.Equal(t, "under_min_size", stats.LastReason)
	assert.False(t, stats.Halted)
	assert.Empty(t, agentTypes(t, f.bus))
}

func TestRunner_PublishesDecisions(t *testing.T) {
	f := newRunnerFixture(t, 2000000, domain.RiskState{})
	feed := &closingFeed{interval: time.Second, ticks: []marketdata.Tick{tickAt(cycleTime)}}

	require.NoError(t, f.runner.Run(context.Background(), feed))

	msgs := f.bus.Messages(stream.TopicDecisions)
	require.Len(t, msgs, 1)
	assert.Equal(t, instruments.NIFTY50, msgs[0].Key)

	env, err := stream.Decode(msgs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, audit.KindTradeDecision, env.Kind)

	var td domain.TradeDecision
	require.NoError(t, env.Into(&td))
	require.NoError(t, td.Validate())
	assert.Equal(t, domain.ActionBuyCE, td.Action)
	assert.Equal(t, 1, td.Lots)
	assert.Equal(t, int64(1), f.runner.Stats().Trades)
}

func TestRunner_CancelledStopsWithoutAudit(t *testing.T) {
	f := newRunnerFixture(t, 17000, domain.RiskState{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	feed := marketdata.NewSliceFeed(time.Second, tickAt(cycleTime))
	require.NoError(t, f.runner.Run(ctx, feed))
	assert.Empty(t, f.sink.all())
}

func TestRunner_CancelWhileWaiting(t *testing.T) {
	f := newRunnerFixture(t, 17000, domain.RiskState{})
	ctx, cancel := context.WithCancel(context.Background())

	feed := marketdata.NewSliceFeed(time.Second, tickAt(cycleTime))
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx, feed) }()

	require.Eventually(t, func() bool { return f.runner.Stats().Cycles == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
	assert.Len(t, f.sink.all(), 1)
}

func TestRunner_FaultHalts(t *testing.T) {
	f := newRunnerFixture(t, 17000, domain.RiskState{})
	bad := tickAt(cycleTime.Add(time.Second))
	bad.Symbol = "SENSEX"
	feed := &closingFeed{interval: time.Second, ticks: []marketdata.Tick{
		tickAt(cycleTime),
		bad,
		tickAt(cycleTime.Add(2 * time.Second)),
	}}

	err := f.runner.Run(context.Background(), feed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, instruments.ErrUnknownSymbol))

	assert.Len(t, f.sink.all(), 1)
	assert.True(t, f.runner.Stats().Halted)
	assert.Equal(t, []domain.AgentEventType{domain.AgentConfigError}, agentTypes(t, f.bus))
}

func TestRunner_HeartbeatLag(t *testing.T) {
	f := newRunnerFixture(t, 17000, domain.RiskState{})
	feed := &closingFeed{interval: time.Second, ticks: []marketdata.Tick{
		tickAt(cycleTime),
		tickAt(cycleTime.Add(2 * time.Second)),
		tickAt(cycleTime.Add(10 * time.Second)),
	}}

	require.NoError(t, f.runner.Run(context.Background(), feed))
	assert.Equal(t, []domain.AgentEventType{domain.AgentHeartbeatLag}, agentTypes(t, f.bus))
}

func TestRunner_RiskFlagEvents(t *testing.T) {
	cases := []struct {
		state domain.RiskState
		want  domain.AgentEventType
	}{
		{domain.RiskState{VolSpikeHalt: true}, domain.AgentVolSpikeHalt},
		{domain.RiskState{CooldownActive: true}, domain.AgentCooldownActive},
	}
	for _, tc := range cases {
		t.Run(string(tc.want), func(t *testing.T) {
			f := newRunnerFixture(t, 2000000, tc.state)
			feed := &closingFeed{interval: time.Second, ticks: []marketdata.Tick{tickAt(cycleTime)}}

			require.NoError(t, f.runner.Run(context.Background(), feed))
			assert.Equal(t, []domain.AgentEventType{tc.want}, agentTypes(t, f.bus))
			assert.Empty(t, f.bus.Messages(stream.TopicDecisions))
		})
	}
}
