package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/niftyrun/internal/audit"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/marketdata"
	"github.com/sawpanic/niftyrun/internal/stream"
)

// lagFactor is how many feed intervals may pass between ticks before heartbeat_lag is raised
const lagFactor = 3

const eventSource = "niftyrun"

// SnapshotSource turns a tick into the snapshot a cycle runs on
type SnapshotSource interface {
	Build(ctx context.Context, tick marketdata.Tick) (domain.MarketSnapshot, error)
}

// RunnerOptions wires the optional collaborators of a Runner
type RunnerOptions struct {
	Events *audit.EventRecorder
	Bus    stream.Bus
}

// Stats summarizes the cycles a runner has completed
type Stats struct {
	Cycles      int64     `json:"cycles"`
	Trades      int64     `json:"trades"`
	NoTrades    int64     `json:"no_trades"`
	LastReason  string    `json:"last_reason,omitempty"`
	LastCycleAt time.Time `json:"last_cycle_at,omitempty"`
	Halted      bool      `json:"halted"`
}

// Runner drives the pipeline from a feed, one cycle at a time
type Runner struct {
	pipeline  *Pipeline
	snapshots SnapshotSource
	events    *audit.EventRecorder
	bus       stream.Bus

	mu    sync.RWMutex
	stats Stats
}

// NewRunner creates a runner
func NewRunner(p *Pipeline, snapshots SnapshotSource, opts RunnerOptions) *Runner {
	events := opts.Events
	if events == nil {
		events = audit.NewEventRecorder(nil, nil, nil)
	}
	return &Runner{pipeline: p, snapshots: snapshots, events: events, bus: opts.Bus}
}

// Run pulls ticks from feed and processes each to completion before pulling the
// next. It returns nil when ctx is cancelled or the feed closes. A cycle fault is
// logged as cycle_fault, raised as a config_error agent event, and returned.
func (r *Runner) Run(ctx context.Context, feed marketdata.Feed) error {
	var last time.Time
	for {
		tick, err := feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, marketdata.ErrFeedClosed) {
				log.Info().Msg("runner stopped")
				return nil
			}
			return fmt.Errorf("feed: %w", err)
		}

		if !last.IsZero() && feed.Interval() > 0 {
			if gap := tick.Timestamp.Sub(last); gap > lagFactor*feed.Interval() {
				r.agentEvent(ctx, domain.AgentHeartbeatLag,
					fmt.Sprintf("gap %s exceeds %dx interval %s", gap, lagFactor, feed.Interval()), tick.Timestamp)
			}
		}
		last = tick.Timestamp

		if err := r.cycle(ctx, tick); err != nil {
			log.Error().Err(err).Str("index", tick.Symbol).Msg("cycle_fault")
			r.agentEvent(ctx, domain.AgentConfigError, err.Error(), tick.Timestamp)
			r.mu.Lock()
			r.stats.Halted = true
			r.mu.Unlock()
			return err
		}
	}
}

func (r *Runner) cycle(ctx context.Context, tick marketdata.Tick) error {
	snap, err := r.snapshots.Build(ctx, tick)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}

	res, err := r.pipeline.Process(ctx, snap)
	if err != nil {
		return err
	}

	reason := res.Outcome.Reason()
	r.mu.Lock()
	r.stats.Cycles++
	if res.Outcome.Decision != nil {
		r.stats.Trades++
	} else {
		r.stats.NoTrades++
	}
	r.stats.LastReason = reason
	r.stats.LastCycleAt = snap.Timestamp
	r.mu.Unlock()

	switch domain.ReasonCode(reason) {
	case domain.ReasonVolSpike:
		r.agentEvent(ctx, domain.AgentVolSpikeHalt, "cycle "+res.CycleID+" blocked by vol spike halt", snap.Timestamp)
	case domain.ReasonCooldown:
		r.agentEvent(ctx, domain.AgentCooldownActive, "cycle "+res.CycleID+" blocked by cooldown", snap.Timestamp)
	}
	return nil
}

func (r *Runner) agentEvent(ctx context.Context, typ domain.AgentEventType, details string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	ev, err := domain.NewAgentEvent(typ, details, ts)
	if err != nil {
		log.Warn().Err(err).Str("type", string(typ)).Msg("agent event rejected")
		return
	}
	r.events.Agent(ctx, ev)
	if r.bus == nil {
		return
	}
	if err := stream.PublishEnvelope(ctx, r.bus, stream.TopicAgentEvents, audit.KindAgentEvent, "", eventSource, ts, ev); err != nil {
		log.Warn().Err(err).Str("type", string(typ)).Msg("agent event publish failed")
	}
}

// Stats returns a copy of the runner counters
func (r *Runner) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// PublishDecisions returns the handler that hands validated decisions to the
// execution side over the decisions topic
func PublishDecisions(bus stream.Bus) DecisionHandler {
	return DecisionHandlerFunc(func(ctx context.Context, td *domain.TradeDecision) error {
		ts, err := time.Parse(time.RFC3339Nano, td.Timestamp)
		if err != nil {
			ts = time.Now()
		}
		return stream.PublishEnvelope(ctx, bus, stream.TopicDecisions, audit.KindTradeDecision, td.Index, eventSource, ts, td)
	})
}
