package riskstate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// ErrPublisherStopped is returned by Submit once the publisher has shut down
var ErrPublisherStopped = errors.New("risk state publisher stopped")

// Update derives the next RiskState from the current one
type Update func(current domain.RiskState) domain.RiskState

// Mirror persists published snapshots outside the process
type Mirror interface {
	Save(ctx context.Context, state domain.RiskState) error
	Load(ctx context.Context) (domain.RiskState, bool, error)
}

type request struct {
	update Update
	done   chan domain.RiskState
}

// Publisher is the single writer of a Store. Execution and monitoring
// collaborators submit updates; one goroutine applies them in arrival order.
type Publisher struct {
	store     *Store
	mirror    Mirror
	requests  chan request
	stopped   chan struct{}
	listeners []func(domain.RiskState)
}

// NewPublisher creates a publisher for store. mirror may be nil.
func NewPublisher(store *Store, mirror Mirror) *Publisher {
	return &Publisher{
		store:    store,
		mirror:   mirror,
		requests: make(chan request, 64),
		stopped:  make(chan struct{}),
	}
}

// OnPublish registers a callback invoked from the writer goroutine after each publish.
// Register listeners before Run.
func (p *Publisher) OnPublish(fn func(domain.RiskState)) {
	p.listeners = append(p.listeners, fn)
}

// Restore loads the mirrored snapshot into the store. Call it before Run.
func (p *Publisher) Restore(ctx context.Context) (bool, error) {
	if p.mirror == nil {
		return false, nil
	}
	state, ok, err := p.mirror.Load(ctx)
	if err != nil || !ok {
		return false, err
	}
	restored := p.store.publish(state)
	log.Info().
		Uint64("version", restored.Version).
		Int("open_positions", restored.OpenPositions).
		Float64("day_pnl_pct", restored.DayPnLPct).
		Msg("risk state restored from mirror")
	return true, nil
}

// Run applies submitted updates until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) error {
	defer close(p.stopped)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-p.requests:
			next := p.store.publish(req.update(p.store.Current()))
			p.persist(ctx, next)
			for _, fn := range p.listeners {
				fn(next)
			}
			req.done <- next
		}
	}
}

// Submit queues update and waits until it is published
func (p *Publisher) Submit(ctx context.Context, update Update) (domain.RiskState, error) {
	req := request{update: update, done: make(chan domain.RiskState, 1)}
	select {
	case p.requests <- req:
	case <-p.stopped:
		return domain.RiskState{}, ErrPublisherStopped
	case <-ctx.Done():
		return domain.RiskState{}, ctx.Err()
	}

	select {
	case state := <-req.done:
		return state, nil
	case <-p.stopped:
		return domain.RiskState{}, ErrPublisherStopped
	case <-ctx.Done():
		return domain.RiskState{}, ctx.Err()
	}
}

func (p *Publisher) persist(ctx context.Context, state domain.RiskState) {
	if p.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.mirror.Save(ctx, state); err != nil {
		log.Warn().Err(err).Uint64("version", state.Version).Msg("risk state mirror save failed")
	}
}

// AddPositions adjusts the open position count, never below zero
func AddPositions(delta int) Update {
	return func(s domain.RiskState) domain.RiskState {
		s.OpenPositions += delta
		if s.OpenPositions < 0 {
			s.OpenPositions = 0
		}
		return s
	}
}

// SetDayPnLPct records the recomputed day P&L percentage
func SetDayPnLPct(pct float64) Update {
	return func(s domain.RiskState) domain.RiskState {
		s.DayPnLPct = pct
		return s
	}
}

// SetVolSpikeHalt raises or clears the volatility halt
func SetVolSpikeHalt(on bool) Update {
	return func(s domain.RiskState) domain.RiskState {
		s.VolSpikeHalt = on
		return s
	}
}

// SetCooldown raises or clears the post-loss cooldown
func SetCooldown(on bool) Update {
	return func(s domain.RiskState) domain.RiskState {
		s.CooldownActive = on
		return s
	}
}
