package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/niftyrun/internal/audit"
	"github.com/sawpanic/niftyrun/internal/decision"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/domain/confluence"
	"github.com/sawpanic/niftyrun/internal/domain/guards"
	"github.com/sawpanic/niftyrun/internal/domain/indicators"
	"github.com/sawpanic/niftyrun/internal/domain/signals"
	"github.com/sawpanic/niftyrun/internal/domain/sizing"
	"github.com/sawpanic/niftyrun/internal/riskstate"
)

// DecisionHandler receives every validated trade decision after it is audited
type DecisionHandler interface {
	HandleDecision(ctx context.Context, td *domain.TradeDecision) error
}

// DecisionHandlerFunc adapts a function to DecisionHandler
type DecisionHandlerFunc func(ctx context.Context, td *domain.TradeDecision) error

func (f DecisionHandlerFunc) HandleDecision(ctx context.Context, td *domain.TradeDecision) error {
	return f(ctx, td)
}

// Observer is notified once per completed cycle
type Observer interface {
	ObserveCycle(res Result, elapsed time.Duration)
}

// Sizing holds the capital and risk parameters of the position sizer
type Sizing struct {
	Capital         decimal.Decimal
	PerTradeRiskPct decimal.Decimal
	PointValue      decimal.Decimal
	Stop            sizing.StopRule
}

// Validate rejects non-positive capital, risk or point value and an invalid stop rule
func (s Sizing) Validate() error {
	if !s.Capital.IsPositive() {
		return fmt.Errorf("capital must be positive, got %s", s.Capital)
	}
	if !s.PerTradeRiskPct.IsPositive() || s.PerTradeRiskPct.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("per_trade_risk_pct must be within (0, 1], got %s", s.PerTradeRiskPct)
	}
	if !s.PointValue.IsPositive() {
		return fmt.Errorf("point_value must be positive, got %s", s.PointValue)
	}
	return s.Stop.Validate()
}

// Options wires a Pipeline
type Options struct {
	Guards    *guards.Chain
	Registry  *signals.Registry
	Assembler *decision.Assembler
	Emitter   *audit.Emitter
	Risk      riskstate.Reader
	Sizing    Sizing
	Handler   DecisionHandler
	Observer  Observer
	NewID     func() string
}

// Pipeline runs one decision cycle per market snapshot:
// guards, signals, confluence, sizing, decision, audit.
type Pipeline struct {
	guards    *guards.Chain
	registry  *signals.Registry
	assembler *decision.Assembler
	emitter   *audit.Emitter
	risk      riskstate.Reader
	sizing    Sizing
	handler   DecisionHandler
	observer  Observer
	newID     func() string
}

// Result is the outcome of one cycle
type Result struct {
	CycleID  string                 `json:"cycle_id"`
	Guard    guards.GuardResult     `json:"guard"`
	Opinions []domain.SignalOpinion `json:"opinions"`
	Outcome  decision.Outcome       `json:"outcome"`
	Audit    domain.AuditSnapshot   `json:"audit"`
}

// New validates opts and creates a pipeline
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Guards == nil:
		return nil, errors.New("pipeline: guard chain is required")
	case opts.Registry == nil:
		return nil, errors.New("pipeline: signal registry is required")
	case opts.Assembler == nil:
		return nil, errors.New("pipeline: decision assembler is required")
	case opts.Risk == nil:
		return nil, errors.New("pipeline: risk state reader is required")
	}
	if err := opts.Sizing.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline sizing: %w", err)
	}
	if opts.Emitter == nil {
		opts.Emitter = audit.NewEmitter()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Pipeline{
		guards:    opts.Guards,
		registry:  opts.Registry,
		assembler: opts.Assembler,
		emitter:   opts.Emitter,
		risk:      opts.Risk,
		sizing:    opts.Sizing,
		handler:   opts.Handler,
		observer:  opts.Observer,
		newID:     opts.NewID,
	}, nil
}

// Process runs one cycle for snap and emits exactly one audit record for it.
// Vetoes come back as a NoTrade outcome; a returned error is a configuration or
// programming fault and no audit record is written for that cycle.
func (p *Pipeline) Process(ctx context.Context, snap domain.MarketSnapshot) (Result, error) {
	start := time.Now()
	res := Result{CycleID: p.newID(), Opinions: []domain.SignalOpinion{}}
	risk := p.risk.Current()
	ts := snap.Timestamp
	debug := map[string]interface{}{"risk_version": risk.Version}

	res.Guard = p.guards.Evaluate(ts, risk)
	in := decision.Input{Guard: res.Guard, Snapshot: snap, Timestamp: ts}

	if res.Guard.Allow {
		slice := p.slice(snap)
		if slice.CPR != nil {
			debug["cpr"] = *slice.CPR
		}
		if slice.VWAP != nil {
			debug["vwap"] = *slice.VWAP
		}

		res.Opinions = p.registry.Evaluate(snap.Index, slice)
		verdict := confluence.Combine(res.Opinions)
		in.Verdict = &verdict
		debug["verdict"] = verdict.Direction
		debug["verdict_strength"] = verdict.Strength

		if verdict.HasDirection() {
			stop, err := p.sizing.Stop.Distance(decimal.NewFromFloat(snap.LTP), snap.Bars)
			if err != nil {
				return res, fmt.Errorf("cycle %s stop distance: %w", res.CycleID, err)
			}
			sized, err := sizing.LotsForRisk(snap.Index, p.sizing.Capital, p.sizing.PerTradeRiskPct, stop, p.sizing.PointValue)
			if err != nil {
				return res, fmt.Errorf("cycle %s: %w", res.CycleID, err)
			}
			in.Sizing = &sized
			in.StopPoints = stop
			debug["stop_points"] = stop.String()
			debug["per_lot_risk"] = sized.PerLotRisk.String()
			debug["risk_budget"] = sized.RiskBudget.String()
			debug["lots"] = sized.Lots
		}
	} else {
		debug["blocked_by"] = res.Guard.BlockedBy
	}

	outcome, err := p.assembler.Assemble(in)
	if err != nil {
		return res, fmt.Errorf("cycle %s: %w", res.CycleID, err)
	}
	res.Outcome = outcome
	debug["path"] = outcome.Path

	res.Audit, err = p.emitter.Emit(ctx, audit.Entry{
		CycleID:   res.CycleID,
		Snapshot:  snap,
		Opinions:  res.Opinions,
		Risk:      risk,
		Decision:  outcome.Decision,
		NoTrade:   outcome.NoTrade,
		Debug:     debug,
		Timestamp: ts,
	})
	if err != nil {
		return res, fmt.Errorf("cycle %s audit: %w", res.CycleID, err)
	}

	if outcome.Decision != nil && p.handler != nil {
		if err := p.handler.HandleDecision(ctx, outcome.Decision); err != nil {
			log.Error().Err(err).Str("cycle_id", res.CycleID).Msg("decision handoff failed")
		}
	}
	if p.observer != nil {
		p.observer.ObserveCycle(res, time.Since(start))
	}
	return res, nil
}

// slice derives the detector inputs. CPR needs all three day levels; VWAP comes
// from the snapshot or, failing that, from the session bars.
func (p *Pipeline) slice(snap domain.MarketSnapshot) signals.Slice {
	s := signals.Slice{LTP: snap.LTP, OptionChain: snap.OptionChain}

	if snap.DayHigh > 0 && snap.DayLow > 0 && snap.PrevClose > 0 {
		cpr := indicators.CalculateCPR(snap.DayHigh, snap.DayLow, snap.PrevClose)
		s.CPR = &cpr
	}

	switch {
	case snap.VWAP != nil:
		v := *snap.VWAP
		s.VWAP = &v
	case len(snap.Bars) > 0:
		if v, err := indicators.SessionVWAP(snap.Bars); err == nil {
			s.VWAP = &v
		}
	}
	return s
}
