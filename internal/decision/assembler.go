package decision

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/domain/guards"
	"github.com/sawpanic/niftyrun/internal/domain/sizing"
	"github.com/sawpanic/niftyrun/internal/instruments"
)

// State is a node of the per-cycle decision state machine
type State string

const (
	StateStart         State = "START"
	StateGuardCheck    State = "GUARD_CHECK"
	StateSignalEval    State = "SIGNAL_EVAL"
	StateSize          State = "SIZE"
	StateBuildDecision State = "BUILD_DECISION"
	StateDecision      State = "DECISION"
	StateNoTrade       State = "NO_TRADE"
)

// Input carries everything a cycle has computed by the time it is assembled.
// Verdict is nil when the guards vetoed; Sizing is nil unless the verdict has a direction.
type Input struct {
	Guard      guards.GuardResult
	Verdict    *domain.ConfluenceVerdict
	Snapshot   domain.MarketSnapshot
	Sizing     *sizing.Result
	StopPoints decimal.Decimal
	Timestamp  time.Time
}

// Outcome is the terminal state of a cycle; exactly one of Decision and NoTrade is set
type Outcome struct {
	State    State                 `json:"state"`
	Path     []State               `json:"path"`
	Decision *domain.TradeDecision `json:"decision,omitempty"`
	NoTrade  *domain.NoTrade       `json:"no_trade,omitempty"`
}

// Reason returns the no-trade reason or "trade_decision"
func (o Outcome) Reason() string {
	if o.NoTrade != nil {
		return string(o.NoTrade.Reason)
	}
	return "trade_decision"
}

// Assembler turns a cycle's intermediate results into its terminal record
type Assembler struct {
	policy Policy
}

// NewAssembler validates policy and creates an assembler
func NewAssembler(policy Policy) (*Assembler, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("decision policy: %w", err)
	}
	return &Assembler{policy: policy}, nil
}

// Policy returns the assembler's policy
func (a *Assembler) Policy() Policy {
	return a.policy
}

// Assemble walks the state machine. Errors are programming or configuration faults
// (missing sizing for a directional verdict, unknown index, invalid record) and
// must not be turned into a no-trade by the caller.
func (a *Assembler) Assemble(in Input) (Outcome, error) {
	path := []State{StateStart, StateGuardCheck}

	if !in.Guard.Allow {
		return a.noTrade(append(path, StateNoTrade), in.Guard.Reason, in.Timestamp)
	}

	path = append(path, StateSignalEval)
	if in.Verdict == nil {
		return Outcome{}, fmt.Errorf("assemble: guard passed but no confluence verdict supplied")
	}
	if !in.Verdict.HasDirection() {
		return a.noTrade(append(path, StateNoTrade), domain.ReasonMixedSignals, in.Timestamp)
	}

	path = append(path, StateSize)
	if in.Sizing == nil {
		return Outcome{}, fmt.Errorf("assemble: %s verdict without a sizing result", in.Verdict.Direction)
	}
	if in.Sizing.Lots < 1 {
		return a.noTrade(append(path, StateNoTrade), domain.ReasonUnderMinSize, in.Timestamp)
	}

	path = append(path, StateBuildDecision)
	td, err := a.build(in)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{State: StateDecision, Path: append(path, StateDecision), Decision: td}, nil
}

func (a *Assembler) noTrade(path []State, reason domain.ReasonCode, ts time.Time) (Outcome, error) {
	nt, err := domain.NewNoTrade(reason, ts, a.policy.Backtest)
	if err != nil {
		return Outcome{}, fmt.Errorf("assemble no_trade: %w", err)
	}
	return Outcome{State: StateNoTrade, Path: path, NoTrade: nt}, nil
}

func (a *Assembler) build(in Input) (*domain.TradeDecision, error) {
	snap := in.Snapshot
	inst, err := instruments.Get(snap.Index)
	if err != nil {
		return nil, fmt.Errorf("assemble decision: %w", err)
	}

	strike, err := NearestStrike(snap.LTP, inst.StrikeStep)
	if err != nil {
		return nil, fmt.Errorf("assemble decision: %w", err)
	}

	action, optionType := domain.ActionBuyCE, domain.OptionCE
	entry := decimal.NewFromFloat(snap.LTP)
	stop := entry.Sub(in.StopPoints)
	if in.Verdict.Direction == domain.VerdictSell {
		action, optionType = domain.ActionBuyPE, domain.OptionPE
		stop = entry.Add(in.StopPoints)
	}

	expiry, err := a.policy.Expiry.Resolve(in.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("assemble decision: %w", err)
	}

	confidence := in.Verdict.Strength
	if confidence > a.policy.ConfidenceCeiling {
		confidence = a.policy.ConfidenceCeiling
	}

	var tsl *string
	if a.policy.TSL != "" {
		tsl = domain.String(a.policy.TSL)
	}
	var rMultiple *float64
	if a.policy.RMultiple > 0 {
		rMultiple = domain.Float(a.policy.RMultiple)
	}

	td, err := domain.NewTradeDecision(domain.TradeDecision{
		Index:         snap.Index,
		Action:        action,
		Strike:        strike,
		OptionType:    optionType,
		Expiry:        expiry,
		EntryType:     a.policy.EntryType,
		Entry:         entry.InexactFloat64(),
		StopLoss:      stop.InexactFloat64(),
		TSL:           tsl,
		RMultiple:     rMultiple,
		Lots:          in.Sizing.Lots,
		ConfidencePct: confidence,
		SignalStack:   in.Verdict.SignalStack,
		Greeks:        domain.GreeksFromATM(snap.OptionChain.ATM, optionType),
		RiskCheck:     a.policy.RiskCheck,
		Broker:        a.policy.Broker,
		Reason:        a.policy.Reason,
		Timestamp:     domain.FormatTimestamp(in.Timestamp),
		Backtest:      a.policy.Backtest,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble decision: %w", err)
	}
	return td, nil
}
