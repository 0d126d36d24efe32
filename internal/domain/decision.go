package domain

import (
	"math"
	"time"

	"github.com/sawpanic/niftyrun/internal/instruments"
)

// Trade actions
const (
	ActionBuyCE   = "BUY_CE"
	ActionBuyPE   = "BUY_PE"
	ActionExit    = "EXIT"
	ActionNoTrade = "NO_TRADE"
)

// Option types
const (
	OptionCE = "CE"
	OptionPE = "PE"
)

// Entry order types
const (
	EntryLimit  = "LIMIT"
	EntryMarket = "MARKET"
)

// Supported brokers
const (
	BrokerAngelOne    = "angel_one"
	BrokerZerodhaKite = "zerodha_kite"
	BrokerUpstox      = "upstox"
)

// IsKnownBroker reports whether b is a supported broker identifier
func IsKnownBroker(b string) bool {
	switch b {
	case BrokerAngelOne, BrokerZerodhaKite, BrokerUpstox:
		return true
	}
	return false
}

// TradeDecision is a fully specified entry instruction handed to execution.
// Build it with NewTradeDecision; a zero value is not valid.
type TradeDecision struct {
	Index         string   `json:"index"`
	Action        string   `json:"action"`
	Strike        int      `json:"strike"`
	OptionType    string   `json:"option_type"`
	Expiry        string   `json:"expiry"`
	EntryType     string   `json:"entry_type"`
	Entry         float64  `json:"entry"`
	StopLoss      float64  `json:"stop_loss"`
	TSL           *string  `json:"tsl"`
	Target        *float64 `json:"target"`
	RMultiple     *float64 `json:"r_multiple"`
	Lots          int      `json:"lots"`
	ConfidencePct int      `json:"confidence_pct"`
	SignalStack   []string `json:"signal_stack"`
	Greeks        Greeks   `json:"greeks"`
	RiskCheck     string   `json:"risk_check"`
	Broker        string   `json:"broker"`
	Reason        string   `json:"reason"`
	Timestamp     string   `json:"timestamp"`
	Backtest      bool     `json:"backtest"`
}

// NewTradeDecision validates d and returns an independent copy of it.
// Any invariant violation is returned as a *ValidationError.
func NewTradeDecision(d TradeDecision) (*TradeDecision, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	out := d
	out.SignalStack = append([]string{}, d.SignalStack...)
	return &out, nil
}

// Validate checks every field invariant of the record
func (d *TradeDecision) Validate() error {
	const rec = "trade_decision"

	if d.Index != instruments.NIFTY50 && d.Index != instruments.BANKNIFTY {
		return invalid(rec, "index", d.Index, "must be NIFTY50 or BANKNIFTY")
	}
	switch d.Action {
	case ActionBuyCE, ActionBuyPE, ActionExit, ActionNoTrade:
	default:
		return invalid(rec, "action", d.Action, "must be BUY_CE, BUY_PE, EXIT or NO_TRADE")
	}
	if d.Strike <= 0 {
		return invalid(rec, "strike", d.Strike, "must be positive")
	}
	if d.OptionType != OptionCE && d.OptionType != OptionPE {
		return invalid(rec, "option_type", d.OptionType, "must be CE or PE")
	}
	if d.Expiry == "" {
		return invalid(rec, "expiry", d.Expiry, "must not be empty")
	}
	if d.EntryType != EntryLimit && d.EntryType != EntryMarket {
		return invalid(rec, "entry_type", d.EntryType, "must be LIMIT or MARKET")
	}
	if !positive(d.Entry) {
		return invalid(rec, "entry", d.Entry, "must be > 0")
	}
	if !positive(d.StopLoss) {
		return invalid(rec, "stop_loss", d.StopLoss, "must be > 0")
	}
	if d.Target != nil && !positive(*d.Target) {
		return invalid(rec, "target", *d.Target, "must be > 0")
	}
	if d.RMultiple != nil && !positive(*d.RMultiple) {
		return invalid(rec, "r_multiple", *d.RMultiple, "must be > 0")
	}
	if d.Lots < 1 {
		return invalid(rec, "lots", d.Lots, "must be >= 1")
	}
	if d.ConfidencePct < 0 || d.ConfidencePct > 100 {
		return invalid(rec, "confidence_pct", d.ConfidencePct, "must be within [0, 100]")
	}
	if err := d.Greeks.Validate(); err != nil {
		return err
	}
	if d.RiskCheck == "" {
		return invalid(rec, "risk_check", d.RiskCheck, "must not be empty")
	}
	if !IsKnownBroker(d.Broker) {
		return invalid(rec, "broker", d.Broker, "must be angel_one, zerodha_kite or upstox")
	}
	if err := validTimestamp(rec, d.Timestamp); err != nil {
		return err
	}
	return nil
}

// NoTrade records a cycle that did not produce a trade decision
type NoTrade struct {
	Reason    ReasonCode `json:"reason"`
	Timestamp string     `json:"timestamp"`
	Backtest  bool       `json:"backtest"`
}

// NewNoTrade builds a validated NoTrade stamped with ts
func NewNoTrade(reason ReasonCode, ts time.Time, backtest bool) (*NoTrade, error) {
	nt := &NoTrade{Reason: reason, Timestamp: FormatTimestamp(ts), Backtest: backtest}
	if err := nt.Validate(); err != nil {
		return nil, err
	}
	return nt, nil
}

// Validate checks the reason against the taxonomy and the timestamp format
func (n *NoTrade) Validate() error {
	if !n.Reason.IsKnown() {
		return invalid("no_trade", "reason", n.Reason, "not in the no-trade reason taxonomy")
	}
	return validTimestamp("no_trade", n.Timestamp)
}

// FormatTimestamp renders t as an ISO-8601 timestamp
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func validTimestamp(rec, ts string) error {
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		return invalid(rec, "timestamp", ts, "must be ISO-8601")
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
