package domain

import (
	"math"
	"time"
)

// OptionLeg is one side (CE or PE) of the at-the-money strike
type OptionLeg struct {
	LTP   *float64 `json:"ltp,omitempty"`
	IV    *float64 `json:"iv,omitempty"`
	Delta *float64 `json:"delta,omitempty"`
}

// ATMDetail holds the at-the-money strike and its two legs
type ATMDetail struct {
	Strike float64    `json:"strike"`
	CE     *OptionLeg `json:"CE,omitempty"`
	PE     *OptionLeg `json:"PE,omitempty"`
}

// OptionChainSummary is the normalized option-chain view consumed by detectors.
// Every field is optional; a degraded provider returns all of them nil.
type OptionChainSummary struct {
	PCR     *float64   `json:"pcr"`
	MaxPain *float64   `json:"max_pain"`
	OITrend *string    `json:"oi_trend"`
	ATM     *ATMDetail `json:"atm"`
}

// NeutralOptionChain returns the fail-open summary used when the provider is unavailable
func NeutralOptionChain() OptionChainSummary {
	return OptionChainSummary{}
}

// IsNeutral reports whether no option-chain field is populated
func (o OptionChainSummary) IsNeutral() bool {
	return o.PCR == nil && o.MaxPain == nil && o.OITrend == nil && o.ATM == nil
}

// Trend returns the OI trend descriptor or "" when absent
func (o OptionChainSummary) Trend() string {
	if o.OITrend == nil {
		return ""
	}
	return *o.OITrend
}

// Breadth is the market breadth summary
type Breadth struct {
	Advances  *int    `json:"advances,omitempty"`
	Declines  *int    `json:"declines,omitempty"`
	Sentiment *string `json:"sentiment,omitempty"`
}

// Bar is one intraday OHLCV interval
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// MarketSnapshot is the per-cycle market view. DayHigh, DayLow and PrevClose are
// the prior session's levels the central pivot range is derived from.
type MarketSnapshot struct {
	Index       string             `json:"index"`
	LTP         float64            `json:"ltp"`
	Timestamp   time.Time          `json:"timestamp"`
	DayHigh     float64            `json:"day_high"`
	DayLow      float64            `json:"day_low"`
	PrevClose   float64            `json:"prev_close"`
	VWAP        *float64           `json:"vwap,omitempty"`
	Bars        []Bar              `json:"bars,omitempty"`
	OptionChain OptionChainSummary `json:"option_chain"`
	Breadth     Breadth            `json:"breadth"`
}

// RiskState is the process-wide portfolio risk view. Instances are immutable once
// published; the decision core only ever reads them.
type RiskState struct {
	OpenPositions  int       `json:"open_positions"`
	DayPnLPct      float64   `json:"day_pnl_pct"`
	VolSpikeHalt   bool      `json:"vol_spike_halt"`
	CooldownActive bool      `json:"cooldown_active"`
	Version        uint64    `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Greeks captures option sensitivities at decision time
type Greeks struct {
	Delta *float64 `json:"delta"`
	Vega  *float64 `json:"vega,omitempty"`
	Gamma *float64 `json:"gamma,omitempty"`
	Theta *float64 `json:"theta,omitempty"`
	IV    *float64 `json:"iv"`
}

// Validate checks the delta bound
func (g Greeks) Validate() error {
	if g.Delta != nil && (math.IsNaN(*g.Delta) || *g.Delta < -1 || *g.Delta > 1) {
		return invalid("greeks", "delta", *g.Delta, "must be within [-1, 1]")
	}
	return nil
}

// GreeksFromATM pulls delta and iv for the given option type from the ATM legs
func GreeksFromATM(atm *ATMDetail, optionType string) Greeks {
	if atm == nil {
		return Greeks{}
	}
	leg := atm.CE
	if optionType == OptionPE {
		leg = atm.PE
	}
	if leg == nil {
		return Greeks{}
	}
	return Greeks{Delta: copyFloat(leg.Delta), IV: copyFloat(leg.IV)}
}

// Clone returns g with every set value copied
func (g Greeks) Clone() Greeks {
	return Greeks{
		Delta: copyFloat(g.Delta),
		Vega:  copyFloat(g.Vega),
		Gamma: copyFloat(g.Gamma),
		Theta: copyFloat(g.Theta),
		IV:    copyFloat(g.IV),
	}
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Float(*p)
}

// Float returns a pointer to v
func Float(v float64) *float64 { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }
