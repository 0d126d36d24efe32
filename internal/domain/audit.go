package domain

import "github.com/sawpanic/niftyrun/internal/instruments"

// AuditSnapshot captures everything a cycle saw when it reached its outcome.
// One is emitted per cycle and never mutated afterwards.
type AuditSnapshot struct {
	CycleID          string                 `json:"cycle_id"`
	Index            string                 `json:"index"`
	LTP              float64                `json:"ltp"`
	OCSummary        OptionChainSummary     `json:"oc_summary"`
	Breadth          Breadth                `json:"breadth"`
	SignalStack      []SignalOpinion        `json:"signal_stack"`
	GreeksAtDecision Greeks                 `json:"greeks_at_decision"`
	RiskState        RiskState              `json:"risk_state"`
	Outcome          string                 `json:"outcome"`
	Timestamp        string                 `json:"timestamp"`
	Debug            map[string]interface{} `json:"debug,omitempty"`
}

// Validate checks the index, greeks and timestamp of the snapshot
func (a *AuditSnapshot) Validate() error {
	if !instruments.IsKnown(a.Index) {
		return invalid("audit_snapshot", "index", a.Index, "unknown index")
	}
	if err := a.GreeksAtDecision.Validate(); err != nil {
		return err
	}
	for _, op := range a.SignalStack {
		if err := op.Validate(); err != nil {
			return err
		}
	}
	return validTimestamp("audit_snapshot", a.Timestamp)
}
