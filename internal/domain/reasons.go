package domain

// ReasonCode is a stable, machine-readable cause attached to a NoTrade record
type ReasonCode string

const (
	// Time guards
	ReasonTooEarly ReasonCode = "time_guard:too_early"
	ReasonTooLate  ReasonCode = "time_guard:too_late"

	// Risk guards, most severe first
	ReasonMaxDailyLoss  ReasonCode = "risk_block:max_daily_loss"
	ReasonVolSpike      ReasonCode = "risk_block:vol_spike"
	ReasonCooldown      ReasonCode = "risk_block:cooldown"
	ReasonPositionLimit ReasonCode = "risk_block:position_limit"

	// Signal and sizing outcomes
	ReasonMixedSignals ReasonCode = "mixed_signals"
	ReasonUnderMinSize ReasonCode = "under_min_size"

	ReasonBacktestStub ReasonCode = "backtest_stub"
)

var knownReasons = map[ReasonCode]struct{}{
	ReasonTooEarly:      {},
	ReasonTooLate:       {},
	ReasonMaxDailyLoss:  {},
	ReasonVolSpike:      {},
	ReasonCooldown:      {},
	ReasonPositionLimit: {},
	ReasonMixedSignals:  {},
	ReasonUnderMinSize:  {},
	ReasonBacktestStub:  {},
}

// IsKnown reports whether r belongs to the fixed no-trade taxonomy
func (r ReasonCode) IsKnown() bool {
	_, ok := knownReasons[r]
	return ok
}

// IsGuardVeto reports whether r was produced by the guard chain
func (r ReasonCode) IsGuardVeto() bool {
	switch r {
	case ReasonTooEarly, ReasonTooLate, ReasonMaxDailyLoss, ReasonVolSpike, ReasonCooldown, ReasonPositionLimit:
		return true
	}
	return false
}

func (r ReasonCode) String() string { return string(r) }
