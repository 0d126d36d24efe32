package guards

import "github.com/sawpanic/niftyrun/internal/domain"

// GuardConfig holds the pre-trade guard thresholds
type GuardConfig struct {
	MaxDailyLossPct float64          `yaml:"max_daily_loss_pct"`
	MaxPositions    int              `yaml:"max_positions"`
	TimeGuards      TimeGuardsConfig `yaml:"time_guards"`
}

// TimeGuardsConfig holds HH:MM exchange-local boundaries. An empty value disables the guard.
type TimeGuardsConfig struct {
	NoTradeBefore   string `yaml:"no_trade_before"`
	NoNewEntryAfter string `yaml:"no_new_entry_after"`
}

// DefaultGuardConfig returns the production guard thresholds
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxDailyLossPct: 0.03,
		MaxPositions:    1,
		TimeGuards: TimeGuardsConfig{
			NoTradeBefore:   "09:20",
			NoNewEntryAfter: "15:00",
		},
	}
}

// Guard names reported in GuardResult.BlockedBy
const (
	GuardTimeEarly     = "time_early"
	GuardTimeLate      = "time_late"
	GuardDailyLoss     = "max_daily_loss"
	GuardVolSpike      = "vol_spike"
	GuardCooldown      = "cooldown"
	GuardPositionLimit = "position_limit"
)

// GuardResult is either a pass or a veto carrying the reason code of the first blocker
type GuardResult struct {
	Allow     bool              `json:"allow"`
	Reason    domain.ReasonCode `json:"reason,omitempty"`
	BlockedBy string            `json:"blocked_by,omitempty"`
}

// Pass returns an allowing result
func Pass() GuardResult {
	return GuardResult{Allow: true}
}

// Veto returns a blocking result
func Veto(guard string, reason domain.ReasonCode) GuardResult {
	return GuardResult{Allow: false, Reason: reason, BlockedBy: guard}
}
