package guards

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/instruments"
)

// Chain evaluates time guards and then risk guards; the first blocker wins
type Chain struct {
	config   GuardConfig
	notEarly *Clock
	notLate  *Clock
	loc      *time.Location
}

// NewChain parses the time boundaries and validates thresholds. Errors here are
// configuration faults.
func NewChain(config GuardConfig) (*Chain, error) {
	c := &Chain{config: config, loc: instruments.IST}

	if s := config.TimeGuards.NoTradeBefore; s != "" {
		clk, err := ParseClock(s)
		if err != nil {
			return nil, fmt.Errorf("no_trade_before: %w", err)
		}
		c.notEarly = &clk
	}
	if s := config.TimeGuards.NoNewEntryAfter; s != "" {
		clk, err := ParseClock(s)
		if err != nil {
			return nil, fmt.Errorf("no_new_entry_after: %w", err)
		}
		c.notLate = &clk
	}
	if c.notEarly != nil && c.notLate != nil && c.notEarly.offset() > c.notLate.offset() {
		return nil, fmt.Errorf("no_trade_before %s is after no_new_entry_after %s", c.notEarly, c.notLate)
	}
	if math.IsNaN(config.MaxDailyLossPct) || config.MaxDailyLossPct == 0 {
		return nil, fmt.Errorf("max_daily_loss_pct must be non-zero")
	}
	if config.MaxPositions < 1 {
		return nil, fmt.Errorf("max_positions must be >= 1, got %d", config.MaxPositions)
	}
	return c, nil
}

// WithLocation overrides the exchange-local zone used for time guards
func (c *Chain) WithLocation(loc *time.Location) *Chain {
	c.loc = loc
	return c
}

// Evaluate runs every guard in order. Risk guards are only consulted when the time
// guards pass.
func (c *Chain) Evaluate(now time.Time, state domain.RiskState) GuardResult {
	if res := c.CheckTimeGuards(now); !res.Allow {
		return res
	}
	return c.PretradeBlockers(state)
}

// CheckTimeGuards vetoes outside [no_trade_before, no_new_entry_after]
func (c *Chain) CheckTimeGuards(now time.Time) GuardResult {
	tod := timeOfDay(now, c.loc)
	if c.notEarly != nil && tod < c.notEarly.offset() {
		return Veto(GuardTimeEarly, domain.ReasonTooEarly)
	}
	if c.notLate != nil && tod > c.notLate.offset() {
		return Veto(GuardTimeLate, domain.ReasonTooLate)
	}
	return Pass()
}

// PretradeBlockers applies the risk guards from most to least severe
func (c *Chain) PretradeBlockers(state domain.RiskState) GuardResult {
	guards := []struct {
		name    string
		reason  domain.ReasonCode
		blocked bool
	}{
		{GuardDailyLoss, domain.ReasonMaxDailyLoss, state.DayPnLPct <= -math.Abs(c.config.MaxDailyLossPct)},
		{GuardVolSpike, domain.ReasonVolSpike, state.VolSpikeHalt},
		{GuardCooldown, domain.ReasonCooldown, state.CooldownActive},
		{GuardPositionLimit, domain.ReasonPositionLimit, state.OpenPositions >= c.config.MaxPositions},
	}

	for _, g := range guards {
		if g.blocked {
			return Veto(g.name, g.reason)
		}
	}
	return Pass()
}

// Config returns the guard thresholds in use
func (c *Chain) Config() GuardConfig {
	return c.config
}
