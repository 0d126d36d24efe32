package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/instruments"
)

// Expiry selection modes
const (
	ExpiryFixed  = "fixed"
	ExpiryWeekly = "weekly"
)

// ExpiryPolicy selects the contract expiry written into decisions
type ExpiryPolicy struct {
	Mode    string `yaml:"mode"`
	Fixed   string `yaml:"fixed"`
	Weekday string `yaml:"weekday"`
}

// Resolve returns the expiry identifier (YYYY-MM-DD) for a decision taken at ts
func (p ExpiryPolicy) Resolve(ts time.Time) (string, error) {
	switch p.Mode {
	case ExpiryFixed, "":
		if p.Fixed == "" {
			return "", fmt.Errorf("fixed expiry not configured")
		}
		return p.Fixed, nil
	case ExpiryWeekly:
		wd, err := instruments.ParseWeekday(p.Weekday)
		if err != nil {
			return "", err
		}
		return instruments.NextWeeklyExpiry(ts, wd).Format("2006-01-02"), nil
	}
	return "", fmt.Errorf("unknown expiry mode %q", p.Mode)
}

// Policy holds the decision-record constants and caps
type Policy struct {
	ConfidenceCeiling int          `yaml:"confidence_ceiling"`
	EntryType         string       `yaml:"entry_type"`
	TSL               string       `yaml:"tsl"`
	RMultiple         float64      `yaml:"r_multiple"`
	Expiry            ExpiryPolicy `yaml:"expiry"`
	Broker            string       `yaml:"broker"`
	RiskCheck         string       `yaml:"risk_check"`
	Reason            string       `yaml:"reason"`
	Backtest          bool         `yaml:"backtest"`
}

// DefaultPolicy mirrors the production demo constants
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceCeiling: 95,
		EntryType:         domain.EntryLimit,
		TSL:               "ATR(1.5)x",
		RMultiple:         1.5,
		Expiry:            ExpiryPolicy{Mode: ExpiryFixed, Fixed: "2099-12-31", Weekday: "TUESDAY"},
		Broker:            domain.BrokerAngelOne,
		RiskCheck:         "passed",
		Reason:            "Confluence: OI momentum + CPR/VWAP",
	}
}

// Validate rejects a ceiling that would allow full certainty and unknown enums
func (p Policy) Validate() error {
	if p.ConfidenceCeiling < 0 || p.ConfidenceCeiling >= 100 {
		return fmt.Errorf("confidence_ceiling must be within [0, 100), got %d", p.ConfidenceCeiling)
	}
	if p.EntryType != domain.EntryLimit && p.EntryType != domain.EntryMarket {
		return fmt.Errorf("entry_type must be LIMIT or MARKET, got %q", p.EntryType)
	}
	if p.RMultiple < 0 {
		return fmt.Errorf("r_multiple must not be negative, got %v", p.RMultiple)
	}
	if !domain.IsKnownBroker(p.Broker) {
		return fmt.Errorf("unknown broker %q", p.Broker)
	}
	if _, err := p.Expiry.Resolve(time.Now()); err != nil {
		return fmt.Errorf("expiry: %w", err)
	}
	return nil
}

// NearestStrike rounds ltp to the nearest multiple of step. Exact midpoints round
// half to even on the step count, so 24575 with step 50 becomes 24600 and 24525
// becomes 24500.
func NearestStrike(ltp float64, step int) (int, error) {
	if step <= 0 {
		return 0, fmt.Errorf("strike step must be positive, got %d", step)
	}
	return int(math.RoundToEven(ltp/float64(step))) * step, nil
}
