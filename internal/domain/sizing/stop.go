package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/domain/indicators"
)

// Stop distance modes
const (
	StopModePct    = "pct"
	StopModePoints = "points"
	StopModeATR    = "atr"
)

// StopRule is the configurable stop-distance policy. The computed distance is
// floored at MinPoints.
type StopRule struct {
	Mode      string  `yaml:"mode"`
	Pct       float64 `yaml:"pct"`
	Points    float64 `yaml:"points"`
	ATRPeriod int     `yaml:"atr_period"`
	ATRMult   float64 `yaml:"atr_mult"`
	MinPoints float64 `yaml:"min_points"`
}

// DefaultStopRule is 1% of price, never less than 5 points
func DefaultStopRule() StopRule {
	return StopRule{
		Mode:      StopModePct,
		Pct:       0.01,
		ATRPeriod: 14,
		ATRMult:   1.5,
		MinPoints: 5.0,
	}
}

// Validate rejects unknown modes, non-finite values and non-positive parameters
// for the chosen mode
func (r StopRule) Validate() error {
	for _, v := range []float64{r.Pct, r.Points, r.ATRMult, r.MinPoints} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("stop parameters must be finite, got %v", v)
		}
	}
	switch r.Mode {
	case StopModePct:
		if r.Pct <= 0 {
			return fmt.Errorf("stop pct must be positive, got %v", r.Pct)
		}
	case StopModePoints:
		if r.Points <= 0 {
			return fmt.Errorf("stop points must be positive, got %v", r.Points)
		}
	case StopModeATR:
		if r.ATRPeriod <= 0 || r.ATRMult <= 0 {
			return fmt.Errorf("atr stop needs positive period and multiplier")
		}
	default:
		return fmt.Errorf("unknown stop mode %q", r.Mode)
	}
	if r.MinPoints < 0 {
		return fmt.Errorf("stop min_points must not be negative, got %v", r.MinPoints)
	}
	return nil
}

// Distance returns the stop distance in index points for ltp. In ATR mode, fewer
// bars than the period fall back to the MinPoints floor.
func (r StopRule) Distance(ltp decimal.Decimal, bars []domain.Bar) (decimal.Decimal, error) {
	var dist decimal.Decimal
	switch r.Mode {
	case StopModePct:
		dist = ltp.Mul(decimal.NewFromFloat(r.Pct))
	case StopModePoints:
		dist = decimal.NewFromFloat(r.Points)
	case StopModeATR:
		atr, err := indicators.CalculateATR(bars, r.ATRPeriod)
		if err != nil {
			return decimal.Zero, err
		}
		if atr.IsValid {
			dist = decimal.NewFromFloat(atr.Value).Mul(decimal.NewFromFloat(r.ATRMult))
		}
	default:
		return decimal.Zero, fmt.Errorf("unknown stop mode %q", r.Mode)
	}
	return decimal.Max(dist, decimal.NewFromFloat(r.MinPoints)), nil
}
