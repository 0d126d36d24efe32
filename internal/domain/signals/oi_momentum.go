package signals

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// OIMomentumConfig parameterizes the open-interest momentum detector
type OIMomentumConfig struct {
	MinOIDelta5mPct float64 `yaml:"min_oi_delta_5m_pct"`
}

// DefaultOIMomentumConfig returns the detector defaults
func DefaultOIMomentumConfig() OIMomentumConfig {
	return OIMomentumConfig{MinOIDelta5mPct: 5.0}
}

const (
	oiMomentumStrength = 70
	callUnwindPrefix   = "CE_unwind"
)

// OIMomentum goes long when the option chain shows call writers unwinding
type OIMomentum struct {
	config OIMomentumConfig
}

// NewOIMomentum creates the detector
func NewOIMomentum(config OIMomentumConfig) *OIMomentum {
	return &OIMomentum{config: config}
}

func (d *OIMomentum) Name() string { return NameOIMomentum }

// Detect emits LONG when the OI trend descriptor starts with CE_unwind
func (d *OIMomentum) Detect(index string, slice Slice) domain.SignalOpinion {
	trend := "None"
	if slice.OptionChain.OITrend != nil {
		trend = *slice.OptionChain.OITrend
	}
	explain := fmt.Sprintf("oi_delta>=~%s%%, trend=%s", formatPct(d.config.MinOIDelta5mPct), trend)

	if strings.HasPrefix(slice.OptionChain.Trend(), callUnwindPrefix) {
		return domain.SignalOpinion{
			Detector:  d.Name(),
			Direction: domain.Long,
			Strength:  oiMomentumStrength,
			Explain:   explain,
		}
	}
	return domain.Neutral(d.Name(), explain)
}

// formatPct prints a threshold the way it reads in config: 5.0 stays 5.0, 7.25 stays 7.25
func formatPct(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
