package signals

import "github.com/sawpanic/niftyrun/internal/domain"

// CPRVWAPConfig parameterizes the CPR/VWAP detector
type CPRVWAPConfig struct {
	RequireAboveVWAPForLongs bool `yaml:"require_above_vwap_for_longs"`
}

// DefaultCPRVWAPConfig returns the detector defaults
func DefaultCPRVWAPConfig() CPRVWAPConfig {
	return CPRVWAPConfig{RequireAboveVWAPForLongs: true}
}

const (
	cprVWAPStrength = 75
	explainAligned  = "above VWAP & above CPR-TC"
	explainNotAlign = "no cpr/vwap alignment"
)

// CPRVWAP goes long when price trades above both VWAP and the CPR top band
type CPRVWAP struct {
	config CPRVWAPConfig
}

// NewCPRVWAP creates the detector
func NewCPRVWAP(config CPRVWAPConfig) *CPRVWAP {
	return &CPRVWAP{config: config}
}

func (d *CPRVWAP) Name() string { return NameCPRVWAP }

// Detect returns NONE when VWAP or CPR is unavailable
func (d *CPRVWAP) Detect(index string, slice Slice) domain.SignalOpinion {
	if slice.VWAP == nil || slice.CPR == nil {
		return domain.Neutral(d.Name(), explainNotAlign)
	}

	aboveVWAP := slice.LTP > *slice.VWAP
	aboveTC := slice.LTP > slice.CPR.TC
	if d.config.RequireAboveVWAPForLongs && aboveVWAP && aboveTC {
		return domain.SignalOpinion{
			Detector:  d.Name(),
			Direction: domain.Long,
			Strength:  cprVWAPStrength,
			Explain:   explainAligned,
		}
	}
	return domain.Neutral(d.Name(), explainNotAlign)
}
