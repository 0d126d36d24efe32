package signals

import (
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/domain/indicators"
)

// Slice is the per-cycle data a detector may inspect. VWAP and CPR are nil when
// the upstream data was not available.
type Slice struct {
	LTP         float64
	VWAP        *float64
	CPR         *indicators.CPR
	OptionChain domain.OptionChainSummary
}

// Detector is a pure evaluator producing one directional opinion per cycle
type Detector interface {
	Name() string
	Detect(index string, slice Slice) domain.SignalOpinion
}

// Detector names used in configuration and signal stacks
const (
	NameOIMomentum = "oi_momentum"
	NameCPRVWAP    = "cpr_vwap"
)
