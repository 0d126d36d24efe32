package domain

// Direction is a detector's directional opinion
type Direction string

const (
	Long        Direction = "LONG"
	Short       Direction = "SHORT"
	NoDirection Direction = "NONE"
)

// Confluence verdict directions
const (
	VerdictBuy  = "BUY"
	VerdictSell = "SELL"
	VerdictNone = "NONE"
)

// MaxStrength is the upper bound of a detector or verdict strength
const MaxStrength = 100

// SignalOpinion is the output of one signal detector
type SignalOpinion struct {
	Detector  string    `json:"detector"`
	Direction Direction `json:"side"`
	Strength  int       `json:"strength"`
	Explain   string    `json:"explain"`
}

// Validate enforces the strength range and the NONE => 0 strength rule
func (o SignalOpinion) Validate() error {
	switch o.Direction {
	case Long, Short:
	case NoDirection:
		if o.Strength != 0 {
			return invalid("signal_opinion", "strength", o.Strength, "must be 0 when side is NONE")
		}
	default:
		return invalid("signal_opinion", "side", o.Direction, "must be LONG, SHORT or NONE")
	}
	if o.Strength < 0 || o.Strength > MaxStrength {
		return invalid("signal_opinion", "strength", o.Strength, "must be within [0, 100]")
	}
	return nil
}

// Neutral returns a NONE opinion for detector with explanation
func Neutral(detector, explain string) SignalOpinion {
	return SignalOpinion{Detector: detector, Direction: NoDirection, Explain: explain}
}

// ConfluenceVerdict is the combined directional view of all detectors
type ConfluenceVerdict struct {
	Direction   string   `json:"direction"`
	Strength    int      `json:"strength"`
	SignalStack []string `json:"signal_stack"`
}

// HasDirection reports whether the verdict calls for a trade
func (v ConfluenceVerdict) HasDirection() bool {
	return v.Direction == VerdictBuy || v.Direction == VerdictSell
}
