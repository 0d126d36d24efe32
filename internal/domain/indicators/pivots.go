package indicators

// CPR holds the central pivot range levels
type CPR struct {
	BC    float64 `json:"bc"`
	Pivot float64 `json:"pivot"`
	TC    float64 `json:"tc"`
}

// CalculateCPR derives the central pivot range from the prior session's high, low
// and close. TC is the pivot reflected through BC, so it can sit below BC when the
// close is below the midpoint.
func CalculateCPR(high, low, close float64) CPR {
	pivot := (high + low + close) / 3.0
	bc := (high + low) / 2.0
	tc := 2.0*pivot - bc
	return CPR{BC: bc, Pivot: pivot, TC: tc}
}

// Width returns the absolute distance between the TC and BC bands
func (c CPR) Width() float64 {
	if c.TC > c.BC {
		return c.TC - c.BC
	}
	return c.BC - c.TC
}
