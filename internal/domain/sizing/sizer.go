package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/niftyrun/internal/instruments"
)

// Result is the outcome of a risk-budget sizing
type Result struct {
	Lots       int             `json:"lots"`
	RiskBudget decimal.Decimal `json:"risk_budget"`
	PerLotRisk decimal.Decimal `json:"per_lot_risk"`
	LotSize    int             `json:"lot_size"`
	StopPoints decimal.Decimal `json:"stop_points"`
	PointValue decimal.Decimal `json:"point_value"`
	Undersized bool            `json:"undersized"`
}

// LotsForRisk converts a risk budget and a stop distance into whole lots.
//
//	budget  = capital * perTradeRiskPct
//	perLot  = stopPoints * lotSize * pointValue
//	lots    = floor(budget / perLot), 0 when perLot <= 0, never negative
//
// A lots value of zero is a normal outcome. An unknown index is a configuration fault.
func LotsForRisk(index string, capital, perTradeRiskPct, stopPoints, pointValue decimal.Decimal) (Result, error) {
	lotSize, err := instruments.LotSize(index)
	if err != nil {
		return Result{}, fmt.Errorf("sizing %s: %w", index, err)
	}

	budget := capital.Mul(perTradeRiskPct)
	perLot := stopPoints.Mul(decimal.NewFromInt(int64(lotSize))).Mul(pointValue)

	lots := int64(0)
	if perLot.IsPositive() {
		lots = budget.Div(perLot).Floor().IntPart()
	}
	if lots < 0 {
		lots = 0
	}

	return Result{
		Lots:       int(lots),
		RiskBudget: budget,
		PerLotRisk: perLot,
		LotSize:    lotSize,
		StopPoints: stopPoints,
		PointValue: pointValue,
		Undersized: lots < 1,
	}, nil
}

// LotsForRiskFloat is LotsForRisk for float inputs. NaN or infinite inputs are
// rejected before conversion.
func LotsForRiskFloat(index string, capital, perTradeRiskPct, stopPoints, pointValue float64) (Result, error) {
	for _, v := range []float64{capital, perTradeRiskPct, stopPoints, pointValue} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{}, fmt.Errorf("sizing %s: non-finite input %v", index, v)
		}
	}
	return LotsForRisk(index,
		decimal.NewFromFloat(capital),
		decimal.NewFromFloat(perTradeRiskPct),
		decimal.NewFromFloat(stopPoints),
		decimal.NewFromFloat(pointValue),
	)
}

// Quantity returns the contract quantity for the sized lots
func (r Result) Quantity() int {
	return r.Lots * r.LotSize
}
