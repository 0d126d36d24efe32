package sizing_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/domain/sizing"
	"github.com/sawpanic/niftyrun/internal/instruments"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLotsForRisk(t *testing.T) {
	tests := []struct {
		name       string
		index      string
		capital    string
		pct        string
		stop       string
		pointValue string
		lots       int
		budget     string
		perLot     string
	}{
		{"small account five point stop", "NIFTY50", "17000", "0.01", "5", "1", 0, "170", "375"},
		{"small account pct stop", "NIFTY50", "17000", "0.01", "245.723", "1", 0, "170", "18429.225"},
		{"large account one lot", "NIFTY50", "2000000", "0.01", "245.723", "1", 1, "20000", "18429.225"},
		{"exact multiple", "NIFTY50", "75000", "0.02", "10", "1", 2, "1500", "750"},
		{"banknifty lot 15", "BANKNIFTY", "100000", "0.01", "20", "1", 3, "1000", "300"},
		{"zero stop", "NIFTY50", "2000000", "0.01", "0", "1", 0, "20000", "0"},
		{"negative stop", "NIFTY50", "2000000", "0.01", "-5", "1", 0, "20000", "-375"},
		{"zero point value", "NIFTY50", "2000000", "0.01", "5", "0", 0, "20000", "0"},
		{"negative capital", "NIFTY50", "-5000", "0.01", "5", "1", 0, "-50", "375"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := sizing.LotsForRisk(tt.index, dec(tt.capital), dec(tt.pct), dec(tt.stop), dec(tt.pointValue))
			require.NoError(t, err)

			assert.Equal(t, tt.lots, res.Lots)
			assert.True(t, dec(tt.budget).Equal(res.RiskBudget), "budget %s", res.RiskBudget)
			assert.True(t, dec(tt.perLot).Equal(res.PerLotRisk), "per lot %s", res.PerLotRisk)
			assert.Equal(t, tt.lots < 1, res.Undersized)
		})
	}
}

func TestLotsForRisk_UnknownIndexIsFatal(t *testing.T) {
	_, err := sizing.LotsForRiskFloat("FINNIFTY", 17000, 0.01, 5, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, instruments.ErrUnknownSymbol)
}

func TestLotsForRiskFloat(t *testing.T) {
	res, err := sizing.LotsForRiskFloat("NIFTY50", 17000, 0.01, 5.0, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Lots)
	assert.Equal(t, "170", res.RiskBudget.String())
	assert.Equal(t, "375", res.PerLotRisk.String())
	assert.Equal(t, 0, res.Quantity())
}

func TestLotsForRiskFloat_NonFinite(t *testing.T) {
	_, err := sizing.LotsForRiskFloat("NIFTY50", 17000, math.NaN(), 5.0, 1.0)
	assert.Error(t, err)
	_, err = sizing.LotsForRiskFloat("NIFTY50", math.Inf(1), 0.01, 5.0, 1.0)
	assert.Error(t, err)
}

func TestStopRule_Distance(t *testing.T) {
	rule := sizing.DefaultStopRule()

	d, err := rule.Distance(dec("24572.3"), nil)
	require.NoError(t, err)
	assert.Equal(t, "245.723", d.String())

	// 1% of 300 is below the 5 point floor
	d, err = rule.Distance(dec("300"), nil)
	require.NoError(t, err)
	assert.Equal(t, "5", d.String())

	points := sizing.StopRule{Mode: sizing.StopModePoints, Points: 40, MinPoints: 5}
	d, err = points.Distance(dec("24572.3"), nil)
	require.NoError(t, err)
	assert.Equal(t, "40", d.String())
}

func TestStopRule_ATR(t *testing.T) {
	rule := sizing.StopRule{Mode: sizing.StopModeATR, ATRPeriod: 3, ATRMult: 1.5, MinPoints: 1}

	bars := make([]domain.Bar, 10)
	for i := range bars {
		bars[i] = domain.Bar{High: 110, Low: 90, Close: 100}
	}
	d, err := rule.Distance(dec("100"), bars)
	require.NoError(t, err)
	assert.True(t, d.GreaterThan(dec("1")))

	// not enough bars falls back to the floor
	d, err = rule.Distance(dec("100"), bars[:1])
	require.NoError(t, err)
	assert.Equal(t, "1", d.String())
}

func TestStopRule_Validate(t *testing.T) {
	assert.NoError(t, sizing.DefaultStopRule().Validate())
	assert.Error(t, sizing.StopRule{Mode: "trailing"}.Validate())
	assert.Error(t, sizing.StopRule{Mode: sizing.StopModePct}.Validate())
	assert.Error(t, sizing.StopRule{Mode: sizing.StopModePoints, Points: 10, MinPoints: -1}.Validate())
	assert.Error(t, sizing.StopRule{Mode: sizing.StopModePct, Pct: math.NaN(), MinPoints: 5}.Validate())
	assert.Error(t, sizing.StopRule{Mode: sizing.StopModePoints, Points: 10, MinPoints: math.Inf(1)}.Validate())
	assert.Error(t, sizing.StopRule{Mode: sizing.StopModeATR, ATRPeriod: 14, ATRMult: math.Inf(1)}.Validate())
}
