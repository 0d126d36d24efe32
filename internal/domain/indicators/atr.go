package indicators

import (
	"fmt"

	"github.com/cinar/indicator"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// ATRResult is the latest average true range over a bar series
type ATRResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateATR returns the most recent ATR of bars. Fewer than period bars
// yields an invalid result rather than an error.
func CalculateATR(bars []domain.Bar, period int) (ATRResult, error) {
	if period <= 0 {
		return ATRResult{}, fmt.Errorf("atr: period must be positive, got %d", period)
	}
	if len(bars) < period {
		return ATRResult{Period: period, DataCount: len(bars)}, nil
	}

	high := make([]float64, len(bars))
	low := make([]float64, len(bars))
	closing := make([]float64, len(bars))
	for i, b := range bars {
		high[i], low[i], closing[i] = b.High, b.Low, b.Close
	}

	_, atr := indicator.Atr(period, high, low, closing)
	if len(atr) == 0 {
		return ATRResult{Period: period, DataCount: len(bars)}, nil
	}

	return ATRResult{
		Value:     atr[len(atr)-1],
		Period:    period,
		IsValid:   true,
		DataCount: len(bars),
	}, nil
}
