package indicators

import (
	"errors"
	"fmt"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// ErrNoPrices is returned by CalculateVWAP for empty input
var ErrNoPrices = errors.New("vwap: no prices")

// CalculateVWAP returns sum(price*volume)/sum(volume). When the total volume is zero
// the last price is returned.
func CalculateVWAP(prices, volumes []float64) (float64, error) {
	if len(prices) == 0 {
		return 0, ErrNoPrices
	}
	if len(prices) != len(volumes) {
		return 0, fmt.Errorf("vwap: %d prices but %d volumes", len(prices), len(volumes))
	}

	var pv, v float64
	for i := range prices {
		pv += prices[i] * volumes[i]
		v += volumes[i]
	}
	if v == 0 {
		return prices[len(prices)-1], nil
	}
	return pv / v, nil
}

// TypicalPrice returns (high+low+close)/3 for a bar
func TypicalPrice(b domain.Bar) float64 {
	return (b.High + b.Low + b.Close) / 3.0
}

// SessionVWAP computes the VWAP of bars using their typical prices
func SessionVWAP(bars []domain.Bar) (float64, error) {
	prices := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		prices[i] = TypicalPrice(b)
		volumes[i] = b.Volume
	}
	return CalculateVWAP(prices, volumes)
}
