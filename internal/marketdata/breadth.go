package marketdata

import (
	"context"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// BreadthProvider returns the market breadth summary for an index
type BreadthProvider interface {
	Breadth(ctx context.Context, index string) domain.Breadth
}

// NeutralBreadth reports no advances, declines or sentiment
type NeutralBreadth struct{}

func (NeutralBreadth) Breadth(context.Context, string) domain.Breadth {
	return domain.Breadth{}
}
