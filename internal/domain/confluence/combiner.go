package confluence

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// Combine merges detector opinions by unanimity: BUY only if every opinion is LONG,
// SELL only if every opinion is SHORT, NONE otherwise. One dissenting or neutral
// detector suppresses the trade.
func Combine(opinions []domain.SignalOpinion) domain.ConfluenceVerdict {
	none := domain.ConfluenceVerdict{Direction: domain.VerdictNone, SignalStack: []string{}}
	if len(opinions) == 0 {
		return none
	}

	first := opinions[0].Direction
	if first == domain.NoDirection {
		return none
	}
	unanimous := lo.EveryBy(opinions, func(op domain.SignalOpinion) bool {
		return op.Direction == first
	})
	if !unanimous {
		return none
	}

	total := lo.SumBy(opinions, func(op domain.SignalOpinion) int { return op.Strength })
	direction := domain.VerdictBuy
	if first == domain.Short {
		direction = domain.VerdictSell
	}

	return domain.ConfluenceVerdict{
		Direction: direction,
		Strength:  total / len(opinions),
		SignalStack: lo.Map(opinions, func(op domain.SignalOpinion, _ int) string {
			return fmt.Sprintf("%s:%s", op.Detector, op.Explain)
		}),
	}
}
