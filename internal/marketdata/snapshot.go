package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/instruments"
)

// Level modes of the snapshot builder
const (
	LevelsDemo    = "demo"
	LevelsSession = "session"
)

// maxSessionBars bounds the bars kept per index; a full NSE session is 375 minutes
const maxSessionBars = 400

// SnapshotBuilder turns ticks into MarketSnapshots. In demo mode the day levels
// are fixed offsets from the tick price; in session mode they are tracked from
// the ticks of each IST trading day. Day levels then describe the previous session,
// or the running session until one has completed, and bars are aggregated for VWAP.
type SnapshotBuilder struct {
	mode        string
	chain       OptionChainProvider
	breadth     BreadthProvider
	barInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	day  string
	high float64
	low  float64
	last float64
	bars []domain.Bar

	// levels of the last completed session, zero until one is seen or seeded
	prior levels
}

type levels struct {
	high, low, close float64
}

func (l levels) known() bool {
	return l.high > 0 && l.low > 0 && l.close > 0
}

// NewSnapshotBuilder creates a builder. chain and breadth default to the neutral providers.
func NewSnapshotBuilder(mode string, chain OptionChainProvider, breadth BreadthProvider) (*SnapshotBuilder, error) {
	switch mode {
	case "":
		mode = LevelsDemo
	case LevelsDemo, LevelsSession:
	default:
		return nil, fmt.Errorf("unknown snapshot level mode %q", mode)
	}
	if chain == nil {
		chain = NeutralProvider{}
	}
	if breadth == nil {
		breadth = NeutralBreadth{}
	}
	return &SnapshotBuilder{
		mode:        mode,
		chain:       chain,
		breadth:     breadth,
		barInterval: time.Minute,
		sessions:    make(map[string]*session),
	}, nil
}

// SetPriorSession seeds the previous session's high, low and close of index for
// session mode. A session completed by the tick stream replaces the seed.
func (b *SnapshotBuilder) SetPriorSession(index string, high, low, lastClose float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sessions[index]
	if s == nil {
		s = &session{}
		b.sessions[index] = s
	}
	s.prior = levels{high: high, low: low, close: lastClose}
}

// Build assembles the snapshot for tick. Unknown symbols are rejected.
func (b *SnapshotBuilder) Build(ctx context.Context, tick Tick) (domain.MarketSnapshot, error) {
	if !instruments.IsKnown(tick.Symbol) {
		return domain.MarketSnapshot{}, fmt.Errorf("snapshot for %q: %w", tick.Symbol, instruments.ErrUnknownSymbol)
	}
	if tick.LTP <= 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("snapshot for %s: non-positive ltp %v", tick.Symbol, tick.LTP)
	}

	snap := domain.MarketSnapshot{
		Index:     tick.Symbol,
		LTP:       tick.LTP,
		Timestamp: tick.Timestamp,
	}

	if b.mode == LevelsDemo {
		snap.DayHigh = tick.LTP + 50
		snap.DayLow = tick.LTP - 50
		snap.PrevClose = tick.LTP - 25
		snap.VWAP = domain.Float(tick.LTP - 10)
	} else {
		b.track(&snap, tick)
	}

	snap.OptionChain = b.chain.Snapshot(ctx, tick.Symbol)
	snap.Breadth = b.breadth.Breadth(ctx, tick.Symbol)
	return snap, nil
}

func (b *SnapshotBuilder) track(snap *domain.MarketSnapshot, tick Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	local := tick.Timestamp.In(instruments.IST)
	day := local.Format("2006-01-02")

	s := b.sessions[tick.Symbol]
	if s == nil {
		s = &session{}
		b.sessions[tick.Symbol] = s
	}
	if s.day != day {
		if s.day != "" && s.last > 0 {
			s.prior = levels{high: s.high, low: s.low, close: s.last}
		}
		s.day = day
		s.high, s.low = tick.LTP, tick.LTP
		s.bars = nil
	}
	if tick.LTP > s.high {
		s.high = tick.LTP
	}
	if tick.LTP < s.low {
		s.low = tick.LTP
	}
	s.last = tick.LTP

	start := local.Truncate(b.barInterval)
	if n := len(s.bars); n > 0 && s.bars[n-1].Time.Equal(start) {
		bar := &s.bars[n-1]
		if tick.LTP > bar.High {
			bar.High = tick.LTP
		}
		if tick.LTP < bar.Low {
			bar.Low = tick.LTP
		}
		bar.Close = tick.LTP
		bar.Volume += tick.Volume
	} else {
		s.bars = append(s.bars, domain.Bar{
			Time: start, Open: tick.LTP, High: tick.LTP, Low: tick.LTP, Close: tick.LTP, Volume: tick.Volume,
		})
		if len(s.bars) > maxSessionBars {
			s.bars = s.bars[len(s.bars)-maxSessionBars:]
		}
	}

	if s.prior.known() {
		snap.DayHigh = s.prior.high
		snap.DayLow = s.prior.low
		snap.PrevClose = s.prior.close
	} else {
		snap.DayHigh = s.high
		snap.DayLow = s.low
		snap.PrevClose = s.last
	}
	snap.Bars = append([]domain.Bar(nil), s.bars...)
}
