package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/niftyrun/internal/instruments"
)

// ErrFeedClosed is returned by Next once a feed has been closed
var ErrFeedClosed = errors.New("market data feed closed")

// HeartbeatLTP is the fixed price emitted by the heartbeat feed
const HeartbeatLTP = 24572.3

// Tick is one last-traded-price update
type Tick struct {
	Symbol    string    `json:"symbol"`
	LTP       float64   `json:"ltp"`
	Volume    float64   `json:"volume,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Feed yields ticks one at a time. Next blocks until a tick is available or ctx is done.
type Feed interface {
	Next(ctx context.Context) (Tick, error)
	Interval() time.Duration
	Close() error
}

// HeartbeatFeed emits a fixed-price tick every interval. It stands in for a
// broker feed in demo runs and tests.
type HeartbeatFeed struct {
	symbol   string
	ltp      float64
	interval time.Duration
	ticker   *time.Ticker
	first    bool
	closed   chan struct{}
	now      func() time.Time
}

// NewHeartbeatFeed creates a heartbeat for symbol
func NewHeartbeatFeed(symbol string, interval time.Duration) *HeartbeatFeed {
	if symbol == "" {
		symbol = instruments.NIFTY50
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &HeartbeatFeed{
		symbol:   symbol,
		ltp:      HeartbeatLTP,
		interval: interval,
		ticker:   time.NewTicker(interval),
		first:    true,
		closed:   make(chan struct{}),
		now:      time.Now,
	}
}

// WithLTP overrides the emitted price
func (f *HeartbeatFeed) WithLTP(ltp float64) *HeartbeatFeed {
	f.ltp = ltp
	return f
}

// Next returns immediately on the first call, then once per interval
func (f *HeartbeatFeed) Next(ctx context.Context) (Tick, error) {
	if f.first {
		f.first = false
		return f.tick(), nil
	}
	select {
	case <-ctx.Done():
		return Tick{}, ctx.Err()
	case <-f.closed:
		return Tick{}, ErrFeedClosed
	case <-f.ticker.C:
		return f.tick(), nil
	}
}

func (f *HeartbeatFeed) tick() Tick {
	return Tick{Symbol: f.symbol, LTP: f.ltp, Timestamp: f.now()}
}

func (f *HeartbeatFeed) Interval() time.Duration { return f.interval }

// Close stops the feed; pending and later Next calls return ErrFeedClosed
func (f *HeartbeatFeed) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
		f.ticker.Stop()
	}
	return nil
}

// SliceFeed replays a fixed list of ticks, then blocks until ctx is done
type SliceFeed struct {
	ticks    []Tick
	pos      int
	interval time.Duration
}

// NewSliceFeed creates a replay feed
func NewSliceFeed(interval time.Duration, ticks ...Tick) *SliceFeed {
	return &SliceFeed{ticks: ticks, interval: interval}
}

func (f *SliceFeed) Next(ctx context.Context) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return Tick{}, err
	}
	if f.pos < len(f.ticks) {
		t := f.ticks[f.pos]
		f.pos++
		return t, nil
	}
	<-ctx.Done()
	return Tick{}, ctx.Err()
}

func (f *SliceFeed) Interval() time.Duration { return f.interval }

func (f *SliceFeed) Close() error { return nil }
