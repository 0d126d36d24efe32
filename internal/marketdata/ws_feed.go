package marketdata

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wireTick is the JSON tick frame. ts is epoch seconds.
type wireTick struct {
	Symbol string  `json:"symbol"`
	LTP    float64 `json:"ltp"`
	Volume float64 `json:"volume"`
	TS     float64 `json:"ts"`
}

type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// WSFeed streams ticks from a websocket endpoint. A reader goroutine decodes
// frames into a bounded buffer and reconnects with backoff on read errors.
type WSFeed struct {
	url      string
	symbols  []string
	interval time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	ticks     chan Tick
	closeCh   chan struct{}
	closeOnce sync.Once
	started   bool
}

// NewWSFeed creates a feed for symbols on rawURL
func NewWSFeed(rawURL string, symbols []string, interval time.Duration) (*WSFeed, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("invalid WebSocket URL %q", rawURL)
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &WSFeed{
		url:      rawURL,
		symbols:  symbols,
		interval: interval,
		ticks:    make(chan Tick, 256),
		closeCh:  make(chan struct{}),
	}, nil
}

// Connect dials the endpoint, subscribes and starts the reader
func (f *WSFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if err := f.dialLocked(ctx); err != nil {
		return err
	}
	f.started = true
	go f.readLoop()
	return nil
}

func (f *WSFeed) dialLocked(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	log.Info().Str("url", f.url).Strs("symbols", f.symbols).Msg("Connecting market data feed")
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}

	data, err := json.Marshal(subscribeRequest{Action: "subscribe", Symbols: f.symbols})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send subscription: %w", err)
	}
	f.conn = conn
	return nil
}

// Next returns the next decoded tick, connecting on first use
func (f *WSFeed) Next(ctx context.Context) (Tick, error) {
	if err := f.Connect(ctx); err != nil {
		return Tick{}, err
	}
	select {
	case <-ctx.Done():
		return Tick{}, ctx.Err()
	case <-f.closeCh:
		return Tick{}, ErrFeedClosed
	case t := <-f.ticks:
		return t, nil
	}
}

func (f *WSFeed) Interval() time.Duration { return f.interval }

// Close stops the reader and closes the connection
func (f *WSFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.closeCh)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.conn != nil {
			err = f.conn.Close()
			f.conn = nil
		}
		log.Info().Msg("Market data feed closed")
	})
	return err
}

func (f *WSFeed) readLoop() {
	backoff := time.Second
	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(10 * f.interval))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.closeCh:
				return
			default:
			}
			log.Warn().Err(err).Msg("Market data feed read error, reconnecting")
			if !f.reconnect(&backoff) {
				return
			}
			continue
		}
		backoff = time.Second

		if messageType != websocket.TextMessage {
			continue
		}
		tick, ok := decodeTick(data)
		if !ok {
			log.Debug().RawJSON("message", data).Msg("Ignoring non-tick feed message")
			continue
		}
		select {
		case f.ticks <- tick:
		default:
			// buffer full: drop the oldest so the consumer sees fresh prices
			select {
			case <-f.ticks:
			default:
			}
			f.ticks <- tick
		}
	}
}

func (f *WSFeed) reconnect(backoff *time.Duration) bool {
	for {
		select {
		case <-f.closeCh:
			return false
		case <-time.After(*backoff):
		}

		f.mu.Lock()
		if f.conn != nil {
			f.conn.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := f.dialLocked(ctx)
		cancel()
		if err == nil {
			select {
			case <-f.closeCh:
				f.conn.Close()
				f.conn = nil
				f.mu.Unlock()
				return false
			default:
			}
		}
		f.mu.Unlock()

		if err == nil {
			return true
		}
		log.Warn().Err(err).Dur("backoff", *backoff).Msg("Market data feed reconnect failed")
		*backoff = time.Duration(math.Min(float64(*backoff*2), float64(30*time.Second)))
	}
}

func decodeTick(data []byte) (Tick, bool) {
	var w wireTick
	if err := json.Unmarshal(data, &w); err != nil {
		return Tick{}, false
	}
	if w.Symbol == "" || w.LTP <= 0 {
		return Tick{}, false
	}
	ts := time.Now()
	if w.TS > 0 {
		sec, frac := math.Modf(w.TS)
		ts = time.Unix(int64(sec), int64(frac*1e9))
	}
	return Tick{Symbol: w.Symbol, LTP: w.LTP, Volume: w.Volume, Timestamp: ts}, true
}
