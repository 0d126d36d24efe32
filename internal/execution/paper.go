package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/niftyrun/internal/audit"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/instruments"
	"github.com/sawpanic/niftyrun/internal/riskstate"
	"github.com/sawpanic/niftyrun/internal/stream"
)

// ConsumerGroup is the bus group the paper executor subscribes under
const ConsumerGroup = "paper_execution"

// PositionPublisher applies risk state updates; *riskstate.Publisher satisfies it
type PositionPublisher interface {
	Submit(ctx context.Context, update riskstate.Update) (domain.RiskState, error)
}

// Order is a simulated order placed for a decision
type Order struct {
	ClientOrderID string    `json:"client_order_id"`
	Broker        string    `json:"broker"`
	TradingSymbol string    `json:"tradingsymbol"`
	Quantity      int       `json:"quantity"`
	Price         float64   `json:"price"`
	StopLoss      float64   `json:"stop_loss"`
	EntryType     string    `json:"entry_type"`
	PlacedAt      time.Time `json:"placed_at"`
}

// PaperOptions wires a PaperExecutor
type PaperOptions struct {
	Events    *audit.EventRecorder
	Bus       stream.Bus
	Positions PositionPublisher
	NewID     func() string
	Now       func() time.Time
}

// PaperExecutor acknowledges every valid decision without touching a broker.
// Each placement emits a place/acknowledged BrokerEvent and adds one open position.
type PaperExecutor struct {
	events    *audit.EventRecorder
	bus       stream.Bus
	positions PositionPublisher
	newID     func() string
	now       func() time.Time

	mu     sync.Mutex
	orders []Order
}

// NewPaperExecutor creates an executor
func NewPaperExecutor(opts PaperOptions) *PaperExecutor {
	if opts.Events == nil {
		opts.Events = audit.NewEventRecorder(nil, nil, nil)
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PaperExecutor{
		events:    opts.Events,
		bus:       opts.Bus,
		positions: opts.Positions,
		newID:     opts.NewID,
		now:       opts.Now,
	}
}

// Subscribe attaches the executor to the decisions topic of bus
func (e *PaperExecutor) Subscribe(bus stream.Bus) error {
	return bus.Subscribe(stream.TopicDecisions, ConsumerGroup, e.handle)
}

func (e *PaperExecutor) handle(ctx context.Context, msg *stream.Message) error {
	env, err := stream.Decode(msg.Payload)
	if err != nil {
		return err
	}
	if env.Kind != audit.KindTradeDecision {
		return nil
	}
	var td domain.TradeDecision
	if err := env.Into(&td); err != nil {
		return err
	}
	_, err = e.Place(ctx, &td)
	return err
}

// Place simulates the entry order for td
func (e *PaperExecutor) Place(ctx context.Context, td *domain.TradeDecision) (Order, error) {
	id := e.newID()
	now := e.now()

	order, err := e.build(td, id, now)
	if err != nil {
		e.brokerEvent(ctx, td.Broker, id, domain.StatusRejected, err.Error(), now)
		return Order{}, err
	}

	details := fmt.Sprintf("BUY %s qty %d @ %.1f %s", order.TradingSymbol, order.Quantity, order.Price, order.EntryType)
	e.brokerEvent(ctx, order.Broker, id, domain.StatusAcknowledged, details, now)

	e.mu.Lock()
	e.orders = append(e.orders, order)
	e.mu.Unlock()

	if e.positions != nil {
		state, err := e.positions.Submit(ctx, riskstate.AddPositions(1))
		if err != nil {
			return order, fmt.Errorf("publish open position: %w", err)
		}
		log.Info().
			Str("client_order_id", id).
			Int("open_positions", state.OpenPositions).
			Uint64("risk_version", state.Version).
			Msg("paper position opened")
	}
	return order, nil
}

func (e *PaperExecutor) build(td *domain.TradeDecision, id string, now time.Time) (Order, error) {
	if err := td.Validate(); err != nil {
		return Order{}, fmt.Errorf("invalid decision: %w", err)
	}
	if td.Action != domain.ActionBuyCE && td.Action != domain.ActionBuyPE {
		return Order{}, fmt.Errorf("paper executor cannot place %s", td.Action)
	}
	expiry, err := time.ParseInLocation("2006-01-02", td.Expiry, instruments.IST)
	if err != nil {
		return Order{}, fmt.Errorf("parse expiry %q: %w", td.Expiry, err)
	}
	symbol, err := instruments.TradingSymbol(td.Index, expiry, td.Strike, td.OptionType)
	if err != nil {
		return Order{}, err
	}
	lotSize, err := instruments.LotSize(td.Index)
	if err != nil {
		return Order{}, err
	}
	return Order{
		ClientOrderID: id,
		Broker:        td.Broker,
		TradingSymbol: symbol,
		Quantity:      td.Lots * lotSize,
		Price:         td.Entry,
		StopLoss:      td.StopLoss,
		EntryType:     td.EntryType,
		PlacedAt:      now,
	}, nil
}

func (e *PaperExecutor) brokerEvent(ctx context.Context, broker, id, status, details string, ts time.Time) {
	if !domain.IsKnownBroker(broker) {
		broker = domain.BrokerAngelOne
	}
	ev, err := domain.NewBrokerEvent(domain.StagePlace, broker, id, status, details, ts)
	if err != nil {
		log.Warn().Err(err).Str("client_order_id", id).Msg("broker event rejected")
		return
	}
	e.events.Broker(ctx, ev)
	if e.bus == nil {
		return
	}
	if err := stream.PublishEnvelope(ctx, e.bus, stream.TopicBrokerEvents, audit.KindBrokerEvent, "", "paper", ts, ev); err != nil {
		log.Warn().Err(err).Str("client_order_id", id).Msg("broker event publish failed")
	}
}

// Orders returns the orders placed so far
func (e *PaperExecutor) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Order(nil), e.orders...)
}
