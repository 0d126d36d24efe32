package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// Record kinds, used as log messages, JSONL kinds and keys of the structured records
const (
	KindAuditSnapshot = "audit_snapshot"
	KindTradeDecision = "trade_decision"
	KindNoTrade       = "no_trade"
	KindBrokerEvent   = "broker_event"
	KindAgentEvent    = "agent_event"
)

// Entry is what a cycle hands to the emitter. Exactly one of Decision and NoTrade is set.
type Entry struct {
	CycleID   string
	Snapshot  domain.MarketSnapshot
	Opinions  []domain.SignalOpinion
	Risk      domain.RiskState
	Decision  *domain.TradeDecision
	NoTrade   *domain.NoTrade
	Debug     map[string]interface{}
	Timestamp time.Time
}

// Record is one emitted cycle: the audit snapshot plus its outcome record
type Record struct {
	Snapshot domain.AuditSnapshot
	Decision *domain.TradeDecision
	NoTrade  *domain.NoTrade
}

// Kind returns the outcome record kind
func (r Record) Kind() string {
	if r.Decision != nil {
		return KindTradeDecision
	}
	return KindNoTrade
}

// Sink receives emitted records
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

// Emitter builds the per-cycle audit snapshot and fans it out to every sink
type Emitter struct {
	sinks []Sink
}

// NewEmitter creates an emitter; with no sinks it logs through a LogSink
func NewEmitter(sinks ...Sink) *Emitter {
	if len(sinks) == 0 {
		sinks = []Sink{NewLogSink(log.Logger)}
	}
	return &Emitter{sinks: sinks}
}

// Sinks returns the configured sink names
func (e *Emitter) Sinks() []string {
	return lo.Map(e.sinks, func(s Sink, _ int) string { return s.Name() })
}

// Emit validates the entry, builds its AuditSnapshot and writes it to every sink.
// A sink failure is logged and does not stop the remaining sinks; only an invalid
// entry is returned as an error.
func (e *Emitter) Emit(ctx context.Context, entry Entry) (domain.AuditSnapshot, error) {
	rec, err := Build(entry)
	if err != nil {
		return domain.AuditSnapshot{}, err
	}

	for _, sink := range e.sinks {
		if err := sink.Write(ctx, rec); err != nil {
			log.Warn().Err(err).
				Str("sink", sink.Name()).
				Str("cycle_id", entry.CycleID).
				Msg("audit sink write failed")
		}
	}
	return rec.Snapshot, nil
}

// Build turns an entry into a validated Record without writing it
func Build(entry Entry) (Record, error) {
	if (entry.Decision == nil) == (entry.NoTrade == nil) {
		return Record{}, fmt.Errorf("audit entry %s must carry exactly one of decision and no_trade", entry.CycleID)
	}

	outcome := ""
	greeks := domain.Greeks{}
	if entry.Decision != nil {
		outcome = entry.Decision.Action
		greeks = entry.Decision.Greeks.Clone()
	} else {
		outcome = string(entry.NoTrade.Reason)
	}

	opinions := append([]domain.SignalOpinion{}, entry.Opinions...)

	snap := domain.AuditSnapshot{
		CycleID:          entry.CycleID,
		Index:            entry.Snapshot.Index,
		LTP:              entry.Snapshot.LTP,
		OCSummary:        entry.Snapshot.OptionChain,
		Breadth:          entry.Snapshot.Breadth,
		SignalStack:      opinions,
		GreeksAtDecision: greeks,
		RiskState:        entry.Risk,
		Outcome:          outcome,
		Timestamp:        domain.FormatTimestamp(entry.Timestamp),
		Debug:            entry.Debug,
	}
	if err := snap.Validate(); err != nil {
		return Record{}, fmt.Errorf("audit snapshot %s: %w", entry.CycleID, err)
	}

	return Record{Snapshot: snap, Decision: entry.Decision, NoTrade: entry.NoTrade}, nil
}
