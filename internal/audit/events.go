package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/persistence"
)

// EventRecorder writes broker and agent events to the log and, when configured,
// to the JSONL file and the events table. Failures are logged, never returned.
type EventRecorder struct {
	log  *LogSink
	file *FileSink
	repo persistence.EventRepo
}

// NewEventRecorder creates a recorder; file and repo may be nil
func NewEventRecorder(logSink *LogSink, file *FileSink, repo persistence.EventRepo) *EventRecorder {
	if logSink == nil {
		logSink = NewLogSink(log.Logger)
	}
	return &EventRecorder{log: logSink, file: file, repo: repo}
}

// Broker records a broker event
func (r *EventRecorder) Broker(ctx context.Context, ev *domain.BrokerEvent) {
	if err := r.log.RecordBrokerEvent(ev); err != nil {
		log.Warn().Err(err).Msg("broker event log failed")
	}
	if r.file != nil {
		if err := r.file.WriteEvent(KindBrokerEvent, ev); err != nil {
			log.Warn().Err(err).Msg("broker event file write failed")
		}
	}
	if r.repo != nil {
		status := ev.Status
		details := ev.ClientOrderID
		if ev.Details != nil {
			details += " " + *ev.Details
		}
		r.persist(ctx, persistence.EventRecord{
			Timestamp: parseTimestamp(ev.Timestamp),
			Kind:      persistence.KindBroker,
			Type:      ev.Stage,
			Status:    &status,
			Details:   details,
		})
	}
}

// Agent records an agent event
func (r *EventRecorder) Agent(ctx context.Context, ev *domain.AgentEvent) {
	if err := r.log.RecordAgentEvent(ev); err != nil {
		log.Warn().Err(err).Msg("agent event log failed")
	}
	if r.file != nil {
		if err := r.file.WriteEvent(KindAgentEvent, ev); err != nil {
			log.Warn().Err(err).Msg("agent event file write failed")
		}
	}
	if r.repo != nil {
		details := ""
		if ev.Details != nil {
			details = *ev.Details
		}
		r.persist(ctx, persistence.EventRecord{
			Timestamp: parseTimestamp(ev.Timestamp),
			Kind:      persistence.KindAgent,
			Type:      string(ev.Type),
			Details:   details,
		})
	}
}

func (r *EventRecorder) persist(ctx context.Context, rec persistence.EventRecord) {
	if err := r.repo.Insert(ctx, rec); err != nil {
		log.Warn().Err(err).Str("kind", rec.Kind).Str("type", rec.Type).Msg("event persist failed")
	}
}

func parseTimestamp(ts string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Now()
	}
	return t
}
