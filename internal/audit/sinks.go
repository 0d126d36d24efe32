package audit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/persistence"
)

// LogSink writes structured records through zerolog
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log sink on logger
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

// Write logs the outcome record followed by the audit snapshot
func (s *LogSink) Write(_ context.Context, rec Record) error {
	var err error
	if rec.Decision != nil {
		err = s.RecordDecision(rec.Snapshot.CycleID, rec.Decision)
	} else {
		err = s.RecordNoTrade(rec.Snapshot.CycleID, rec.NoTrade)
	}
	if err != nil {
		return err
	}
	return s.emit(zerolog.InfoLevel, KindAuditSnapshot, rec.Snapshot.CycleID, rec.Snapshot)
}

// RecordDecision logs a trade_decision record
func (s *LogSink) RecordDecision(cycleID string, td *domain.TradeDecision) error {
	return s.emit(zerolog.InfoLevel, KindTradeDecision, cycleID, td)
}

// RecordNoTrade logs a no_trade record
func (s *LogSink) RecordNoTrade(cycleID string, nt *domain.NoTrade) error {
	return s.emit(zerolog.InfoLevel, KindNoTrade, cycleID, nt)
}

// RecordBrokerEvent logs a broker_event record
func (s *LogSink) RecordBrokerEvent(ev *domain.BrokerEvent) error {
	return s.emit(zerolog.InfoLevel, KindBrokerEvent, "", ev)
}

// RecordAgentEvent logs an agent_event record; config errors are logged at error level
func (s *LogSink) RecordAgentEvent(ev *domain.AgentEvent) error {
	level := zerolog.WarnLevel
	if ev.Type == domain.AgentConfigError {
		level = zerolog.ErrorLevel
	}
	return s.emit(level, KindAgentEvent, "", ev)
}

func (s *LogSink) emit(level zerolog.Level, kind, cycleID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	ev := s.logger.WithLevel(level)
	if cycleID != "" {
		ev = ev.Str("cycle_id", cycleID)
	}
	ev.RawJSON(kind, data).Msg(kind)
	return nil
}

// jsonLine is one JSONL line written by FileSink
type jsonLine struct {
	Kind    string      `json:"kind"`
	CycleID string      `json:"cycle_id,omitempty"`
	Data    interface{} `json:"data"`
}

// FileSink appends records as JSON lines
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// NewFileSink opens path for appending, creating parent directories
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
	}
	return &FileSink{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

func (s *FileSink) Name() string { return "jsonl:" + s.path }

// Write appends the outcome line and the snapshot line and flushes
func (s *FileSink) Write(_ context.Context, rec Record) error {
	var outcome interface{} = rec.NoTrade
	if rec.Decision != nil {
		outcome = rec.Decision
	}
	lines := []jsonLine{
		{Kind: rec.Kind(), CycleID: rec.Snapshot.CycleID, Data: outcome},
		{Kind: KindAuditSnapshot, CycleID: rec.Snapshot.CycleID, Data: rec.Snapshot},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		if err := s.writeLine(line); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

// WriteEvent appends a broker or agent event line
func (s *FileSink) WriteEvent(kind string, ev interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLine(jsonLine{Kind: kind, Data: ev}); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *FileSink) writeLine(line jsonLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal %s line: %w", line.Kind, err)
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit file: %w", err)
	}
	return nil
}

// Close flushes and closes the file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// RepoSink persists records through an AuditRepo
type RepoSink struct {
	repo persistence.AuditRepo
}

// NewRepoSink creates a repository-backed sink
func NewRepoSink(repo persistence.AuditRepo) *RepoSink {
	return &RepoSink{repo: repo}
}

func (s *RepoSink) Name() string { return "postgres" }

// Write inserts one row for the cycle
func (s *RepoSink) Write(ctx context.Context, rec Record) error {
	ts, err := time.Parse(time.RFC3339Nano, rec.Snapshot.Timestamp)
	if err != nil {
		return fmt.Errorf("audit timestamp: %w", err)
	}

	payload, err := toMap(rec.Snapshot)
	if err != nil {
		return err
	}
	var outcome interface{} = rec.NoTrade
	backtest := false
	if rec.Decision != nil {
		outcome = rec.Decision
		backtest = rec.Decision.Backtest
	} else if rec.NoTrade != nil {
		backtest = rec.NoTrade.Backtest
	}
	record, err := toMap(outcome)
	if err != nil {
		return err
	}

	return s.repo.Insert(ctx, persistence.AuditRecord{
		CycleID:   rec.Snapshot.CycleID,
		Timestamp: ts,
		Index:     rec.Snapshot.Index,
		LTP:       rec.Snapshot.LTP,
		Outcome:   rec.Snapshot.Outcome,
		Backtest:  backtest,
		Payload:   payload,
		Record:    record,
	})
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode audit payload: %w", err)
	}
	return out, nil
}
