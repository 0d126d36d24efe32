package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/niftyrun/internal/audit"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/persistence"
)

var ts = time.Date(2025, 9, 22, 10, 15, 0, 0, time.FixedZone("IST", 19800))

func noTradeEntry(t *testing.T) audit.Entry {
	t.Helper()
	nt, err := domain.NewNoTrade(domain.ReasonMixedSignals, ts, false)
	require.NoError(t, err)
	return audit.Entry{
		CycleID:  "cycle-1",
		Snapshot: domain.MarketSnapshot{Index: "NIFTY50", LTP: 24572.3, Timestamp: ts},
		Opinions: []domain.SignalOpinion{
			{Detector: "oi_momentum", Direction: domain.Long, Strength: 70, Explain: "x"},
			domain.Neutral("cpr_vwap", "no cpr/vwap alignment"),
		},
		Risk:      domain.RiskState{Version: 3},
		NoTrade:   nt,
		Timestamp: ts,
	}
}

func decisionEntry(t *testing.T) audit.Entry {
	t.Helper()
	td, err := domain.NewTradeDecision(domain.TradeDecision{
		Index: "NIFTY50", Action: domain.ActionBuyCE, Strike: 24550, OptionType: domain.OptionCE,
		Expiry: "2099-12-31", EntryType: domain.EntryLimit, Entry: 24572.3, StopLoss: 24326.577,
		Lots: 1, ConfidencePct: 72, SignalStack: []string{"a:b"},
		Greeks:    domain.Greeks{Delta: domain.Float(0.5)},
		RiskCheck: "passed", Broker: domain.BrokerAngelOne, Timestamp: domain.FormatTimestamp(ts),
	})
	require.NoError(t, err)
	e := noTradeEntry(t)
	e.NoTrade = nil
	e.Decision = td
	return e
}

type captureSink struct {
	records []audit.Record
	err     error
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Write(_ context.Context, rec audit.Record) error {
	c.records = append(c.records, rec)
	return c.err
}

func TestBuild(t *testing.T) {
	rec, err := audit.Build(noTradeEntry(t))
	require.NoError(t, err)
	assert.Equal(t, "mixed_signals", rec.Snapshot.Outcome)
	assert.Equal(t, audit.KindNoTrade, rec.Kind())
	assert.Len(t, rec.Snapshot.SignalStack, 2)
	assert.Nil(t, rec.Snapshot.GreeksAtDecision.Delta)
	assert.Equal(t, "2025-09-22T10:15:00+05:30", rec.Snapshot.Timestamp)

	entry := decisionEntry(t)
	rec, err = audit.Build(entry)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuyCE, rec.Snapshot.Outcome)
	assert.Equal(t, audit.KindTradeDecision, rec.Kind())
	require.NotNil(t, rec.Snapshot.GreeksAtDecision.Delta)
	assert.Equal(t, 0.5, *rec.Snapshot.GreeksAtDecision.Delta)

	*entry.Decision.Greeks.Delta = 0.8
	assert.Equal(t, 0.5, *rec.Snapshot.GreeksAtDecision.Delta)
}

func TestBuild_Rejects(t *testing.T) {
	e := noTradeEntry(t)
	e.Decision = decisionEntry(t).Decision
	_, err := audit.Build(e)
	assert.Error(t, err, "both outcomes")

	e = noTradeEntry(t)
	e.NoTrade = nil
	_, err = audit.Build(e)
	assert.Error(t, err, "no outcome")

	e = noTradeEntry(t)
	e.Snapshot.Index = "FINNIFTY"
	_, err = audit.Build(e)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEmitter_FansOutAndSurvivesSinkFailure(t *testing.T) {
	failing := &captureSink{err: errors.New("disk full")}
	ok := &captureSink{}
	em := audit.NewEmitter(failing, ok)

	snap, err := em.Emit(context.Background(), noTradeEntry(t))
	require.NoError(t, err)
	assert.Equal(t, "cycle-1", snap.CycleID)
	assert.Len(t, failing.records, 1)
	assert.Len(t, ok.records, 1)
	assert.Equal(t, []string{"capture", "capture"}, em.Sinks())
}

func TestEmitter_InvalidEntryWritesNothing(t *testing.T) {
	sink := &captureSink{}
	em := audit.NewEmitter(sink)

	e := noTradeEntry(t)
	e.NoTrade = nil
	_, err := em.Emit(context.Background(), e)
	assert.Error(t, err)
	assert.Empty(t, sink.records)
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		m := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := audit.NewLogSink(zerolog.New(&buf))
	em := audit.NewEmitter(sink)

	_, err := em.Emit(context.Background(), noTradeEntry(t))
	require.NoError(t, err)

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "no_trade", lines[0]["message"])
	assert.Equal(t, "cycle-1", lines[0]["cycle_id"])
	nt := lines[0]["no_trade"].(map[string]interface{})
	assert.Equal(t, "mixed_signals", nt["reason"])
	assert.Equal(t, false, nt["backtest"])

	assert.Equal(t, "audit_snapshot", lines[1]["message"])
	snap := lines[1]["audit_snapshot"].(map[string]interface{})
	assert.Equal(t, "mixed_signals", snap["outcome"])
	assert.Equal(t, 24572.3, snap["ltp"])
}

func TestLogSink_Events(t *testing.T) {
	var buf bytes.Buffer
	sink := audit.NewLogSink(zerolog.New(&buf))

	ev, err := domain.NewAgentEvent(domain.AgentConfigError, "unknown index", ts)
	require.NoError(t, err)
	require.NoError(t, sink.RecordAgentEvent(ev))

	bev, err := domain.NewBrokerEvent(domain.StagePlace, domain.BrokerAngelOne, "oid-1", domain.StatusAcknowledged, "", ts)
	require.NoError(t, err)
	require.NoError(t, sink.RecordBrokerEvent(bev))

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "error", lines[0]["level"])
	assert.Equal(t, "agent_event", lines[0]["message"])
	assert.Equal(t, "broker_event", lines[1]["message"])
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	sink, err := audit.NewFileSink(path)
	require.NoError(t, err)

	em := audit.NewEmitter(sink)
	_, err = em.Emit(context.Background(), noTradeEntry(t))
	require.NoError(t, err)
	_, err = em.Emit(context.Background(), decisionEntry(t))
	require.NoError(t, err)
	require.NoError(t, sink.WriteEvent(audit.KindAgentEvent, map[string]string{"type": "heartbeat_lag"}))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)

	kinds := make([]string, 0, len(lines))
	for _, l := range lines {
		var m struct {
			Kind    string          `json:"kind"`
			CycleID string          `json:"cycle_id"`
			Data    json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		kinds = append(kinds, m.Kind)
	}
	assert.Equal(t, []string{"no_trade", "audit_snapshot", "trade_decision", "audit_snapshot", "agent_event"}, kinds)

	var td domain.TradeDecision
	var line struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &line))
	require.NoError(t, json.Unmarshal(line.Data, &td))
	assert.NoError(t, td.Validate())
	assert.Equal(t, 24326.577, td.StopLoss)
}

type memAuditRepo struct {
	persistence.AuditRepo
	inserted []persistence.AuditRecord
}

func (m *memAuditRepo) Insert(_ context.Context, rec persistence.AuditRecord) error {
	m.inserted = append(m.inserted, rec)
	return nil
}

func TestRepoSink(t *testing.T) {
	repo := &memAuditRepo{}
	em := audit.NewEmitter(audit.NewRepoSink(repo))

	_, err := em.Emit(context.Background(), decisionEntry(t))
	require.NoError(t, err)

	require.Len(t, repo.inserted, 1)
	rec := repo.inserted[0]
	assert.Equal(t, "cycle-1", rec.CycleID)
	assert.Equal(t, "NIFTY50", rec.Index)
	assert.Equal(t, domain.ActionBuyCE, rec.Outcome)
	assert.True(t, rec.Timestamp.Equal(ts))
	assert.Equal(t, float64(24550), rec.Record["strike"])
	assert.Equal(t, "cycle-1", rec.Payload["cycle_id"])
}

type memEventRepo struct {
	events []persistence.EventRecord
}

func (m *memEventRepo) Insert(_ context.Context, ev persistence.EventRecord) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memEventRepo) ListByKind(context.Context, string, persistence.TimeRange, int) ([]persistence.EventRecord, error) {
	return m.events, nil
}

func TestEventRecorder(t *testing.T) {
	var buf bytes.Buffer
	repo := &memEventRepo{}
	rec := audit.NewEventRecorder(audit.NewLogSink(zerolog.New(&buf)), nil, repo)

	bev, err := domain.NewBrokerEvent(domain.StagePlace, domain.BrokerAngelOne, "oid-1", domain.StatusAcknowledged, "NIFTY25SEP2524550CE x75", ts)
	require.NoError(t, err)
	rec.Broker(context.Background(), bev)

	aev, err := domain.NewAgentEvent(domain.AgentHeartbeatLag, "gap 3.1s", ts)
	require.NoError(t, err)
	rec.Agent(context.Background(), aev)

	require.Len(t, repo.events, 2)
	assert.Equal(t, persistence.KindBroker, repo.events[0].Kind)
	assert.Equal(t, "place", repo.events[0].Type)
	require.NotNil(t, repo.events[0].Status)
	assert.Equal(t, "acknowledged", *repo.events[0].Status)
	assert.Equal(t, "oid-1 NIFTY25SEP2524550CE x75", repo.events[0].Details)

	assert.Equal(t, persistence.KindAgent, repo.events[1].Kind)
	assert.Equal(t, "heartbeat_lag", repo.events[1].Type)
	assert.Equal(t, "gap 3.1s", repo.events[1].Details)
	assert.Len(t, logLines(t, &buf), 2)
}
