package domain

import "time"

// Broker order lifecycle stages
const (
	StagePlace  = "place"
	StageModify = "modify"
	StageCancel = "cancel"
)

// Broker acknowledgement statuses
const (
	StatusAcknowledged      = "acknowledged"
	StatusRejected          = "rejected"
	StatusTimeout           = "timeout"
	StatusFailoverTriggered = "failover_triggered"
)

// BrokerEvent reports an execution collaborator interaction with a broker
type BrokerEvent struct {
	Stage         string  `json:"stage"`
	Broker        string  `json:"broker"`
	ClientOrderID string  `json:"client_order_id"`
	Status        string  `json:"status"`
	Details       *string `json:"details,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

// NewBrokerEvent builds a validated broker event
func NewBrokerEvent(stage, broker, clientOrderID, status, details string, ts time.Time) (*BrokerEvent, error) {
	ev := &BrokerEvent{
		Stage:         stage,
		Broker:        broker,
		ClientOrderID: clientOrderID,
		Status:        status,
		Timestamp:     FormatTimestamp(ts),
	}
	if details != "" {
		ev.Details = &details
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Validate checks stage, broker, status and timestamp
func (e *BrokerEvent) Validate() error {
	switch e.Stage {
	case StagePlace, StageModify, StageCancel:
	default:
		return invalid("broker_event", "stage", e.Stage, "must be place, modify or cancel")
	}
	if !IsKnownBroker(e.Broker) {
		return invalid("broker_event", "broker", e.Broker, "unknown broker")
	}
	if e.ClientOrderID == "" {
		return invalid("broker_event", "client_order_id", e.ClientOrderID, "must not be empty")
	}
	switch e.Status {
	case StatusAcknowledged, StatusRejected, StatusTimeout, StatusFailoverTriggered:
	default:
		return invalid("broker_event", "status", e.Status, "unknown status")
	}
	return validTimestamp("broker_event", e.Timestamp)
}

// AgentEventType classifies operational events raised by the agent itself
type AgentEventType string

const (
	AgentConfigError      AgentEventType = "config_error"
	AgentHeartbeatLag     AgentEventType = "heartbeat_lag"
	AgentVolSpikeHalt     AgentEventType = "vol_spike_halt"
	AgentCooldownActive   AgentEventType = "cooldown_active"
	AgentFailoverComplete AgentEventType = "failover_complete"
)

// AgentEvent is an operational notice about the agent's own health or state
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	Details   *string        `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// NewAgentEvent builds a validated agent event
func NewAgentEvent(typ AgentEventType, details string, ts time.Time) (*AgentEvent, error) {
	ev := &AgentEvent{Type: typ, Timestamp: FormatTimestamp(ts)}
	if details != "" {
		ev.Details = &details
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Validate checks type and timestamp
func (e *AgentEvent) Validate() error {
	switch e.Type {
	case AgentConfigError, AgentHeartbeatLag, AgentVolSpikeHalt, AgentCooldownActive, AgentFailoverComplete:
	default:
		return invalid("agent_event", "type", e.Type, "unknown agent event type")
	}
	return validTimestamp("agent_event", e.Timestamp)
}
