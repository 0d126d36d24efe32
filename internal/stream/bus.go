package stream

import (
	"context"
	"errors"
	"time"
)

// Topics carried by the bus
const (
	TopicDecisions    = "decisions"
	TopicAgentEvents  = "agent_events"
	TopicBrokerEvents = "broker_events"
)

// Bus publishes and delivers messages between the decision core and its collaborators
type Bus interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Subscribe(topic, group string, handler MessageHandler) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() HealthStatus
}

// Message is a single delivered message
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Key       string            `json:"key"`
	Payload   []byte            `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Offset    int64             `json:"offset"`
}

// MessageHandler processes a delivered message
type MessageHandler func(ctx context.Context, message *Message) error

// HealthStatus reports the state of the bus
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Status    string        `json:"status"`
	Errors    []string      `json:"errors,omitempty"`
	Metrics   HealthMetrics `json:"metrics"`
	LastCheck time.Time     `json:"last_check"`
}

// HealthMetrics are the running counters of the bus
type HealthMetrics struct {
	ActiveTopics    int   `json:"active_topics"`
	ActiveConsumers int   `json:"active_consumers"`
	Published       int64 `json:"published"`
	Delivered       int64 `json:"delivered"`
	HandlerErrors   int64 `json:"handler_errors"`
}

// MetricsCallback is called for every bus metric sample
type MetricsCallback func(metric string, value interface{}, tags map[string]string)

var (
	ErrBusNotStarted = errors.New("bus not started")
	ErrInvalidTopic  = errors.New("invalid topic")
)
