package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type subscription struct {
	topic   string
	group   string
	handler MessageHandler
}

// MemoryBus is the in-process bus. Publish delivers synchronously on the
// publisher's goroutine, in subscription order. Handlers may publish.
// Handler errors and panics are logged and never reach the publisher.
type MemoryBus struct {
	metricsCallback MetricsCallback
	retain          int

	mu       sync.RWMutex
	started  bool
	subs     []subscription
	messages map[string][]*Message
	offsets  map[string]int64
	metrics  HealthMetrics
}

// NewMemoryBus creates a bus that retains the last retain messages per topic
func NewMemoryBus(retain int, cb MetricsCallback) *MemoryBus {
	if retain < 0 {
		retain = 0
	}
	return &MemoryBus{
		metricsCallback: cb,
		retain:          retain,
		messages:        make(map[string][]*Message),
		offsets:         make(map[string]int64),
	}
}

// Start marks the bus running
func (b *MemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true
	b.emit("stream_bus_started", 1, nil)
	log.Debug().Msg("memory bus started")
	return nil
}

// Stop marks the bus stopped; later publishes fail with ErrBusNotStarted
func (b *MemoryBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	b.emit("stream_bus_stopped", 1, nil)
	log.Debug().Msg("memory bus stopped")
	return nil
}

// Publish stores the message and hands it to every subscriber of topic
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return ErrBusNotStarted
	}
	offset := b.offsets[topic]
	b.offsets[topic] = offset + 1
	msg := &Message{
		ID:        fmt.Sprintf("%s-%d", topic, offset),
		Topic:     topic,
		Key:       key,
		Payload:   payload,
		Timestamp: time.Now(),
		Offset:    offset,
	}
	if b.retain > 0 {
		kept := append(b.messages[topic], msg)
		if len(kept) > b.retain {
			kept = kept[len(kept)-b.retain:]
		}
		b.messages[topic] = kept
	}
	b.metrics.Published++
	var targets []subscription
	for _, s := range b.subs {
		if s.topic == topic {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	b.emit("stream_publish_total", 1, map[string]string{"topic": topic})

	for _, s := range targets {
		b.call(ctx, s, msg)
	}
	return nil
}

// Subscribe registers handler for topic under group
func (b *MemoryBus) Subscribe(topic, group string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return ErrBusNotStarted
	}

	known := false
	for _, s := range b.subs {
		if s.topic == topic {
			known = true
			break
		}
	}
	if !known {
		b.metrics.ActiveTopics++
	}
	b.subs = append(b.subs, subscription{topic: topic, group: group, handler: handler})
	b.metrics.ActiveConsumers++

	b.emit("stream_subscribe_total", 1, map[string]string{"topic": topic, "group": group})
	log.Debug().Str("topic", topic).Str("group", group).Msg("subscribed")
	return nil
}

func (b *MemoryBus) call(ctx context.Context, s subscription, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			b.countError()
			log.Error().Str("topic", s.topic).Str("group", s.group).Interface("panic", r).Msg("stream handler panic")
		}
	}()

	if err := s.handler(ctx, msg); err != nil {
		b.countError()
		b.emit("stream_handler_error_total", 1, map[string]string{"topic": s.topic, "group": s.group})
		log.Warn().Err(err).Str("topic", s.topic).Str("group", s.group).Msg("stream handler error")
		return
	}

	b.mu.Lock()
	b.metrics.Delivered++
	b.mu.Unlock()
	b.emit("stream_consume_total", 1, map[string]string{"topic": s.topic, "group": s.group})
}

func (b *MemoryBus) countError() {
	b.mu.Lock()
	b.metrics.HandlerErrors++
	b.mu.Unlock()
}

func (b *MemoryBus) emit(metric string, value interface{}, tags map[string]string) {
	if b.metricsCallback != nil {
		b.metricsCallback(metric, value, tags)
	}
}

// Health returns the current bus status
func (b *MemoryBus) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := HealthStatus{
		Healthy:   b.started,
		Status:    "stopped",
		Metrics:   b.metrics,
		LastCheck: time.Now(),
	}
	if b.started {
		status.Status = "running"
	} else {
		status.Errors = append(status.Errors, "bus not started")
	}
	return status
}

// Messages returns the retained messages of topic, oldest first
func (b *MemoryBus) Messages(topic string) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Message, len(b.messages[topic]))
	copy(out, b.messages[topic])
	return out
}
