package stream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stdjson "encoding/json"
	"fmt"
	"time"

	json "github.com/bytedance/sonic"
)

// EnvelopeVersion is the current envelope format
const EnvelopeVersion = 1

// Envelope wraps every bus payload with its kind, origin and an integrity checksum
type Envelope struct {
	Kind      string             `json:"kind"`
	Symbol    string             `json:"symbol,omitempty"`
	Source    string             `json:"source"`
	Timestamp time.Time          `json:"ts"`
	Payload   stdjson.RawMessage `json:"payload"`
	Checksum  string             `json:"checksum"`
	Version   int                `json:"version"`
}

// ComputeChecksum hashes payload||ts||kind||source
func (e *Envelope) ComputeChecksum() string {
	in := fmt.Sprintf("%s||%d||%s||%s", string(e.Payload), e.Timestamp.UnixNano(), e.Kind, e.Source)
	sum := sha256.Sum256([]byte(in))
	return hex.EncodeToString(sum[:])
}

// Validate checks required fields and, when present, the checksum
func (e *Envelope) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("envelope kind is empty")
	}
	if e.Source == "" {
		return fmt.Errorf("envelope source is empty")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope payload is empty")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("envelope timestamp is zero")
	}
	if e.Version <= 0 {
		return fmt.Errorf("envelope version must be positive, got %d", e.Version)
	}
	if e.Checksum != "" && e.Checksum != e.ComputeChecksum() {
		return fmt.Errorf("envelope checksum mismatch")
	}
	return nil
}

// Into decodes the payload into v
func (e *Envelope) Into(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// Encode marshals v into a checksummed envelope
func Encode(kind, symbol, source string, ts time.Time, v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	env := Envelope{
		Kind:      kind,
		Symbol:    symbol,
		Source:    source,
		Timestamp: ts,
		Payload:   payload,
		Version:   EnvelopeVersion,
	}
	env.Checksum = env.ComputeChecksum()
	return json.Marshal(env)
}

// Decode parses and validates an envelope
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// PublishEnvelope encodes v and publishes it on topic keyed by symbol
func PublishEnvelope(ctx context.Context, bus Bus, topic, kind, symbol, source string, ts time.Time, v interface{}) error {
	data, err := Encode(kind, symbol, source, ts, v)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, topic, symbol, data)
}
