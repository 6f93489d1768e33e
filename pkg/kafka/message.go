package kafka

import (
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// RepresentativeEvent is one representative lifecycle event on the topic
type RepresentativeEvent struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	SchemaVersion  string          `json:"schema_version"`
	CanonicalID    string          `json:"canonical_id"`
	RunID          string          `json:"run_id,omitempty"`
	Version        int             `json:"version"`
	CurrentStatus  string          `json:"current_status,omitempty"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`

	// TraceParent is sent as a header, not in the body
	TraceParent string `json:"-"`
}

// toMessage encodes the event. The canonical ID is the key so every event for
// one representative lands on the same partition in order.
func (e *RepresentativeEvent) toMessage(topic string) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(e.EventType)},
		{Key: "schema_version", Value: []byte(e.SchemaVersion)},
	}
	if e.RunID != "" {
		headers = append(headers, kafka.Header{Key: "run_id", Value: []byte(e.RunID)})
	}
	if e.TraceParent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(e.TraceParent)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(e.CanonicalID),
		Value:   data,
		Headers: headers,
	}, nil
}

// Header returns the value of the named header, or "" when absent
func Header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
