// Package redisevents publishes saga lifecycle events to a Redis stream.
package redisevents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fortressi/sagaorch"
	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream events are appended to when none is set.
const DefaultStream = "saga:events"

// Sink appends each event as JSON under the field "data".
type Sink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// Option configures a Sink.
type Option func(*Sink)

// WithMaxLen caps the stream at roughly n entries. Zero keeps every entry.
func WithMaxLen(n int64) Option {
	return func(s *Sink) { s.maxLen = n }
}

// New creates a sink writing to stream through client.
func New(client *redis.Client, stream string, opts ...Option) *Sink {
	if stream == "" {
		stream = DefaultStream
	}
	s := &Sink{client: client, stream: stream}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Stream() string { return s.stream }

// Publish implements sagaorch.EventSink.
func (s *Sink) Publish(ctx context.Context, event sagaorch.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"type":           string(event.Type),
			"transaction_id": event.TransactionID,
			"data":           string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Decode parses the event stored in a stream message.
func Decode(msg redis.XMessage) (sagaorch.Event, error) {
	var ev sagaorch.Event
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return ev, fmt.Errorf("message %s has no data field", msg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}

var _ sagaorch.EventSink = (*Sink)(nil)
