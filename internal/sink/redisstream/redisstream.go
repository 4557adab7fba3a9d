// Package redisstream appends event batches to a Redis Stream.
//
// Each event becomes one XADD entry; the stream is capped with MAXLEN so a
// slow consumer cannot grow redis without bound. Live dashboards read the
// stream; the cap makes this a ring of recent events, not an archive.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/crimson-sun/pulse/internal/model"
	"github.com/crimson-sun/pulse/internal/sink"
)

const (
	defaultStream    = "pulse:events"
	defaultMaxLength = 10000
)

func init() {
	sink.Register("redis", func(target string, options map[string]string) (sink.Sink, error) {
		if target == "" {
			return nil, fmt.Errorf("redis sink: target address required")
		}
		var opts []Option
		if v, ok := options["stream"]; ok {
			opts = append(opts, WithStream(v))
		}
		if v, ok := options["max_length"]; ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("redis sink: bad max_length %q: %w", v, err)
			}
			opts = append(opts, WithMaxLength(n))
		}
		client := redis.NewClient(&redis.Options{Addr: target, Password: options["password"]})
		return New(client, opts...), nil
	})
}

// Option configures a redis Sink.
type Option func(*Sink)

// WithStream sets the stream key. Default: pulse:events.
func WithStream(name string) Option {
	return func(s *Sink) { s.stream = name }
}

// WithMaxLength caps the stream length (approximate trim). Default: 10000.
func WithMaxLength(n int64) Option {
	return func(s *Sink) { s.maxLength = n }
}

// Sink appends events to a capped redis stream.
type Sink struct {
	client    *redis.Client
	stream    string
	maxLength int64
}

// New creates a redis stream sink over an existing client.
func New(client *redis.Client, opts ...Option) *Sink {
	s := &Sink{client: client, stream: defaultStream, maxLength: defaultMaxLength}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Deliver(ctx context.Context, batch []model.Event) error {
	pipe := s.client.Pipeline()
	for _, e := range batch {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("redis sink: marshal: %w", err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLength,
			Approx: true,
			Values: map[string]any{
				"severity":       e.Severity.String(),
				"correlation_id": e.CorrelationID,
				"source":         e.Source,
				"payload":        string(payload),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sink: xadd: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}
