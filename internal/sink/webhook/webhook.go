// Package webhook POSTs event batches to an HTTP collector as a JSON
// array.
//
// Unlike a buffering output, this sink is called with ready-made batches by
// the dispatcher's workers, so it holds no pending state of its own: one
// Deliver call is one POST, bounded by the caller's context.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/crimson-sun/pulse/internal/model"
	"github.com/crimson-sun/pulse/internal/sink"
)

func init() {
	sink.Register("webhook", func(target string, options map[string]string) (sink.Sink, error) {
		if target == "" {
			return nil, fmt.Errorf("webhook sink: target URL required")
		}
		headers := make(map[string]string)
		for k, v := range options {
			if name, ok := strings.CutPrefix(k, "header_"); ok {
				headers[name] = v
			}
		}
		return New(target, WithHeaders(headers)), nil
	})
}

// Option configures a webhook Sink.
type Option func(*Sink)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(s *Sink) { s.headers = h }
}

// WithClient replaces the HTTP client (tests use this).
func WithClient(c *http.Client) Option {
	return func(s *Sink) { s.client = c }
}

// Sink delivers batches via HTTP POST.
type Sink struct {
	client  *http.Client
	url     string
	headers map[string]string
}

// New creates a webhook sink targeting the given URL. Per-call deadlines
// come from the delivery context, so the client itself has no timeout.
func New(url string, opts ...Option) *Sink {
	s := &Sink{client: &http.Client{}, url: url}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Deliver(ctx context.Context, batch []model.Event) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("webhook sink: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook sink: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook sink: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
