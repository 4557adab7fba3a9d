package model

import "time"

// Event is a single observability event flowing through the pipeline.
// Once past enrichment an Event is treated as immutable: every later stage
// that needs to change it works on a copy from Clone, so events can cross
// the producer/worker boundary without shared mutable state.
type Event struct {
	Severity      Severity       `json:"severity"`
	Message       string         `json:"message"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// Clone returns a copy of the event with its own attribute map.
// Nested maps are copied one level deep; scalar values are shared.
func (e Event) Clone() Event {
	out := e
	if e.Attributes != nil {
		out.Attributes = make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			if m, ok := v.(map[string]any); ok {
				inner := make(map[string]any, len(m))
				for ik, iv := range m {
					inner[ik] = iv
				}
				out.Attributes[k] = inner
				continue
			}
			out.Attributes[k] = v
		}
	}
	return out
}

// WithAttr returns an enriched copy carrying the given attribute.
func (e Event) WithAttr(key string, value any) Event {
	out := e.Clone()
	if out.Attributes == nil {
		out.Attributes = make(map[string]any, 1)
	}
	out.Attributes[key] = value
	return out
}

// ApproxSize estimates the in-memory footprint of the event in bytes.
// Used for buffer byte accounting; it does not need to be exact.
func (e Event) ApproxSize() int {
	n := len(e.Message) + len(e.Source) + len(e.CorrelationID) + 64
	for k, v := range e.Attributes {
		n += len(k) + 16
		if s, ok := v.(string); ok {
			n += len(s)
		}
	}
	return n
}

// MetricSample is one point of a derived time series. Samples have a
// lifecycle independent of the events they were extracted from.
type MetricSample struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// DeliveryResult reports the outcome of routing one batch.
type DeliveryResult struct {
	// Sink is the name of the sink that accepted the batch, empty on failure.
	Sink string
	// Attempts counts sink calls made for this batch.
	Attempts int
	// Terminal is true when every configured sink was unavailable and the
	// caller must apply its own emergency or drop policy.
	Terminal bool
	Err      error
}
