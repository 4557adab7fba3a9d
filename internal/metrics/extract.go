// Package metrics derives time-series samples from the event stream.
//
// Extraction runs on a side channel tapped off the pipeline after
// scrubbing, so a slow metrics consumer can never stall event delivery:
// the tap is bounded and overflow is dropped and counted.
package metrics

import (
	"strings"
	"time"

	"github.com/crimson-sun/pulse/internal/model"
)

// gaugeSuffixes marks attribute keys that carry measurements rather than
// identifiers. Matching is by suffix so "db_query_ms" and "response_bytes"
// both qualify while "user_id" does not.
var gaugeSuffixes = []string{
	"_ms", "_latency", "_duration", "_seconds", "_bytes", "_count",
}

// Extract derives samples from one event. Pure: no state, no clock beyond
// the event's own timestamp.
//
// Every event yields a severity counter. Events flagged by the scrubber
// yield a security counter tagged with the threat category. Numeric
// attributes with measurement-style key suffixes become gauges.
func Extract(e model.Event) []model.MetricSample {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	samples := []model.MetricSample{{
		Name:      "events." + e.Severity.String(),
		Value:     1,
		Timestamp: ts,
		Tags:      map[string]string{"source": e.Source},
	}}

	if flagged, _ := e.Attributes["security_event"].(bool); flagged {
		tags := map[string]string{"source": e.Source}
		if cat, _ := e.Attributes["threat_category"].(string); cat != "" {
			tags["threat_category"] = cat
		}
		samples = append(samples, model.MetricSample{
			Name:      "security.events",
			Value:     1,
			Timestamp: ts,
			Tags:      tags,
		})
	}

	for key, val := range e.Attributes {
		v, ok := numeric(val)
		if !ok || !isGaugeKey(key) {
			continue
		}
		samples = append(samples, model.MetricSample{
			Name:      "gauge." + key,
			Value:     v,
			Timestamp: ts,
			Tags: map[string]string{
				"source":   e.Source,
				"severity": e.Severity.String(),
			},
		})
	}
	return samples
}

func isGaugeKey(key string) bool {
	for _, suffix := range gaugeSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// numeric coerces the scalar types that survive attribute enrichment and
// JSON round-trips.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
