// Package enrich attaches per-event context at emission time.
package enrich

import (
	"runtime"
	"time"

	"github.com/crimson-sun/pulse/internal/model"
	"github.com/crimson-sun/pulse/internal/opctx"
)

// Enricher stamps raw events with correlation id, timing, actor identity
// and a cheap resource snapshot. Enrichment never fails: a counter that
// cannot be read is omitted, never surfaced to the emitting caller.
type Enricher struct {
	serviceName string
	environment string
}

// New creates an Enricher. serviceName and environment are stamped on every
// event so downstream consumers can tell deployments apart.
func New(serviceName, environment string) *Enricher {
	return &Enricher{serviceName: serviceName, environment: environment}
}

// Enrich returns a copy of the raw event carrying full context. The
// timestamp is taken here, not at emission, so queued events are ordered by
// a single clock. A nil or id-less Context gets a synthesized system id —
// post-enrichment events always have a non-empty correlation id.
func (en *Enricher) Enrich(raw model.Event, c *opctx.Context) model.Event {
	e := raw.Clone()
	e.Timestamp = time.Now()
	if e.Source == "" {
		e.Source = en.serviceName
	}

	if c != nil && c.CorrelationID != "" {
		e.CorrelationID = c.CorrelationID
	} else if e.CorrelationID == "" {
		e.CorrelationID = opctx.SystemID()
	}

	if e.Attributes == nil {
		e.Attributes = make(map[string]any, 8)
	}
	e.Attributes["service"] = en.serviceName
	if en.environment != "" {
		e.Attributes["environment"] = en.environment
	}

	if c != nil {
		if c.ActorID != "" {
			e.Attributes["actor_id"] = c.ActorID
		}
		actorType := c.ActorType
		if actorType == "" {
			actorType = "anonymous"
		}
		e.Attributes["actor_type"] = actorType
		if c.RemoteAddr != "" {
			e.Attributes["remote_addr"] = c.RemoteAddr
		}
		if !c.StartTime.IsZero() {
			e.Attributes["elapsed_ms"] = float64(c.Elapsed()) / float64(time.Millisecond)
		}
	} else {
		e.Attributes["actor_type"] = "system"
	}

	addResourceSnapshot(e.Attributes)
	return e
}

// addResourceSnapshot records process-level counters. Everything here is an
// in-memory read; no syscalls beyond what the runtime already maintains.
func addResourceSnapshot(attrs map[string]any) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	attrs["mem_heap_bytes"] = ms.HeapInuse
	attrs["gc_cycles"] = ms.NumGC
	attrs["goroutines"] = runtime.NumGoroutine()
}
