// Package health exposes the pipeline's internal state for operators.
//
// A Snapshot is assembled on demand from each component's own counters;
// nothing here holds state of its own. The same snapshot backs the HTTP
// endpoint (JSON) and the CLI probe (text).
package health

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/crimson-sun/pulse/internal/dispatch"
	"github.com/crimson-sun/pulse/internal/gate"
	"github.com/crimson-sun/pulse/internal/metrics"
	"github.com/crimson-sun/pulse/internal/route"
)

// Status is the overall verdict derived from sink health: ok when the
// primary is usable, degraded while any backup carries the load, failing
// when no sink can accept batches.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailing  Status = "failing"
)

// Snapshot is one point-in-time view of the whole pipeline.
type Snapshot struct {
	Status     Status                  `json:"status"`
	Timestamp  time.Time               `json:"timestamp"`
	Gate       gate.Stats              `json:"gate"`
	Dispatcher dispatch.Stats          `json:"dispatcher"`
	Sinks      []route.SinkHealth      `json:"sinks"`
	Metrics    *metrics.CollectorStats `json:"metrics,omitempty"`
}

// Source provides the live component handles a snapshot reads from.
type Source struct {
	Gate       *gate.Gate
	Dispatcher *dispatch.Dispatcher
	Router     *route.Router
	Collector  *metrics.Collector // optional
}

// Take assembles a snapshot from the current component state.
func Take(src Source) Snapshot {
	snap := Snapshot{
		Timestamp:  time.Now().UTC(),
		Gate:       src.Gate.Stats(),
		Dispatcher: src.Dispatcher.Stats(),
		Sinks:      src.Router.Health(),
	}
	if src.Collector != nil {
		s := src.Collector.Stats()
		snap.Metrics = &s
	}
	snap.Status = verdict(snap.Sinks)
	return snap
}

func verdict(sinks []route.SinkHealth) Status {
	usable := 0
	for _, s := range sinks {
		if s.State != route.Disabled {
			usable++
		}
	}
	switch {
	case usable == 0:
		return StatusFailing
	case len(sinks) > 0 && sinks[0].State == route.Healthy:
		return StatusOK
	default:
		return StatusDegraded
	}
}

// Handler serves snapshots as JSON. Failing pipelines answer 503 so load
// balancer probes work without parsing the body.
func Handler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := Take(src)

		w.Header().Set("Content-Type", "application/json")
		if snap.Status == StatusFailing {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			slog.Warn("health response write failed", "error", err)
		}
	})
}

// Render writes the snapshot as human-readable text for the CLI probe.
func Render(w io.Writer, snap Snapshot) {
	fmt.Fprintf(w, "status: %s (as of %s)\n", snap.Status, snap.Timestamp.Format(time.RFC3339))

	fmt.Fprintf(w, "\ngate:\n")
	fmt.Fprintf(w, "  admitted:        %d\n", snap.Gate.Admitted)
	fmt.Fprintf(w, "  sampled out:     %d\n", snap.Gate.SampledOut)
	fmt.Fprintf(w, "  rate limited:    %d\n", snap.Gate.RateLimited)
	fmt.Fprintf(w, "  storm rejected:  %d\n", snap.Gate.StormRejected)
	fmt.Fprintf(w, "  storm breaker:   %s\n", snap.Gate.BreakerState)

	fmt.Fprintf(w, "\ndispatcher:\n")
	fmt.Fprintf(w, "  enqueued:            %d\n", snap.Dispatcher.Enqueued)
	fmt.Fprintf(w, "  delivered:           %d (%d batches)\n", snap.Dispatcher.Delivered, snap.Dispatcher.Batches)
	fmt.Fprintf(w, "  emergency delivered: %d\n", snap.Dispatcher.EmergencyDelivered)
	fmt.Fprintf(w, "  overflow dropped:    %d\n", snap.Dispatcher.OverflowDropped)
	fmt.Fprintf(w, "  breaker dropped:     %d\n", snap.Dispatcher.BreakerDropped)
	fmt.Fprintf(w, "  delivery lost:       %d\n", snap.Dispatcher.DeliveryLost)
	fmt.Fprintf(w, "  shutdown lost:       %d\n", snap.Dispatcher.ShutdownLost)
	fmt.Fprintf(w, "  buffer occupancy:    %d\n", snap.Dispatcher.BufferOccupancy)
	fmt.Fprintf(w, "  breaker:             %s\n", snap.Dispatcher.BreakerState)

	fmt.Fprintf(w, "\nsinks:\n")
	for _, s := range snap.Sinks {
		fmt.Fprintf(w, "  %-12s %-9s failures=%d", s.Name, s.StateName, s.ConsecutiveFailures)
		if !s.DisabledUntil.IsZero() {
			fmt.Fprintf(w, " disabled_until=%s", s.DisabledUntil.Format(time.RFC3339))
		}
		fmt.Fprintln(w)
	}

	if snap.Metrics != nil {
		fmt.Fprintf(w, "\nmetrics:\n")
		fmt.Fprintf(w, "  observed:    %d\n", snap.Metrics.Observed)
		fmt.Fprintf(w, "  samples:     %d\n", snap.Metrics.Samples)
		fmt.Fprintf(w, "  anomalies:   %d\n", snap.Metrics.Anomalies)
		fmt.Fprintf(w, "  tap dropped: %d\n", snap.Metrics.TapDropped)
		fmt.Fprintf(w, "  exports:     %d ok, %d failed\n", snap.Metrics.Exports, snap.Metrics.ExportsFailed)
	}
}
