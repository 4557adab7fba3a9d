// Package route tracks per-sink health and fails delivery over between
// sinks.
package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/pulse/internal/model"
	"github.com/crimson-sun/pulse/internal/sink"
)

// ErrAllSinksDisabled is the terminal failure returned when no sink can be
// tried. It returns immediately — the router never blocks waiting for a
// disabled sink to recover.
var ErrAllSinksDisabled = errors.New("route: all sinks disabled")

// HealthState is a sink's position in the failover lifecycle.
type HealthState int

const (
	Healthy HealthState = iota
	Degraded
	Disabled
)

func (s HealthState) String() string {
	switch s {
	case Degraded:
		return "degraded"
	case Disabled:
		return "disabled"
	default:
		return "healthy"
	}
}

// SinkHealth is the exported per-sink health record.
type SinkHealth struct {
	Name                string      `json:"name"`
	State               HealthState `json:"-"`
	StateName           string      `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastSuccess         time.Time   `json:"last_success,omitzero"`
	LastFailure         time.Time   `json:"last_failure,omitzero"`
	DisabledUntil       time.Time   `json:"disabled_until,omitzero"`
}

// Config tunes the Router.
type Config struct {
	// FailureThreshold is the consecutive-failure count that disables a
	// sink.
	FailureThreshold int
	// DisableWindow is the initial disable duration; each failed probe
	// doubles it up to BackoffCap.
	DisableWindow time.Duration
	BackoffCap    time.Duration
}

// Member pairs a sink with its per-call timeout.
type Member struct {
	Name    string
	Sink    sink.Sink
	Timeout time.Duration
}

// sinkState owns one sink's health behind its own mutex.
type sinkState struct {
	name    string
	sink    sink.Sink
	timeout time.Duration

	mu                  sync.Mutex
	state               HealthState
	consecutiveFailures int
	lastSuccess         time.Time
	lastFailure         time.Time
	disabledUntil       time.Time
	backoff             time.Duration
	probing             bool
}

// Router delivers batches to an ordered sink list: the first configured
// member is the primary, the rest are backups in preference order. Load
// shifts to the next healthy sink when one degrades; delivery is
// at-most-once per sink and failed batches are never replayed later.
type Router struct {
	cfg   Config
	sinks []*sinkState
	now   func() time.Time
}

// New builds a Router over the ordered members.
func New(cfg Config, members []Member) (*Router, error) {
	if len(members) == 0 {
		return nil, errors.New("route: at least one sink required")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.DisableWindow <= 0 {
		cfg.DisableWindow = time.Minute
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Minute
	}

	r := &Router{cfg: cfg, now: time.Now}
	for _, m := range members {
		if m.Sink == nil {
			return nil, fmt.Errorf("route: sink %q is nil", m.Name)
		}
		if m.Timeout <= 0 {
			m.Timeout = 5 * time.Second
		}
		r.sinks = append(r.sinks, &sinkState{
			name:    m.Name,
			sink:    m.Sink,
			timeout: m.Timeout,
			backoff: cfg.DisableWindow,
		})
	}
	return r, nil
}

// Deliver tries sinks in preference order until one accepts the batch.
// Every sink call is bounded by that sink's timeout; a timed-out call
// counts as a failure. When no sink is callable the result is terminal and
// returns without waiting.
func (r *Router) Deliver(ctx context.Context, batch []model.Event) model.DeliveryResult {
	res := model.DeliveryResult{}
	var lastErr error

	for _, s := range r.sinks {
		if !s.claim(r.now()) {
			continue
		}
		res.Attempts++

		err := r.attempt(ctx, s, batch)
		if err == nil {
			s.recordSuccess(r.now())
			res.Sink = s.name
			return res
		}
		lastErr = err
		s.recordFailure(r.now(), r.cfg)
	}

	res.Terminal = true
	if lastErr != nil {
		res.Err = lastErr
	} else {
		res.Err = ErrAllSinksDisabled
	}
	return res
}

// DeliverDirect sends one event to the most preferred callable sink with a
// single attempt and no failover. The dispatcher's emergency path uses it.
func (r *Router) DeliverDirect(ctx context.Context, e model.Event) error {
	for _, s := range r.sinks {
		if !s.claim(r.now()) {
			continue
		}
		err := r.attempt(ctx, s, []model.Event{e})
		if err == nil {
			s.recordSuccess(r.now())
			return nil
		}
		s.recordFailure(r.now(), r.cfg)
		return err
	}
	return ErrAllSinksDisabled
}

func (r *Router) attempt(ctx context.Context, s *sinkState, batch []model.Event) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.sink.Deliver(callCtx, batch)
}

// Health returns the per-sink health records in configured order.
func (r *Router) Health() []SinkHealth {
	out := make([]SinkHealth, 0, len(r.sinks))
	for _, s := range r.sinks {
		s.mu.Lock()
		out = append(out, SinkHealth{
			Name:                s.name,
			State:               s.state,
			StateName:           s.state.String(),
			ConsecutiveFailures: s.consecutiveFailures,
			LastSuccess:         s.lastSuccess,
			LastFailure:         s.lastFailure,
			DisabledUntil:       s.disabledUntil,
		})
		s.mu.Unlock()
	}
	return out
}

// claim reports whether the sink may be called now. A disabled sink whose
// window has elapsed grants exactly one half-open probe slot; concurrent
// callers see the sink as still disabled until the probe reports back.
func (s *sinkState) claim(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Disabled:
		if s.probing || now.Before(s.disabledUntil) {
			return false
		}
		s.probing = true
		return true
	default:
		return true
	}
}

func (s *sinkState) recordSuccess(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Healthy {
		slog.Info("sink recovered", "sink", s.name, "previous_state", s.state.String())
	}
	s.state = Healthy
	s.consecutiveFailures = 0
	s.lastSuccess = now
	s.probing = false
	s.disabledUntil = time.Time{}
}

func (s *sinkState) recordFailure(now time.Time, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveFailures++
	s.lastFailure = now

	if s.probing {
		// Failed half-open probe: extend the disable window with
		// exponential backoff.
		s.probing = false
		s.backoff *= 2
		if s.backoff > cfg.BackoffCap {
			s.backoff = cfg.BackoffCap
		}
		s.disabledUntil = now.Add(s.backoff)
		s.state = Disabled
		slog.Warn("sink probe failed", "sink", s.name, "disabled_until", s.disabledUntil)
		return
	}

	switch {
	case s.consecutiveFailures >= cfg.FailureThreshold:
		if s.state != Disabled {
			s.backoff = cfg.DisableWindow
			slog.Warn("sink disabled", "sink", s.name,
				"failures", s.consecutiveFailures, "disabled_until", now.Add(s.backoff))
		}
		s.state = Disabled
		s.disabledUntil = now.Add(s.backoff)
	default:
		s.state = Degraded
	}
}
