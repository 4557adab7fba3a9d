package pulse

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/crimson-sun/pulse/internal/config"
	"github.com/crimson-sun/pulse/internal/health"
	"github.com/crimson-sun/pulse/internal/model"
	"github.com/crimson-sun/pulse/internal/pipeline"
)

// Severity is the ordered level of an emission.
type Severity int

const (
	Trace Severity = iota
	Debug
	Info
	Warning
	Error
	Critical
)

// Pulse is a running event pipeline. Safe for concurrent use.
type Pulse struct {
	pipeline *pipeline.Pipeline
}

// New builds and starts a pipeline. Configuration comes from the defaults,
// an optional YAML file (WithConfigFile), and PULSE_* environment
// variables; an invalid configuration or unreachable sink is a startup
// error — a half-configured pipeline never runs.
func New(opts ...Option) (*Pulse, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}

	pl, err := pipeline.New(cfg, pipeline.WithService(o.serviceName, o.environment))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &Pulse{pipeline: pl}, nil
}

// Emit submits one event. It never blocks beyond a bounded emergency path
// and never fails: events the pipeline cannot take are dropped by policy
// and surfaced through the health counters instead.
func (p *Pulse) Emit(c *Context, severity Severity, message string, attrs map[string]any) {
	p.pipeline.Emit(c.internal(), model.Severity(severity), message, attrs)
}

// Healthy reports whether the primary sink is accepting deliveries.
func (p *Pulse) Healthy() bool {
	return p.pipeline.Snapshot().Status == health.StatusOK
}

// HealthJSON writes the full health snapshot (sink states, breaker states,
// buffer occupancy, loss counters) as JSON.
func (p *Pulse) HealthJSON(w io.Writer) error {
	return json.NewEncoder(w).Encode(p.pipeline.Snapshot())
}

// HealthText writes the snapshot in the human-readable probe format.
func (p *Pulse) HealthText(w io.Writer) {
	health.Render(w, p.pipeline.Snapshot())
}

// Close stops intake and drains buffered events within the configured
// drain deadline. Events that cannot be flushed in time are counted as
// lost. Safe to call more than once.
func (p *Pulse) Close() {
	p.pipeline.Close()
}
