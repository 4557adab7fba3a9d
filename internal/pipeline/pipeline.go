// Package pipeline assembles the event stages into one runnable unit.
//
// The flow is enrich → scrub → gate → dispatch → route → sink, with a
// metrics tap branching off after the scrubber so derived series never see
// unredacted data. Emit is the hot path: everything up to the dispatcher's
// channel send runs on the caller's goroutine and stays constant-time.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crimson-sun/pulse/internal/config"
	"github.com/crimson-sun/pulse/internal/dispatch"
	"github.com/crimson-sun/pulse/internal/enrich"
	"github.com/crimson-sun/pulse/internal/gate"
	"github.com/crimson-sun/pulse/internal/health"
	"github.com/crimson-sun/pulse/internal/metrics"
	"github.com/crimson-sun/pulse/internal/model"
	"github.com/crimson-sun/pulse/internal/opctx"
	"github.com/crimson-sun/pulse/internal/route"
	"github.com/crimson-sun/pulse/internal/scrub"
	"github.com/crimson-sun/pulse/internal/sink"

	// Register the built-in sink types.
	_ "github.com/crimson-sun/pulse/internal/sink/file"
	_ "github.com/crimson-sun/pulse/internal/sink/redisstream"
	_ "github.com/crimson-sun/pulse/internal/sink/stdout"
	_ "github.com/crimson-sun/pulse/internal/sink/webhook"
)

// Option customizes pipeline construction.
type Option func(*options)

type options struct {
	serviceName string
	environment string
	sinks       []route.Member
}

// WithService sets the service name and environment stamped onto every
// event.
func WithService(name, environment string) Option {
	return func(o *options) {
		o.serviceName = name
		o.environment = environment
	}
}

// WithSinks replaces the config-driven sink list with pre-built members.
// Tests and embedders use this to avoid the registry.
func WithSinks(members ...route.Member) Option {
	return func(o *options) { o.sinks = members }
}

// Pipeline is the assembled event path. Create with New, feed with Emit,
// stop with Close.
type Pipeline struct {
	cfg        config.Config
	enricher   *enrich.Enricher
	scrubber   *scrub.Scrubber
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	router     *route.Router
	collector  *metrics.Collector
	sinks      []sink.Sink
	closeOnce  sync.Once
}

// New builds a pipeline from validated configuration. Sink construction
// failures are fatal: a pipeline that cannot reach its configured sinks
// must not start.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	o := options{serviceName: "pulse", environment: "production"}
	for _, opt := range opts {
		opt(&o)
	}

	scrubber, err := scrub.New(cfg.Scrub.ExtraPatterns...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	members := o.sinks
	var owned []sink.Sink
	if len(members) == 0 {
		members, owned, err = buildSinks(cfg.Sinks)
		if err != nil {
			return nil, err
		}
	}

	router, err := route.New(route.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		DisableWindow:    cfg.Breaker.CoolDown,
	}, members)
	if err != nil {
		closeSinks(owned)
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		enricher: enrich.New(o.serviceName, o.environment),
		scrubber: scrubber,
		gate: gate.New(gate.Config{
			Rates:           severityRates(cfg),
			BucketCapacity:  cfg.Sampling.RateLimitCapacity,
			RefillPerSecond: cfg.Sampling.RateLimitRefillPerSecond,
			BypassFloor:     model.ParseSeverity(cfg.Sampling.BypassFloor),
			StormDropRatio:  cfg.Sampling.StormDropRatio,
			StormWindow:     cfg.Sampling.StormWindow,
			StormCoolDown:   cfg.Breaker.CoolDown,
		}),
		router: router,
		sinks:  owned,
	}

	p.dispatcher = dispatch.New(dispatch.Config{
		MaxSize:          cfg.Buffer.MaxSize,
		MaxBatchBytes:    cfg.Buffer.MaxBytes,
		FlushSize:        cfg.Buffer.FlushSize,
		FlushInterval:    cfg.Buffer.FlushInterval,
		Workers:          cfg.Buffer.Workers,
		NeverDropFloor:   model.ParseSeverity(cfg.Buffer.NeverDropFloor),
		EmergencyTimeout: cfg.Buffer.EmergencyTimeout,
		DrainTimeout:     cfg.Buffer.DrainTimeout,
		BreakerThreshold: cfg.Breaker.FailureThreshold,
		BreakerCoolDown:  cfg.Breaker.CoolDown,
	}, router)

	if cfg.Metrics.Enabled {
		var client *redis.Client
		if cfg.Metrics.RedisAddr != "" {
			client = redis.NewClient(&redis.Options{Addr: cfg.Metrics.RedisAddr})
		}
		p.collector = metrics.NewCollector(metrics.CollectorConfig{
			TapSize:        cfg.Metrics.TapSize,
			AnomalyZScore:  cfg.Metrics.AnomalyZScore,
			ExportInterval: cfg.Metrics.ExportInterval,
			Client:         client,
		})
	}
	return p, nil
}

// Emit pushes one raw event into the pipeline. It never returns an error
// and never blocks beyond the dispatcher's bounded emergency path; rejected
// or dropped events become counters visible in the health snapshot.
func (p *Pipeline) Emit(c *opctx.Context, severity model.Severity, message string, attrs map[string]any) {
	raw := model.Event{
		Severity:   severity,
		Message:    message,
		Attributes: attrs,
	}
	e := p.scrubber.Scrub(p.enricher.Enrich(raw, c))

	if p.collector != nil {
		p.collector.Offer(e)
	}
	if !p.gate.Admit(e) {
		return
	}
	p.dispatcher.Submit(e)
}

// Health returns the live handles the health surface reads from.
func (p *Pipeline) Health() health.Source {
	return health.Source{
		Gate:       p.gate,
		Dispatcher: p.dispatcher,
		Router:     p.router,
		Collector:  p.collector,
	}
}

// Snapshot is shorthand for health.Take over this pipeline.
func (p *Pipeline) Snapshot() health.Snapshot {
	return health.Take(p.Health())
}

// Close drains the dispatcher within its configured deadline, stops the
// metrics collector, and closes owned sinks. Safe to call more than once.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.dispatcher.Close()
		if p.collector != nil {
			p.collector.Close()
		}
		closeSinks(p.sinks)
	})
}

// buildSinks constructs the configured sinks through the registry. Order is
// preserved: the first config entry is the failover primary.
func buildSinks(configs []config.SinkConfig) ([]route.Member, []sink.Sink, error) {
	var members []route.Member
	var owned []sink.Sink
	for _, sc := range configs {
		ctor, err := sink.Get(sc.Type)
		if err != nil {
			closeSinks(owned)
			return nil, nil, fmt.Errorf("pipeline: sink %q: %w", sc.Name, err)
		}
		s, err := ctor(sc.Target, sc.Options)
		if err != nil {
			closeSinks(owned)
			return nil, nil, fmt.Errorf("pipeline: sink %q: %w", sc.Name, err)
		}
		owned = append(owned, s)
		timeout := sc.Timeout
		if timeout <= 0 {
			timeout = time.Second
		}
		members = append(members, route.Member{Name: sc.Name, Sink: s, Timeout: timeout})
	}
	return members, owned, nil
}

func closeSinks(sinks []sink.Sink) {
	for _, s := range sinks {
		s.Close()
	}
}

func severityRates(cfg config.Config) map[model.Severity]float64 {
	rates := make(map[model.Severity]float64, len(cfg.Sampling.Rates))
	for _, s := range model.Severities() {
		rates[s] = cfg.SampleRate(s)
	}
	return rates
}
