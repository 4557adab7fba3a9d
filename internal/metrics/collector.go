package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crimson-sun/pulse/internal/model"
)

// keyPrefix namespaces the exported redis hashes.
const keyPrefix = "pulse:metrics:"

// CollectorConfig tunes the metrics side channel.
type CollectorConfig struct {
	// TapSize bounds the channel between Offer and the consumer goroutine.
	TapSize int
	// AnomalyZScore is the detector threshold.
	AnomalyZScore float64
	// ExportInterval is how often accumulated series are pushed to redis.
	// Ignored when Client is nil.
	ExportInterval time.Duration
	// ExportTTL is the expiry set on each exported hash. Defaults to four
	// export intervals so series from a stopped pipeline age out.
	ExportTTL time.Duration
	// Client, when set, enables redis export.
	Client *redis.Client
}

// CollectorStats is a point-in-time snapshot of collector counters.
type CollectorStats struct {
	Observed      uint64 `json:"observed"`
	TapDropped    uint64 `json:"tap_dropped"`
	Samples       uint64 `json:"samples"`
	Anomalies     uint64 `json:"anomalies"`
	Exports       uint64 `json:"exports"`
	ExportsFailed uint64 `json:"exports_failed"`
}

// series is one metric's running aggregate since process start.
type series struct {
	count float64
	sum   float64
	last  float64
	at    time.Time
}

// Collector consumes events from a bounded tap, extracts samples, runs
// anomaly detection, and periodically exports aggregates to redis.
//
// Offer never blocks: when the tap is full the event is dropped from the
// metrics view only (delivery is unaffected) and counted.
type Collector struct {
	cfg      CollectorConfig
	tap      chan model.Event
	done     chan struct{}
	wg       sync.WaitGroup
	detector *Detector

	mu     sync.Mutex
	agg    map[string]*series
	closed atomic.Bool

	observed      atomic.Uint64
	tapDropped    atomic.Uint64
	samples       atomic.Uint64
	anomalies     atomic.Uint64
	exports       atomic.Uint64
	exportsFailed atomic.Uint64
}

// NewCollector creates a collector and starts its consumer goroutine.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.TapSize <= 0 {
		cfg.TapSize = 1024
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = 30 * time.Second
	}
	if cfg.ExportTTL <= 0 {
		cfg.ExportTTL = 4 * cfg.ExportInterval
	}
	c := &Collector{
		cfg:      cfg,
		tap:      make(chan model.Event, cfg.TapSize),
		done:     make(chan struct{}),
		detector: NewDetector(cfg.AnomalyZScore),
		agg:      make(map[string]*series),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Offer taps one event into the metrics channel without blocking.
func (c *Collector) Offer(e model.Event) {
	if c.closed.Load() {
		return
	}
	select {
	case c.tap <- e:
	default:
		c.tapDropped.Add(1)
	}
}

func (c *Collector) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-c.tap:
			c.consume(e)
		case <-ticker.C:
			c.export(context.Background())
		case <-c.done:
			// Drain whatever made it into the tap before shutdown.
			for {
				select {
				case e := <-c.tap:
					c.consume(e)
				default:
					c.export(context.Background())
					return
				}
			}
		}
	}
}

func (c *Collector) consume(e model.Event) {
	c.observed.Add(1)
	for _, s := range Extract(e) {
		c.record(s)
		if a := c.detector.Observe(s); a != nil {
			c.anomalies.Add(1)
			c.record(*a)
		}
	}
}

func (c *Collector) record(s model.MetricSample) {
	c.samples.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()

	agg, ok := c.agg[s.Name]
	if !ok {
		agg = &series{}
		c.agg[s.Name] = agg
	}
	agg.count++
	agg.sum += s.Value
	agg.last = s.Value
	agg.at = s.Timestamp
}

// export writes one redis hash per series, each with a TTL so stale series
// disappear on their own. Export failure is counted and logged once per
// tick, never retried within the tick.
func (c *Collector) export(ctx context.Context) {
	if c.cfg.Client == nil {
		return
	}

	snapshot := c.snapshotSeries()
	if len(snapshot) == 0 {
		return
	}

	pipe := c.cfg.Client.Pipeline()
	for name, s := range snapshot {
		key := keyPrefix + name
		pipe.HSet(ctx, key, map[string]any{
			"count":      s.count,
			"sum":        s.sum,
			"last":       s.last,
			"updated_at": s.at.UnixMilli(),
		})
		pipe.Expire(ctx, key, c.cfg.ExportTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.exportsFailed.Add(1)
		slog.Warn("metrics export failed", "series", len(snapshot), "error", err)
		return
	}
	c.exports.Add(1)
}

func (c *Collector) snapshotSeries() map[string]series {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]series, len(c.agg))
	for name, s := range c.agg {
		out[name] = *s
	}
	return out
}

// Close stops intake, drains the tap, performs a final export, and waits
// for the consumer to exit. Safe to call more than once.
func (c *Collector) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	c.wg.Wait()
}

// Stats returns current collector counters.
func (c *Collector) Stats() CollectorStats {
	return CollectorStats{
		Observed:      c.observed.Load(),
		TapDropped:    c.tapDropped.Load(),
		Samples:       c.samples.Load(),
		Anomalies:     c.anomalies.Load(),
		Exports:       c.exports.Load(),
		ExportsFailed: c.exportsFailed.Load(),
	}
}
