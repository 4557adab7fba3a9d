// Package gate decides which events are admitted into the dispatch buffer.
//
// Three controls run in order: per-correlation adaptive sampling, per-
// severity token-bucket rate limiting, and a storm breaker that clamps
// admission to critical-only when the recent drop ratio says the pipeline
// is being flooded. Rejections are counted, never logged — re-logging a
// rejection would feed the storm the gate exists to absorb.
package gate

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/pulse/internal/breaker"
	"github.com/crimson-sun/pulse/internal/model"
)

const sampleScale = 10000

// Config tunes a Gate.
type Config struct {
	// Rates maps severity to a sample rate in [0,1]. Missing severities
	// default to 1 (always admit).
	Rates map[model.Severity]float64
	// BucketCapacity and RefillPerSecond configure every severity's bucket.
	BucketCapacity  float64
	RefillPerSecond float64
	// BypassFloor marks the severity at or above which rate limiting is
	// skipped. Losing a critical event is worse than overload.
	BypassFloor model.Severity
	// StormDropRatio opens the breaker when the sliding-window drop ratio
	// crosses it; StormWindow is the window length in decisions.
	StormDropRatio float64
	StormWindow    int
	// StormCoolDown is how long the breaker stays open.
	StormCoolDown time.Duration
}

// Stats is a point-in-time snapshot of gate counters.
type Stats struct {
	Admitted      uint64 `json:"admitted"`
	SampledOut    uint64 `json:"sampled_out"`
	RateLimited   uint64 `json:"rate_limited"`
	StormRejected uint64 `json:"storm_rejected"`
	BreakerState  string `json:"breaker_state"`
}

// Gate is safe for concurrent use by many producers. Each bucket and the
// window have their own synchronization; there is no gate-wide lock on the
// admission path.
type Gate struct {
	rates       map[model.Severity]float64
	buckets     map[model.Severity]*tokenBucket
	bypassFloor model.Severity
	storm       *breaker.Breaker

	windowMu   sync.Mutex
	window     []bool // recent limiter outcomes, true = rate-limited
	windowIdx  int
	windowLen  int
	stormRatio float64

	admitted      atomic.Uint64
	sampledOut    atomic.Uint64
	rateLimited   atomic.Uint64
	stormRejected atomic.Uint64
}

// New builds a Gate from config. Buckets are created eagerly, one per
// severity, so the admission path never allocates.
func New(cfg Config) *Gate {
	if cfg.StormWindow <= 0 {
		cfg.StormWindow = 200
	}
	g := &Gate{
		rates:       cfg.Rates,
		buckets:     make(map[model.Severity]*tokenBucket, 6),
		bypassFloor: cfg.BypassFloor,
		storm:       breaker.New(1, cfg.StormCoolDown),
		window:      make([]bool, cfg.StormWindow),
		stormRatio:  cfg.StormDropRatio,
	}
	for _, s := range model.Severities() {
		g.buckets[s] = newTokenBucket(cfg.BucketCapacity, cfg.RefillPerSecond)
	}
	return g
}

// Admit reports whether the event may enter the buffer.
func (g *Gate) Admit(e model.Event) bool {
	// Storm clamp: while open, only critical-and-above pass, regardless of
	// bucket state.
	if g.storm.State() == breaker.Open && !g.stormExpired() {
		if e.Severity < model.SeverityCritical {
			g.stormRejected.Add(1)
			return false
		}
		g.admitted.Add(1)
		return true
	}

	// Sampled-out events do not feed the storm window: sampling drops are
	// intentional thinning at any volume, not an overload signal.
	if !g.sampleAdmit(e) {
		g.sampledOut.Add(1)
		return false
	}

	if e.Severity < g.bypassFloor {
		if !g.buckets[e.Severity].take() {
			g.rateLimited.Add(1)
			g.recordDecision(true)
			return false
		}
	}

	g.admitted.Add(1)
	g.recordDecision(false)
	return true
}

// sampleAdmit is the adaptive-sampling decision: a pure function of the
// correlation id and the severity's rate, so every event of one logical
// operation is admitted or dropped as a unit.
func (g *Gate) sampleAdmit(e model.Event) bool {
	rate, ok := g.rates[e.Severity]
	if !ok || rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}

	h := fnv.New64a()
	h.Write([]byte(e.CorrelationID))
	return h.Sum64()%sampleScale < uint64(rate*sampleScale)
}

// recordDecision feeds the sliding window and opens the storm breaker when
// the drop ratio crosses the threshold.
func (g *Gate) recordDecision(dropped bool) {
	g.windowMu.Lock()
	g.window[g.windowIdx] = dropped
	g.windowIdx = (g.windowIdx + 1) % len(g.window)
	if g.windowLen < len(g.window) {
		g.windowLen++
	}
	ratio := g.dropRatioLocked()
	full := g.windowLen == len(g.window)
	g.windowMu.Unlock()

	// Only judge a full window; a handful of early drops is not a storm.
	if full && ratio >= g.stormRatio {
		g.storm.ForceOpen()
	}
}

func (g *Gate) dropRatioLocked() float64 {
	if g.windowLen == 0 {
		return 0
	}
	drops := 0
	for i := 0; i < g.windowLen; i++ {
		if g.window[i] {
			drops++
		}
	}
	return float64(drops) / float64(g.windowLen)
}

// stormExpired closes the breaker after its cool-down by consuming the
// half-open trial as an immediate success: the storm judgment is based on
// the drop window, not on a downstream call, so there is nothing to probe.
func (g *Gate) stormExpired() bool {
	if !g.storm.Allow() {
		return false
	}
	g.storm.Success()
	g.resetWindow()
	return true
}

func (g *Gate) resetWindow() {
	g.windowMu.Lock()
	g.windowLen = 0
	g.windowIdx = 0
	g.windowMu.Unlock()
}

// Stats returns current counters.
func (g *Gate) Stats() Stats {
	return Stats{
		Admitted:      g.admitted.Load(),
		SampledOut:    g.sampledOut.Load(),
		RateLimited:   g.rateLimited.Load(),
		StormRejected: g.stormRejected.Load(),
		BreakerState:  g.storm.State().String(),
	}
}

// BucketAvailable reports the live token count for one severity.
func (g *Gate) BucketAvailable(s model.Severity) float64 {
	b, ok := g.buckets[s]
	if !ok {
		return 0
	}
	return b.available()
}
