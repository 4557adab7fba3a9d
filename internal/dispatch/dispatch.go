// Package dispatch owns the bounded buffer and the delivery worker pool.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/pulse/internal/breaker"
	"github.com/crimson-sun/pulse/internal/model"
)

// BatchDeliverer is the downstream the dispatcher hands batches to — in
// production the failover router.
type BatchDeliverer interface {
	// Deliver routes one batch. It must bound its own sink calls and must
	// not block indefinitely.
	Deliver(ctx context.Context, batch []model.Event) model.DeliveryResult
	// DeliverDirect attempts a single event against the current primary
	// sink only, bypassing failover. Used by the emergency path.
	DeliverDirect(ctx context.Context, e model.Event) error
}

// Config tunes a Dispatcher.
type Config struct {
	// MaxSize bounds the buffer by event count.
	MaxSize int
	// MaxBatchBytes bounds one batch by approximate byte size.
	MaxBatchBytes int
	// FlushSize is the batch size that triggers an immediate flush.
	FlushSize int
	// FlushInterval bounds how long the oldest unflushed event waits.
	FlushInterval time.Duration
	// Workers is the delivery pool size. 1 preserves global order.
	Workers int
	// NeverDropFloor: severities at or above it take the emergency
	// synchronous path instead of being dropped when the buffer is full or
	// the breaker is open.
	NeverDropFloor model.Severity
	// EmergencyTimeout bounds one emergency delivery attempt.
	EmergencyTimeout time.Duration
	// DrainTimeout bounds the shutdown flush.
	DrainTimeout time.Duration
	// BreakerThreshold / BreakerCoolDown configure the dispatcher-level
	// breaker fed by batch delivery outcomes.
	BreakerThreshold int
	BreakerCoolDown  time.Duration
}

// Stats is a point-in-time snapshot of dispatcher counters. Loss is always
// counted, never silent: every event that enters Submit ends up in exactly
// one of delivered / emergency / dropped / lost.
type Stats struct {
	Enqueued           uint64 `json:"enqueued"`
	Delivered          uint64 `json:"delivered"`
	Batches            uint64 `json:"batches"`
	OverflowDropped    uint64 `json:"overflow_dropped"`
	BreakerDropped     uint64 `json:"breaker_dropped"`
	EmergencyDelivered uint64 `json:"emergency_delivered"`
	EmergencyFailed    uint64 `json:"emergency_failed"`
	DeliveryLost       uint64 `json:"delivery_lost"`
	ShutdownLost       uint64 `json:"shutdown_lost"`
	BufferOccupancy    int    `json:"buffer_occupancy"`
	BreakerState       string `json:"breaker_state"`
}

// Dispatcher accepts events without blocking the caller and delivers them
// in batches via a fixed worker pool. See Submit for the backpressure
// policy.
type Dispatcher struct {
	cfg       Config
	deliverer BatchDeliverer
	ch        chan model.Event
	done      chan struct{}
	wg        sync.WaitGroup
	brk       *breaker.Breaker
	closed    atomic.Bool
	closeOnce sync.Once

	enqueued           atomic.Uint64
	delivered          atomic.Uint64
	batches            atomic.Uint64
	overflowDropped    atomic.Uint64
	breakerDropped     atomic.Uint64
	emergencyDelivered atomic.Uint64
	emergencyFailed    atomic.Uint64
	deliveryLost       atomic.Uint64
	shutdownLost       atomic.Uint64
}

// New creates a Dispatcher and starts its workers.
func New(cfg Config, deliverer BatchDeliverer) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = 1 << 20
	}
	d := &Dispatcher{
		cfg:       cfg,
		deliverer: deliverer,
		ch:        make(chan model.Event, cfg.MaxSize),
		done:      make(chan struct{}),
		brk:       breaker.New(cfg.BreakerThreshold, cfg.BreakerCoolDown),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}
	return d
}

// Submit enqueues an event for asynchronous delivery. It never blocks
// beyond the bounded emergency path and never returns an error — failures
// degrade to counters.
//
// Policy, in order:
//  1. Dispatcher breaker open: skip the buffer entirely. Never-drop events
//     go to the emergency path (which doubles as the half-open probe);
//     everything else is dropped and counted.
//  2. Buffer has room: enqueue.
//  3. Buffer full: never-drop events go to the emergency path; everything
//     else is dropped and counted.
func (d *Dispatcher) Submit(e model.Event) {
	if d.closed.Load() {
		d.shutdownLost.Add(1)
		return
	}

	if !d.brk.Allow() {
		if e.Severity >= d.cfg.NeverDropFloor {
			d.emergency(e)
			return
		}
		d.breakerDropped.Add(1)
		return
	}

	select {
	case d.ch <- e:
		d.enqueued.Add(1)
	default:
		if e.Severity >= d.cfg.NeverDropFloor {
			d.emergency(e)
			return
		}
		d.overflowDropped.Add(1)
	}
}

// emergency performs one bounded synchronous delivery attempt against the
// primary sink, bypassing batching. Its outcome feeds the breaker, so a
// recovered sink closes the breaker even while the buffer is bypassed.
// A failed attempt falls back to one stderr line so a never-drop event
// always has a terminal destination.
func (d *Dispatcher) emergency(e model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.EmergencyTimeout)
	defer cancel()

	if err := d.deliverer.DeliverDirect(ctx, e); err != nil {
		d.brk.Failure()
		d.emergencyFailed.Add(1)
		fmt.Fprintf(os.Stderr, "[pulse emergency] %s %s %s: %s\n",
			e.Timestamp.Format(time.RFC3339), e.Severity, e.CorrelationID, e.Message)
		return
	}
	d.brk.Success()
	d.emergencyDelivered.Add(1)
}

// worker drains the buffer into batches, flushing on size, byte budget, or
// the age of the oldest buffered event — whichever comes first.
func (d *Dispatcher) worker() {
	defer d.wg.Done()

	batch := make([]model.Event, 0, d.cfg.FlushSize)
	batchBytes := 0
	var timer *time.Timer
	var timerC <-chan time.Time

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	flush := func(ctx context.Context) {
		stopTimer()
		if len(batch) == 0 {
			return
		}
		d.flushBatch(ctx, batch)
		batch = batch[:0]
		batchBytes = 0
	}

	for {
		select {
		case e := <-d.ch:
			batch = append(batch, e)
			batchBytes += e.ApproxSize()
			if len(batch) == 1 {
				timer = time.NewTimer(d.cfg.FlushInterval)
				timerC = timer.C
			}
			if len(batch) >= d.cfg.FlushSize || batchBytes >= d.cfg.MaxBatchBytes {
				flush(context.Background())
			}
		case <-timerC:
			timer = nil
			timerC = nil
			flush(context.Background())
		case <-d.done:
			d.drain(&batch, &batchBytes)
			stopTimer()
			return
		}
	}
}

// drain empties the remaining buffer within the drain deadline. Events
// still buffered when the deadline passes are counted as lost.
func (d *Dispatcher) drain(batch *[]model.Event, batchBytes *int) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()

	for {
		select {
		case e := <-d.ch:
			*batch = append(*batch, e)
			if len(*batch) >= d.cfg.FlushSize {
				if !d.flushOrCount(ctx, *batch) {
					*batch = (*batch)[:0]
					d.countRemaining()
					return
				}
				*batch = (*batch)[:0]
				*batchBytes = 0
			}
		default:
			if len(*batch) > 0 {
				d.flushOrCount(ctx, *batch)
				*batch = (*batch)[:0]
			}
			return
		}
	}
}

// flushOrCount delivers the batch unless the drain deadline has passed, in
// which case the batch is counted as shutdown loss. Returns false once the
// deadline is exceeded.
func (d *Dispatcher) flushOrCount(ctx context.Context, batch []model.Event) bool {
	if ctx.Err() != nil {
		d.shutdownLost.Add(uint64(len(batch)))
		return false
	}
	d.flushBatch(ctx, batch)
	return true
}

// countRemaining attributes whatever is still buffered to shutdown loss.
func (d *Dispatcher) countRemaining() {
	for {
		select {
		case <-d.ch:
			d.shutdownLost.Add(1)
		default:
			return
		}
	}
}

// flushBatch hands one batch to the deliverer and feeds the breaker with
// the outcome. A failed batch is counted as lost — delivery is at-most-once
// and the dispatcher never replays.
func (d *Dispatcher) flushBatch(ctx context.Context, batch []model.Event) {
	out := make([]model.Event, len(batch))
	copy(out, batch)

	res := d.deliverer.Deliver(ctx, out)
	if res.Err != nil {
		d.brk.Failure()
		d.deliveryLost.Add(uint64(len(out)))
		slog.Warn("batch delivery failed",
			"events", len(out), "attempts", res.Attempts, "terminal", res.Terminal, "error", res.Err)
		return
	}
	d.brk.Success()
	d.delivered.Add(uint64(len(out)))
	d.batches.Add(1)
}

// Close stops intake and drains the buffer within the configured timeout.
// Safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()

		stats := d.Stats()
		if stats.ShutdownLost > 0 {
			slog.Warn("dispatcher closed with unflushed events", "lost", stats.ShutdownLost)
		}
	})
}

// Stats returns current counters and buffer occupancy.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:           d.enqueued.Load(),
		Delivered:          d.delivered.Load(),
		Batches:            d.batches.Load(),
		OverflowDropped:    d.overflowDropped.Load(),
		BreakerDropped:     d.breakerDropped.Load(),
		EmergencyDelivered: d.emergencyDelivered.Load(),
		EmergencyFailed:    d.emergencyFailed.Load(),
		DeliveryLost:       d.deliveryLost.Load(),
		ShutdownLost:       d.shutdownLost.Load(),
		BufferOccupancy:    len(d.ch),
		BreakerState:       d.brk.State().String(),
	}
}
