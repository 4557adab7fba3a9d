package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/crimson-sun/pulse/internal/model"
)

func TestCollectorAggregatesOfferedEvents(t *testing.T) {
	c := NewCollector(CollectorConfig{TapSize: 16, ExportInterval: time.Hour})
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Offer(model.Event{Severity: model.SeverityInfo, Source: "api", Timestamp: time.Now()})
	}

	waitStats(t, c, func(s CollectorStats) bool { return s.Observed == 5 })
	if s := c.Stats(); s.Samples < 5 {
		t.Errorf("samples = %d, want >= 5", s.Samples)
	}
}

func TestCollectorTapOverflowDropsAndCounts(t *testing.T) {
	// TapSize 1 with no consumer progress guarantee: flood and check
	// conservation. Close drains, so observed + dropped must equal offered.
	c := NewCollector(CollectorConfig{TapSize: 1, ExportInterval: time.Hour})

	const total = 500
	for i := 0; i < total; i++ {
		c.Offer(model.Event{Severity: model.SeverityInfo, Timestamp: time.Now()})
	}
	c.Close()

	s := c.Stats()
	if s.Observed+s.TapDropped != total {
		t.Errorf("observed(%d) + dropped(%d) != %d", s.Observed, s.TapDropped, total)
	}
}

func TestCollectorOfferAfterCloseIsNoop(t *testing.T) {
	c := NewCollector(CollectorConfig{TapSize: 4, ExportInterval: time.Hour})
	c.Close()
	c.Offer(model.Event{Severity: model.SeverityInfo})

	if s := c.Stats(); s.Observed != 0 {
		t.Errorf("observed = %d after close, want 0", s.Observed)
	}
}

func TestCollectorExportsToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewCollector(CollectorConfig{
		TapSize:        16,
		ExportInterval: time.Hour, // export happens on Close
		ExportTTL:      time.Minute,
		Client:         client,
	})

	for i := 0; i < 3; i++ {
		c.Offer(model.Event{Severity: model.SeverityError, Source: "db", Timestamp: time.Now()})
	}
	c.Close()

	fields, err := client.HGetAll(context.Background(), "pulse:metrics:events.error").Result()
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if fields["count"] != "3" {
		t.Errorf("count = %q, want 3", fields["count"])
	}
	if fields["last"] != "1" {
		t.Errorf("last = %q, want 1", fields["last"])
	}

	ttl := client.TTL(context.Background(), "pulse:metrics:events.error").Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v, want in (0, 1m]", ttl)
	}

	if s := c.Stats(); s.Exports != 1 {
		t.Errorf("exports = %d, want 1", s.Exports)
	}
}

func TestCollectorExportFailureIsCounted(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewCollector(CollectorConfig{TapSize: 16, ExportInterval: time.Hour, Client: client})
	c.Offer(model.Event{Severity: model.SeverityInfo, Timestamp: time.Now()})

	waitStats(t, c, func(s CollectorStats) bool { return s.Observed == 1 })
	mr.Close()
	c.Close() // final export hits a dead server

	if s := c.Stats(); s.ExportsFailed != 1 {
		t.Errorf("exports_failed = %d, want 1", s.ExportsFailed)
	}
}

func TestCollectorCountsAnomalies(t *testing.T) {
	c := NewCollector(CollectorConfig{TapSize: 64, ExportInterval: time.Hour, AnomalyZScore: 3.0})

	// A steady latency gauge followed by a spike.
	for i := 0; i < 12; i++ {
		c.Offer(model.Event{
			Severity:   model.SeverityInfo,
			Timestamp:  time.Now(),
			Attributes: map[string]any{"query_ms": float64(100 + i%3)},
		})
	}
	c.Offer(model.Event{
		Severity:   model.SeverityInfo,
		Timestamp:  time.Now(),
		Attributes: map[string]any{"query_ms": float64(5000)},
	})
	c.Close()

	if s := c.Stats(); s.Anomalies == 0 {
		t.Error("latency spike produced no anomaly")
	}
}

func waitStats(t *testing.T, c *Collector, cond func(CollectorStats) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(c.Stats()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond(c.Stats()) {
		t.Fatal("condition not met within deadline")
	}
}
