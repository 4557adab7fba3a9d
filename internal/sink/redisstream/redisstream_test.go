package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/crimson-sun/pulse/internal/model"
	"github.com/crimson-sun/pulse/internal/sink"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDeliverAppendsToStream(t *testing.T) {
	_, client := setup(t)
	s := New(client, WithStream("test:events"))

	batch := []model.Event{
		{Severity: model.SeverityInfo, Message: "first", CorrelationID: "c-1", Source: "api", Timestamp: time.Now()},
		{Severity: model.SeverityError, Message: "second", CorrelationID: "c-2", Source: "api", Timestamp: time.Now()},
	}
	if err := s.Deliver(context.Background(), batch); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	msgs, err := client.XRange(context.Background(), "test:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d entries, want 2", len(msgs))
	}
	if got := msgs[0].Values["severity"]; got != "info" {
		t.Errorf("severity = %v, want info", got)
	}
	if got := msgs[0].Values["correlation_id"]; got != "c-1" {
		t.Errorf("correlation_id = %v, want c-1", got)
	}
	if got := msgs[1].Values["severity"]; got != "error" {
		t.Errorf("severity = %v, want error", got)
	}
	if payload, ok := msgs[0].Values["payload"].(string); !ok || payload == "" {
		t.Error("payload field missing or empty")
	}
}

func TestDeliverDefaultStreamName(t *testing.T) {
	_, client := setup(t)
	s := New(client)

	err := s.Deliver(context.Background(), []model.Event{{Severity: model.SeverityInfo, Message: "x"}})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	n, err := client.XLen(context.Background(), "pulse:events").Result()
	if err != nil {
		t.Fatalf("XLen: %v", err)
	}
	if n != 1 {
		t.Errorf("default stream length = %d, want 1", n)
	}
}

func TestDeliverFailsWhenServerDown(t *testing.T) {
	mr, client := setup(t)
	s := New(client)

	mr.Close()
	err := s.Deliver(context.Background(), []model.Event{{Severity: model.SeverityInfo, Message: "x"}})
	if err == nil {
		t.Fatal("expected error after server shutdown")
	}
}

func TestRegistryConstructor(t *testing.T) {
	mr := miniredis.RunT(t)

	ctor, err := sink.Get("redis")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	s, err := ctor(mr.Addr(), map[string]string{"stream": "custom:stream", "max_length": "50"})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	defer s.Close()

	if err := s.Deliver(context.Background(), []model.Event{{Severity: model.SeverityWarning, Message: "hi"}}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !mr.Exists("custom:stream") {
		t.Error("custom stream not written")
	}
}

func TestRegistryConstructorRejectsBadOptions(t *testing.T) {
	ctor, err := sink.Get("redis")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if _, err := ctor("", nil); err == nil {
		t.Error("empty target accepted")
	}
	if _, err := ctor("localhost:6379", map[string]string{"max_length": "many"}); err == nil {
		t.Error("non-numeric max_length accepted")
	}
}
