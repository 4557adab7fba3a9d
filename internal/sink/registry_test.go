package sink

import (
	"context"
	"slices"
	"testing"

	"github.com/crimson-sun/pulse/internal/model"
)

type nopSink struct{}

func (nopSink) Deliver(context.Context, []model.Event) error { return nil }
func (nopSink) Close() error                                 { return nil }

func TestRegisterAndGet(t *testing.T) {
	Register("test-nop", func(target string, options map[string]string) (Sink, error) {
		return nopSink{}, nil
	})

	ctor, err := Get("test-nop")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	s, err := ctor("", nil)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := s.Deliver(context.Background(), nil); err != nil {
		t.Errorf("Deliver: %v", err)
	}

	if !slices.Contains(Types(), "test-nop") {
		t.Errorf("Types() = %v, missing test-nop", Types())
	}
}

func TestGetUnknownType(t *testing.T) {
	if _, err := Get("no-such-sink"); err == nil {
		t.Error("expected error for unknown sink type")
	}
}
