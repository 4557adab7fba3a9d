package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crimson-sun/pulse/internal/model"
)

func TestDeliverWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batch := []model.Event{
		{Severity: model.SeverityInfo, Message: "one", CorrelationID: "c-1"},
		{Severity: model.SeverityError, Message: "two", CorrelationID: "c-2"},
	}
	if err := s.Deliver(context.Background(), batch); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var got []model.Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e model.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2", len(got))
	}
	if got[0].Message != "one" || got[1].Message != "two" {
		t.Errorf("messages = %q, %q", got[0].Message, got[1].Message)
	}
	if got[1].Severity != model.SeverityError {
		t.Errorf("severity = %v, want error", got[1].Severity)
	}
}

func TestDeliverAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")

	for i := 0; i < 2; i++ {
		s, err := New(path)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := s.Deliver(context.Background(), []model.Event{{Message: "x"}}); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := countLines(data); n != 2 {
		t.Errorf("got %d lines after reopen, want 2", n)
	}
}

func TestRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	s, err := New(path, WithMaxSize(50))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Every line exceeds the cap on its own, so each write rotates and
	// both generations end up with exactly one line.
	long := strings.Repeat("a", 100)
	for i := 0; i < 3; i++ {
		err := s.Deliver(context.Background(), []model.Event{{Message: long, CorrelationID: "corr"}})
		if err != nil {
			t.Fatalf("Deliver %d: %v", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rotated, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	cur, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if n := countLines(cur); n != 1 {
		t.Errorf("current file has %d lines, want 1", n)
	}
	if n := countLines(rotated); n != 1 {
		t.Errorf("rotated file has %d lines, want 1", n)
	}
}

func TestDeliverHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Deliver(ctx, []model.Event{{Message: "x"}}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
