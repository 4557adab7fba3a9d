package opctx

import (
	"strings"
	"testing"
)

func TestNewAssignsUniqueCorrelationIDs(t *testing.T) {
	a, b := New(), New()
	if a.CorrelationID == "" || b.CorrelationID == "" {
		t.Fatal("blank correlation id")
	}
	if a.CorrelationID == b.CorrelationID {
		t.Fatal("correlation ids collided")
	}
}

func TestFromUpstreamAdoptsID(t *testing.T) {
	c := FromUpstream("  req-42  ")
	if c.CorrelationID != "req-42" {
		t.Errorf("got %q, want req-42", c.CorrelationID)
	}
	if FromUpstream("").CorrelationID == "" {
		t.Error("blank upstream id should fall back to a fresh one")
	}
}

func TestSystemIDPrefix(t *testing.T) {
	id := SystemID()
	if !strings.HasPrefix(id, "sys-") || len(id) != len("sys-")+8 {
		t.Errorf("unexpected system id %q", id)
	}
}

func TestElapsedNilSafe(t *testing.T) {
	var c *Context
	if c.Elapsed() != 0 {
		t.Error("nil context should report zero elapsed")
	}
}
