// Package opctx carries per-operation context through the pipeline.
//
// Exactly one Context is active per in-flight logical operation (one web
// request, one job run). The excluded application layer creates it at the
// operation boundary and passes it to every Emit call; the enricher reads
// from it. It is an explicit handle rather than goroutine-local state so
// that propagation is visible at call sites.
package opctx

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Context bundles the identity and timing of one logical operation.
// Fields are set once at creation and read-only afterwards, so a Context
// may be shared across the goroutines serving one operation.
type Context struct {
	CorrelationID string
	ActorID       string
	ActorType     string // "user", "service", "system", "anonymous"
	RemoteAddr    string
	StartTime     time.Time
}

// New creates a Context for an operation with a fresh correlation id.
func New() *Context {
	return &Context{
		CorrelationID: uuid.NewString(),
		ActorType:     "anonymous",
		StartTime:     time.Now(),
	}
}

// FromUpstream creates a Context that adopts a correlation id received from
// an upstream service (e.g. an X-Correlation-ID header). A blank id falls
// back to a fresh one.
func FromUpstream(correlationID string) *Context {
	c := New()
	if id := strings.TrimSpace(correlationID); id != "" {
		c.CorrelationID = id
	}
	return c
}

// WithActor returns the context with actor identity filled in.
func (c *Context) WithActor(id, actorType string) *Context {
	c.ActorID = id
	c.ActorType = actorType
	return c
}

// WithRemoteAddr returns the context with the network origin filled in.
func (c *Context) WithRemoteAddr(addr string) *Context {
	c.RemoteAddr = addr
	return c
}

// Elapsed reports time since the operation started.
func (c *Context) Elapsed() time.Duration {
	if c == nil || c.StartTime.IsZero() {
		return 0
	}
	return time.Since(c.StartTime)
}

// SystemID synthesizes a correlation id for out-of-operation emissions
// (background jobs, startup code) that carry no Context.
func SystemID() string {
	return "sys-" + uuid.NewString()[:8]
}
