package pulse

import "github.com/crimson-sun/pulse/internal/opctx"

// Context identifies one logical operation (one request, one job run).
// Create one at the operation boundary and pass it to every Emit so all of
// the operation's events share a correlation id. A nil Context is allowed:
// the pipeline synthesizes a system correlation id.
type Context struct {
	inner *opctx.Context
}

// NewContext starts a Context with a fresh correlation id.
func NewContext() *Context {
	return &Context{inner: opctx.New()}
}

// ContextFromUpstream adopts a correlation id received from an upstream
// service (an X-Correlation-ID header, a queue message field). A blank id
// falls back to a fresh one.
func ContextFromUpstream(correlationID string) *Context {
	return &Context{inner: opctx.FromUpstream(correlationID)}
}

// WithActor records who is driving the operation.
func (c *Context) WithActor(id, actorType string) *Context {
	c.inner.WithActor(id, actorType)
	return c
}

// WithRemoteAddr records the network origin of the operation.
func (c *Context) WithRemoteAddr(addr string) *Context {
	c.inner.WithRemoteAddr(addr)
	return c
}

// CorrelationID returns the operation's correlation id.
func (c *Context) CorrelationID() string {
	return c.inner.CorrelationID
}

func (c *Context) internal() *opctx.Context {
	if c == nil {
		return nil
	}
	return c.inner
}
