// Package pulse provides a resilient, asynchronous observability event
// pipeline: emissions are enriched, scrubbed of sensitive values, sampled,
// buffered, and delivered in batches to an ordered list of failover sinks —
// without ever blocking the emitting caller or returning it an error.
//
// Quick start:
//
//	p, err := pulse.New(pulse.WithService("checkout", "production"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	ctx := pulse.NewContext().WithActor("u-1842", "user")
//	p.Emit(ctx, pulse.Warning, "payment retry scheduled", map[string]any{
//	    "order_id": "ord-2210",
//	    "retry_ms": 1500,
//	})
//
// A Pulse instance is safe for concurrent use. Create once at startup,
// share across the process, Close on shutdown to drain the buffer.
package pulse
