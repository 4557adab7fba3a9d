// Package sink defines the delivery destination interface and the
// constructor registry concrete sinks register into.
package sink

import (
	"context"

	"github.com/crimson-sun/pulse/internal/model"
)

// Sink is an append-only external destination for event batches.
//
// Implementations must be safe to call repeatedly with the same batch
// (retries happen) and may only assume ordering within one batch. A nil
// error means the batch was accepted. Deliver must honor ctx cancellation:
// the router bounds every call with a deadline and treats expiry as
// failure.
type Sink interface {
	Deliver(ctx context.Context, batch []model.Event) error
	Close() error
}
