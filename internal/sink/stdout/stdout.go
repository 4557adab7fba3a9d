// Package stdout writes event batches as NDJSON to standard output.
// Useful in development and as a last-resort backup sink.
package stdout

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/crimson-sun/pulse/internal/model"
	"github.com/crimson-sun/pulse/internal/sink"
)

func init() {
	sink.Register("stdout", func(_ string, _ map[string]string) (sink.Sink, error) {
		return New(os.Stdout), nil
	})
}

// Sink writes one JSON object per line.
type Sink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// New creates a stdout sink over the given writer.
func New(w io.Writer) *Sink {
	return &Sink{w: bufio.NewWriter(w)}
}

func (s *Sink) Deliver(ctx context.Context, batch []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("stdout sink: marshal: %w", err)
		}
		data = append(data, '\n')
		if _, err := s.w.Write(data); err != nil {
			return fmt.Errorf("stdout sink: write: %w", err)
		}
	}
	return s.w.Flush()
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
