// Package file writes event batches as NDJSON to a local file with
// buffered I/O and optional size-based rotation.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/crimson-sun/pulse/internal/model"
	"github.com/crimson-sun/pulse/internal/sink"
)

const defaultBufSize = 64 * 1024 // 64KB

func init() {
	sink.Register("file", func(target string, options map[string]string) (sink.Sink, error) {
		var opts []Option
		if v, ok := options["max_size_bytes"]; ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("file sink: bad max_size_bytes %q: %w", v, err)
			}
			opts = append(opts, WithMaxSize(n))
		}
		return New(target, opts...)
	})
}

// Option configures a file Sink.
type Option func(*Sink)

// WithMaxSize sets the file size (bytes) at which rotation triggers.
// 0 (default) disables rotation.
func WithMaxSize(bytes int64) Option {
	return func(s *Sink) { s.maxSize = bytes }
}

// WithBufSize sets the bufio.Writer buffer size. Default: 64KB.
func WithBufSize(bytes int) Option {
	return func(s *Sink) { s.bufSize = bytes }
}

// Sink appends NDJSON lines to a file. Each Deliver call is flushed to the
// OS before returning so an accepted batch survives a process crash.
type Sink struct {
	mu      sync.Mutex
	w       *bufio.Writer
	f       *os.File
	path    string
	maxSize int64 // 0 = no rotation
	written int64
	bufSize int
}

// New creates a file sink that writes NDJSON to the given path.
func New(path string, opts ...Option) (*Sink, error) {
	s := &Sink{path: path, bufSize: defaultBufSize}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.openFile(); err != nil {
		return nil, err
	}
	return s, nil
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
			return fmt.Errorf("file sink: marshal: %w", err)
		}
		data = append(data, '\n')

		if s.maxSize > 0 && s.written+int64(len(data)) > s.maxSize {
			if err := s.rotate(); err != nil {
				return fmt.Errorf("file sink: rotate: %w", err)
			}
		}
		n, err := s.w.Write(data)
		if err != nil {
			return fmt.Errorf("file sink: write: %w", err)
		}
		s.written += int64(n)
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("file sink: flush: %w", err)
	}
	return s.f.Close()
}

func (s *Sink) openFile() error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file sink: open %s: %w", s.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("file sink: stat %s: %w", s.path, err)
	}
	s.f = f
	s.written = info.Size()
	s.w = bufio.NewWriterSize(f, s.bufSize)
	return nil
}

// rotate renames the current file to <path>.1 and starts a fresh one.
// A single rotated generation is kept; older ones are overwritten.
func (s *Sink) rotate() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(s.path, s.path+".1"); err != nil {
		return err
	}
	return s.openFile()
}
