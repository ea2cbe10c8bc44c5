// Package sink delivers alerts to their destinations.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"fxalert/internal/batch"
	"fxalert/internal/models"
	"fxalert/internal/parser"
)

// Sink receives alerts in the order they are raised.
type Sink interface {
	// Name identifies the sink in logs and errors.
	Name() string

	// Emit delivers one alert.
	Emit(ctx context.Context, alert *models.Alert) error

	// Close flushes pending alerts and releases resources.
	Close() error
}

// WriterSink writes one JSON line per alert.
type WriterSink struct {
	name   string
	w      io.Writer
	closer io.Closer
	mapper *parser.Mapper

	mu sync.Mutex
}

// NewWriterSink writes alerts to w. The writer is not closed by Close.
func NewWriterSink(name string, w io.Writer) *WriterSink {
	return &WriterSink{name: name, w: w, mapper: parser.NewMapper(nil)}
}

// NewStdoutSink writes alerts to standard output.
func NewStdoutSink() *WriterSink {
	return NewWriterSink("stdout", os.Stdout)
}

// NewFileSink truncates or creates path and writes alerts to it.
func NewFileSink(path string) (*WriterSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	s := NewWriterSink("file:"+path, f)
	s.closer = f
	return s, nil
}

// Name returns the sink name.
func (s *WriterSink) Name() string {
	return s.name
}

// Emit writes the alert followed by a newline.
func (s *WriterSink) Emit(_ context.Context, alert *models.Alert) error {
	line, err := s.mapper.Write(alert)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = io.WriteString(s.w, line+"\n")
	return err
}

// Close closes the underlying file, if the sink owns one.
func (s *WriterSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Multi fans alerts out to several sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti combines sinks. Alerts are delivered to each in order.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Name returns the sink name.
func (m *Multi) Name() string {
	return "multi"
}

// Emit delivers to every sink. All sinks are attempted; the first error is
// returned.
func (m *Multi) Emit(ctx context.Context, alert *models.Alert) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, alert); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return first
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// BatchSink queues alerts on a batch processor for asynchronous delivery.
type BatchSink struct {
	name string
	proc *batch.Processor
}

// NewBatchSink wraps proc. Close closes the processor, flushing what is left.
func NewBatchSink(name string, proc *batch.Processor) *BatchSink {
	return &BatchSink{name: name, proc: proc}
}

// Name returns the sink name.
func (s *BatchSink) Name() string {
	return s.name
}

// Emit queues the alert.
func (s *BatchSink) Emit(_ context.Context, alert *models.Alert) error {
	return s.proc.Add(alert)
}

// Close flushes and stops the processor.
func (s *BatchSink) Close() error {
	return s.proc.Close()
}

// Metrics exposes the processor counters.
func (s *BatchSink) Metrics() batch.Metrics {
	return s.proc.GetMetrics()
}
