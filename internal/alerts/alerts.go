// Package alerts provides ready-made CorrelationAlert sinks: a JSONL file
// writer for downstream consumers that tail a log, and a fixed-size ring
// buffer for in-process inspection. The engine itself never retains
// alerts; these are delivery vehicles.
package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mkendrick/crosswind/internal/domain"
)

// JSONLSink appends one JSON line per alert to a file.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONLSink opens (or creates) the alert log at path.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open alert log: %w", err)
	}
	return &JSONLSink{file: f}, nil
}

// Publish writes the alert as one JSONL line. Write failures are dropped;
// alert delivery is best-effort by contract and must never stall the
// monitor.
func (s *JSONLSink) Publish(alert domain.CorrelationAlert) {
	data, err := json.Marshal(alert)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Write(append(data, '\n'))
}

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// DefaultRingSize is the default ring buffer capacity.
const DefaultRingSize = 256

// RingSink is a fixed-size circular buffer of recent alerts, safe for
// concurrent publish and read.
type RingSink struct {
	mu    sync.Mutex
	buf   []domain.CorrelationAlert
	size  int
	head  int // next write position
	count int // valid entries (0..size)
}

// NewRingSink creates a ring sink with the given capacity.
func NewRingSink(size int) *RingSink {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingSink{
		buf:  make([]domain.CorrelationAlert, size),
		size: size,
	}
}

// Publish adds an alert, overwriting the oldest when full.
func (s *RingSink) Publish(alert domain.CorrelationAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.head] = alert
	s.head = (s.head + 1) % s.size
	if s.count < s.size {
		s.count++
	}
}

// Recent returns up to n alerts, newest first.
func (s *RingSink) Recent(n int) []domain.CorrelationAlert {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > s.count {
		n = s.count
	}
	out := make([]domain.CorrelationAlert, 0, n)
	idx := (s.head - 1 + s.size) % s.size
	for i := 0; i < n; i++ {
		out = append(out, s.buf[idx])
		idx = (idx - 1 + s.size) % s.size
	}
	return out
}

// Fan duplicates each alert to several sinks.
type Fan []interface {
	Publish(alert domain.CorrelationAlert)
}

// Publish forwards the alert to every sink.
func (f Fan) Publish(alert domain.CorrelationAlert) {
	for _, sink := range f {
		sink.Publish(alert)
	}
}
