package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Metrics tracks request counts and time spent talking to the cloud API
type Metrics struct {
	requests int64
	retries  int64
	errors   int64
	duration time.Duration
	mu       sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRequest records a finished request attempt
func (m *Metrics) RecordRequest(duration time.Duration) {
	m.mu.Lock()
	m.requests++
	m.duration += duration
	m.mu.Unlock()
}

// RecordRetry records a failed attempt that will be retried
func (m *Metrics) RecordRetry() {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

// RecordError records a request that failed for good
func (m *Metrics) RecordError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// Stats is a point in time copy of Metrics.
type Stats struct {
	Requests int64
	Retries  int64
	Errors   int64
	Duration time.Duration
}

// GetStats returns current metrics
func (m *Metrics) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Requests: m.requests, Retries: m.retries, Errors: m.errors, Duration: m.duration}
}

// MarshalZerologObject lets the stats be attached to a log event with Object().
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("requests", s.Requests).
		Int64("retries", s.Retries).
		Int64("errors", s.Errors).
		Dur("duration", s.Duration)
}
