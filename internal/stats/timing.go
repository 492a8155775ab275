// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stats

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary is the aggregate of all recorded inference latencies.
type Summary struct {
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
}

// Timing keeps every per-step inference latency for the life of a run.
// Nothing is evicted, so memory grows with the number of steps.
type Timing struct {
	mu        sync.RWMutex
	durations []float64 // milliseconds
}

// NewTiming returns an empty tracker.
func NewTiming() *Timing {
	return &Timing{}
}

// Add records one latency.
func (t *Timing) Add(d time.Duration) {
	t.mu.Lock()
	t.durations = append(t.durations, float64(d)/float64(time.Millisecond))
	t.mu.Unlock()
}

// Len is the number of recorded latencies.
func (t *Timing) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.durations)
}

// Durations returns a copy of the recorded latencies in milliseconds.
func (t *Timing) Durations() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]float64(nil), t.durations...)
}

// Stats returns average, minimum and maximum in milliseconds; all zero
// before the first Add.
func (t *Timing) Stats() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.durations) == 0 {
		return Summary{}
	}
	return Summary{
		Count: len(t.durations),
		AvgMs: stat.Mean(t.durations, nil),
		MinMs: floats.Min(t.durations),
		MaxMs: floats.Max(t.durations),
	}
}
