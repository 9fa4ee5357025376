package channel

import (
	"sync"
	"time"
)

// RateMeter counts events and turns the count into a per-second rate each
// time it is sampled.
type RateMeter struct {
	mu    sync.Mutex
	now   func() time.Time
	count int
	since time.Time
	rate  float64
}

// NewRateMeter returns a meter that starts counting now.
func NewRateMeter() *RateMeter {
	return newRateMeter(time.Now)
}

func newRateMeter(now func() time.Time) *RateMeter {
	return &RateMeter{now: now, since: now()}
}

// Tick counts one event.
func (m *RateMeter) Tick() {
	m.mu.Lock()
	m.count++
	m.mu.Unlock()
}

// Sample computes the rate since the previous sample and restarts the
// count.
func (m *RateMeter) Sample() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if elapsed := now.Sub(m.since).Seconds(); elapsed > 0 {
		m.rate = float64(m.count) / elapsed
	}
	m.count = 0
	m.since = now
	return m.rate
}

// Rate returns the last sampled rate.
func (m *RateMeter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}
