// Package ratelimit implements per-sender admission control for the
// dispatch pipeline. Each sender gets a bucket of points that refills
// fully once the window elapses without consumption; buckets idle past
// the window are evicted so the map stays bounded.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	remaining int
	resetAt   time.Time
}

// Config sets bucket capacity and window length.
type Config struct {
	Points     int              // consumptions allowed per window
	Window     time.Duration    // full refill after this long without consumption
	SweepEvery time.Duration    // eviction cadence; <=0 disables the sweeper
	Clock      func() time.Time // injectable for tests; nil means time.Now
}

func (c *Config) norm() {
	if c.Points <= 0 {
		c.Points = 10
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Limiter tracks one bucket per sender id. Buckets are created lazily
// on first consume.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     Config

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Limiter {
	cfg.norm()
	l := &Limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	if cfg.SweepEvery > 0 {
		go l.sweeper()
	}
	return l
}

// Consume takes one point from the sender's bucket using the default
// capacity and window. It returns false when the bucket is exhausted;
// exhaustion never deducts below zero. A consume attempt after the
// window lapsed resets the bucket before decrementing.
func (l *Limiter) Consume(senderID string) bool {
	return l.ConsumeWith(senderID, 0, 0)
}

// ConsumeWith consumes using caller-supplied bucket parameters, used
// when tenants carry their own rate settings. Non-positive values fall
// back to the limiter defaults.
func (l *Limiter) ConsumeWith(key string, points int, window time.Duration) bool {
	if points <= 0 {
		points = l.cfg.Points
	}
	if window <= 0 {
		window = l.cfg.Window
	}
	now := l.cfg.Clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{remaining: points, resetAt: now.Add(window)}
		l.buckets[key] = b
	}

	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Remaining reports the points left for a sender. A sender without a
// bucket (or with a lapsed one) has the full capacity available.
func (l *Limiter) Remaining(senderID string) int {
	now := l.cfg.Clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[senderID]
	if !ok || now.After(b.resetAt) {
		return l.cfg.Points
	}
	return b.remaining
}

// Len reports how many buckets are currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Sweep evicts buckets whose window has lapsed. The sweeper calls this
// periodically; tests call it directly.
func (l *Limiter) Sweep() int {
	now := l.cfg.Clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for id, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, id)
			evicted++
		}
	}
	return evicted
}

func (l *Limiter) sweeper() {
	ticker := time.NewTicker(l.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stopCh:
			return
		}
	}
}

// Stop halts the background sweeper.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
