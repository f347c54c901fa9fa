package limiter

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	start  time.Time
	window time.Duration
	prev   int
	cur    int
}

// Memory is a process-local limiter. It does not share counters across instances.
type Memory struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory() *Memory {
	return &Memory{counters: map[string]*counter{}, now: time.Now}
}

// Allow counts the request and reports whether it fits the quota.
func (m *Memory) Allow(_ context.Context, key string, q Quota) (Decision, error) {
	now := m.now()
	ws := windowStart(now, q.Window)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	switch {
	case !ok || c.window != q.Window:
		c = &counter{start: ws, window: q.Window}
		m.counters[key] = c
	case !c.start.Equal(ws):
		if ws.Sub(c.start) == q.Window {
			c.prev = c.cur
		} else {
			c.prev = 0
		}
		c.cur = 0
		c.start = ws
	}
	c.cur++
	return evaluate(now, q, c.start, c.prev, c.cur), nil
}

// Prune drops counters whose windows can no longer influence a decision.
func (m *Memory) Prune() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, c := range m.counters {
		if now.Sub(c.start) >= 2*c.window {
			delete(m.counters, k)
			n++
		}
	}
	return n
}

// Run prunes every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Prune()
		}
	}
}
