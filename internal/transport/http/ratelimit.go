package http

import (
	"sync"
	"time"
)

// publishLimiter caps publish calls per user per minute. A zero limit
// disables the cap entirely.
type publishLimiter struct {
	limit    int
	mu       sync.Mutex
	counters map[int64]int
	reset    *time.Ticker
	stop     chan struct{}
}

func newPublishLimiter(limit int) *publishLimiter {
	if limit <= 0 {
		return &publishLimiter{limit: 0}
	}
	l := &publishLimiter{
		limit:    limit,
		counters: make(map[int64]int),
		reset:    time.NewTicker(time.Minute),
		stop:     make(chan struct{}),
	}
	go l.resetLoop()
	return l
}

func (l *publishLimiter) allow(userID int64) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters[userID]++
	return l.counters[userID] <= l.limit
}

func (l *publishLimiter) resetLoop() {
	for {
		select {
		case <-l.reset.C:
			l.mu.Lock()
			l.counters = make(map[int64]int)
			l.mu.Unlock()
		case <-l.stop:
			l.reset.Stop()
			return
		}
	}
}

func (l *publishLimiter) close() {
	if l == nil || l.stop == nil {
		return
	}
	close(l.stop)
}
