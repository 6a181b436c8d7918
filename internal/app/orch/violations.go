package orch

import (
	"sync"
	"time"
)

// ViolationLimiter counts protocol violations per connection in a sliding
// window.
type ViolationLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewViolationLimiter(limit int, interval time.Duration) *ViolationLimiter {
	return &ViolationLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records one violation for key and reports whether the connection
// may stay. A non-positive limit disables disconnects.
func (vl *ViolationLimiter) Allow(key string) bool {
	if vl.limit <= 0 {
		return true
	}
	vl.mu.Lock()
	defer vl.mu.Unlock()

	now := vl.now()
	windowStart := now.Add(-vl.interval)

	attempts := vl.history[key]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	fresh = append(fresh, now)
	vl.history[key] = fresh

	return len(fresh) < vl.limit
}

func (vl *ViolationLimiter) Forget(key string) {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	delete(vl.history, key)
}
