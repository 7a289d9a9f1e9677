package bot

import (
	"sync"
	"time"
)

// RateLimiter - ограничение частоты команд на пользователя, в памяти процесса.
type RateLimiter struct {
	mu       sync.Mutex
	lastCall map[int64]map[string]time.Time
	limits   map[string]time.Duration
	exempt   func(userID int64) bool
	now      func() time.Time
}

func NewRateLimiter(exempt func(userID int64) bool) *RateLimiter {
	if exempt == nil {
		exempt = func(int64) bool { return false }
	}
	return &RateLimiter{
		lastCall: make(map[int64]map[string]time.Time),
		limits: map[string]time.Duration{
			"/checkout":      5 * time.Second,
			"checkout_order": 10 * time.Second,
			"/cart":          3 * time.Second,
			"/paid_orders":   3 * time.Second,
			"/products":      3 * time.Second,
		},
		exempt: exempt,
		now:    time.Now,
	}
}

// IsLimited returns true if user is rate-limited for this command
func (r *RateLimiter) IsLimited(userID int64, cmd string) bool {
	// Админ не лимитируется
	if r.exempt(userID) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.lastCall[userID] == nil {
		r.lastCall[userID] = make(map[string]time.Time)
	}
	limit, ok := r.limits[cmd]
	if !ok {
		limit = 1 * time.Second
	}
	last := r.lastCall[userID][cmd]
	if now.Sub(last) < limit {
		return true
	}
	r.lastCall[userID][cmd] = now
	return false
}
