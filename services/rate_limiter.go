package services

import (
	"sync"
	"time"
)

// LoginLimiter throttles credential checks per account+address with a
// sliding one-minute window
type LoginLimiter struct {
	mu                sync.Mutex
	attemptsPerMinute int
	attempts          map[string][]time.Time
}

func NewLoginLimiter(apm int) *LoginLimiter {
	return &LoginLimiter{
		attemptsPerMinute: apm,
		attempts:          make(map[string][]time.Time),
	}
}

// Allow records an attempt for the key and reports whether it fits in the
// window. Denied attempts are not recorded.
func (l *LoginLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-time.Minute)

	valid := make([]time.Time, 0)
	for _, t := range l.attempts[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= l.attemptsPerMinute {
		l.attempts[key] = valid
		return false
	}

	l.attempts[key] = append(valid, now)
	return true
}
