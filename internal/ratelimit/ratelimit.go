// Package ratelimit bounds how many upload requests each user may make.
package ratelimit

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// ErrLimited is returned when a user is over their upload rate.
var ErrLimited = errors.New("upload rate limit exceeded")

// Limiter keeps one token bucket per user.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry

	limit rate.Limit
	burst int

	cleanupInterval time.Duration
	entryTTL        time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New allows perMinute requests per user per minute, with bursts of the
// same size. perMinute <= 0 disables limiting.
func New(perMinute int) *Limiter {
	l := &Limiter{
		limiters:        make(map[string]*entry),
		limit:           rate.Inf,
		cleanupInterval: 5 * time.Minute,
		entryTTL:        10 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	if perMinute > 0 {
		l.limit = rate.Limit(float64(perMinute) / 60.0)
		l.burst = perMinute
	}

	go l.cleanupLoop()
	return l
}

// Allow consumes one token for userID and reports ErrLimited when none is left.
func (l *Limiter) Allow(userID string) error {
	l.mu.Lock()
	e, ok := l.limiters[userID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = e
	}
	e.lastAccess = time.Now()
	lim := e.limiter
	l.mu.Unlock()

	if !lim.Allow() {
		return errors.Wrapf(ErrLimited, "user %s", userID)
	}
	return nil
}

// Count returns the number of tracked users.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop ends the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup drops users not seen within entryTTL of now.
func (l *Limiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.entryTTL)
	for id, e := range l.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}
