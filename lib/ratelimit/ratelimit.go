// Package ratelimit spaces out requests per source. Each source gets a
// capacity-1 token bucket, so at most one request is admitted per refill
// interval and the bucket doubles as the mutual-exclusion gate between
// concurrent extractions of the same source.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttled sources recover one quarter of their base rate per acquire
// once the cooldown has passed without further 429s
const (
	backoffFloorDivisor = 8
	cooldown            = time.Second * 30
)

type budget struct {
	mu sync.Mutex

	limiter      *rate.Limiter
	baseRate     rate.Limit
	currentRate  rate.Limit
	lastThrottle time.Time
}

type Limiter struct {
	mu      sync.Mutex
	budgets map[string]*budget
}

func NewLimiter() *Limiter {
	return &Limiter{budgets: map[string]*budget{}}
}

func (l *Limiter) budgetFor(sourceId string, interval time.Duration) *budget {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[sourceId]
	if !ok {
		if interval <= 0 {
			interval = time.Second
		}
		base := rate.Every(interval)
		b = &budget{
			limiter:     rate.NewLimiter(base, 1),
			baseRate:    base,
			currentRate: base,
		}
		l.budgets[sourceId] = b
	}
	return b
}

// Acquire blocks until a token is available for the source, then consumes
// it. It only fails when ctx is cancelled. Budgets are created lazily on
// first use, interval is only consulted at that point.
func (l *Limiter) Acquire(ctx context.Context, sourceId string, interval time.Duration) error {
	b := l.budgetFor(sourceId, interval)
	b.maybeRestore()
	return b.limiter.Wait(ctx)
}

// ReportThrottle records a 429-class signal from the source: the refill
// rate is halved down to a bounded floor. The rate linearly recovers after
// a cooldown window with no further throttle reports.
func (l *Limiter) ReportThrottle(sourceId string, interval time.Duration) {
	b := l.budgetFor(sourceId, interval)

	b.mu.Lock()
	defer b.mu.Unlock()

	floor := b.baseRate / backoffFloorDivisor
	next := b.currentRate / 2
	if next < floor {
		next = floor
	}
	b.currentRate = next
	b.lastThrottle = time.Now()
	b.limiter.SetLimit(next)
}

func (b *budget) maybeRestore() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.currentRate >= b.baseRate || b.lastThrottle.IsZero() {
		return
	}
	if time.Since(b.lastThrottle) < cooldown {
		return
	}

	next := b.currentRate + b.baseRate/4
	if next > b.baseRate {
		next = b.baseRate
	}
	b.currentRate = next
	b.limiter.SetLimit(next)
}
