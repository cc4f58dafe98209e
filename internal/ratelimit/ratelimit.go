// Package ratelimit throttles the Scheduler Core's outbound Task
// dispatch (Email/HTTP) so a backlog drained in one Task-run tick
// doesn't open a burst of SMTP connections or flood a webhook
// receiver all at once.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a token-bucket throttle shared across every task a single
// Task-run tick dispatches.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
}

// New builds a Limiter. ratePerSecond <= 0 means unlimited. burst <= 0
// defaults the burst to ratePerSecond.
func New(ratePerSecond float64, burst int) *Limiter {
	if ratePerSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = int(ratePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until dispatching one more task is permitted, or ctx is
// done — Task-run calls this once per task before executing it.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()
	return limiter.Wait(ctx)
}

// SetRate reconfigures the limiter in place, letting the Scheduler
// Core pick up a changed SchedulerConfig without restarting.
func (l *Limiter) SetRate(ratePerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ratePerSecond <= 0 {
		l.limiter.SetLimit(rate.Inf)
		l.limiter.SetBurst(0)
		return
	}
	if burst <= 0 {
		burst = int(ratePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	l.limiter.SetLimit(rate.Limit(ratePerSecond))
	l.limiter.SetBurst(burst)
}
