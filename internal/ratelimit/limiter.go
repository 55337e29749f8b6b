// Package ratelimit paces the requests a crawl sends.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter combines the fixed per-worker politeness delay with an optional
// crawl-wide request rate cap.
type Limiter struct {
	delay   time.Duration
	limiter *rate.Limiter
}

// NewLimiter creates a limiter. A requestsPerSecond of zero or less disables
// the crawl-wide cap; a zero delay disables the pause between pages.
func NewLimiter(delay time.Duration, requestsPerSecond float64) *Limiter {
	l := &Limiter{delay: delay}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return l
}

// Delay returns the politeness delay.
func (l *Limiter) Delay() time.Duration {
	return l.delay
}

// Wait blocks until the crawl-wide cap admits one more request.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Pause sleeps for the politeness delay. It returns early with ctx.Err()
// when ctx is done.
func (l *Limiter) Pause(ctx context.Context) error {
	return Sleep(ctx, l.delay)
}

// Allow reports whether a request is admitted now without blocking.
func (l *Limiter) Allow() bool {
	if l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}

// Stats returns limiter settings.
func (l *Limiter) Stats() LimiterStats {
	s := LimiterStats{Delay: l.delay}
	if l.limiter != nil {
		s.Rate = float64(l.limiter.Limit())
		s.Burst = l.limiter.Burst()
	}
	return s
}

// LimiterStats contains rate limiter settings.
type LimiterStats struct {
	Delay time.Duration `json:"delay"`
	Rate  float64       `json:"rate"`
	Burst int           `json:"burst"`
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
