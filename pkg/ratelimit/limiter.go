package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow reserves a slot only if one is free right now
	Allow() bool
	// Wait blocks until a slot is free and reserves it. It fails only when ctx ends.
	Wait(ctx context.Context) error
	// Reset forgets every recorded request
	Reset()
}

// SlidingWindow implements a FIFO-fair sliding window rate limiter
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	queue       []chan struct{}
	now         func() time.Time
	mu          sync.Mutex
}

// NewSlidingWindow creates a limiter admitting maxRequests per windowSize
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
		now:         time.Now,
	}
}

// Allow reserves a slot without waiting. It never jumps ahead of queued waiters.
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(sw.queue) > 0 {
		return false
	}
	now := sw.now()
	sw.cleanOldRequests(now)
	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return true
	}
	return false
}

// Wait joins the queue, then sleeps at the head until the oldest request
// leaves the window.
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	ticket := make(chan struct{})

	sw.mu.Lock()
	sw.queue = append(sw.queue, ticket)
	if len(sw.queue) == 1 {
		close(ticket)
	}
	sw.mu.Unlock()

	select {
	case <-ticket:
	case <-ctx.Done():
		sw.leave(ticket)
		return ctx.Err()
	}
	defer sw.leave(ticket)

	for {
		sw.mu.Lock()
		now := sw.now()
		sw.cleanOldRequests(now)
		if len(sw.requests) < sw.maxRequests {
			sw.requests = append(sw.requests, now)
			sw.mu.Unlock()
			return nil
		}
		delay := sw.requests[0].Add(sw.windowSize).Sub(now)
		sw.mu.Unlock()

		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// leave removes ticket from the queue and hands the head position on
func (sw *SlidingWindow) leave(ticket chan struct{}) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for i, t := range sw.queue {
		if t != ticket {
			continue
		}
		sw.queue = append(sw.queue[:i], sw.queue[i+1:]...)
		if i == 0 && len(sw.queue) > 0 {
			close(sw.queue[0])
		}
		return
	}
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.requests = sw.requests[:0]
}

// InWindow returns how many requests currently count against the limit
func (sw *SlidingWindow) InWindow() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cleanOldRequests(sw.now())
	return len(sw.requests)
}

// Pending returns how many callers are queued in Wait
func (sw *SlidingWindow) Pending() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	return len(sw.queue)
}

// cleanOldRequests drops requests that are at least windowSize old
func (sw *SlidingWindow) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-sw.windowSize)

	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}

	if i > 0 {
		copy(sw.requests, sw.requests[i:])
		sw.requests = sw.requests[:len(sw.requests)-i]
	}
}

// Rate is a token-rate limiter for per-request billed collaborators
type Rate struct {
	mu      sync.Mutex
	limit   rate.Limit
	limiter *rate.Limiter
}

// NewRate allows perMinute events per minute with a burst of one.
// A non-positive perMinute disables limiting.
func NewRate(perMinute int) *Rate {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Rate{limit: limit, limiter: rate.NewLimiter(limit, 1)}
}

func (r *Rate) current() *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiter
}

// Allow reports whether an event may happen now
func (r *Rate) Allow() bool {
	return r.current().Allow()
}

// Wait blocks until an event may happen
func (r *Rate) Wait(ctx context.Context) error {
	return r.current().Wait(ctx)
}

// Reset refills the bucket
func (r *Rate) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = rate.NewLimiter(r.limit, 1)
}

var (
	_ Limiter = (*SlidingWindow)(nil)
	_ Limiter = (*Rate)(nil)
)
