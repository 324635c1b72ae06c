// Package ratelimit bounds how fast igsync talks to upstream services.
//
// SlidingWindow admits at most N requests in any window W and serves
// concurrent callers strictly in arrival order. Every network strategy owns
// one instance; the cache strategy has none.
//
//	limiter := ratelimit.NewSlidingWindow(10, time.Minute)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // only ctx cancellation
//	}
//
// Rate wraps golang.org/x/time/rate for collaborators that are billed per
// request (caption LLM, OCR) where a smooth token rate fits better than a
// hard window.
package ratelimit
