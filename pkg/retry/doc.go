// Package retry runs operations again after classified failures.
//
// Retry decisions are driven by the failure kind from pkg/errors: transient
// and rate-limited failures are retried, everything else is returned at once.
// Each kind has its own backoff profile (see ErrorTypeBackoff); rate limits
// back off far longer than network blips.
//
// Poll covers the other recurring shape: check a remote job on an interval
// until it finishes or a deadline passes.
package retry
