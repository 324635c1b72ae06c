package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogAttempt records the outcome of one strategy attempt for a profile
func LogAttempt(l Logger, profile, strategy string, posts int, took time.Duration, err error) {
	fields := map[string]interface{}{
		"profile":     profile,
		"strategy":    strategy,
		"posts":       posts,
		"duration_ms": took.Milliseconds(),
	}
	switch {
	case err != nil:
		l.WithFields(fields).WithError(err).Warn("Strategy attempt failed")
	case posts == 0:
		l.WithFields(fields).Info("Strategy returned no posts")
	default:
		l.WithFields(fields).Info("Strategy attempt succeeded")
	}
}

// LogRateLimit records that a caller waited on the local limiter
func LogRateLimit(l Logger, strategy string, waited time.Duration) {
	l.WithFields(map[string]interface{}{
		"strategy": strategy,
		"waited":   waited,
		"action":   "rate_limited",
	}).Debug("Waited for rate limiter slot")
}

// LogRequest logs an outbound HTTP exchange at a level matching the status
func LogRequest(l Logger, method, url string, status int, took time.Duration) {
	fields := l.WithFields(map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": status,
		"duration_ms": took.Milliseconds(),
	})
	switch {
	case status >= 500 || status == 0:
		fields.Error("HTTP request failed")
	case status >= 400:
		fields.Warn("HTTP request client error")
	default:
		fields.Debug("HTTP request completed")
	}
}

// LogComponentStart logs when a long-running component starts
func LogComponentStart(l Logger, component string, settings map[string]interface{}) {
	l = l.WithField("component", component)
	if len(settings) > 0 {
		l = l.WithFields(settings)
	}
	l.Info("Component started")
}

// LogComponentStop logs when a long-running component stops
func LogComponentStop(l Logger, component, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(string) {}
func (n *nopLogger) Info(string) {}
func (n *nopLogger) Warn(string) {}
func (n *nopLogger) Error(string) {}
func (n *nopLogger) WithField(string, interface{}) Logger { return n }
func (n *nopLogger) WithFields(map[string]interface{}) Logger { return n }
func (n *nopLogger) WithError(error) Logger { return n }
func (n *nopLogger) WithContext(context.Context) Logger { return n }
func (n *nopLogger) Zerolog() *zerolog.Logger { zl := zerolog.Nop(); return &zl }

// LogSyncSummary logs the totals of a finished sync run
func LogSyncSummary(l Logger, runID string, processed, created, failures int, took time.Duration) {
	fields := l.WithFields(map[string]interface{}{
		"run_id":             runID,
		"profiles_processed": processed,
		"events_created":     created,
		"errors":             failures,
		"duration":           took,
	})
	if failures > 0 {
		fields.Warn("Sync run finished with errors")
		return
	}
	fields.Info("Sync run finished")
}
