package logger

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogMessage is one record captured by TestLogger
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

// TestLogger captures records in memory so tests can assert on them.
// Children created with WithField share the parent's record list.
type TestLogger struct {
	store  *messageStore
	fields map[string]interface{}
	err    error
}

type messageStore struct {
	mu       sync.Mutex
	messages []LogMessage
}

// NewTestLogger creates an empty capturing logger
func NewTestLogger() *TestLogger {
	return &TestLogger{store: &messageStore{}, fields: map[string]interface{}{}}
}

func (l *TestLogger) log(level, msg string) {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.store.messages = append(l.store.messages, LogMessage{
		Level:   level,
		Message: msg,
		Fields:  fields,
		Error:   l.err,
	})
}

func (l *TestLogger) Debug(msg string) { l.log("DEBUG", msg) }
func (l *TestLogger) Info(msg string) { l.log("INFO", msg) }
func (l *TestLogger) Warn(msg string) { l.log("WARN", msg) }
func (l *TestLogger) Error(msg string) { l.log("ERROR", msg) }

func (l *TestLogger) child() *TestLogger {
	c := &TestLogger{store: l.store, fields: make(map[string]interface{}, len(l.fields)+1), err: l.err}
	for k, v := range l.fields {
		c.fields[k] = v
	}
	return c
}

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	c := l.child()
	c.fields[key] = value
	return c
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	c := l.child()
	for k, v := range fields {
		c.fields[k] = v
	}
	return c
}

func (l *TestLogger) WithError(err error) Logger {
	c := l.child()
	c.err = err
	return c
}

func (l *TestLogger) WithContext(context.Context) Logger { return l }

func (l *TestLogger) Zerolog() *zerolog.Logger {
	zl := zerolog.Nop()
	return &zl
}

// Messages returns a copy of everything captured so far
func (l *TestLogger) Messages() []LogMessage {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	out := make([]LogMessage, len(l.store.messages))
	copy(out, l.store.messages)
	return out
}

// HasMessage reports whether a record at level contains substr
func (l *TestLogger) HasMessage(level, substr string) bool {
	for _, m := range l.Messages() {
		if m.Level == level && strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

// Count returns how many records were captured at level
func (l *TestLogger) Count(level string) int {
	n := 0
	for _, m := range l.Messages() {
		if m.Level == level {
			n++
		}
	}
	return n
}

// Reset drops all captured records
func (l *TestLogger) Reset() {
	l.store.mu.Lock()
	l.store.messages = nil
	l.store.mu.Unlock()
}
