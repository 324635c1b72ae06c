package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igsync/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info console", &config.LoggingConfig{Level: "info"}, false},
		{"debug json", &config.LoggingConfig{Level: "debug", Format: "json"}, false},
		{"invalid level", &config.LoggingConfig{Level: "chatty"}, true},
		{"with file", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "igsync.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestFileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "igsync.log")
	l, err := New(&config.LoggingConfig{Level: "info", Format: "json", File: path})
	require.NoError(t, err)

	l.WithField("profile", "bar_x").Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "hello", record["message"])
	assert.Equal(t, "bar_x", record["profile"])
	assert.Equal(t, "igsync", record["app"])
}

func TestFieldsAreTyped(t *testing.T) {
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf))

	l.WithFields(map[string]interface{}{
		"posts":   3,
		"ok":      true,
		"waited":  1500 * time.Millisecond,
		"failure": errors.New("boom"),
	}).Info("typed")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, float64(3), record["posts"])
	assert.Equal(t, true, record["ok"])
	assert.Equal(t, float64(1500), record["waited"])
	assert.Equal(t, "boom", record["failure"])
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := FromZerolog(zerolog.New(&buf))
	_ = parent.WithField("strategy", "session")

	parent.Info("plain")
	assert.NotContains(t, buf.String(), "session")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf).Level(zerolog.WarnLevel))

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithErrorNil(t *testing.T) {
	l := FromZerolog(zerolog.Nop())
	assert.Same(t, l, l.WithError(nil))
}

func TestLogAttempt(t *testing.T) {
	l := NewTestLogger()

	LogAttempt(l, "bar_x", "official", 3, 20*time.Millisecond, nil)
	LogAttempt(l, "bar_x", "session", 0, time.Millisecond, nil)
	LogAttempt(l, "bar_x", "managed_scraper", 0, time.Second, errors.New("poll timeout"))

	msgs := l.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "INFO", msgs[0].Level)
	assert.Equal(t, "official", msgs[0].Fields["strategy"])
	assert.True(t, l.HasMessage("INFO", "no posts"))
	assert.Equal(t, "WARN", msgs[2].Level)
	assert.EqualError(t, msgs[2].Error, "poll timeout")
}

func TestLogRequestLevels(t *testing.T) {
	l := NewTestLogger()

	LogRequest(l, "GET", "https://graph.instagram.com/me", 200, time.Millisecond)
	LogRequest(l, "GET", "https://graph.instagram.com/me", 404, time.Millisecond)
	LogRequest(l, "GET", "https://graph.instagram.com/me", 503, time.Millisecond)

	assert.Equal(t, 1, l.Count("DEBUG"))
	assert.Equal(t, 1, l.Count("WARN"))
	assert.Equal(t, 1, l.Count("ERROR"))
}

func TestTestLoggerSharesStore(t *testing.T) {
	l := NewTestLogger()
	child := l.WithField("component", "syncer")
	child.Info("from child")

	msgs := l.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "syncer", msgs[0].Fields["component"])

	l.Reset()
	assert.Empty(t, l.Messages())
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.WithField("a", 1).WithError(errors.New("x")).Error("ignored")
	assert.NotNil(t, l.Zerolog())
}

func TestGetLoggerDefault(t *testing.T) {
	l := GetLogger()
	require.NotNil(t, l)
	assert.Same(t, l, GetLogger())
}
