package runstate

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "igsync/pkg/errors"
	"igsync/pkg/lock"
	"igsync/pkg/logger"
	"igsync/pkg/syncer"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "state", "state.json"), logger.NewNopLogger())
	require.NoError(t, err)
	return m
}

func TestLoadMissingFile(t *testing.T) {
	m := newManager(t)
	st, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, st.LastRun)
	assert.False(t, st.Running)
	assert.Equal(t, 0, st.TotalRuns)
}

func TestMarkStartedAndRecord(t *testing.T) {
	m := newManager(t)
	started := time.Date(2025, 11, 3, 6, 0, 0, 0, time.UTC)
	require.NoError(t, m.MarkStarted(started))

	st, err := m.Load()
	require.NoError(t, err)
	assert.True(t, st.Running)
	require.NotNil(t, st.CurrentStartedAt)
	assert.True(t, started.Equal(*st.CurrentStartedAt))

	report := syncer.SyncReport{
		RunID:             "run-1",
		StartedAt:         started,
		FinishedAt:        started.Add(time.Minute),
		ProfilesProcessed: 2,
		EventsCreated:     1,
		Errors:            []syncer.ReportError{{Profile: "bar_x", Kind: errs.KindExhausted, Message: "all strategies exhausted"}},
	}
	require.NoError(t, m.Record(report))

	st, err = m.Load()
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Nil(t, st.CurrentStartedAt)
	assert.Equal(t, 1, st.TotalRuns)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "run-1", st.LastRun.RunID)
	assert.Equal(t, errs.KindExhausted, st.LastRun.Errors[0].Kind)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(m.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCorruptFile(t *testing.T) {
	m := newManager(t)
	require.NoError(t, os.WriteFile(m.Path(), []byte("{not json"), 0o600))

	_, err := m.Load()
	assert.Error(t, err)

	// the next record replaces it
	require.NoError(t, m.Record(syncer.SyncReport{RunID: "r"}))
	st, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "r", st.LastRun.RunID)
}

func TestNewerVersionRejected(t *testing.T) {
	m := newManager(t)
	require.NoError(t, os.WriteFile(m.Path(), []byte(`{"version": 9}`), 0o600))
	_, err := m.Load()
	assert.ErrorContains(t, err, "newer than supported")
}

func TestDataDirHonoursXDG(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("XDG applies to unix layouts only")
	}
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	got, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "igsync"), got)
}

func TestRunnerRecordsRun(t *testing.T) {
	m := newManager(t)
	calls := 0
	r := NewRunner(func(context.Context) syncer.SyncReport {
		calls++
		st, err := m.Load()
		require.NoError(t, err)
		assert.True(t, st.Running)
		return syncer.SyncReport{RunID: "abc", EventsCreated: 3}
	}, nil, m, logger.NewNopLogger())

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.EventsCreated)
	assert.Equal(t, 1, calls)

	st, err := r.Status()
	require.NoError(t, err)
	assert.Equal(t, "abc", st.LastRun.RunID)
	assert.False(t, st.Running)
}

func TestRunnerRejectsOverlappingRun(t *testing.T) {
	l := lock.NewLocal()
	release, ok, err := l.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	r := NewRunner(func(context.Context) syncer.SyncReport {
		called = true
		return syncer.SyncReport{}
	}, l, nil, logger.NewNopLogger())

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.False(t, called)

	release()
	_, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, l.Held())
}
