package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"igsync/pkg/logger"
	"igsync/pkg/runstate"
	"igsync/pkg/syncer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingJob struct {
	calls int32
	err   error
	block chan struct{}
}

func (j *countingJob) Run(ctx context.Context) (syncer.SyncReport, error) {
	atomic.AddInt32(&j.calls, 1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return syncer.SyncReport{}, ctx.Err()
		}
	}
	return syncer.SyncReport{RunID: "r"}, j.err
}

func TestNewValidates(t *testing.T) {
	_, err := New("not a cron", "UTC", &countingJob{}, logger.NewNopLogger())
	assert.ErrorContains(t, err, "invalid schedule")

	_, err = New("0 * * * *", "Mars/Olympus", &countingJob{}, logger.NewNopLogger())
	assert.ErrorContains(t, err, "invalid timezone")

	s, err := New("", "America/Sao_Paulo", &countingJob{}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultSpec, s.spec)
	assert.Equal(t, "America/Sao_Paulo", s.loc.String())
}

func TestNextUsesTimezone(t *testing.T) {
	s, err := New(DefaultSpec, "America/Sao_Paulo", &countingJob{}, logger.NewNopLogger())
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	next := s.Next().In(s.loc)
	require.False(t, next.IsZero())
	assert.Zero(t, next.Hour()%6)
	assert.Zero(t, next.Minute())
}

func TestRunsOnSchedule(t *testing.T) {
	job := &countingJob{}
	s, err := New("@every 1s", "", job, logger.NewNopLogger())
	require.NoError(t, err)
	s.Start()
	s.Start()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&job.calls) >= 1 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestStopCancelsInFlightRun(t *testing.T) {
	job := &countingJob{block: make(chan struct{})}
	s, err := New("@every 1s", "", job, logger.NewNopLogger())
	require.NoError(t, err)
	s.Start()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&job.calls) >= 1 }, 3*time.Second, 50*time.Millisecond)
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestTickLogsOutcome(t *testing.T) {
	log := logger.NewTestLogger()
	job := &countingJob{err: runstate.ErrAlreadyRunning}
	s, err := New("@every 1h", "", job, log)
	require.NoError(t, err)

	s.tick()
	assert.True(t, log.HasMessage("INFO", "skipping scheduled tick"))

	job.err = errors.New("boom")
	s.tick()
	assert.True(t, log.HasMessage("ERROR", "Scheduled sync failed"))

	job.err = nil
	s.tick()
	assert.True(t, log.HasMessage("INFO", "Scheduled sync finished"))
}
