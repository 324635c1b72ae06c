// Package scheduler triggers sync runs on a cron expression evaluated in a
// fixed timezone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"igsync/pkg/logger"
	"igsync/pkg/runstate"
	"igsync/pkg/syncer"
)

// DefaultSpec runs every six hours
const DefaultSpec = "0 */6 * * *"

// Job is one scheduled run
type Job interface {
	Run(ctx context.Context) (syncer.SyncReport, error)
}

// Scheduler owns a cron instance with a single entry
type Scheduler struct {
	cron   *cron.Cron
	job    Job
	spec   string
	loc    *time.Location
	logger logger.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entry   cron.EntryID
	started bool
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 1h") in timezone tz. An empty tz means UTC.
func New(spec, tz string, job Job, log logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if spec == "" {
		spec = DefaultSpec
	}
	loc := time.UTC
	if tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	log = log.WithField("component", "scheduler")
	s := &Scheduler{job: job, spec: spec, loc: loc, logger: log}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{log})),
	)
	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing. It is a no-op when already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	logger.LogComponentStart(s.logger, "scheduler", map[string]interface{}{
		"schedule": s.spec,
		"timezone": s.loc.String(),
		"next":     s.Next(),
	})
}

// Stop cancels an in-flight run and waits for it to return. A stopped
// scheduler is not restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	logger.LogComponentStop(s.logger, "scheduler", "stopped")
}

// Next is the next fire time, zero before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick() {
	report, err := s.job.Run(s.ctx)
	switch {
	case errors.Is(err, runstate.ErrAlreadyRunning):
		s.logger.Info("Previous sync still running, skipping scheduled tick")
	case err != nil:
		s.logger.WithError(err).Error("Scheduled sync failed")
	default:
		s.logger.WithFields(map[string]interface{}{
			"run_id":         report.RunID,
			"result":         report.Result(),
			"events_created": report.EventsCreated,
			"next":           s.Next(),
		}).Info("Scheduled sync finished")
	}
}

// cronLogger adapts our logger to cron's
type cronLogger struct{ l logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithFields(pairs(keysAndValues)).WithError(err).Error(msg)
}

func pairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
