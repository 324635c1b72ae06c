package runstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"igsync/pkg/lock"
	"igsync/pkg/logger"
	"igsync/pkg/syncer"
)

// ErrAlreadyRunning is returned when another run holds the lock
var ErrAlreadyRunning = errors.New("a sync run is already in progress")

// SyncFunc performs one run
type SyncFunc func(ctx context.Context) syncer.SyncReport

// Runner serialises runs through a lock and records each one
type Runner struct {
	sync   SyncFunc
	locker lock.Locker
	state  *Manager
	logger logger.Logger
}

// NewRunner wires a runner. A nil locker means an in-process lock.
func NewRunner(fn SyncFunc, locker lock.Locker, state *Manager, log logger.Logger) *Runner {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Runner{sync: fn, locker: locker, state: state, logger: log.WithField("component", "runner")}
}

// Run performs a sync unless one is already in flight
func (r *Runner) Run(ctx context.Context) (syncer.SyncReport, error) {
	release, ok, err := r.locker.TryLock(ctx)
	if err != nil {
		return syncer.SyncReport{}, fmt.Errorf("run lock: %w", err)
	}
	if !ok {
		return syncer.SyncReport{}, ErrAlreadyRunning
	}
	defer release()

	if r.state != nil {
		if err := r.state.MarkStarted(time.Now()); err != nil {
			r.logger.WithError(err).Warn("Failed to persist run start")
		}
	}
	report := r.sync(ctx)
	if r.state != nil {
		if err := r.state.Record(report); err != nil {
			r.logger.WithError(err).Warn("Failed to persist run report")
		}
	}
	return report, nil
}

// Status returns the persisted state
func (r *Runner) Status() (*State, error) {
	if r.state == nil {
		return &State{Version: stateVersion}, nil
	}
	return r.state.Load()
}
