// Package syncer runs one sync pass over every registered profile: acquire
// posts through the orchestrator, drop the ones already known, and hand the
// rest to the event creator.
//
// Profiles are processed one at a time. The strategies share process-wide
// rate limiters, and a parallel pass would defeat them. A credential failure
// halts the whole run; every other failure is recorded and the run moves on.
//
// The coordinator does not guard against concurrent runs. Callers serialise
// RunSync themselves (see pkg/lock).
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	errs "igsync/pkg/errors"
	"igsync/pkg/events"
	"igsync/pkg/instagram"
	"igsync/pkg/logger"
	"igsync/pkg/metrics"
	"igsync/pkg/models"
	"igsync/pkg/normalize"
	"igsync/pkg/orchestrator"
	"igsync/pkg/strategy"
)

// Run results as reported to metrics
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultAborted = "aborted"
)

// ErrInvalidSubmission is returned by SubmitPost for a post with neither
// caption nor media
var ErrInvalidSubmission = errors.New("caption or media_url is required")

// DefaultPostsPerProfile is used when Options.PostsPerProfile is unset
const DefaultPostsPerProfile = 3

// ProfileRegistry lists the monitored profiles
type ProfileRegistry interface {
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

// Acquirer fetches a profile's recent posts
type Acquirer interface {
	BeginRun()
	Acquire(ctx context.Context, profile models.Profile, limit int) (*orchestrator.FetchResult, error)
}

// Deduper drops posts that already produced an event or were deleted
type Deduper interface {
	Filter(ctx context.Context, posts []models.Post, profileID string) ([]models.Post, error)
}

// EventCreator turns one post into an event
type EventCreator interface {
	Create(ctx context.Context, post models.Post, profile models.Profile) (*models.Event, error)
}

// Credential is the official API token, validated and exchanged on demand
type Credential interface {
	Validate(ctx context.Context) (instagram.TokenStatus, error)
	Exchange(ctx context.Context, shortLived string) (*instagram.LongLivedToken, error)
}

// ReportError is one failure in a run
type ReportError struct {
	Profile string    `json:"profile"`
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
}

// SyncReport summarises a run
type SyncReport struct {
	RunID             string        `json:"run_id"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at"`
	ProfilesProcessed int           `json:"profiles_processed"`
	EventsCreated     int           `json:"events_created"`
	Errors            []ReportError `json:"errors"`
	// Halted is set when a credential failure stopped the run early
	Halted bool `json:"halted,omitempty"`
}

// Result classifies the run for metrics and display
func (r SyncReport) Result() string {
	switch {
	case r.Halted:
		return ResultAborted
	case len(r.Errors) > 0:
		return ResultPartial
	default:
		return ResultSuccess
	}
}

// Duration is the wall time of the run
func (r SyncReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *SyncReport) record(profile string, err error) {
	r.Errors = append(r.Errors, ReportError{Profile: profile, Kind: errs.KindOf(err), Message: err.Error()})
}

// Options tunes a Coordinator
type Options struct {
	PostsPerProfile int
	// Lifecycles are opened before and closed after every run
	Lifecycles []strategy.Lifecycle
	Clock      func() time.Time
}

// Coordinator drives sync runs
type Coordinator struct {
	registry   ProfileRegistry
	acquirer   Acquirer
	dedup      Deduper
	creator    EventCreator
	credential Credential
	opts       Options
	logger     logger.Logger
}

// New builds a coordinator. credential may be nil when no official token is
// configured.
func New(registry ProfileRegistry, acquirer Acquirer, dedup Deduper, creator EventCreator, credential Credential, opts Options, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.PostsPerProfile <= 0 {
		opts.PostsPerProfile = DefaultPostsPerProfile
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Coordinator{
		registry:   registry,
		acquirer:   acquirer,
		dedup:      dedup,
		creator:    creator,
		credential: credential,
		opts:       opts,
		logger:     log.WithField("component", "syncer"),
	}
}

// Setup opens strategy sessions. Failures are logged only: the strategy
// reports them again, classified, when the orchestrator reaches it.
func (c *Coordinator) Setup(ctx context.Context) {
	for _, l := range c.opts.Lifecycles {
		if err := l.Setup(ctx); err != nil {
			c.logger.WithError(err).Warn("Strategy setup failed")
		}
	}
}

// Teardown closes what Setup opened
func (c *Coordinator) Teardown() {
	for _, l := range c.opts.Lifecycles {
		if err := l.Teardown(); err != nil {
			c.logger.WithError(err).Warn("Strategy teardown failed")
		}
	}
}

// RunSync processes every profile once
func (c *Coordinator) RunSync(ctx context.Context) SyncReport {
	report := SyncReport{RunID: uuid.NewString(), StartedAt: c.opts.Clock(), Errors: []ReportError{}}
	log := c.logger.WithField("run_id", report.RunID)
	log.Info("Sync run started")

	c.acquirer.BeginRun()
	c.Setup(ctx)
	defer c.Teardown()

	profiles, err := c.registry.ListProfiles(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to list profiles")
		report.record("", fmt.Errorf("list profiles: %w", err))
		return c.finish(report, log)
	}

	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			report.record(p.Username, err)
			break
		}
		created, err := c.syncProfile(ctx, p, &report, log.WithField("profile", p.Username))
		report.EventsCreated += created
		if err != nil {
			report.record(p.Username, err)
			if errs.IsKind(err, errs.KindAuthInvalid) {
				log.WithField("profile", p.Username).WithError(err).Error("Credential rejected, halting sync run")
				report.Halted = true
				break
			}
		}
		report.ProfilesProcessed++
	}
	return c.finish(report, log)
}

// syncProfile returns the number of events created. Creation failures are
// recorded on report directly so the remaining posts still run.
func (c *Coordinator) syncProfile(ctx context.Context, p models.Profile, report *SyncReport, log logger.Logger) (int, error) {
	result, err := c.acquirer.Acquire(ctx, p, c.opts.PostsPerProfile)
	if result != nil {
		for _, a := range result.Flagged() {
			log.WithFields(map[string]interface{}{
				"strategy": a.Strategy,
				"outcome":  a.Outcome,
			}).Warn("Strategy needs operator attention: " + a.Message)
		}
	}
	if err != nil {
		return 0, err
	}

	if result.Origin == models.OriginCache {
		log.WithField("posts", len(result.Posts)).Info("Posts served from cache, no events created")
		return 0, nil
	}

	fresh, err := c.dedup.Filter(ctx, result.Posts, p.ID)
	if err != nil {
		return 0, fmt.Errorf("dedup: %w", err)
	}

	created := 0
	for _, post := range fresh {
		ev, err := c.creator.Create(ctx, post, p)
		switch {
		case errors.Is(err, events.ErrAlreadyKnown):
			log.WithField("permalink", post.Permalink).Debug("Post already known, skipped")
		case err != nil:
			log.WithField("permalink", post.Permalink).WithError(err).Error("Event creation failed")
			report.record(p.Username, fmt.Errorf("create event for %s: %w", post.Permalink, err))
		default:
			created++
			log.WithFields(map[string]interface{}{
				"event_id":  ev.ID,
				"permalink": post.Permalink,
				"origin":    string(post.Origin),
			}).Info("Event created")
		}
	}
	log.WithFields(map[string]interface{}{
		"origin":  string(result.Origin),
		"fetched": len(result.Posts),
		"new":     len(fresh),
		"created": created,
	}).Info("Profile synced")
	return created, nil
}

func (c *Coordinator) finish(report SyncReport, log logger.Logger) SyncReport {
	report.FinishedAt = c.opts.Clock()
	kinds := make([]string, 0, len(report.Errors))
	for _, e := range report.Errors {
		kinds = append(kinds, string(e.Kind))
	}
	metrics.ObserveSyncRun(report.Result(), report.EventsCreated, kinds)
	logger.LogSyncSummary(log, report.RunID, report.ProfilesProcessed, report.EventsCreated, len(report.Errors), report.Duration())
	return report
}

// ValidateCredential checks the official token. A rejected token is a
// verdict, not an error: it comes back as Valid=false with the reason.
func (c *Coordinator) ValidateCredential(ctx context.Context) (instagram.TokenStatus, error) {
	if c.credential == nil {
		return instagram.TokenStatus{Valid: false, Reason: "official API is not configured"}, nil
	}
	status, err := c.credential.Validate(ctx)
	if errs.IsKind(err, errs.KindAuthInvalid) {
		return instagram.TokenStatus{Valid: false, Reason: errs.Classify(err).Message}, nil
	}
	if err != nil {
		return instagram.TokenStatus{}, err
	}
	return status, nil
}

// ExchangeCredential swaps a short-lived token for a long-lived one
func (c *Coordinator) ExchangeCredential(ctx context.Context, shortLived string) (*instagram.LongLivedToken, error) {
	if c.credential == nil {
		return nil, errs.New(errs.KindAuthInvalid, "official API is not configured")
	}
	if strings.TrimSpace(shortLived) == "" {
		return nil, errs.New(errs.KindAuthInvalid, "short-lived token is required")
	}
	return c.credential.Exchange(ctx, strings.TrimSpace(shortLived))
}

// SubmitPost creates an event from an operator-submitted post. It returns
// events.ErrAlreadyKnown when the permalink already produced an event or was
// deleted.
func (c *Coordinator) SubmitPost(ctx context.Context, profileID string, in normalize.ManualInput) (*models.Event, error) {
	if strings.TrimSpace(in.Caption) == "" && strings.TrimSpace(in.MediaURL) == "" {
		return nil, ErrInvalidSubmission
	}
	p, err := c.registry.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	post := normalize.Manual(in, c.opts.Clock())
	fresh, err := c.dedup.Filter(ctx, []models.Post{post}, p.ID)
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}
	if len(fresh) == 0 {
		return nil, events.ErrAlreadyKnown
	}

	ev, err := c.creator.Create(ctx, fresh[0], *p)
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(map[string]interface{}{
		"profile":   p.Username,
		"event_id":  ev.ID,
		"permalink": post.Permalink,
	}).Info("Manual post accepted")
	return ev, nil
}
