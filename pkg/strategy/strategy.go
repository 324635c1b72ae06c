// Package strategy implements the interchangeable ways of fetching a
// profile's recent posts. Each network strategy owns its client and its
// rate limiter and takes a limiter slot before each client call.
package strategy

import (
	"context"
	"time"

	errs "igsync/pkg/errors"
	"igsync/pkg/logger"
	"igsync/pkg/metrics"
	"igsync/pkg/models"
	"igsync/pkg/ratelimit"
)

// Strategy names as used in fallback.order
const (
	NameOfficial       = "official"
	NameSession        = "session"
	NameManagedScraper = "managed_scraper"
	NameWebPage        = "web_page"
	NameCache          = "cache"
)

// Strategy fetches up to limit normalized posts for a profile. Failures are
// *errs.Error values tagged with the strategy name.
type Strategy interface {
	Name() string
	Origin() models.Origin
	Fetch(ctx context.Context, profile models.Profile, limit int) ([]models.Post, error)
}

// Lifecycle is implemented by strategies holding a session that the sync
// coordinator opens before a run and closes after it
type Lifecycle interface {
	Setup(ctx context.Context) error
	Teardown() error
}

// Clock returns the acquisition time used for posts without a timestamp
type Clock func() time.Time

// base carries what every network strategy shares
type base struct {
	name    string
	limiter ratelimit.Limiter
	logger  logger.Logger
	now     Clock
}

func newBase(name string, limiter ratelimit.Limiter, log logger.Logger) base {
	if log == nil {
		log = logger.GetLogger()
	}
	return base{
		name:    name,
		limiter: limiter,
		logger:  log.WithField("strategy", name),
		now:     time.Now,
	}
}

func (b *base) Name() string { return b.name }

// throttle takes one limiter slot, recording how long it took
func (b *base) throttle(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.KindTransient, err, "rate limiter wait aborted").WithStrategy(b.name)
	}
	waited := time.Since(start)
	metrics.ObserveRateLimitWait(b.name, waited)
	if waited > 10*time.Millisecond {
		logger.LogRateLimit(b.logger, b.name, waited)
	}
	return nil
}

// fail tags err with the strategy name, classifying it first if needed
func (b *base) fail(err error) error {
	if err == nil {
		return nil
	}
	return errs.Classify(err).WithStrategy(b.name)
}

// finish logs posts whose timestamp is only the acquisition time
func (b *base) finish(profile models.Profile, posts []models.Post) []models.Post {
	for _, p := range posts {
		if p.LowConfidenceTime {
			b.logger.WithFields(map[string]interface{}{
				"profile":        profile.Username,
				"external_id":    p.ExternalID,
				"low_confidence": true,
			}).Debug("Post has no timestamp, using acquisition time")
		}
	}
	return posts
}

// clockSetter is implemented by every strategy embedding base
type clockSetter interface{ setClock(Clock) }

func (b *base) setClock(c Clock) { b.now = c }

// SetClock replaces the acquisition clock of s when it has one
func SetClock(s Strategy, c Clock) {
	if cs, ok := s.(clockSetter); ok {
		cs.setClock(c)
	}
}
