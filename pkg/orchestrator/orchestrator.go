// Package orchestrator cascades through acquisition strategies for one
// profile and returns the first non-empty result.
//
// A credential failure stops the cascade at once: a rejected token or
// account is a configuration error and must not be masked by a later
// strategy or by the cache. Every other failure moves on to the next
// strategy. The cache is always tried last and its posts are tagged CACHE.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	errs "igsync/pkg/errors"
	"igsync/pkg/instagram"
	"igsync/pkg/logger"
	"igsync/pkg/metrics"
	"igsync/pkg/models"
	"igsync/pkg/retry"
	"igsync/pkg/strategy"
)

// Attempt outcomes besides the failure kinds
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeEmpty   = "EMPTY"
	OutcomeValid   = "VALID"

	// PreflightName labels the credential check in the attempt ledger
	PreflightName = "preflight"
)

// Attempt is one ledger entry
type Attempt struct {
	Strategy string        `json:"strategy"`
	Outcome  string        `json:"outcome"`
	Message  string        `json:"message,omitempty"`
	Posts    int           `json:"posts"`
	Duration time.Duration `json:"duration"`
	// Flagged marks outcomes the operator should look at, such as a challenged account
	Flagged bool `json:"flagged,omitempty"`
}

// FetchResult is the outcome of one Acquire call. Posts are newest first.
type FetchResult struct {
	Posts     []models.Post `json:"posts"`
	Origin    models.Origin `json:"origin"`
	Attempted []Attempt     `json:"attempted"`
}

// Flagged returns the attempts that need operator attention
func (r *FetchResult) Flagged() []Attempt {
	var out []Attempt
	for _, a := range r.Attempted {
		if a.Flagged {
			out = append(out, a)
		}
	}
	return out
}

// Validator is the credential pre-flight check
type Validator interface {
	Validate(ctx context.Context) (instagram.TokenStatus, error)
}

// Config controls the cascade
type Config struct {
	// Order lists strategy names by priority. The cache is never part of it.
	Order []string
	// Preflight enables the credential check before the first strategy
	Preflight bool
	// RateLimitRetries is how many times a RATE_LIMITED strategy is retried
	// with backoff before moving on. Zero moves on immediately.
	RateLimitRetries int
	// RateLimitBackoff overrides the backoff between those retries
	RateLimitBackoff retry.BackoffStrategy
}

// Orchestrator runs the cascade. It is safe for sequential use by one sync
// run at a time.
type Orchestrator struct {
	cfg        Config
	strategies []strategy.Strategy
	cache      strategy.Strategy
	validator  Validator
	logger     logger.Logger

	mu          sync.Mutex
	preflightOK bool
}

// New wires the strategies named in cfg.Order, in that order, followed by
// cache. Names in the order without a matching strategy are skipped with a
// warning so an unconfigured source simply drops out of the cascade.
func New(cfg Config, available []strategy.Strategy, cache strategy.Strategy, validator Validator, log logger.Logger) (*Orchestrator, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "orchestrator")

	byName := make(map[string]strategy.Strategy, len(available))
	for _, s := range available {
		byName[s.Name()] = s
	}

	o := &Orchestrator{cfg: cfg, cache: cache, validator: validator, logger: log}
	seen := map[string]bool{}
	for _, name := range cfg.Order {
		if name == strategy.NameCache {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("strategy %q listed twice", name)
		}
		seen[name] = true
		s, ok := byName[name]
		if !ok {
			log.WithField("strategy", name).Warn("Strategy in fallback order is not configured, skipping")
			continue
		}
		o.strategies = append(o.strategies, s)
	}
	if len(o.strategies) == 0 && cache == nil {
		return nil, fmt.Errorf("no strategies configured")
	}
	if cfg.Preflight && validator == nil {
		log.Warn("Preflight enabled without an official client, skipping credential check")
	}
	return o, nil
}

// Strategies returns the names of the cascade, cache included
func (o *Orchestrator) Strategies() []string {
	names := make([]string, 0, len(o.strategies)+1)
	for _, s := range o.strategies {
		names = append(names, s.Name())
	}
	if o.cache != nil {
		names = append(names, o.cache.Name())
	}
	return names
}

// BeginRun forgets the previous pre-flight verdict so the credential is
// checked again on the next Acquire
func (o *Orchestrator) BeginRun() {
	o.mu.Lock()
	o.preflightOK = false
	o.mu.Unlock()
}

// Acquire fetches up to limit posts for profile. It fails only with an
// AUTH_INVALID error or, when every strategy including the cache came up
// empty, with an *errs.AggregateError. The returned result is non-nil even
// on failure so callers can inspect the ledger.
func (o *Orchestrator) Acquire(ctx context.Context, profile models.Profile, limit int) (*FetchResult, error) {
	result := &FetchResult{}
	log := o.logger.WithField("profile", profile.Username)
	agg := &errs.AggregateError{Profile: profile.Username}

	if err := o.preflight(ctx, result); err != nil {
		log.WithError(err).Error("Credential pre-flight failed, aborting acquisition")
		return result, err
	}

	for _, s := range o.strategies {
		posts, err := o.attempt(ctx, s, profile, limit, result, log)
		if err != nil {
			if errs.IsKind(err, errs.KindAuthInvalid) {
				log.WithError(err).Error("Credential rejected, aborting acquisition")
				return result, err
			}
			agg.Add(errs.Classify(err).WithStrategy(s.Name()))
			continue
		}
		if len(posts) == 0 {
			agg.Add(errs.New(errs.KindNotFound, "no posts returned").WithStrategy(s.Name()))
			continue
		}
		return o.succeed(result, posts, s.Origin(), limit), nil
	}

	if o.cache != nil {
		posts, err := o.attempt(ctx, o.cache, profile, limit, result, log)
		if err == nil && len(posts) > 0 {
			log.WithField("posts", len(posts)).Warn("All live strategies failed, serving cached posts")
			return o.succeed(result, posts, models.OriginCache, limit), nil
		}
		if err != nil {
			agg.Add(errs.Classify(err).WithStrategy(o.cache.Name()))
		} else {
			agg.Add(errs.New(errs.KindNotFound, "no cached posts").WithStrategy(o.cache.Name()))
		}
	}

	log.WithError(agg).Error("Every strategy exhausted")
	return result, agg
}

func (o *Orchestrator) succeed(result *FetchResult, posts []models.Post, origin models.Origin, limit int) *FetchResult {
	models.SortNewestFirst(posts)
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	for i := range posts {
		posts[i].Origin = origin
	}
	result.Posts = posts
	result.Origin = origin
	return result
}

// preflight runs the credential check once per run
func (o *Orchestrator) preflight(ctx context.Context, result *FetchResult) error {
	if !o.cfg.Preflight || o.validator == nil {
		return nil
	}
	o.mu.Lock()
	done := o.preflightOK
	o.mu.Unlock()
	if done {
		return nil
	}

	start := time.Now()
	status, err := o.validator.Validate(ctx)
	took := time.Since(start)
	switch {
	case err == nil:
		result.Attempted = append(result.Attempted, Attempt{Strategy: PreflightName, Outcome: OutcomeValid, Duration: took, Message: status.Username})
		o.mu.Lock()
		o.preflightOK = true
		o.mu.Unlock()
		return nil
	case errs.IsKind(err, errs.KindAuthInvalid):
		e := errs.Classify(err)
		result.Attempted = append(result.Attempted, Attempt{Strategy: PreflightName, Outcome: string(e.Kind), Message: e.Message, Duration: took, Flagged: true})
		metrics.ObserveAttempt(PreflightName, string(e.Kind), took)
		return e
	default:
		// an unreachable validator says nothing about the credential
		e := errs.Classify(err)
		result.Attempted = append(result.Attempted, Attempt{Strategy: PreflightName, Outcome: string(e.Kind), Message: e.Message, Duration: took})
		o.logger.WithError(err).Warn("Credential pre-flight inconclusive, continuing")
		return nil
	}
}

// attempt runs one strategy, with optional backoff retries on RATE_LIMITED,
// and appends the ledger entry
func (o *Orchestrator) attempt(ctx context.Context, s strategy.Strategy, profile models.Profile, limit int, result *FetchResult, log logger.Logger) ([]models.Post, error) {
	start := time.Now()
	var posts []models.Post
	fetch := func(ctx context.Context) error {
		var err error
		posts, err = s.Fetch(ctx, profile, limit)
		return err
	}

	var err error
	if o.cfg.RateLimitRetries > 0 && s.Name() != strategy.NameCache {
		err = retry.Do(ctx, &retry.Config{
			MaxAttempts: o.cfg.RateLimitRetries + 1,
			Backoff:     o.cfg.RateLimitBackoff,
			RetryIf:     retry.RateLimitOnly,
			Logger:      log.WithField("strategy", s.Name()),
		}, fetch)
	} else {
		err = fetch(ctx)
	}
	took := time.Since(start)

	a := Attempt{Strategy: s.Name(), Duration: took, Posts: len(posts)}
	switch {
	case err != nil:
		e := errs.Classify(err)
		a.Outcome = string(e.Kind)
		a.Message = e.Message
		a.Posts = 0
		a.Flagged = e.Kind == errs.KindBlocked || e.Kind == errs.KindAuthInvalid
		if e.Kind == errs.KindBlocked {
			log.WithField("strategy", s.Name()).WithError(err).Error("Strategy blocked by anti-automation challenge")
		}
		err = e
	case len(posts) == 0:
		a.Outcome = OutcomeEmpty
	default:
		a.Outcome = OutcomeSuccess
	}
	result.Attempted = append(result.Attempted, a)
	metrics.ObserveAttempt(s.Name(), a.Outcome, took)
	logger.LogAttempt(log, profile.Username, s.Name(), a.Posts, took, err)
	return posts, err
}
