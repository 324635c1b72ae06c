package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "igsync/pkg/errors"
	"igsync/pkg/instagram"
	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/retry"
	"igsync/pkg/strategy"
)

type fakeStrategy struct {
	name    string
	origin  models.Origin
	results []fetchResult
	calls   int
}

type fetchResult struct {
	posts []models.Post
	err   error
}

func (f *fakeStrategy) Name() string          { return f.name }
func (f *fakeStrategy) Origin() models.Origin { return f.origin }
func (f *fakeStrategy) Fetch(context.Context, models.Profile, int) ([]models.Post, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	if i < 0 {
		return nil, nil
	}
	r := f.results[i]
	return r.posts, r.err
}

func returning(name string, origin models.Origin, posts []models.Post, err error) *fakeStrategy {
	return &fakeStrategy{name: name, origin: origin, results: []fetchResult{{posts, err}}}
}

type fakeValidator struct {
	status instagram.TokenStatus
	err    error
	calls  int
}

func (f *fakeValidator) Validate(context.Context) (instagram.TokenStatus, error) {
	f.calls++
	return f.status, f.err
}

func post(permalink string, hoursAgo int) models.Post {
	return models.Post{
		ExternalID:  permalink,
		Permalink:   "https://www.instagram.com/p/" + permalink + "/",
		PublishedAt: time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC).Add(-time.Duration(hoursAgo) * time.Hour),
	}
}

var (
	barX = models.Profile{ID: "px", SourceID: "1", Username: "bar_x"}
	barY = models.Profile{ID: "py", SourceID: "2", Username: "bar_y"}
)

type cascade struct {
	official, session, managed, cache *fakeStrategy
}

func newCascade() cascade {
	return cascade{
		official: returning(strategy.NameOfficial, models.OriginOfficial, nil, nil),
		session:  returning(strategy.NameSession, models.OriginSession, nil, nil),
		managed:  returning(strategy.NameManagedScraper, models.OriginManagedScraper, nil, nil),
		cache:    returning(strategy.NameCache, models.OriginCache, nil, nil),
	}
}

func (c cascade) build(t *testing.T, cfg Config, v Validator, log logger.Logger) *Orchestrator {
	t.Helper()
	if cfg.Order == nil {
		cfg.Order = []string{strategy.NameOfficial, strategy.NameSession, strategy.NameManagedScraper}
	}
	if log == nil {
		log = logger.NewTestLogger()
	}
	o, err := New(cfg, []strategy.Strategy{c.official, c.session, c.managed}, c.cache, v, log)
	require.NoError(t, err)
	return o
}

func TestAuthInvalidStopsCascade(t *testing.T) {
	c := newCascade()
	c.official.results = []fetchResult{{err: errs.FromStatus(401, "token expired").WithStrategy("official")}}
	o := c.build(t, Config{}, nil, nil)

	res, err := o.Acquire(context.Background(), barX, 3)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindAuthInvalid))

	assert.Zero(t, c.session.calls)
	assert.Zero(t, c.managed.calls)
	assert.Zero(t, c.cache.calls)
	require.Len(t, res.Attempted, 1)
	assert.Equal(t, "AUTH_INVALID", res.Attempted[0].Outcome)
	assert.True(t, res.Attempted[0].Flagged)
}

func TestPreflightAuthInvalidStopsBeforeAnyStrategy(t *testing.T) {
	c := newCascade()
	v := &fakeValidator{err: errs.New(errs.KindAuthInvalid, "Invalid OAuth access token")}
	o := c.build(t, Config{Preflight: true}, v, nil)

	res, err := o.Acquire(context.Background(), barX, 3)
	assert.True(t, errs.IsKind(err, errs.KindAuthInvalid))
	assert.Zero(t, c.official.calls+c.session.calls+c.managed.calls+c.cache.calls)
	require.Len(t, res.Attempted, 1)
	assert.Equal(t, PreflightName, res.Attempted[0].Strategy)
}

func TestPreflightRunsOncePerRun(t *testing.T) {
	c := newCascade()
	c.official.results = []fetchResult{{posts: []models.Post{post("a", 1)}}}
	v := &fakeValidator{status: instagram.TokenStatus{Valid: true}}
	o := c.build(t, Config{Preflight: true}, v, nil)

	for i := 0; i < 3; i++ {
		_, err := o.Acquire(context.Background(), barY, 3)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, v.calls)

	o.BeginRun()
	_, err := o.Acquire(context.Background(), barY, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, v.calls)
}

func TestPreflightInconclusiveContinues(t *testing.T) {
	c := newCascade()
	c.official.results = []fetchResult{{posts: []models.Post{post("a", 1)}}}
	v := &fakeValidator{err: errs.New(errs.KindTransient, "timeout")}
	o := c.build(t, Config{Preflight: true}, v, nil)

	res, err := o.Acquire(context.Background(), barY, 3)
	require.NoError(t, err)
	assert.Equal(t, models.OriginOfficial, res.Origin)
	assert.Equal(t, "TRANSIENT", res.Attempted[0].Outcome)
}

func TestDegradesToCache(t *testing.T) {
	c := newCascade()
	c.official.results = []fetchResult{{err: errs.New(errs.KindTransient, "timeout")}}
	c.session.results = []fetchResult{{posts: nil}}
	c.managed.results = []fetchResult{{err: errs.New(errs.KindTransient, "poll timed out")}}
	c.cache.results = []fetchResult{{posts: []models.Post{post("old", 48), post("new", 2)}}}
	o := c.build(t, Config{}, nil, nil)

	res, err := o.Acquire(context.Background(), barY, 3)
	require.NoError(t, err)

	assert.Equal(t, models.OriginCache, res.Origin)
	require.Len(t, res.Posts, 2)
	assert.Equal(t, "new", res.Posts[0].ExternalID)
	for _, p := range res.Posts {
		assert.Equal(t, models.OriginCache, p.Origin)
	}

	outcomes := make([]string, 0, len(res.Attempted))
	for _, a := range res.Attempted {
		outcomes = append(outcomes, a.Strategy+":"+a.Outcome)
	}
	assert.Equal(t, []string{
		"official:TRANSIENT",
		"session:EMPTY",
		"managed_scraper:TRANSIENT",
		"cache:SUCCESS",
	}, outcomes)
}

func TestFirstNonEmptyWinsAndIsSortedNewestFirst(t *testing.T) {
	c := newCascade()
	c.official.results = []fetchResult{{err: errs.New(errs.KindRateLimited, "code 4")}}
	c.session.results = []fetchResult{{posts: []models.Post{post("b", 10), post("a", 30), post("c", 1), post("d", 20)}}}
	o := c.build(t, Config{}, nil, nil)

	res, err := o.Acquire(context.Background(), barY, 3)
	require.NoError(t, err)

	assert.Equal(t, models.OriginSession, res.Origin)
	require.Len(t, res.Posts, 3)
	for i := 1; i < len(res.Posts); i++ {
		assert.False(t, res.Posts[i].PublishedAt.After(res.Posts[i-1].PublishedAt))
	}
	assert.Equal(t, "c", res.Posts[0].ExternalID)
	assert.Zero(t, c.managed.calls)
	assert.Zero(t, c.cache.calls)
}

func TestBlockedIsFlaggedAndSkipped(t *testing.T) {
	c := newCascade()
	c.official.results = []fetchResult{{err: errs.New(errs.KindTransient, "timeout")}}
	c.session.results = []fetchResult{{err: errs.New(errs.KindBlocked, "challenge_required")}}
	c.managed.results = []fetchResult{{posts: []models.Post{post("p1", 1)}}}
	log := logger.NewTestLogger()
	o := c.build(t, Config{}, nil, log)

	res, err := o.Acquire(context.Background(), barY, 3)
	require.NoError(t, err)

	assert.Equal(t, models.OriginManagedScraper, res.Origin)
	flagged := res.Flagged()
	require.Len(t, flagged, 1)
	assert.Equal(t, strategy.NameSession, flagged[0].Strategy)
	assert.Equal(t, "BLOCKED", flagged[0].Outcome)
	assert.True(t, log.HasMessage("ERROR", "anti-automation"))
}

func TestAllExhaustedAggregatesEveryFailure(t *testing.T) {
	c := newCascade()
	c.official.results = []fetchResult{{err: errs.New(errs.KindTransient, "timeout")}}
	c.session.results = []fetchResult{{err: errs.New(errs.KindBlocked, "checkpoint")}}
	c.managed.results = []fetchResult{{err: errs.New(errs.KindRateLimited, "quota")}}
	o := c.build(t, Config{}, nil, nil)

	res, err := o.Acquire(context.Background(), barY, 3)
	require.Error(t, err)
	require.NotNil(t, res)

	var agg *errs.AggregateError
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, "bar_y", agg.Profile)
	require.Len(t, agg.Failures, 4)
	assert.Equal(t, errs.KindTransient, agg.Failures[0].Kind)
	assert.Equal(t, errs.KindBlocked, agg.Failures[1].Kind)
	assert.Equal(t, errs.KindRateLimited, agg.Failures[2].Kind)
	assert.Equal(t, strategy.NameCache, agg.Failures[3].Strategy)
	assert.Equal(t, errs.KindExhausted, errs.KindOf(err))
	assert.Contains(t, err.Error(), "checkpoint")
	assert.Len(t, res.Attempted, 4)
}

func TestRateLimitRetries(t *testing.T) {
	c := newCascade()
	c.official.results = []fetchResult{
		{err: errs.New(errs.KindRateLimited, "slow down")},
		{posts: []models.Post{post("a", 1)}},
	}
	o := c.build(t, Config{
		RateLimitRetries: 1,
		RateLimitBackoff: &retry.ConstantBackoff{Delay: time.Millisecond},
	}, nil, nil)

	res, err := o.Acquire(context.Background(), barY, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, c.official.calls)
	assert.Equal(t, models.OriginOfficial, res.Origin)
	assert.Zero(t, c.session.calls)
}

func TestRateLimitMovesOnImmediatelyByDefault(t *testing.T) {
	c := newCascade()
	c.official.results = []fetchResult{{err: errs.New(errs.KindRateLimited, "slow down")}}
	c.session.results = []fetchResult{{posts: []models.Post{post("a", 1)}}}
	o := c.build(t, Config{}, nil, nil)

	res, err := o.Acquire(context.Background(), barY, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, c.official.calls)
	assert.Equal(t, models.OriginSession, res.Origin)
}

func TestCustomOrder(t *testing.T) {
	c := newCascade()
	c.managed.results = []fetchResult{{posts: []models.Post{post("m", 1)}}}
	o := c.build(t, Config{Order: []string{strategy.NameManagedScraper, strategy.NameOfficial}}, nil, nil)

	assert.Equal(t, []string{"managed_scraper", "official", "cache"}, o.Strategies())
	res, err := o.Acquire(context.Background(), barY, 3)
	require.NoError(t, err)
	assert.Equal(t, models.OriginManagedScraper, res.Origin)
	assert.Zero(t, c.official.calls)
	assert.Zero(t, c.session.calls)
}

func TestNewSkipsUnconfiguredAndRejectsDuplicates(t *testing.T) {
	c := newCascade()
	o, err := New(Config{Order: []string{"official", "web_page", "cache"}}, []strategy.Strategy{c.official}, c.cache, nil, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"official", "cache"}, o.Strategies())

	_, err = New(Config{Order: []string{"official", "official"}}, []strategy.Strategy{c.official}, c.cache, nil, logger.NewTestLogger())
	assert.Error(t, err)

	_, err = New(Config{Order: []string{"session"}}, nil, nil, nil, logger.NewTestLogger())
	assert.Error(t, err)
}
