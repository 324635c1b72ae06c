package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igsync/pkg/dedup"
	errs "igsync/pkg/errors"
	"igsync/pkg/events"
	"igsync/pkg/instagram"
	"igsync/pkg/logger"
	"igsync/pkg/models"
	"igsync/pkg/normalize"
	"igsync/pkg/orchestrator"
	"igsync/pkg/store/memory"
	"igsync/pkg/strategy"
)

type fakeStrategy struct {
	name   string
	origin models.Origin
	posts  []models.Post
	err    error
	calls  int
}

func (f *fakeStrategy) Name() string          { return f.name }
func (f *fakeStrategy) Origin() models.Origin { return f.origin }
func (f *fakeStrategy) Fetch(context.Context, models.Profile, int) ([]models.Post, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Post, len(f.posts))
	copy(out, f.posts)
	return out, nil
}

type fakeLifecycle struct {
	setups, teardowns int
	setupErr          error
}

func (f *fakeLifecycle) Setup(context.Context) error { f.setups++; return f.setupErr }
func (f *fakeLifecycle) Teardown() error             { f.teardowns++; return nil }

type fakeCredential struct {
	status instagram.TokenStatus
	err    error
	token  string
}

func (f *fakeCredential) Validate(context.Context) (instagram.TokenStatus, error) {
	return f.status, f.err
}

func (f *fakeCredential) Exchange(_ context.Context, shortLived string) (*instagram.LongLivedToken, error) {
	f.token = shortLived
	return &instagram.LongLivedToken{AccessToken: "long-" + shortLived, ExpiresIn: 3600}, nil
}

// failingCreator fails for one permalink and delegates the rest
type failingCreator struct {
	next      EventCreator
	permalink string
}

func (f *failingCreator) Create(ctx context.Context, post models.Post, p models.Profile) (*models.Event, error) {
	if post.Permalink == f.permalink {
		return nil, errors.New("storage unavailable")
	}
	return f.next.Create(ctx, post, p)
}

func igPost(code string, hoursAgo int) models.Post {
	return models.Post{
		ExternalID:  code,
		Caption:     "Samba no Deck " + code,
		MediaKind:   models.MediaImage,
		Permalink:   "https://www.instagram.com/p/" + code + "/",
		PublishedAt: time.Date(2025, 11, 2, 12, 0, 0, 0, time.UTC).Add(-time.Duration(hoursAgo) * time.Hour),
	}
}

type harness struct {
	store                    *memory.Store
	official, managed, cache *fakeStrategy
	lifecycle                *fakeLifecycle
	log                      *logger.TestLogger
	coord                    *Coordinator
	creator                  EventCreator
}

func newHarness(t *testing.T, usernames ...string) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		official:  &fakeStrategy{name: strategy.NameOfficial, origin: models.OriginOfficial},
		managed:   &fakeStrategy{name: strategy.NameManagedScraper, origin: models.OriginManagedScraper},
		cache:     &fakeStrategy{name: strategy.NameCache, origin: models.OriginCache},
		lifecycle: &fakeLifecycle{},
		log:       logger.NewTestLogger(),
	}
	for _, u := range usernames {
		_, err := h.store.SaveProfile(context.Background(), models.Profile{ID: u, SourceID: "17" + u, Username: u})
		require.NoError(t, err)
	}
	h.creator = events.NewCreator(h.store, nil, nil, time.UTC, h.log)
	h.build(t)
	return h
}

func (h *harness) build(t *testing.T) {
	t.Helper()
	orch, err := orchestrator.New(
		orchestrator.Config{Order: []string{strategy.NameOfficial, strategy.NameManagedScraper}},
		[]strategy.Strategy{h.official, h.managed},
		h.cache, nil, h.log,
	)
	require.NoError(t, err)
	h.coord = New(h.store, orch, dedup.New(h.store, h.log), h.creator, nil,
		Options{PostsPerProfile: 3, Lifecycles: []strategy.Lifecycle{h.lifecycle}}, h.log)
}

func TestRunSyncHaltsOnRejectedCredential(t *testing.T) {
	h := newHarness(t, "bar_x", "bar_y")
	h.official.err = errs.FromStatus(401, "Invalid OAuth access token").WithStrategy(strategy.NameOfficial)
	h.managed.posts = []models.Post{igPost("p1", 1)}

	report := h.coord.RunSync(context.Background())

	assert.Equal(t, 0, report.ProfilesProcessed)
	assert.Equal(t, 0, report.EventsCreated)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "bar_x", report.Errors[0].Profile)
	assert.Equal(t, errs.KindAuthInvalid, report.Errors[0].Kind)
	assert.True(t, report.Halted)
	assert.Equal(t, ResultAborted, report.Result())

	// bar_y is never reached and nothing falls back
	assert.Equal(t, 1, h.official.calls)
	assert.Equal(t, 0, h.managed.calls)
	assert.Equal(t, 0, h.cache.calls)
	assert.True(t, h.log.HasMessage("ERROR", "halting sync run"))
}

func TestRunSyncSkipsKnownPermalinks(t *testing.T) {
	h := newHarness(t, "bar_y")
	ctx := context.Background()
	h.official.err = errs.New(errs.KindTransient, "timeout").WithStrategy(strategy.NameOfficial)
	h.managed.posts = []models.Post{igPost("p1", 2), igPost("p2", 1)}

	_, err := h.store.InsertEvent(ctx, models.EventDraft{
		ProfileID: "bar_y",
		Title:     "Existing",
		SourceURL: "https://www.instagram.com/p/p1/",
		MediaKind: models.MediaImage,
		Origin:    models.OriginOfficial,
		Status:    models.StatusApproved,
	})
	require.NoError(t, err)

	report := h.coord.RunSync(ctx)

	assert.Equal(t, 1, report.ProfilesProcessed)
	assert.Equal(t, 1, report.EventsCreated)
	assert.Empty(t, report.Errors)
	assert.Equal(t, ResultSuccess, report.Result())

	ev, err := h.store.FindByPermalink(ctx, "https://www.instagram.com/p/p2/", "bar_y")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, models.OriginManagedScraper, ev.Origin)

	n, err := h.store.CountEvents(ctx, "bar_y")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunSyncIsIdempotent(t *testing.T) {
	h := newHarness(t, "bar_y", "bar_z")
	h.official.posts = []models.Post{igPost("a", 3), igPost("b", 2), igPost("c", 1)}

	first := h.coord.RunSync(context.Background())
	assert.Equal(t, 2, first.ProfilesProcessed)
	// both profiles get the same fake posts, stored per profile
	assert.Equal(t, 6, first.EventsCreated)

	second := h.coord.RunSync(context.Background())
	assert.Equal(t, 2, second.ProfilesProcessed)
	assert.Equal(t, 0, second.EventsCreated)
	assert.Empty(t, second.Errors)
	assert.NotEqual(t, first.RunID, second.RunID)

	assert.Equal(t, 2, h.lifecycle.setups)
	assert.Equal(t, 2, h.lifecycle.teardowns)
}

func TestRunSyncRespectsTombstones(t *testing.T) {
	h := newHarness(t, "bar_y")
	ctx := context.Background()
	h.official.posts = []models.Post{igPost("gone", 1)}

	report := h.coord.RunSync(ctx)
	require.Equal(t, 1, report.EventsCreated)

	ev, err := h.store.FindByPermalink(ctx, "https://www.instagram.com/p/gone/", "bar_y")
	require.NoError(t, err)
	_, err = h.store.DeleteEvent(ctx, ev.ID, time.Now())
	require.NoError(t, err)

	report = h.coord.RunSync(ctx)
	assert.Equal(t, 0, report.EventsCreated)
}

func TestRunSyncCacheOriginCreatesNothing(t *testing.T) {
	h := newHarness(t, "bar_y")
	h.official.err = errs.New(errs.KindTransient, "timeout")
	h.managed.err = errs.New(errs.KindTransient, "poll timed out after 5m0s")
	h.cache.posts = []models.Post{igPost("cached_1", 5)}

	report := h.coord.RunSync(context.Background())

	assert.Equal(t, 1, h.cache.calls)
	assert.Equal(t, 1, report.ProfilesProcessed)
	assert.Equal(t, 0, report.EventsCreated)
	assert.Empty(t, report.Errors)

	n, err := h.store.CountEvents(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, h.log.HasMessage("INFO", "served from cache"))
}

func TestRunSyncRecordsExhaustedProfileAndContinues(t *testing.T) {
	h := newHarness(t, "bar_a", "bar_b")
	h.official.err = errs.New(errs.KindNotFound, "no such user")
	h.managed.err = errs.New(errs.KindRateLimited, "quota")

	report := h.coord.RunSync(context.Background())

	assert.Equal(t, 2, report.ProfilesProcessed)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, errs.KindExhausted, report.Errors[0].Kind)
	assert.Contains(t, report.Errors[0].Message, "RATE_LIMITED")
	assert.Equal(t, "bar_b", report.Errors[1].Profile)
	assert.False(t, report.Halted)
	assert.Equal(t, ResultPartial, report.Result())
}

func TestRunSyncCreationFailureDoesNotStopProfile(t *testing.T) {
	h := newHarness(t, "bar_y")
	h.creator = &failingCreator{next: h.creator, permalink: "https://www.instagram.com/p/bad/"}
	h.build(t)
	h.official.posts = []models.Post{igPost("ok1", 3), igPost("bad", 2), igPost("ok2", 1)}

	report := h.coord.RunSync(context.Background())

	assert.Equal(t, 1, report.ProfilesProcessed)
	assert.Equal(t, 2, report.EventsCreated)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, errs.KindUnknown, report.Errors[0].Kind)
	assert.Contains(t, report.Errors[0].Message, "storage unavailable")
}

func TestRunSyncSetupFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, "bar_y")
	h.lifecycle.setupErr = errs.New(errs.KindBlocked, "challenge_required")
	h.official.posts = []models.Post{igPost("a", 1)}

	report := h.coord.RunSync(context.Background())
	assert.Equal(t, 1, report.EventsCreated)
	assert.True(t, h.log.HasMessage("WARN", "Strategy setup failed"))
}

func TestRunSyncCancelled(t *testing.T) {
	h := newHarness(t, "bar_y")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := h.coord.RunSync(ctx)
	assert.Equal(t, 0, report.ProfilesProcessed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, errs.KindTransient, report.Errors[0].Kind)
	assert.Equal(t, 0, h.official.calls)
}

func TestValidateCredential(t *testing.T) {
	h := newHarness(t)
	status, err := h.coord.ValidateCredential(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Valid)

	cred := &fakeCredential{err: errs.New(errs.KindAuthInvalid, "token expired")}
	c := New(h.store, nil, nil, nil, cred, Options{}, h.log)
	status, err = c.ValidateCredential(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Valid)
	assert.Equal(t, "token expired", status.Reason)

	cred.err = errs.New(errs.KindTransient, "dial tcp")
	_, err = c.ValidateCredential(context.Background())
	assert.True(t, errs.IsKind(err, errs.KindTransient))

	cred.err = nil
	cred.status = instagram.TokenStatus{Valid: true, Username: "bar_y"}
	status, err = c.ValidateCredential(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Valid)
}

func TestExchangeCredential(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.ExchangeCredential(context.Background(), "short")
	assert.Error(t, err)

	cred := &fakeCredential{}
	c := New(h.store, nil, nil, nil, cred, Options{}, h.log)
	_, err = c.ExchangeCredential(context.Background(), "  ")
	assert.Error(t, err)

	tok, err := c.ExchangeCredential(context.Background(), " short ")
	require.NoError(t, err)
	assert.Equal(t, "long-short", tok.AccessToken)
	assert.Equal(t, "short", cred.token)
}

func TestSubmitPost(t *testing.T) {
	h := newHarness(t, "bar_y")
	ctx := context.Background()
	in := normalize.ManualInput{
		Caption:   "Pagode de domingo",
		MediaURL:  "https://cdn.example.com/p.jpg",
		Permalink: "https://www.instagram.com/p/manual1/?igsh=abc",
	}

	ev, err := h.coord.SubmitPost(ctx, "bar_y", in)
	require.NoError(t, err)
	assert.Equal(t, models.OriginManual, ev.Origin)
	assert.Equal(t, "https://www.instagram.com/p/manual1/", ev.SourceURL)

	_, err = h.coord.SubmitPost(ctx, "bar_y", in)
	assert.ErrorIs(t, err, events.ErrAlreadyKnown)

	_, err = h.coord.SubmitPost(ctx, "ghost", in)
	assert.ErrorIs(t, err, models.ErrProfileNotFound)

	_, err = h.coord.SubmitPost(ctx, "bar_y", normalize.ManualInput{Permalink: "https://www.instagram.com/p/x/"})
	assert.ErrorIs(t, err, ErrInvalidSubmission)
}
